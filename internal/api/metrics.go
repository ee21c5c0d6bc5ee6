package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

// scanCountWindow is the period covered by the scan counts in metrics.
const scanCountWindow = 24 * time.Hour

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Guard         GuardMetrics    `json:"guard"`
	Devices       device.Stats    `json:"devices"`
	Scans         ScanMetrics     `json:"scans"`
	Database      DatabaseMetrics `json:"database"`
	DeviceLinks   *int            `json:"device_links,omitempty"`
	AuditPending  int             `json:"audit_pending"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// GuardMetrics contains abuse guard table sizes.
type GuardMetrics struct {
	RateLimitEntries int `json:"rate_limit_entries"`
	LockoutEntries   int `json:"lockout_entries"`
}

// ScanMetrics counts scan records per status over the last 24 hours.
type ScanMetrics struct {
	Success      int `json:"success"`
	Failed       int `json:"failed"`
	Unauthorized int `json:"unauthorized"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := time.Now()
	metrics := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Guard: GuardMetrics{
			RateLimitEntries: s.limiter.Len(),
		},
		Devices:      s.devices.GetStats(),
		AuditPending: s.audit.Pending(),
	}

	if s.lockout != nil {
		metrics.Guard.LockoutEntries = s.lockout.Len()
	}

	if s.deviceLink != nil {
		n := s.deviceLink.Len()
		metrics.DeviceLinks = &n
	}

	counts, err := s.tags.CountByStatus(r.Context(), now.Add(-scanCountWindow))
	if err != nil {
		s.logger.Warn("counting scans for metrics failed", "error", err)
	} else {
		metrics.Scans = ScanMetrics{
			Success:      counts[rfid.StatusSuccess],
			Failed:       counts[rfid.StatusFailed],
			Unauthorized: counts[rfid.StatusUnauthorized],
		}
	}

	dbStats := s.db.Stats()
	metrics.Database = DatabaseMetrics{
		OpenConnections: dbStats.OpenConnections,
		InUse:           dbStats.InUse,
		Idle:            dbStats.Idle,
		WaitCount:       dbStats.WaitCount,
	}

	writeJSON(w, http.StatusOK, metrics)
}
