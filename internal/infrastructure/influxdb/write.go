package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementScan     = "rfid_scan"
	MeasurementSecurity = "security_event"
	MeasurementGuard    = "abuse_guard"
)

// WriteScan records one classified scan attempt.
//
// Tag ids are deliberately not written as tags: they are high-cardinality
// and the ledger in SQLite already holds them.
//
// Example:
//
//	client.WriteScan("AABBCCDDEEFF", "unauthorized", "unknown", scan.ScanTime)
func (c *Client) WriteScan(deviceID, status, eventType string, at time.Time) {
	c.WritePointWithTime(MeasurementScan,
		map[string]string{
			"device_id":  deviceID,
			"status":     status,
			"event_type": eventType,
		},
		map[string]any{
			"count": 1,
		},
		at,
	)
}

// WriteSecurityEvent records a login failure, lockout or rate-limit hit.
func (c *Client) WriteSecurityEvent(eventType, severity string) {
	c.WritePoint(MeasurementSecurity,
		map[string]string{
			"event_type": eventType,
			"severity":   severity,
		},
		map[string]any{
			"count": 1,
		},
	)
}

// WriteGuardStats records the size of the in-memory abuse-guard tables.
func (c *Client) WriteGuardStats(store string, entries int) {
	c.WritePoint(MeasurementGuard,
		map[string]string{"store": store},
		map[string]any{"entries": entries},
	)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.timestamp())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Writes while disconnected are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
