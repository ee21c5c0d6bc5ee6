package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry and Authenticator.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and keeps every device in memory keyed by device id,
// so device authentication does not hit the database on each request.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the Registry's own write operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // by DeviceID
	loaded  bool
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].DeviceID] = devices[i].Clone()
	}
	r.loaded = true

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get retrieves a device by device id.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[deviceID]
	loaded := r.loaded
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}
	if loaded {
		return nil, ErrDeviceNotFound
	}

	d, err := r.repo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d, nil
}

// List returns all devices, most recently seen first.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.Clone())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		a, b := devices[i].LastSeen, devices[j].LastSeen
		switch {
		case a == nil && b == nil:
			return devices[i].DeviceID < devices[j].DeviceID
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return devices, nil
}

// ListActive returns active devices in registration order.
func (r *Registry) ListActive(ctx context.Context) ([]Device, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if d.IsActive {
			devices = append(devices, *d.Clone())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})
	return devices, nil
}

// Register validates and persists a new device. The MAC address is
// normalised and the device id derived from it.
func (r *Registry) Register(ctx context.Context, d *Device) error {
	deviceID, canonical, err := NormalizeMAC(d.MACAddress)
	if err != nil {
		return err
	}
	d.DeviceID = deviceID
	d.MACAddress = canonical
	d.IsActive = true

	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}
	r.store(d)

	r.logger.Info("device registered", "device_id", d.DeviceID, "name", d.Name)
	return nil
}

// Heartbeat records that a device is alive and applies any reported
// location or mode changes.
func (r *Registry) Heartbeat(ctx context.Context, deviceID string, hb Heartbeat) (*Device, error) {
	return r.mutate(ctx, deviceID, func(d *Device) {
		now := r.now().UTC()
		d.LastSeen = &now
		if hb.Location != nil {
			d.Location = *hb.Location
		}
		if hb.RegistrationMode != nil {
			d.RegistrationMode = *hb.RegistrationMode
		}
		if hb.ScanMode != nil {
			d.ScanMode = *hb.ScanMode
		}
	})
}

// SetMode changes the operating modes of a device.
func (r *Registry) SetMode(ctx context.Context, deviceID string, upd ModeUpdate) (*Device, error) {
	return r.mutate(ctx, deviceID, func(d *Device) {
		if upd.RegistrationMode != nil {
			d.RegistrationMode = *upd.RegistrationMode
		}
		if upd.ScanMode != nil {
			d.ScanMode = *upd.ScanMode
		}
		if upd.PendingRegistrationTagID != nil {
			d.PendingRegistrationTagID = *upd.PendingRegistrationTagID
		}
	})
}

// SetActive enables or disables a device. Disabled devices can no longer
// authenticate but are kept for audit linkage.
func (r *Registry) SetActive(ctx context.Context, deviceID string, active bool) (*Device, error) {
	return r.mutate(ctx, deviceID, func(d *Device) { d.IsActive = active })
}

// RotateKey replaces the stored API key hash of a device.
func (r *Registry) RotateKey(ctx context.Context, deviceID, keyHash string) error {
	_, err := r.mutate(ctx, deviceID, func(d *Device) { d.APIKeyHash = keyHash })
	return err
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	Total            int `json:"total"`
	Active           int `json:"active"`
	RegistrationMode int `json:"registrationMode"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{Total: len(r.cache)}
	for _, d := range r.cache {
		if d.IsActive {
			stats.Active++
		}
		if d.RegistrationMode {
			stats.RegistrationMode++
		}
	}
	return stats
}

func (r *Registry) mutate(ctx context.Context, deviceID string, fn func(*Device)) (*Device, error) {
	d, err := r.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	fn(d)
	if err := r.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	r.store(d)
	return d.Clone(), nil
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.cacheMu.RLock()
	loaded := r.loaded
	r.cacheMu.RUnlock()
	if loaded {
		return nil
	}
	return r.RefreshCache(ctx)
}

func (r *Registry) store(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.DeviceID] = d.Clone()
	r.cacheMu.Unlock()
}
