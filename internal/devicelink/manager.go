package devicelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/guard"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/mqtt"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

// DefaultDrainInterval is how often Run retries buffered links.
const DefaultDrainInterval = 5 * time.Second

// ErrThrottled is returned when a device submits scans or online
// announcements faster than allowed.
var ErrThrottled = errors.New("devicelink: device throttled")

// AuthLimiter bounds how often scanners may present API keys.
type AuthLimiter interface {
	Allow(p guard.Policy, clientIP, path string) guard.Decision
	Release(key string)
}

// Authenticator verifies the API key a scanner presents when it comes online.
type Authenticator interface {
	Authenticate(ctx context.Context, presented string) (*device.Principal, error)
}

// Subscriber is the MQTT subscription dependency.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// StatusMessage is published by a scanner on tagsakay/device/{id}/status.
type StatusMessage struct {
	Status string `json:"status"`
	APIKey string `json:"apiKey,omitempty"`
}

// ScanMessage is published by a scanner on tagsakay/device/{id}/scan.
type ScanMessage struct {
	TagID     string `json:"tagId"`
	Location  string `json:"location,omitempty"`
	VehicleID string `json:"vehicleId,omitempty"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Link          LinkConfig
	DrainInterval time.Duration

	// AuthLimiter guards Online. Nil gets a private RouteLimiter.
	AuthLimiter AuthLimiter
}

// Manager owns the links of every scanner.
type Manager struct {
	mu    sync.Mutex
	links map[string]*Link

	cfg        ManagerConfig
	auth       Authenticator
	classifier Classifier
	throttle   *guard.Throttle
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a manager. throttle may be nil to disable throttling.
func NewManager(cfg ManagerConfig, auth Authenticator, classifier Classifier, throttle *guard.Throttle, logger *slog.Logger) *Manager {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.AuthLimiter == nil {
		cfg.AuthLimiter = guard.NewRouteLimiter(guard.LimiterConfig{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		links:      make(map[string]*Link),
		cfg:        cfg,
		auth:       auth,
		classifier: classifier,
		throttle:   throttle,
		logger:     logger.With("component", "devicelink"),
		now:        time.Now,
	}
}

// Link returns the link for deviceID, or nil if the device never came online.
func (m *Manager) Link(deviceID string) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[deviceID]
}

// Len returns the number of known links.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// Online authenticates a scanner's key and connects its link.
// The key must belong to deviceID, or be a generic key not bound to another device.
//
// Key checks are rate limited per device id and overall; over the limit
// ErrThrottled is returned without touching the authenticator. Successful
// checks do not count.
func (m *Manager) Online(ctx context.Context, deviceID, apiKey string) error {
	perDevice := m.cfg.AuthLimiter.Allow(guard.DeviceLinkAuthPolicy, deviceID, "status")
	if !perDevice.Allowed {
		return ErrThrottled
	}
	overall := m.cfg.AuthLimiter.Allow(guard.DeviceLinkAuthGlobalPolicy, "mqtt", "status")
	if !overall.Allowed {
		m.cfg.AuthLimiter.Release(perDevice.Key)
		return ErrThrottled
	}

	principal, err := m.auth.Authenticate(ctx, apiKey)
	if err == nil && principal.DeviceID != "" && principal.DeviceID != deviceID {
		err = device.ErrDeviceMismatch
	}
	if err != nil {
		return err
	}
	m.cfg.AuthLimiter.Release(perDevice.Key)
	m.cfg.AuthLimiter.Release(overall.Key)

	m.mu.Lock()
	link, ok := m.links[deviceID]
	if !ok {
		link = NewLink(deviceID, m.classifier, m.cfg.Link, m.logger, m.now)
		m.links[deviceID] = link
	}
	m.mu.Unlock()

	link.Connect()
	m.logger.Info("device online", "device_id", deviceID, "principal", principal.Name())
	return nil
}

// Offline disconnects a scanner's link.
func (m *Manager) Offline(deviceID string) {
	if link := m.Link(deviceID); link != nil {
		link.Disconnect()
		m.logger.Info("device offline", "device_id", deviceID, "buffered", link.Buffered())
	}
}

// Submit routes one scan to the device's link.
func (m *Manager) Submit(ctx context.Context, deviceID string, msg ScanMessage) (*rfid.Result, error) {
	link := m.Link(deviceID)
	if link == nil {
		return nil, ErrNotConnected
	}
	if m.throttle != nil && !m.throttle.Allow(deviceID) {
		return nil, ErrThrottled
	}
	return link.Submit(ctx, rfid.ScanRequest{
		TagID:     msg.TagID,
		Location:  msg.Location,
		VehicleID: msg.VehicleID,
		Source:    "mqtt",
	})
}

// Start subscribes to scanner status and scan topics.
// Message handlers use ctx for classification.
func (m *Manager) Start(ctx context.Context, sub Subscriber) error {
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllDeviceStatus(), 1, func(topic string, payload []byte) error {
		return m.handleStatus(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to device status: %w", err)
	}
	if err := sub.Subscribe(topics.AllDeviceScans(), 1, func(topic string, payload []byte) error {
		return m.handleScan(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to device scans: %w", err)
	}
	return nil
}

// Run drains buffering links every DrainInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.DrainAll(ctx)
		}
	}
}

// DrainAll replays buffered scans on every connected link.
func (m *Manager) DrainAll(ctx context.Context) {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	for _, l := range links {
		if l.State() != StateBuffering {
			continue
		}
		n, err := l.Drain(ctx)
		if err != nil {
			m.logger.Warn("drain incomplete", "device_id", l.DeviceID(), "replayed", n, "error", err)
			continue
		}
		m.logger.Info("buffer drained", "device_id", l.DeviceID(), "replayed", n)
	}
}

func (m *Manager) handleStatus(ctx context.Context, topic string, payload []byte) error {
	deviceID, _, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding status from %s: %w", deviceID, err)
	}

	switch msg.Status {
	case "online":
		if err := m.Online(ctx, deviceID, msg.APIKey); err != nil {
			m.logger.Warn("device link authentication failed", "device_id", deviceID, "error", err)
			return err
		}
	case "offline":
		m.Offline(deviceID)
	default:
		return fmt.Errorf("unknown status %q from %s", msg.Status, deviceID)
	}
	return nil
}

func (m *Manager) handleScan(ctx context.Context, topic string, payload []byte) error {
	deviceID, _, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	var msg ScanMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding scan from %s: %w", deviceID, err)
	}

	_, err := m.Submit(ctx, deviceID, msg)
	switch {
	case err == nil, errors.Is(err, ErrDuplicate), errors.Is(err, ErrBuffered):
		return nil
	case errors.Is(err, ErrThrottled):
		m.logger.Warn("device scan throttled", "device_id", deviceID)
		return nil
	}
	return fmt.Errorf("scan from %s: %w", deviceID, err)
}
