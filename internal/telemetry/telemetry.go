package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/mqtt"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

// Publisher is the MQTT dependency.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// PointWriter is the InfluxDB dependency.
type PointWriter interface {
	WriteScan(deviceID, status, eventType string, at time.Time)
	WriteSecurityEvent(eventType, severity string)
}

// ScanResultMessage is published to the scanning device's result topic and
// to the scan event topic for its status.
type ScanResultMessage struct {
	ScanID            string    `json:"scanId"`
	TagID             string    `json:"tagId"`
	DeviceID          string    `json:"deviceId"`
	Success           bool      `json:"success"`
	Outcome           string    `json:"outcome"`
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	UserName          string    `json:"userName,omitempty"`
	RegistrationMatch bool      `json:"registrationMatch,omitempty"`
	ScanTime          time.Time `json:"scanTime"`
}

// SecurityEventMessage is published to tagsakay/security/{type}.
type SecurityEventMessage struct {
	ID       string    `json:"id"`
	Type     string    `json:"eventType"`
	Severity string    `json:"severity"`
	DeviceID string    `json:"deviceId,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Fanout implements rfid.Observer and audit.Sink. Either dependency may be nil.
type Fanout struct {
	pub    Publisher
	points PointWriter
	topics mqtt.Topics
	logger *slog.Logger
}

// New creates a Fanout.
func New(pub Publisher, points PointWriter, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{pub: pub, points: points, logger: logger.With("component", "telemetry")}
}

// ScanRecorded publishes the result of a committed scan.
func (f *Fanout) ScanRecorded(_ context.Context, _ rfid.ScanRequest, res *rfid.Result) {
	s := res.Scan
	if f.points != nil {
		f.points.WriteScan(s.DeviceID, string(s.Status), string(s.EventType), s.ScanTime)
	}
	if f.pub == nil {
		return
	}

	msg := ScanResultMessage{
		ScanID:            s.ID,
		TagID:             s.TagID,
		DeviceID:          s.DeviceID,
		Success:           res.Success(),
		Outcome:           string(res.Outcome),
		Status:            string(s.Status),
		Message:           res.Outcome.Message(),
		RegistrationMatch: res.RegistrationMatch,
		ScanTime:          s.ScanTime,
	}
	if res.Owner != nil {
		msg.UserName = res.Owner.Name
	}

	if err := f.pub.PublishJSON(f.topics.DeviceResult(s.DeviceID), msg, false); err != nil {
		f.logger.Warn("publishing scan result failed", "device_id", s.DeviceID, "error", err)
	}
	if err := f.pub.PublishJSON(f.topics.ScanEvent(string(s.Status)), msg, false); err != nil {
		f.logger.Warn("publishing scan event failed", "status", s.Status, "error", err)
	}
}

// SecurityEvent publishes a stored security event.
func (f *Fanout) SecurityEvent(e *audit.Event) {
	if f.points != nil {
		f.points.WriteSecurityEvent(string(e.Type), string(e.Severity))
	}
	if f.pub == nil {
		return
	}
	msg := SecurityEventMessage{
		ID:       e.ID,
		Type:     string(e.Type),
		Severity: string(e.Severity),
		DeviceID: e.DeviceID,
		Message:  e.Message,
		At:       e.CreatedAt,
	}
	if err := f.pub.PublishJSON(f.topics.SecurityEvent(string(e.Type)), msg, false); err != nil {
		f.logger.Warn("publishing security event failed", "event_type", e.Type, "error", err)
	}
}
