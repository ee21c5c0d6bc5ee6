package audit

import "time"

// EventType names a kind of security event.
type EventType string

const (
	EventLoginSuccess      EventType = "LOGIN_SUCCESS"
	EventLoginFailure      EventType = "LOGIN_FAILURE"
	EventLogout            EventType = "LOGOUT"
	EventAccountLocked     EventType = "ACCOUNT_LOCKED"
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"
	EventTokenInvalid      EventType = "TOKEN_INVALID"
	EventDeviceAuthFailure EventType = "DEVICE_AUTH_FAILURE"
	EventDeviceRegistered  EventType = "DEVICE_REGISTERED"
	EventAPIKeyCreated     EventType = "API_KEY_CREATED"
	EventAPIKeyRevoked     EventType = "API_KEY_REVOKED"
	EventValidationFailed  EventType = "VALIDATION_FAILED"
	EventPermissionDenied  EventType = "PERMISSION_DENIED"
)

// Severity grades an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity is used when an event is recorded without one.
func DefaultSeverity(t EventType) Severity {
	switch t {
	case EventLoginSuccess, EventLogout, EventDeviceRegistered, EventAPIKeyCreated, EventAPIKeyRevoked:
		return SeverityInfo
	case EventAccountLocked:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// Event is one security event.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"eventType"`
	Severity  Severity       `json:"severity"`
	Account   string         `json:"account,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	DeviceID  string         `json:"deviceId,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Method    string         `json:"method,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
