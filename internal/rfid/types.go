package rfid

import (
	"net/http"
	"time"
)

// Tag is a registered RFID credential.
type Tag struct {
	ID           string         `json:"id"`
	TagID        string         `json:"tagId"`
	UserID       string         `json:"userId,omitempty"`
	IsActive     bool           `json:"isActive"`
	LastScanned  *time.Time     `json:"lastScanned,omitempty"`
	DeviceID     string         `json:"deviceId,omitempty"`
	RegisteredBy string         `json:"registeredBy,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Owner is the user a tag is bound to, as seen by the classifier.
type Owner struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	IsActive bool   `json:"-"`
}

// Status is the stored status of a scan record.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusUnauthorized Status = "unauthorized"
)

// EventType is the stored event type of a scan record.
type EventType string

const (
	EventEntry   EventType = "entry"
	EventExit    EventType = "exit"
	EventUnknown EventType = "unknown"
)

// Scan is one immutable audit record.
type Scan struct {
	ID        string         `json:"id"`
	TagID     string         `json:"rfidTagId"`
	DeviceID  string         `json:"deviceId"`
	UserID    string         `json:"userId,omitempty"`
	EventType EventType      `json:"eventType"`
	Status    Status         `json:"status"`
	Location  string         `json:"location,omitempty"`
	VehicleID string         `json:"vehicleId,omitempty"`
	ScanTime  time.Time      `json:"scanTime"`
	Metadata  map[string]any `json:"metadata"`
}

// Outcome is the terminal classification of a scan attempt.
type Outcome string

const (
	OutcomeUnregistered  Outcome = "unregistered"
	OutcomeTagInactive   Outcome = "tag_inactive"
	OutcomeOwnerInactive Outcome = "owner_inactive"
	OutcomeSuccess       Outcome = "success"
)

// Audit reasons stored in scan metadata.
const (
	ReasonNotRegistered = "Tag not registered"
	ReasonTagInactive   = "Tag is inactive"
	ReasonOwnerInactive = "User is inactive"
	ReasonLookupFailed  = "Lookup failed"
)

// HTTPStatus maps o to the device-facing status code.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OutcomeSuccess:
		return http.StatusOK
	case OutcomeUnregistered:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

// Message is the device-facing text for o.
func (o Outcome) Message() string {
	switch o {
	case OutcomeSuccess:
		return "Scan recorded successfully"
	case OutcomeUnregistered:
		return "RFID tag not registered"
	case OutcomeTagInactive:
		return "RFID tag is inactive"
	case OutcomeOwnerInactive:
		return "User associated with this RFID is inactive"
	}
	return "Failed to process scan"
}

// Result is what Classify returns: the outcome and the record written for it.
type Result struct {
	Outcome Outcome
	Scan    *Scan

	// Tag is nil for unregistered tags.
	Tag *Tag

	// Owner is nil for unregistered or unbound tags.
	Owner *Owner

	// RegistrationMatch is set when the scanning device was waiting to
	// register exactly this tag.
	RegistrationMatch bool
}

// Success reports whether the scan was accepted.
func (r *Result) Success() bool {
	return r.Outcome == OutcomeSuccess
}
