package device

import "time"

// Device is a registered RFID scanner. DeviceID is derived from the MAC
// address and is the identifier the firmware uses in URLs and topics.
type Device struct {
	ID                       string     `json:"id"`
	DeviceID                 string     `json:"deviceId"`
	MACAddress               string     `json:"macAddress"`
	Name                     string     `json:"name"`
	Location                 string     `json:"location"`
	APIKeyHash               string     `json:"-"` // never serialised
	IsActive                 bool       `json:"isActive"`
	RegistrationMode         bool       `json:"registrationMode"`
	PendingRegistrationTagID string     `json:"pendingRegistrationTagId,omitempty"`
	ScanMode                 bool       `json:"scanMode"`
	LastSeen                 *time.Time `json:"lastSeen,omitempty"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

// Clone returns a copy of d that shares no pointers with it.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		c.LastSeen = &t
	}
	return &c
}

// KeyType classifies generic API keys.
type KeyType string

const (
	KeyTypeDevice  KeyType = "device"
	KeyTypeService KeyType = "service"
	KeyTypeAdmin   KeyType = "admin"
)

// IsValidKeyType reports whether t is a known key type.
func IsValidKeyType(t KeyType) bool {
	switch t {
	case KeyTypeDevice, KeyTypeService, KeyTypeAdmin:
		return true
	}
	return false
}

// APIKey is a generic credential not tied to device registration.
// Only the hash of the key is stored; Prefix is a display hint.
type APIKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	DeviceID    string     `json:"deviceId,omitempty"`
	Description string     `json:"description,omitempty"`
	KeyHash     string     `json:"-"` // never serialised
	Prefix      string     `json:"prefix"`
	Permissions []string   `json:"permissions"`
	Type        KeyType    `json:"type"`
	IsActive    bool       `json:"isActive"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PrincipalKind says which kind of record authenticated a request.
type PrincipalKind string

const (
	PrincipalDevice PrincipalKind = "device"
	PrincipalAPIKey PrincipalKind = "api_key"
)

// Principal is the identity established by the Authenticator.
type Principal struct {
	Kind PrincipalKind

	// DeviceID is the scanner identity used for scan records. For API keys
	// it is the key's bound device id, which may be empty.
	DeviceID string

	// Device is set when Kind is PrincipalDevice.
	Device *Device

	// APIKey is set when Kind is PrincipalAPIKey.
	APIKey *APIKey
}

// Name returns a label for logs.
func (p *Principal) Name() string {
	switch {
	case p.Device != nil:
		return p.Device.Name
	case p.APIKey != nil:
		return p.APIKey.Name
	}
	return ""
}

// Command is an instruction returned to a polling device.
type Command struct {
	Action    string `json:"action"`
	TagID     string `json:"tagId,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Command actions.
const (
	ActionEnableRegistration  = "enable_registration"
	ActionDisableRegistration = "disable_registration"
	ActionScanMode            = "scan_mode"
)

// Commands derives the pending commands for d at time now: the
// registration mode instruction followed by the scan mode instruction.
func (d *Device) Commands(now time.Time) []Command {
	ts := now.UnixMilli()
	var cmds []Command

	switch {
	case d.RegistrationMode && d.PendingRegistrationTagID != "":
		cmds = append(cmds, Command{Action: ActionEnableRegistration, TagID: d.PendingRegistrationTagID, Timestamp: ts})
	case !d.RegistrationMode:
		cmds = append(cmds, Command{Action: ActionDisableRegistration, Timestamp: ts})
	}

	scanMode := d.ScanMode
	return append(cmds, Command{Action: ActionScanMode, Enabled: &scanMode, Timestamp: ts})
}

// ModeUpdate changes device operating modes. Nil fields are left unchanged.
type ModeUpdate struct {
	RegistrationMode         *bool   `json:"registrationMode"`
	ScanMode                 *bool   `json:"scanMode"`
	PendingRegistrationTagID *string `json:"pendingRegistrationTagId"`
}

// Heartbeat is the periodic status report from a device.
type Heartbeat struct {
	Location         *string `json:"location"`
	RegistrationMode *bool   `json:"registrationMode"`
	ScanMode         *bool   `json:"scanMode"`
}
