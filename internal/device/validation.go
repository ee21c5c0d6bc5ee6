package device

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength     = 100
	maxLocationLength = 200
	macBytes          = 6
)

// NormalizeMAC parses a MAC address written with colons, hyphens, or no
// separators. It returns the device id (12 uppercase hex digits) and the
// canonical colon-separated form.
func NormalizeMAC(mac string) (deviceID, canonical string, err error) {
	clean := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(mac))
	raw, decodeErr := hex.DecodeString(clean)
	if decodeErr != nil || len(raw) != macBytes {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	deviceID = strings.ToUpper(clean)
	pairs := make([]string, macBytes)
	for i := range pairs {
		pairs[i] = deviceID[i*2 : i*2+2]
	}
	return deviceID, strings.Join(pairs, ":"), nil
}

// ValidateName checks if a device or key name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateDevice checks a device before it is persisted.
func ValidateDevice(d *Device) error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if len(d.Location) > maxLocationLength {
		return fmt.Errorf("%w: location exceeds %d characters", ErrInvalidDevice, maxLocationLength)
	}
	if d.APIKeyHash == "" {
		return fmt.Errorf("%w: missing api key hash", ErrInvalidDevice)
	}
	if _, _, err := NormalizeMAC(d.MACAddress); err != nil {
		return err
	}
	return nil
}

// GenerateID creates a new record id with the given prefix.
func GenerateID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
