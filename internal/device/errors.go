package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a MAC address that is already registered.
	ErrDeviceExists = errors.New("device: already registered")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidMAC is returned when a MAC address cannot be parsed.
	ErrInvalidMAC = errors.New("device: invalid mac address")

	// ErrInvalidName is returned when a device or key name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrAPIKeyNotFound is returned when an API key ID does not exist.
	ErrAPIKeyNotFound = errors.New("device: api key not found")

	// ErrMissingCredential is returned when a request carries no API key.
	ErrMissingCredential = errors.New("no api key provided")

	// ErrInvalidCredential is the single outcome for a presented key that
	// matches no active device or API key.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrAuthUnavailable wraps storage failures during authentication.
	ErrAuthUnavailable = errors.New("device: authentication unavailable")

	// ErrDeviceMismatch is returned when an authenticated device acts on
	// another device's resources.
	ErrDeviceMismatch = errors.New("device: id mismatch")
)
