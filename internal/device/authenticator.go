package device

import (
	"context"
	"fmt"
	"time"
)

// CredentialVerifier checks a presented secret against a stored hash.
type CredentialVerifier interface {
	Verify(secret, encoded string) bool
}

// DeviceSource lists devices that may authenticate.
type DeviceSource interface {
	ListActive(ctx context.Context) ([]Device, error)
}

// KeySource lists API keys that may authenticate and records their use.
type KeySource interface {
	ListActive(ctx context.Context) ([]APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Authenticator matches a presented API key against active devices, then
// against active generic API keys.
//
// Stored credentials are salted one-way hashes, so there is no index from
// a plaintext key to its record: every candidate is verified in turn until
// one matches. Cost is linear in the number of active credentials.
type Authenticator struct {
	devices  DeviceSource
	keys     KeySource
	verifier CredentialVerifier
	logger   Logger
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(devices DeviceSource, keys KeySource, verifier CredentialVerifier) *Authenticator {
	return &Authenticator{
		devices:  devices,
		keys:     keys,
		verifier: verifier,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the authenticator.
func (a *Authenticator) SetLogger(logger Logger) {
	a.logger = logger
}

// Authenticate returns the principal whose stored hash matches presented.
//
// Errors: ErrMissingCredential for an empty key, ErrInvalidCredential when
// nothing matches, ErrAuthUnavailable (wrapped) when candidates cannot be
// loaded. The error never says how many candidates were tried.
func (a *Authenticator) Authenticate(ctx context.Context, presented string) (*Principal, error) {
	if presented == "" {
		return nil, ErrMissingCredential
	}

	devices, err := a.devices.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}
	for i := range devices {
		if a.verifier.Verify(presented, devices[i].APIKeyHash) {
			d := devices[i]
			return &Principal{Kind: PrincipalDevice, DeviceID: d.DeviceID, Device: &d}, nil
		}
	}

	keys, err := a.keys.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}
	for i := range keys {
		if !a.verifier.Verify(presented, keys[i].KeyHash) {
			continue
		}
		k := keys[i]
		now := a.now().UTC()
		if err := a.keys.TouchLastUsed(ctx, k.ID, now); err != nil {
			a.logger.Warn("recording api key use failed", "key_id", k.ID, "error", err)
		} else {
			k.LastUsed = &now
		}
		return &Principal{Kind: PrincipalAPIKey, DeviceID: k.DeviceID, APIKey: &k}, nil
	}

	return nil, ErrInvalidCredential
}
