// Package device manages RFID scanners and the API keys they authenticate with.
//
// # Key Types
//
//   - Device: a registered scanner, identified by the 12 hex digits of its MAC
//   - APIKey: a generic credential (service or device) not tied to registration
//   - Principal: the identity an Authenticator established for a request
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	authn := device.NewAuthenticator(registry, device.NewAPIKeyRepository(db), hasher)
//	principal, err := authn.Authenticate(ctx, r.Header.Get("X-API-Key"))
//
// Devices are never physically deleted; SetActive(false) stops them from
// authenticating while keeping scan records resolvable.
//
// # Thread Safety
//
// Registry and Authenticator are safe for concurrent use.
package device
