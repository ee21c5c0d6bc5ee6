// Package auth provides credential hashing, token issuance, and user
// accounts for TagSakay.
//
// Passwords and API keys share one Hasher: PBKDF2-HMAC-SHA256, encoded as
// pbkdf2$<iterations>$<salt hex>$<key hex>. Verification fails closed on
// anything malformed or on an iteration count above the configured ceiling.
// Bare SHA-256 hex digests from before the PBKDF2 migration still verify
// and are rehashed on the next successful login.
//
// Two TokenServices sign HS256 JWTs with separate secrets: short-lived
// access tokens sent as bearer tokens, and week-long session tokens sent in
// an HttpOnly SameSite=Strict cookie. Verification failures of any kind
// surface as ErrTokenInvalid.
//
// The role model has three tiers (driver, admin, superadmin) with a static
// role-permission mapping.
package auth
