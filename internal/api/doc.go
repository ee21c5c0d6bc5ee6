// Package api implements the HTTP REST API for TagSakay Core.
//
// This package provides:
//   - Device-facing endpoints for scans, batch uploads, heartbeats and commands
//   - Dashboard endpoints for tags, devices, API keys, users and security events
//   - Login, logout and identity via bearer tokens or the session cookie
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//
// # Authentication
//
// Dashboard routes accept an access token in the Authorization header or a
// session token in the HttpOnly session cookie. Device routes authenticate
// with the X-API-Key header against device and generic API key hashes.
//
// # Response Shapes
//
// Dashboard errors use the flat {"status", "code", "message"} envelope.
// Device-facing endpoints answer {"success", "message", "data"} because the
// scanner firmware checks the success field.
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB. Health reports them as
// disabled and scan handling is unaffected.
package api
