// Package audit records security events: login outcomes, lockouts,
// rate-limit hits, device authentication failures and token misuse.
//
// Events are append-only. Request handlers hand them to a Recorder, which
// writes them asynchronously through a bounded channel so a slow disk never
// delays an authentication response. When the channel is full the event is
// dropped and a warning logged.
package audit
