// Package logging wraps log/slog for TagSakay Core.
//
// Every entry carries service=tagsakay and the build version. The format
// (json or text), level and destination come from the logging section of
// config.yaml:
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stdout"
//
// Rate-limit hits, lockouts and credential failures go through
// Logger.Security, which logs at warn with category=security. They are
// expected traffic, not errors.
//
// Never log passwords, tokens or raw API keys; log the key hint instead.
package logging
