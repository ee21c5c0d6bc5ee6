// Package telemetry fans committed scans and security events out to the
// MQTT bus and InfluxDB. Both sinks are best effort: a failed publish or
// write is logged and never affects the outcome already recorded.
package telemetry
