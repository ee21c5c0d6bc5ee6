// Package influxdb provides InfluxDB connectivity for TagSakay Core.
//
// It wraps the official influxdb-client-go v2 library for time-series
// telemetry that dashboards chart without querying the SQLite ledger:
//   - rfid_scan: one point per classified scan (device, status, event type)
//   - security_event: login failures, lockouts, rate-limit hits
//   - abuse_guard: in-memory rate/lockout table sizes
//
// Writes are non-blocking and batched. Telemetry loss never affects a scan
// outcome; the SQLite ledger is the record of truth.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteScan("AABBCCDDEEFF", "success", "entry", time.Now())
package influxdb
