// Package devicelink keeps a session per scanner connected over MQTT.
//
// Each Link is a small state machine:
//
//	Disconnected --Connect--> Connected
//	Connected --classification storage failure--> Buffering
//	Buffering --Drain succeeds--> Connected
//	any --Disconnect--> Disconnected (buffer kept)
//
// A Link debounces repeated reads of the same tag within one second, so a
// card held against the reader produces one scan rather than dozens. Scans
// that cannot be classified because storage is unavailable are held in a
// bounded buffer, oldest dropped first, and replayed in order by Drain.
//
// The Manager owns links by device id, authenticates a scanner once when it
// announces itself online, and throttles each device's ingest rate.
package devicelink
