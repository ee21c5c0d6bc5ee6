// Package rfid classifies tag scans and keeps the scan ledger.
//
// Every scan attempt with a well-formed tag id produces exactly one
// append-only audit record, whatever the outcome, and the record is
// committed before Classify returns. Outcomes are evaluated in a fixed
// order: unregistered, tag inactive, owner inactive, success.
//
// Tag ids are trimmed and uppercased before any comparison or storage, so
// "test001" and " TEST001 " are the same tag.
//
// The classifier does not deduplicate: two scans of the same tag produce
// two records. Debouncing belongs to the devicelink package.
package rfid
