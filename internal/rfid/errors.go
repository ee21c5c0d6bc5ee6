package rfid

import "errors"

var (
	// ErrInvalidTagID is returned for tag ids that are empty, outside 4-32
	// characters, or not alphanumeric. No scan record is written.
	ErrInvalidTagID = errors.New("rfid: invalid tag id")

	// ErrTagNotFound is returned when a tag id is not registered.
	ErrTagNotFound = errors.New("rfid: tag not found")

	// ErrTagExists is returned when registering a tag id twice.
	ErrTagExists = errors.New("rfid: tag already registered")

	// ErrOwnerNotFound is returned when binding a tag to an unknown user.
	ErrOwnerNotFound = errors.New("rfid: owner not found")

	// ErrScanFailed wraps storage faults during classification.
	ErrScanFailed = errors.New("rfid: failed to process scan")

	// ErrScanNotRecorded accompanies ErrScanFailed when no audit record was
	// committed for the attempt. Only such scans may be retried; a retry of
	// any other failure would write a second record for one read.
	ErrScanNotRecorded = errors.New("rfid: scan not recorded")

	// ErrBatchTooLarge is returned for batch uploads above MaxBatchSize.
	ErrBatchTooLarge = errors.New("rfid: batch too large")
)
