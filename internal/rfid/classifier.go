package rfid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MaxBatchSize is the largest number of scans accepted in one batch upload.
const MaxBatchSize = 50

// Store is the subset of Repository the classifier needs.
type Store interface {
	LookupForScan(ctx context.Context, tagID string) (*Tag, *Owner, error)
	RecordScan(ctx context.Context, scan *Scan) error
	RecordAcceptedScan(ctx context.Context, scan *Scan) error
}

// Observer is notified after a scan record has been committed.
// Implementations must not block; failures are theirs to log.
type Observer interface {
	ScanRecorded(ctx context.Context, req ScanRequest, res *Result)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, req ScanRequest, res *Result)

// ScanRecorded calls f.
func (f ObserverFunc) ScanRecorded(ctx context.Context, req ScanRequest, res *Result) {
	f(ctx, req, res)
}

// ScanRequest is one scan presented by an authenticated device.
type ScanRequest struct {
	TagID     string
	DeviceID  string
	Location  string
	VehicleID string

	// ScannedAt is the device-reported time for offline batches.
	// Zero means now.
	ScannedAt time.Time

	// PendingTagID is the tag the device is waiting to register, if any.
	PendingTagID string

	// Source labels where the scan came from ("http", "mqtt", "batch").
	Source string
}

// Classifier decides the outcome of scans and writes their audit records.
type Classifier struct {
	store     Store
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithObserver registers an observer for committed scans.
func WithObserver(o Observer) ClassifierOption {
	return func(c *Classifier) { c.observers = append(c.observers, o) }
}

// WithClassifierClock overrides the time source.
func WithClassifierClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier creates a classifier over store. A nil logger uses slog.Default.
func NewClassifier(store Store, logger *slog.Logger, opts ...ClassifierOption) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		store:  store,
		logger: logger.With("component", "rfid"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify evaluates one scan and writes exactly one audit record for it.
//
// A malformed tag id returns ErrInvalidTagID without writing a record.
// A storage fault returns an error wrapping ErrScanFailed, and also
// ErrScanNotRecorded when no record could be written; no Result is returned
// unless its record has been committed.
//
// Once the tag id is valid the classification runs to completion:
// cancellation of ctx does not abort the lookup or the record write.
func (c *Classifier) Classify(ctx context.Context, req ScanRequest) (*Result, error) {
	tagID, err := ParseTagID(req.TagID)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	scan := &Scan{
		TagID:     tagID,
		DeviceID:  req.DeviceID,
		Location:  req.Location,
		VehicleID: req.VehicleID,
		ScanTime:  req.ScannedAt,
		Metadata:  map[string]any{},
	}
	if scan.ScanTime.IsZero() {
		scan.ScanTime = c.now()
	}
	scan.ScanTime = scan.ScanTime.UTC()
	if req.Source != "" && req.Source != "http" {
		scan.Metadata["source"] = req.Source
	}

	tag, owner, err := c.store.LookupForScan(ctx, tagID)
	if err != nil && !errors.Is(err, ErrTagNotFound) {
		c.logger.Error("tag lookup failed", "tag_id", tagID, "device_id", req.DeviceID, "error", err)
		reject(scan, StatusFailed, ReasonLookupFailed)
		if recErr := c.store.RecordScan(ctx, scan); recErr != nil {
			c.logger.Error("recording failed scan", "tag_id", tagID, "error", recErr)
			return nil, fmt.Errorf("%w: %w: %w", ErrScanFailed, ErrScanNotRecorded, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	res := &Result{Scan: scan, Tag: tag, Owner: owner}
	switch {
	case tag == nil:
		res.Outcome = OutcomeUnregistered
		reject(scan, StatusFailed, ReasonNotRegistered)
	case !tag.IsActive:
		res.Outcome = OutcomeTagInactive
		scan.UserID = tag.UserID
		reject(scan, StatusUnauthorized, ReasonTagInactive)
	case owner != nil && !owner.IsActive:
		res.Outcome = OutcomeOwnerInactive
		scan.UserID = owner.ID
		reject(scan, StatusUnauthorized, ReasonOwnerInactive)
	default:
		res.Outcome = OutcomeSuccess
		scan.Status = StatusSuccess
		scan.EventType = EventEntry
		if owner != nil {
			scan.UserID = owner.ID
		}
	}

	if res.Outcome == OutcomeSuccess {
		err = c.store.RecordAcceptedScan(ctx, scan)
	} else {
		err = c.store.RecordScan(ctx, scan)
	}
	if err != nil {
		c.logger.Error("recording scan", "tag_id", tagID, "device_id", req.DeviceID,
			"outcome", res.Outcome, "error", err)
		return nil, fmt.Errorf("%w: %w: %w", ErrScanFailed, ErrScanNotRecorded, err)
	}

	if res.Outcome == OutcomeSuccess {
		last := scan.ScanTime
		tag.LastScanned = &last
		tag.DeviceID = req.DeviceID
	}
	if req.PendingTagID != "" && NormalizeTagID(req.PendingTagID) == tagID {
		res.RegistrationMatch = true
	}

	c.logger.Info("scan classified",
		"tag_id", tagID,
		"device_id", req.DeviceID,
		"outcome", res.Outcome,
		"status", scan.Status,
	)

	for _, o := range c.observers {
		o.ScanRecorded(ctx, req, res)
	}
	return res, nil
}

// BatchEntry is one scan in an offline batch upload.
type BatchEntry struct {
	TagID     string    `json:"tagId"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"`
	VehicleID string    `json:"vehicleId,omitempty"`
}

// BatchResult is the outcome of one BatchEntry.
type BatchResult struct {
	TagID   string `json:"tagId"`
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
	Message string `json:"message"`
	ScanID  string `json:"scanId,omitempty"`
}

// ClassifyBatch classifies up to MaxBatchSize entries independently.
// An entry's failure does not stop the batch; only an oversize batch or a
// cancelled context returns an error.
func (c *Classifier) ClassifyBatch(ctx context.Context, deviceID string, entries []BatchEntry) ([]BatchResult, error) {
	if len(entries) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrBatchTooLarge, len(entries), MaxBatchSize)
	}

	results := make([]BatchResult, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		req := ScanRequest{
			TagID:     e.TagID,
			DeviceID:  deviceID,
			Location:  e.Location,
			VehicleID: e.VehicleID,
			ScannedAt: e.Timestamp,
			Source:    "batch",
		}
		res, err := c.Classify(ctx, req)
		switch {
		case errors.Is(err, ErrInvalidTagID):
			results = append(results, BatchResult{TagID: e.TagID, Outcome: "invalid", Message: "Invalid tag id"})
		case err != nil:
			results = append(results, BatchResult{TagID: e.TagID, Outcome: "error", Message: "Failed to process scan"})
		default:
			results = append(results, BatchResult{
				TagID:   res.Scan.TagID,
				Success: res.Success(),
				Outcome: string(res.Outcome),
				Message: res.Outcome.Message(),
				ScanID:  res.Scan.ID,
			})
		}
	}
	return results, nil
}

func reject(s *Scan, status Status, reason string) {
	s.Status = status
	s.EventType = EventUnknown
	s.Metadata["reason"] = reason
}
