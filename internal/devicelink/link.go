package devicelink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

// Link defaults.
const (
	DefaultDebounce   = time.Second
	DefaultBufferSize = 100
)

var (
	// ErrNotConnected is returned by Submit on a disconnected link.
	ErrNotConnected = errors.New("devicelink: not connected")

	// ErrDuplicate is returned when the same tag is read again within the
	// debounce window. The scan never reaches the classifier.
	ErrDuplicate = errors.New("devicelink: duplicate scan")

	// ErrBuffered is returned when a scan was queued for later replay
	// instead of being classified now.
	ErrBuffered = errors.New("devicelink: scan buffered")
)

// State is the connection state of a Link.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateBuffering
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateBuffering:
		return "buffering"
	}
	return "unknown"
}

// Classifier is the scan classification dependency.
type Classifier interface {
	Classify(ctx context.Context, req rfid.ScanRequest) (*rfid.Result, error)
}

// LinkConfig configures a Link. Zero values select the defaults.
type LinkConfig struct {
	Debounce   time.Duration
	BufferSize int
}

// Link is the session of one scanner.
type Link struct {
	mu sync.Mutex

	deviceID   string
	state      State
	classifier Classifier
	debounce   time.Duration
	capacity   int
	logger     *slog.Logger
	now        func() time.Time

	lastTagID string
	lastAt    time.Time

	buffer  []rfid.ScanRequest
	dropped int
}

// NewLink creates a disconnected link for deviceID.
func NewLink(deviceID string, classifier Classifier, cfg LinkConfig, logger *slog.Logger, now func() time.Time) *Link {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Link{
		deviceID:   deviceID,
		classifier: classifier,
		debounce:   cfg.Debounce,
		capacity:   cfg.BufferSize,
		logger:     logger.With("device_id", deviceID),
		now:        now,
	}
}

// DeviceID returns the device the link belongs to.
func (l *Link) DeviceID() string { return l.deviceID }

// State returns the current state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Buffered returns the number of scans waiting for replay.
func (l *Link) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// Dropped returns how many buffered scans were discarded on overflow.
func (l *Link) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Connect moves a disconnected link to Connected, or back to Buffering if
// scans are still waiting.
func (l *Link) Connect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDisconnected {
		return
	}
	if len(l.buffer) > 0 {
		l.state = StateBuffering
		return
	}
	l.state = StateConnected
}

// Disconnect moves the link to Disconnected. Buffered scans are kept.
func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateDisconnected
}

// Submit debounces and classifies one scan.
//
// It returns ErrNotConnected, ErrDuplicate, or ErrBuffered when the scan was
// not classified now. Only a scan the classifier could not record at all is
// buffered; a failure whose record was committed is returned as is, since a
// replay would write a second record for the same read. Malformed tag ids are
// returned as rfid.ErrInvalidTagID and are not buffered.
func (l *Link) Submit(ctx context.Context, req rfid.ScanRequest) (*rfid.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateDisconnected {
		return nil, ErrNotConnected
	}

	req.DeviceID = l.deviceID
	tagID := rfid.NormalizeTagID(req.TagID)
	now := l.now()
	if tagID == l.lastTagID && now.Sub(l.lastAt) < l.debounce {
		return nil, ErrDuplicate
	}
	l.lastTagID = tagID
	l.lastAt = now

	if req.ScannedAt.IsZero() {
		req.ScannedAt = now
	}

	if l.state == StateBuffering {
		l.enqueue(req)
		return nil, ErrBuffered
	}

	res, err := l.classifier.Classify(ctx, req)
	if errors.Is(err, rfid.ErrScanNotRecorded) {
		l.logger.Warn("classification unavailable, buffering scan", "tag_id", tagID, "error", err)
		l.state = StateBuffering
		l.enqueue(req)
		return nil, ErrBuffered
	}
	return res, err
}

// Drain replays buffered scans in order. It stops at the first scan that
// still cannot be recorded and stays Buffering; when every scan is replayed the link returns
// to Connected. It returns the number of scans replayed.
func (l *Link) Drain(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	replayed := 0
	for len(l.buffer) > 0 {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		_, err := l.classifier.Classify(ctx, l.buffer[0])
		if errors.Is(err, rfid.ErrScanNotRecorded) {
			return replayed, err
		}
		if err != nil {
			l.logger.Warn("dropping unreplayable scan", "tag_id", l.buffer[0].TagID, "error", err)
		}
		l.buffer = l.buffer[1:]
		replayed++
	}

	l.buffer = nil
	if l.state == StateBuffering {
		l.state = StateConnected
	}
	return replayed, nil
}

func (l *Link) enqueue(req rfid.ScanRequest) {
	if len(l.buffer) >= l.capacity {
		l.logger.Warn("scan buffer full, dropping oldest", "tag_id", l.buffer[0].TagID, "capacity", l.capacity)
		l.buffer = l.buffer[1:]
		l.dropped++
	}
	l.buffer = append(l.buffer, req)
}
