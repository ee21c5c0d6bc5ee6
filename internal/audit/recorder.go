package audit

import (
	"context"
	"log/slog"
	"time"
)

// DefaultBufferSize is the capacity of the Recorder's queue.
const DefaultBufferSize = 256

// Sink receives every event after it has been stored, for telemetry or
// fan-out. Sinks must not block.
type Sink interface {
	SecurityEvent(e *Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e *Event)

// SecurityEvent calls f.
func (f SinkFunc) SecurityEvent(e *Event) { f(e) }

// Recorder queues events and writes them serially from one goroutine.
type Recorder struct {
	repo   Repository
	ch     chan *Event
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder with a queue of the given size
// (DefaultBufferSize if size <= 0). Call Run to start writing.
func NewRecorder(repo Repository, size int, logger *slog.Logger, sinks ...Sink) *Recorder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		ch:     make(chan *Event, size),
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
	}
}

// Record enqueues e for asynchronous write. It never blocks: when the queue
// is full the event is dropped and a warning is logged.
func (r *Recorder) Record(e *Event) {
	if r == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.Severity == "" {
		e.Severity = DefaultSeverity(e.Type)
	}

	select {
	case r.ch <- e:
	default:
		r.logger.Warn("security event queue full, dropping event",
			"event_type", e.Type,
			"account", e.Account,
		)
	}
}

// Pending returns the number of queued events.
func (r *Recorder) Pending() int {
	if r == nil {
		return 0
	}
	return len(r.ch)
}

// Run writes queued events until ctx is cancelled, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.ch:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.ch:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e *Event) {
	// Writes outlive request contexts; the request is long gone by now.
	if err := r.repo.Create(context.Background(), e); err != nil {
		r.logger.Error("security event write failed",
			"event_type", e.Type,
			"error", err,
		)
		return
	}
	for _, s := range r.sinks {
		s.SecurityEvent(e)
	}
}
