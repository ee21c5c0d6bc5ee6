package devicelink

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/mqtt"
	"github.com/tagsakay/tagsakay-core/internal/rfid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeClassifier records requests and fails with err while it is set.
type fakeClassifier struct {
	mu   sync.Mutex
	seen []rfid.ScanRequest
	err  error
}

func (f *fakeClassifier) Classify(_ context.Context, req rfid.ScanRequest) (*rfid.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, err := rfid.ParseTagID(req.TagID); err != nil {
		return nil, err
	}
	f.seen = append(f.seen, req)
	return &rfid.Result{Outcome: rfid.OutcomeSuccess, Scan: &rfid.Scan{TagID: rfid.NormalizeTagID(req.TagID)}}, nil
}

func (f *fakeClassifier) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeClassifier) tags() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.seen))
	for i, r := range f.seen {
		out[i] = rfid.NormalizeTagID(r.TagID)
	}
	return out
}

type fakeAuth struct {
	keys  map[string]*device.Principal
	mu    sync.Mutex
	calls int
}

func (a *fakeAuth) Authenticate(_ context.Context, presented string) (*device.Principal, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if p, ok := a.keys[presented]; ok {
		return p, nil
	}
	return nil, device.ErrInvalidCredential
}

type fakeSubscriber struct {
	handlers map[string]mqtt.MessageHandler
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if s.handlers == nil {
		s.handlers = map[string]mqtt.MessageHandler{}
	}
	s.handlers[topic] = h
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLink(clf Classifier, clock *fakeClock, size int) *Link {
	return NewLink("AABBCCDDEEFF", clf, LinkConfig{BufferSize: size}, quietLogger(), clock.Now)
}

func (a *fakeAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
