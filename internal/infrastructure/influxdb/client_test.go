package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

var fixedNow = time.Date(2025, 10, 16, 8, 30, 0, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{
		writeAPI:  w,
		connected: true,
		now:       func() time.Time { return fixedNow },
	}, w
}

func tagValue(p *write.Point, key string) string {
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	return ""
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1", Token: "t", Org: "o", Bucket: "b"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteScan(t *testing.T) {
	c, w := newTestClient()
	at := fixedNow.Add(-time.Minute)

	c.WriteScan("AABBCCDDEEFF", "unauthorized", "unknown", at)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementScan {
		t.Errorf("measurement = %q, want %q", p.Name(), MeasurementScan)
	}
	if got := tagValue(p, "device_id"); got != "AABBCCDDEEFF" {
		t.Errorf("device_id tag = %q", got)
	}
	if got := tagValue(p, "status"); got != "unauthorized" {
		t.Errorf("status tag = %q", got)
	}
	if got := tagValue(p, "tag_id"); got != "" {
		t.Errorf("tag_id must not be a tag, got %q", got)
	}
	if !p.Time().Equal(at) {
		t.Errorf("time = %v, want %v", p.Time(), at)
	}
}

func TestWriteSecurityEvent(t *testing.T) {
	c, w := newTestClient()

	c.WriteSecurityEvent("ACCOUNT_LOCKED", "warning")

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	if got := tagValue(w.points[0], "event_type"); got != "ACCOUNT_LOCKED" {
		t.Errorf("event_type tag = %q", got)
	}
	if !w.points[0].Time().Equal(fixedNow) {
		t.Errorf("time = %v, want injected clock %v", w.points[0].Time(), fixedNow)
	}
}

func TestWriteGuardStats(t *testing.T) {
	c, w := newTestClient()

	c.WriteGuardStats("route", 12)

	if len(w.points) != 1 || tagValue(w.points[0], "store") != "route" {
		t.Fatalf("unexpected points %+v", w.points)
	}
}

func TestWrite_Disconnected(t *testing.T) {
	c, w := newTestClient()
	c.connected = false

	c.WriteScan("AABBCCDDEEFF", "success", "entry", fixedNow)
	c.Flush()

	if len(w.points) != 0 || w.flushes != 0 {
		t.Errorf("disconnected client wrote %d points, %d flushes", len(w.points), w.flushes)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	cause := errors.New("write timeout")
	ch := make(chan error, 1)
	ch <- cause
	close(ch)
	c.handleWriteErrors(ch)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) || !errors.Is(err, cause) {
			t.Errorf("callback error = %v, want ErrWriteFailed wrapping %v", err, cause)
		}
	default:
		t.Error("onError callback not invoked")
	}
}

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.InfluxDBConfig{})
	if opts.BatchSize() != defaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", opts.BatchSize(), defaultBatchSize)
	}
	if opts.FlushInterval() != defaultFlushInterval*millisecondsPerSecond {
		t.Errorf("FlushInterval() = %d, want %d", opts.FlushInterval(), defaultFlushInterval*millisecondsPerSecond)
	}

	opts = clientOptions(config.InfluxDBConfig{BatchSize: 20, FlushInterval: 2})
	if opts.BatchSize() != 20 || opts.FlushInterval() != 2000 {
		t.Errorf("configured options = (%d, %d), want (20, 2000)", opts.BatchSize(), opts.FlushInterval())
	}
}
