package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultThrottleIdle is how long an unused bucket is kept.
const DefaultThrottleIdle = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a token bucket per key. Device message ingest uses it to cap
// how fast a single scanner can submit reads.
type Throttle struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewThrottle creates a Throttle allowing perSecond events per key with the
// given burst.
func NewThrottle(perSecond float64, burst int, opts ...Option) *Throttle {
	o := buildOptions(opts)
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idle:      DefaultThrottleIdle,
		now:       o.now,
		lastSweep: o.now(),
	}
}

// Allow reports whether one event for key may proceed now.
func (t *Throttle) Allow(key string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) >= t.idle {
		t.lastSweep = now
		for k, b := range t.buckets {
			if now.Sub(b.lastSeen) >= t.idle {
				delete(t.buckets, k)
			}
		}
	}

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
