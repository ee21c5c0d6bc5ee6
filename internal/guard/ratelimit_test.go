package guard

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = Policy{Name: "test", Limit: 5, Window: time.Minute}

func newTestLimiter(clock *fakeClock) *RouteLimiter {
	return NewRouteLimiter(LimiterConfig{}, WithClock(clock.Now))
}

func TestRouteLimiter_AllowsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 1; i <= 5; i++ {
		d := l.Allow(testPolicy, "10.0.0.1", "/api/auth/login")
		require.True(t, d.Allowed, "attempt %d", i)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 5-i, d.Remaining)
		assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
		assert.Equal(t, "test:10.0.0.1:/api/auth/login", d.Key)
	}
}

func TestRouteLimiter_SixthAttemptLocked(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	d := l.Allow(testPolicy, "10.0.0.1", "/login")

	assert.False(t, d.Allowed)
	assert.True(t, d.Locked)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestRouteLimiter_FreshWindowAfterLockout(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 6; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}

	clock.Advance(time.Minute + time.Second)
	d := l.Allow(testPolicy, "10.0.0.1", "/login")

	require.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining, "count must restart at 1, not N+1")
}

func TestRouteLimiter_StillLockedBeforeExpiry(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 6; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	clock.Advance(30 * time.Second)

	d := l.Allow(testPolicy, "10.0.0.1", "/login")
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
}

func TestRouteLimiter_BackoffDoubles(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	// Attempts 1-5 allowed, 6 locks for W (6/5 = 1 block).
	for i := 0; i < 6; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	// Attempts 7-9 while locked stay in block 1.
	for i := 0; i < 3; i++ {
		d := l.Allow(testPolicy, "10.0.0.1", "/login")
		assert.Equal(t, time.Minute, d.RetryAfter)
	}
	// Attempt 10 reaches block 2: lock becomes 2W from now.
	d := l.Allow(testPolicy, "10.0.0.1", "/login")
	assert.Equal(t, 2*time.Minute, d.RetryAfter)

	// Attempt 15 reaches block 3: 4W.
	for i := 0; i < 4; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	d = l.Allow(testPolicy, "10.0.0.1", "/login")
	assert.Equal(t, 4*time.Minute, d.RetryAfter)
}

func TestRouteLimiter_BackoffCapped(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	var d Decision
	for i := 0; i < 5*20; i++ {
		d = l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	assert.Equal(t, DefaultMaxLockout, d.RetryAfter)
}

func TestRouteLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 6; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}

	assert.True(t, l.Allow(testPolicy, "10.0.0.2", "/login").Allowed, "other client")
	assert.True(t, l.Allow(testPolicy, "10.0.0.1", "/other").Allowed, "other path")
	other := testPolicy
	other.Name = "other"
	assert.True(t, l.Allow(other, "10.0.0.1", "/login").Allowed, "other policy")
}

func TestRouteLimiter_WindowReset(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	clock.Advance(time.Minute)

	d := l.Allow(testPolicy, "10.0.0.1", "/login")
	require.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestRouteLimiter_Release(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	// Successful requests released immediately never accumulate.
	for i := 0; i < 20; i++ {
		d := l.Allow(testPolicy, "10.0.0.1", "/login")
		require.True(t, d.Allowed, "attempt %d", i)
		l.Release(d.Key)
	}

	l.Release("missing:key:/x")
}

func TestRouteLimiter_ReleaseIgnoredWhileLocked(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	var d Decision
	for i := 0; i < 6; i++ {
		d = l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	l.Release(d.Key)

	assert.False(t, l.Allow(testPolicy, "10.0.0.1", "/login").Allowed)
}

func TestRouteLimiter_LazySweep(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	l.Allow(testPolicy, "10.0.0.1", "/a")
	l.Allow(testPolicy, "10.0.0.2", "/b")
	require.Equal(t, 2, l.Len())

	// Before the sweep interval nothing is evicted even though windows expired.
	clock.Advance(2 * time.Minute)
	l.Allow(testPolicy, "10.0.0.3", "/c")
	assert.Equal(t, 3, l.Len())

	clock.Advance(DefaultSweepInterval)
	l.Allow(testPolicy, "10.0.0.4", "/d")
	assert.Equal(t, 1, l.Len(), "only the new key survives the sweep")
}

func TestRouteLimiter_SweepKeepsLockedEntries(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 5*6; i++ {
		l.Allow(testPolicy, "10.0.0.1", "/login")
	}
	clock.Advance(DefaultSweepInterval)
	l.Allow(testPolicy, "10.0.0.2", "/login")

	assert.Equal(t, 2, l.Len())
}

func TestRouteLimiter_ConcurrentCeiling(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(testPolicy, "10.0.0.1", "/login").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), allowed.Load())
}

func TestDecision_SetHeaders(t *testing.T) {
	reset := time.Unix(1700000000, 0)

	h := http.Header{}
	Decision{Allowed: true, Limit: 100, Remaining: 99, ResetAt: reset}.SetHeaders(h)
	assert.Equal(t, "100", h.Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", h.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000000", h.Get("X-RateLimit-Reset"))
	assert.Empty(t, h.Get("Retry-After"))

	h = http.Header{}
	Decision{Allowed: false, Limit: 5, ResetAt: reset, RetryAfter: 1500 * time.Millisecond}.SetHeaders(h)
	assert.Equal(t, "0", h.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", h.Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare header wins", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "9.9.9.9:1234", "1.1.1.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": "2.2.2.2, 3.3.3.3"}, "9.9.9.9:1234", "2.2.2.2"},
		{"real ip", map[string]string{"X-Real-IP": "4.4.4.4"}, "9.9.9.9:1234", "4.4.4.4"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"unknown", nil, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, Decision{Allowed: true}.Err())
	assert.ErrorIs(t, Decision{Allowed: false}.Err(), ErrRateLimited)
}
