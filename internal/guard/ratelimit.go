package guard

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter defaults.
const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxLockout    = time.Hour

	unknownClient = "unknown"
)

// ErrRateLimited is returned for requests denied by a RouteLimiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// Policy is a named rate limit applied to a group of routes.
type Policy struct {
	// Name prefixes every key so policies never share counters.
	Name string

	// Limit is the number of requests allowed per Window.
	Limit int

	// Window is the counting period.
	Window time.Duration

	// SkipSuccessful means successful requests are released afterwards and
	// only failures count toward the limit.
	SkipSuccessful bool

	// Message is returned to clients that are denied.
	Message string
}

// Preset policies.
var (
	AuthPolicy = Policy{
		Name:           "auth",
		Limit:          5,
		Window:         time.Minute,
		SkipSuccessful: true,
		Message:        "Too many authentication attempts. Please try again later.",
	}

	APIPolicy = Policy{
		Name:    "api",
		Limit:   100,
		Window:  time.Minute,
		Message: "Too many requests. Please slow down.",
	}

	// DeviceLinkAuthPolicy caps API key checks for scanners announcing
	// themselves over MQTT, per device id.
	DeviceLinkAuthPolicy = Policy{
		Name:           "devlink",
		Limit:          5,
		Window:         time.Minute,
		SkipSuccessful: true,
		Message:        "Too many device authentication attempts.",
	}

	// DeviceLinkAuthGlobalPolicy caps API key checks over MQTT across all
	// device ids, since topic device ids are chosen by the publisher.
	DeviceLinkAuthGlobalPolicy = Policy{
		Name:           "devlink-all",
		Limit:          60,
		Window:         time.Minute,
		SkipSuccessful: true,
		Message:        "Too many device authentication attempts.",
	}

	DeviceRegisterPolicy = Policy{
		Name:    "devreg",
		Limit:   3,
		Window:  time.Hour,
		Message: "Too many device registration attempts. Please try again later.",
	}
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Locked     bool
}

// Err returns ErrRateLimited for a denied decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}

// SetHeaders writes the X-RateLimit-* headers for d, plus Retry-After when
// the request was denied.
func (d Decision) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum one.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	return max(secs, 1)
}

type routeEntry struct {
	count       int
	resetAt     time.Time
	lockedUntil time.Time
}

// RouteLimiter is a fixed-window counter per key with exponential lockout.
type RouteLimiter struct {
	mu         sync.Mutex
	entries    map[string]*routeEntry
	now        func() time.Time
	sweepEvery time.Duration
	maxLockout time.Duration
	lastSweep  time.Time
}

// LimiterConfig holds the RouteLimiter tunables.
type LimiterConfig struct {
	SweepInterval time.Duration
	MaxLockout    time.Duration
}

// NewRouteLimiter creates an empty limiter.
func NewRouteLimiter(cfg LimiterConfig, opts ...Option) *RouteLimiter {
	o := buildOptions(opts)
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxLockout <= 0 {
		cfg.MaxLockout = DefaultMaxLockout
	}
	return &RouteLimiter{
		entries:    make(map[string]*routeEntry),
		now:        o.now,
		sweepEvery: cfg.SweepInterval,
		maxLockout: cfg.MaxLockout,
		lastSweep:  o.now(),
	}
}

// Key builds the counter key for a policy, client, and route.
func Key(policy, clientIP, path string) string {
	return policy + ":" + clientIP + ":" + path
}

// Allow counts one request from clientIP to path under p.
//
// A locked key stays denied until the lock expires; attempts made while
// locked still count and lengthen the lock each time the count crosses
// another multiple of the limit.
func (l *RouteLimiter) Allow(p Policy, clientIP, path string) Decision {
	key := Key(p.Name, clientIP, path)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	e, ok := l.entries[key]
	if !ok {
		e = &routeEntry{resetAt: now.Add(p.Window)}
		l.entries[key] = e
	}

	if now.Before(e.lockedUntil) {
		before := e.count / p.Limit
		e.count++
		if after := e.count / p.Limit; after > before {
			e.lockedUntil = now.Add(l.lockoutFor(p, after))
		}
		return l.denied(p, key, e, now)
	}

	if !now.Before(e.resetAt) {
		e.count = 0
		e.resetAt = now.Add(p.Window)
		e.lockedUntil = time.Time{}
	}

	e.count++
	if e.count > p.Limit {
		e.lockedUntil = now.Add(l.lockoutFor(p, e.count/p.Limit))
		return l.denied(p, key, e, now)
	}

	return Decision{
		Allowed:   true,
		Key:       key,
		Limit:     p.Limit,
		Remaining: p.Limit - e.count,
		ResetAt:   e.resetAt,
	}
}

// Release undoes one counted request for key. Policies with SkipSuccessful
// call it after the request succeeded. Locked keys are left untouched.
func (l *RouteLimiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.count == 0 || l.now().Before(e.lockedUntil) {
		return
	}
	e.count--
}

// Len returns the number of tracked keys.
func (l *RouteLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// lockoutFor returns Window * 2^(blocks-1), capped at maxLockout.
func (l *RouteLimiter) lockoutFor(p Policy, blocks int) time.Duration {
	if blocks < 1 {
		blocks = 1
	}
	d := p.Window
	for i := 1; i < blocks; i++ {
		d *= 2
		if d >= l.maxLockout {
			return l.maxLockout
		}
	}
	return min(d, l.maxLockout)
}

func (l *RouteLimiter) denied(p Policy, key string, e *routeEntry, now time.Time) Decision {
	return Decision{
		Allowed:    false,
		Key:        key,
		Limit:      p.Limit,
		Remaining:  0,
		ResetAt:    e.lockedUntil,
		RetryAfter: e.lockedUntil.Sub(now),
		Locked:     true,
	}
}

// sweepLocked drops entries whose window and lock have both expired.
// Caller holds l.mu.
func (l *RouteLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.sweepEvery {
		return
	}
	l.lastSweep = now
	for key, e := range l.entries {
		if !now.Before(e.resetAt) && !now.Before(e.lockedUntil) {
			delete(l.entries, key)
		}
	}
}

// ClientIP returns the client address for rate limiting, preferring the
// edge-supplied CF-Connecting-IP, then the first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return unknownClient
}
