package guard

import (
	"sync"
	"time"
)

// Lockout defaults.
const (
	DefaultMaxAttempts          = 5
	DefaultLockoutWindow        = time.Hour
	DefaultLockoutDuration      = 15 * time.Minute
	DefaultLockoutSweepInterval = 10 * time.Minute
)

// LockoutConfig holds the AccountLockout tunables.
type LockoutConfig struct {
	// MaxAttempts is the number of failures that locks the account.
	MaxAttempts int

	// Window is the idle period after which the failure count starts over.
	Window time.Duration

	// Duration is how long a locked account stays locked.
	Duration time.Duration

	// SweepInterval bounds how often idle entries are evicted.
	SweepInterval time.Duration
}

// LockStatus describes an account's lockout state.
type LockStatus struct {
	Locked            bool
	Attempts          int
	RemainingAttempts int
	LockedUntil       time.Time
	RetryAfter        time.Duration
}

type lockoutEntry struct {
	attempts    int
	lastAttempt time.Time
	lockedUntil time.Time
}

// AccountLockout tracks failed logins per account. Keys are account
// identities, never client addresses, so one account cannot be brute forced
// from many addresses.
type AccountLockout struct {
	mu        sync.Mutex
	entries   map[string]*lockoutEntry
	cfg       LockoutConfig
	now       func() time.Time
	lastSweep time.Time
}

// NewAccountLockout creates an empty tracker. Zero config fields take defaults.
func NewAccountLockout(cfg LockoutConfig, opts ...Option) *AccountLockout {
	o := buildOptions(opts)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultLockoutWindow
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultLockoutDuration
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultLockoutSweepInterval
	}
	return &AccountLockout{
		entries:   make(map[string]*lockoutEntry),
		cfg:       cfg,
		now:       o.now,
		lastSweep: o.now(),
	}
}

// Check returns the current status for key without counting an attempt.
// An expired lock is cleared.
func (a *AccountLockout) Check(key string) LockStatus {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.sweepLocked(now)

	e, ok := a.entries[key]
	if !ok {
		return LockStatus{RemainingAttempts: a.cfg.MaxAttempts}
	}
	if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
		delete(a.entries, key)
		return LockStatus{RemainingAttempts: a.cfg.MaxAttempts}
	}
	return a.statusLocked(e, now)
}

// Acquire admits one login attempt for key, counted before the credential
// is checked. A locked account is refused with ok false. The attempt that
// reaches MaxAttempts locks the account, so concurrent attempts for one
// account never verify more than MaxAttempts credentials per lock period.
//
// A failed verification needs no further call: the attempt already counts.
// Reset cancels it on success; Release gives it back when the attempt
// never reached a credential check.
func (a *AccountLockout) Acquire(key string) (status LockStatus, ok bool) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.sweepLocked(now)

	e, found := a.entries[key]
	switch {
	case !found:
		e = &lockoutEntry{}
		a.entries[key] = e
	case now.Before(e.lockedUntil):
		return a.statusLocked(e, now), false
	case !e.lockedUntil.IsZero():
		*e = lockoutEntry{}
	case now.Sub(e.lastAttempt) > a.cfg.Window:
		e.attempts = 0
	}

	e.attempts++
	e.lastAttempt = now
	if e.attempts >= a.cfg.MaxAttempts {
		e.lockedUntil = now.Add(a.cfg.Duration)
	}
	return a.statusLocked(e, now), true
}

// Release returns an attempt taken by Acquire that ended before the
// credential was checked, undoing the lock it may have set.
func (a *AccountLockout) Release(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok || e.attempts == 0 {
		return
	}
	e.attempts--
	if e.attempts < a.cfg.MaxAttempts {
		e.lockedUntil = time.Time{}
	}
	if e.attempts == 0 {
		delete(a.entries, key)
	}
}

// Reset forgets key. Called after a successful login.
func (a *AccountLockout) Reset(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, key)
}

// Len returns the number of tracked accounts.
func (a *AccountLockout) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *AccountLockout) statusLocked(e *lockoutEntry, now time.Time) LockStatus {
	s := LockStatus{
		Attempts:          e.attempts,
		RemainingAttempts: max(0, a.cfg.MaxAttempts-e.attempts),
	}
	if now.Before(e.lockedUntil) {
		s.Locked = true
		s.LockedUntil = e.lockedUntil
		s.RetryAfter = e.lockedUntil.Sub(now)
		s.RemainingAttempts = 0
	}
	return s
}

// sweepLocked drops unlocked entries idle for longer than the window and
// entries whose lock has expired. Caller holds a.mu.
func (a *AccountLockout) sweepLocked(now time.Time) {
	if now.Sub(a.lastSweep) < a.cfg.SweepInterval {
		return
	}
	a.lastSweep = now
	for key, e := range a.entries {
		lockExpired := !now.Before(e.lockedUntil)
		idle := now.Sub(e.lastAttempt) > a.cfg.Window
		if lockExpired && (idle || !e.lockedUntil.IsZero()) {
			delete(a.entries, key)
		}
	}
}
