package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/guard"
)

// ErrAccountLocked is returned once an account has reached the failure
// threshold. Callers may tell the user the account is locked; before the
// threshold they must only ever say ErrInvalidCredentials.
var ErrAccountLocked = errors.New("account temporarily locked")

// LockedError carries how long a locked account must wait.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrAccountLocked, e.RetryAfter.Round(time.Second))
}

// Is matches ErrAccountLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// AttemptTracker admits and counts login attempts per account. Acquire must
// refuse and count in one step so concurrent logins cannot all pass a
// check before any failure is recorded.
type AttemptTracker interface {
	Acquire(key string) (guard.LockStatus, bool)
	Release(key string)
	Reset(key string)
}

// LoginResult holds the tokens issued for a successful login.
type LoginResult struct {
	User          *User
	AccessToken   string
	AccessClaims  *Claims
	SessionToken  string
	SessionClaims *Claims
}

// LoginService authenticates users by email and password.
type LoginService struct {
	users    UserRepository
	hasher   *Hasher
	access   *TokenService
	session  *TokenService
	attempts AttemptTracker
	logger   *slog.Logger

	// dummyHash is verified when the account does not exist so unknown and
	// known emails cost the same.
	dummyHash string
}

// NewLoginService wires a LoginService.
func NewLoginService(users UserRepository, hasher *Hasher, access, session *TokenService, attempts AttemptTracker, logger *slog.Logger) (*LoginService, error) {
	dummy, err := hasher.Hash("tagsakay-dummy-credential")
	if err != nil {
		return nil, fmt.Errorf("preparing login service: %w", err)
	}
	return &LoginService{
		users:     users,
		hasher:    hasher,
		access:    access,
		session:   session,
		attempts:  attempts,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// Login verifies email and password and issues an access token and a
// session token.
//
// Errors: ErrAccountLocked (as *LockedError), ErrInvalidCredentials for an
// unknown email or wrong password, ErrUserInactive for a correct password
// on a disabled account. Storage and signing failures are returned wrapped.
func (s *LoginService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	key := NormalizeEmail(email)

	status, ok := s.attempts.Acquire(key)
	if !ok {
		return nil, &LockedError{RetryAfter: status.RetryAfter}
	}

	user, err := s.users.GetByEmail(ctx, key)
	if errors.Is(err, ErrUserNotFound) {
		s.hasher.Verify(password, s.dummyHash)
		return nil, rejected(status)
	}
	if err != nil {
		s.attempts.Release(key)
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, rejected(status)
	}
	if !user.IsActive {
		s.attempts.Release(key)
		return nil, ErrUserInactive
	}

	s.attempts.Reset(key)
	s.upgradeHash(ctx, user, password)

	result := &LoginResult{User: user}
	result.AccessToken, result.AccessClaims, err = s.access.IssueClaims(user.Identity())
	if err != nil {
		return nil, err
	}
	result.SessionToken, result.SessionClaims, err = s.session.IssueClaims(user.Identity())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// rejected maps a failed attempt to its error. The attempt was counted by
// Acquire; the one that reached the ceiling reports the lock.
func rejected(status guard.LockStatus) error {
	if status.Locked {
		return &LockedError{RetryAfter: status.RetryAfter}
	}
	return ErrInvalidCredentials
}

// upgradeHash replaces legacy or under-strength hashes after a successful
// verification. Failure leaves the old hash in place.
func (s *LoginService) upgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehashing password failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Warn("storing upgraded password hash failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info("password hash upgraded", "user_id", user.ID)
}
