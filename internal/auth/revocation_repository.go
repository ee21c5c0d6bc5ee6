package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
)

// RevocationRepository records token ids that must no longer be accepted
// even though their signature and expiry are still valid.
type RevocationRepository interface {
	Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteRevocationRepository implements RevocationRepository using SQLite.
type SQLiteRevocationRepository struct {
	db *sql.DB
}

// NewRevocationRepository creates a new SQLite-backed revocation list.
func NewRevocationRepository(db *sql.DB) *SQLiteRevocationRepository {
	return &SQLiteRevocationRepository{db: db}
}

// Revoke adds jti to the revocation list. Revoking twice is not an error.
func (r *SQLiteRevocationRepository) Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	if jti == "" {
		return fmt.Errorf("revoking token: %w", ErrTokenInvalid)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, user_id, expires_at, revoked_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, userID, database.Timestamp(expiresAt), database.Timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti is on the revocation list.
func (r *SQLiteRevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM revoked_tokens WHERE jti = ?", jti).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return true, nil
}

// PurgeExpired removes entries for tokens that have expired on their own.
func (r *SQLiteRevocationRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE expires_at < ?", database.Timestamp(now))
	if err != nil {
		return 0, fmt.Errorf("purging revoked tokens: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}
