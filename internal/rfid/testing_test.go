package rfid

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database/dbtest"
)

const testDevice = "AABBCCDDEEFF"

func newTestRepo(t *testing.T) (*SQLiteRepository, *database.DB) {
	t.Helper()
	db := dbtest.Open(t)
	return NewSQLiteRepository(db), db
}

func newTestClassifier(repo Store, opts ...ClassifierOption) *Classifier {
	return NewClassifier(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

// insertUser adds a user row directly; the rfid package only reads users.
func insertUser(t *testing.T, db *database.DB, id, name string, active bool) {
	t.Helper()
	now := database.Timestamp(time.Now())
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, role, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, 'x', 'driver', ?, ?, ?)`,
		id, name, id+"@example.com", database.BoolToInt(active), now, now)
	require.NoError(t, err)
}

func insertTag(t *testing.T, repo *SQLiteRepository, tagID, userID string, active bool) *Tag {
	t.Helper()
	tag := &Tag{TagID: tagID, UserID: userID, IsActive: active}
	require.NoError(t, repo.CreateTag(context.Background(), tag))
	return tag
}

func countScans(t *testing.T, db *database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM rfid_scans`).Scan(&n))
	return n
}

// failingStore fails every lookup with err. RecordScan succeeds unless
// recordErr is set.
type failingStore struct {
	err       error
	recordErr error
	recorded  []*Scan
}

func (f *failingStore) LookupForScan(context.Context, string) (*Tag, *Owner, error) {
	return nil, nil, f.err
}

func (f *failingStore) RecordScan(_ context.Context, s *Scan) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, s)
	return nil
}

// cancellingStore cancels the caller's context once the lookup returns,
// as when a device drops the connection mid-request.
type cancellingStore struct {
	Store
	cancel context.CancelFunc
}

func (s cancellingStore) LookupForScan(ctx context.Context, tagID string) (*Tag, *Owner, error) {
	tag, owner, err := s.Store.LookupForScan(ctx, tagID)
	s.cancel()
	return tag, owner, err
}

func (f *failingStore) RecordAcceptedScan(context.Context, *Scan) error {
	return f.err
}
