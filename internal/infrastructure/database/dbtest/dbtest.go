// Package dbtest opens migrated SQLite databases for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
	_ "github.com/tagsakay/tagsakay-core/migrations" // registers the embedded schema
)

// Open creates a temporary database with every migration applied.
// The database is closed at test cleanup.
func Open(t testing.TB) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "tagsakay-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}
