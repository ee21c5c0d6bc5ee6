package database

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
)

// useMigrations swaps MigrationsFS for the duration of the test.
func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, "."
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20251001_090000_create_devices.up.sql": {
			Data: []byte("CREATE TABLE test_devices (id TEXT PRIMARY KEY);"),
		},
		"20251001_090000_create_devices.down.sql": {
			Data: []byte("DROP TABLE test_devices;"),
		},
		"20251002_090000_create_scans.up.sql": {
			Data: []byte("CREATE TABLE test_scans (id TEXT PRIMARY KEY);"),
		},
		"20251002_090000_create_scans.down.sql": {
			Data: []byte("DROP TABLE test_scans;"),
		},
		"README.md": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"test_devices", "test_scans"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_scans") {
		t.Error("test_scans should be dropped by rollback")
	}
	if !tableExists(t, db, "test_devices") {
		t.Error("test_devices should survive a single rollback")
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "create_scans" {
		t.Errorf("pending = %+v, want [create_scans]", pending)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
	if err := db.MigrateDown(context.Background()); err != nil {
		t.Fatalf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	fsys := testMigrations()
	fsys["20251003_090000_broken.up.sql"] = &fstest.MapFile{
		Data: []byte("CREATE TABLE half_done (id TEXT); THIS IS NOT SQL;"),
	}
	useMigrations(t, fsys)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	applied, _, err := db.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want the 2 migrations before the broken one", len(applied))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"up migration", "20251001_090000_initial_schema.up.sql", "20251001_090000", true, true},
		{"down migration", "20251001_090000_initial_schema.down.sql", "20251001_090000", false, true},
		{"no direction", "20251001_090000_initial_schema.sql", "", false, false},
		{"not sql", "20251001_090000_initial_schema.up.txt", "", false, false},
		{"no version", "schema.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.input)
			if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = (%q, %v, %v), want (%q, %v, %v)",
					tt.input, version, isUp, ok, tt.wantVersion, tt.wantUp, tt.wantOK)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	if got := extractMigrationName("20251001_090000_initial_schema.up.sql"); got != "initial_schema" {
		t.Errorf("extractMigrationName() = %q, want initial_schema", got)
	}
	if got := extractMigrationName("odd.sql"); got != "odd" {
		t.Errorf("extractMigrationName() = %q, want odd", got)
	}
}
