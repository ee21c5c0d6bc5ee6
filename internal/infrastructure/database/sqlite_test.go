package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// openConstraintDB opens a database with one table per constraint kind.
func openConstraintDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "constraints.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	_, err = db.ExecContext(ctx, `
		CREATE TABLE owners (id TEXT PRIMARY KEY, email TEXT UNIQUE);
		CREATE TABLE owned (id TEXT PRIMARY KEY, owner_id TEXT REFERENCES owners(id));
		CREATE TABLE ledger (id TEXT PRIMARY KEY);
		CREATE TRIGGER ledger_no_update BEFORE UPDATE ON ledger
		BEGIN
			SELECT RAISE(ABORT, 'ledger is append-only');
		END;
		INSERT INTO owners (id, email) VALUES ('o1', 'a@example.com');
		INSERT INTO ledger (id) VALUES ('l1');`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func TestConstraintClassification(t *testing.T) {
	db := openConstraintDB(t)
	ctx := context.Background()

	_, uniqueErr := db.ExecContext(ctx, `INSERT INTO owners (id, email) VALUES ('o2', 'a@example.com')`)
	_, pkErr := db.ExecContext(ctx, `INSERT INTO owners (id, email) VALUES ('o1', 'b@example.com')`)
	_, fkErr := db.ExecContext(ctx, `INSERT INTO owned (id, owner_id) VALUES ('x1', 'missing')`)
	_, triggerErr := db.ExecContext(ctx, `UPDATE ledger SET id = 'l2'`)

	tests := []struct {
		name       string
		err        error
		unique     bool
		foreignKey bool
		appendOnly bool
	}{
		{"unique column", uniqueErr, true, false, false},
		{"primary key", pkErr, true, false, false},
		{"foreign key", fkErr, false, true, false},
		{"append-only trigger", triggerErr, false, false, true},
		{"not sqlite", errors.New("boom"), false, false, false},
		{"nil", nil, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name != "nil" && tt.name != "not sqlite" && tt.err == nil {
				t.Fatal("statement succeeded, want constraint error")
			}
			if got := IsUniqueViolation(tt.err); got != tt.unique {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.unique)
			}
			if got := IsForeignKeyViolation(tt.err); got != tt.foreignKey {
				t.Errorf("IsForeignKeyViolation() = %v, want %v", got, tt.foreignKey)
			}
			if got := IsAppendOnlyViolation(tt.err); got != tt.appendOnly {
				t.Errorf("IsAppendOnlyViolation() = %v, want %v", got, tt.appendOnly)
			}
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	loc := time.FixedZone("PHT", 8*60*60)
	in := time.Date(2025, 10, 1, 17, 30, 45, 123456789, loc)

	s := Timestamp(in)
	if s != "2025-10-01T09:30:45.123456Z" {
		t.Errorf("Timestamp() = %q", s)
	}

	out := ParseTimestamp(s)
	if !out.Equal(in.Truncate(time.Microsecond)) {
		t.Errorf("ParseTimestamp() = %v, want %v", out, in.Truncate(time.Microsecond))
	}
	if !ParseTimestamp("not a time").IsZero() {
		t.Error("ParseTimestamp(garbage) is not the zero time")
	}
}

func TestTimestampOrdering(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := Timestamp(base)
	later := Timestamp(base.Add(time.Microsecond))

	if earlier >= later {
		t.Errorf("text order %q >= %q, want time order", earlier, later)
	}
}

func TestNullHelpers(t *testing.T) {
	if NullString("").Valid {
		t.Error("NullString(\"\") is valid, want NULL")
	}
	if ns := NullString("x"); !ns.Valid || ns.String != "x" {
		t.Errorf("NullString(x) = %+v", ns)
	}

	if NullTimestamp(nil).Valid {
		t.Error("NullTimestamp(nil) is valid, want NULL")
	}
	now := time.Now()
	ts := NullTimestamp(&now)
	if !ts.Valid {
		t.Fatal("NullTimestamp(&now) is NULL")
	}
	if got := ParseNullTimestamp(ts); got == nil || !got.Equal(now.Truncate(time.Microsecond)) {
		t.Errorf("ParseNullTimestamp() = %v, want %v", got, now.Truncate(time.Microsecond))
	}
	if ParseNullTimestamp(sql.NullString{}) != nil {
		t.Error("ParseNullTimestamp(NULL) != nil")
	}
	if ParseNullTimestamp(sql.NullString{String: "junk", Valid: true}) != nil {
		t.Error("ParseNullTimestamp(junk) != nil")
	}

	if BoolToInt(true) != 1 || BoolToInt(false) != 0 {
		t.Error("BoolToInt mapping wrong")
	}
}
