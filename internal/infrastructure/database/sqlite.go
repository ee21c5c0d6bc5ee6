package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

// IsUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsForeignKeyViolation reports whether err is a SQLite FOREIGN KEY constraint failure.
func IsForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// IsAppendOnlyViolation reports whether err came from a trigger guarding an
// append-only table.
func IsAppendOnlyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrConstraint && sqliteErr.ExtendedCode == sqlite3.ErrConstraintTrigger
}

// TimeLayout is the stored timestamp format: UTC with fixed microsecond
// precision so text ordering matches time ordering.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Timestamp formats t the way every table stores it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTimestamp parses a stored timestamp. Unparseable values yield the zero time.
func ParseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParseNullTimestamp parses an optional stored timestamp.
func ParseNullTimestamp(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := ParseTimestamp(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

// NullString maps the empty string to NULL.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// NullTimestamp maps a nil time to NULL.
func NullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: Timestamp(*t), Valid: true}
}

// BoolToInt maps a bool to SQLite's integer representation.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
