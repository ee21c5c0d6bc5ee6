package auth

import (
	"database/sql"
	"testing"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database/dbtest"
)

// testDB returns a migrated temporary database.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbtest.Open(t).DB
}

// seedTestUser inserts an active user with the given password and returns it.
func seedTestUser(t *testing.T, db *sql.DB, email, password string, role Role) *User {
	t.Helper()

	hash, err := fastHasher().Hash(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Name:         email,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}
