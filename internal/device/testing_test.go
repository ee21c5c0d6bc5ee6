package device

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database/dbtest"
)

// plainVerifier treats "hash:<secret>" as the hash of <secret>.
type plainVerifier struct {
	calls int
}

func (v *plainVerifier) Verify(secret, encoded string) bool {
	v.calls++
	return strings.TrimPrefix(encoded, "hash:") == secret && strings.HasPrefix(encoded, "hash:")
}

func newTestRegistry(t *testing.T) (*Registry, *SQLiteAPIKeyRepository) {
	t.Helper()
	db := dbtest.Open(t)
	return NewRegistry(NewSQLiteRepository(db.DB)), NewAPIKeyRepository(db.DB)
}

func registerTestDevice(t *testing.T, r *Registry, mac, secret string) *Device {
	t.Helper()
	d := &Device{MACAddress: mac, Name: "Gate " + mac, Location: "Terminal A", APIKeyHash: "hash:" + secret}
	if err := r.Register(context.Background(), d); err != nil {
		t.Fatalf("Register(%s) error = %v", mac, err)
	}
	// Distinct created_at ordering for ListActive.
	time.Sleep(time.Millisecond)
	return d
}
