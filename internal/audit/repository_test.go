package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/database/dbtest"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, *database.DB) {
	t.Helper()
	db := dbtest.Open(t)
	return NewSQLiteRepository(db.DB), db
}

func TestCreateAndList(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	events := []*Event{
		{Type: EventLoginFailure, Account: "juan@example.com", IPAddress: "10.0.0.1", Message: "bad password", CreatedAt: base},
		{Type: EventAccountLocked, Account: "juan@example.com", Details: map[string]any{"attempts": 5}, CreatedAt: base.Add(time.Minute)},
		{Type: EventDeviceAuthFailure, DeviceID: "AABBCCDDEEFF", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range events {
		require.NoError(t, repo.Create(ctx, e))
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, SeverityWarning, events[0].Severity)
	assert.Equal(t, SeverityError, events[1].Severity)

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, DefaultLimit, all.Limit)
	require.Len(t, all.Events, 3)
	assert.Equal(t, EventDeviceAuthFailure, all.Events[0].Type, "newest first")

	locked, err := repo.List(ctx, Filter{Type: EventAccountLocked})
	require.NoError(t, err)
	require.Len(t, locked.Events, 1)
	assert.EqualValues(t, 5, locked.Events[0].Details["attempts"])
	assert.True(t, base.Add(time.Minute).Equal(locked.Events[0].CreatedAt))

	byAccount, err := repo.List(ctx, Filter{Account: "juan@example.com", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, byAccount.Total)
	assert.Len(t, byAccount.Events, 1)

	since, err := repo.List(ctx, Filter{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, since.Total)

	capped, err := repo.List(ctx, Filter{Limit: 10_000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, capped.Limit)
	assert.Equal(t, 0, capped.Offset)
}

func TestEventsAreAppendOnly(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	e := &Event{Type: EventTokenInvalid}
	require.NoError(t, repo.Create(ctx, e))

	_, err := db.ExecContext(ctx, `UPDATE security_events SET severity = 'info' WHERE id = ?`, e.ID)
	require.Error(t, err)
	assert.True(t, database.IsAppendOnlyViolation(err))
}

func TestDefaultSeverity(t *testing.T) {
	assert.Equal(t, SeverityInfo, DefaultSeverity(EventLoginSuccess))
	assert.Equal(t, SeverityInfo, DefaultSeverity(EventDeviceRegistered))
	assert.Equal(t, SeverityWarning, DefaultSeverity(EventRateLimitExceeded))
	assert.Equal(t, SeverityError, DefaultSeverity(EventAccountLocked))
}
