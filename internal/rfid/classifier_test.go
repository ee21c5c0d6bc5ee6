package rfid

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Unregistered(t *testing.T) {
	repo, db := newTestRepo(t)
	c := newTestClassifier(repo)

	res, err := c.Classify(context.Background(), ScanRequest{TagID: "zzzz9999", DeviceID: testDevice})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnregistered, res.Outcome)
	assert.Equal(t, 404, res.Outcome.HTTPStatus())
	assert.Nil(t, res.Tag)
	assert.Equal(t, StatusFailed, res.Scan.Status)
	assert.Equal(t, EventUnknown, res.Scan.EventType)
	assert.Equal(t, ReasonNotRegistered, res.Scan.Metadata["reason"])

	scans, err := repo.ListScans(context.Background(), ScanFilter{TagID: "ZZZZ9999"})
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "ZZZZ9999", scans[0].TagID)
	assert.Equal(t, StatusFailed, scans[0].Status)
	assert.Equal(t, 1, countScans(t, db))
}

func TestClassify_InactiveTag(t *testing.T) {
	repo, db := newTestRepo(t)
	insertUser(t, db, "usr-1", "Juan", true)
	insertTag(t, repo, "TEST001", "usr-1", false)
	c := newTestClassifier(repo)

	res, err := c.Classify(context.Background(), ScanRequest{TagID: "test001", DeviceID: testDevice})
	require.NoError(t, err)

	assert.Equal(t, OutcomeTagInactive, res.Outcome)
	assert.Equal(t, 403, res.Outcome.HTTPStatus())
	assert.Equal(t, StatusUnauthorized, res.Scan.Status)
	assert.Equal(t, "usr-1", res.Scan.UserID)
	assert.Equal(t, ReasonTagInactive, res.Scan.Metadata["reason"])

	tag, err := repo.GetTag(context.Background(), "TEST001")
	require.NoError(t, err)
	assert.Nil(t, tag.LastScanned, "rejected scans must not stamp the tag")
}

func TestClassify_InactiveOwner(t *testing.T) {
	repo, db := newTestRepo(t)
	insertUser(t, db, "usr-1", "Juan", false)
	insertTag(t, repo, "TEST001", "usr-1", true)
	c := newTestClassifier(repo)

	res, err := c.Classify(context.Background(), ScanRequest{TagID: "TEST001", DeviceID: testDevice})
	require.NoError(t, err)

	assert.Equal(t, OutcomeOwnerInactive, res.Outcome)
	assert.Equal(t, StatusUnauthorized, res.Scan.Status)
	assert.Equal(t, ReasonOwnerInactive, res.Scan.Metadata["reason"])
	require.NotNil(t, res.Owner)
	assert.Equal(t, "Juan", res.Owner.Name)
}

func TestClassify_Success(t *testing.T) {
	repo, db := newTestRepo(t)
	insertUser(t, db, "usr-1", "Juan", true)
	insertTag(t, repo, "TEST001", "usr-1", true)
	now := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	c := newTestClassifier(repo, WithClassifierClock(func() time.Time { return now }))

	res, err := c.Classify(context.Background(), ScanRequest{
		TagID:    " test001 ",
		DeviceID: testDevice,
		Location: "Terminal A",
	})
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, StatusSuccess, res.Scan.Status)
	assert.Equal(t, EventEntry, res.Scan.EventType)
	assert.Equal(t, "usr-1", res.Scan.UserID)
	assert.True(t, strings.HasPrefix(res.Scan.ID, "scn-"))
	assert.Empty(t, res.Scan.Metadata)

	tag, err := repo.GetTag(context.Background(), "TEST001")
	require.NoError(t, err)
	require.NotNil(t, tag.LastScanned)
	assert.True(t, now.Equal(*tag.LastScanned))
	assert.Equal(t, testDevice, tag.DeviceID)
}

func TestClassify_UnboundActiveTagSucceeds(t *testing.T) {
	repo, _ := newTestRepo(t)
	insertTag(t, repo, "TEST002", "", true)
	c := newTestClassifier(repo)

	res, err := c.Classify(context.Background(), ScanRequest{TagID: "TEST002", DeviceID: testDevice})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Nil(t, res.Owner)
	assert.Empty(t, res.Scan.UserID)
}

func TestClassify_DoubleScanWritesTwoRecords(t *testing.T) {
	repo, db := newTestRepo(t)
	insertUser(t, db, "usr-1", "Juan", true)
	insertTag(t, repo, "TEST001", "usr-1", true)
	c := newTestClassifier(repo)

	first, err := c.Classify(context.Background(), ScanRequest{TagID: "TEST001", DeviceID: testDevice})
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), ScanRequest{TagID: "TEST001", DeviceID: testDevice})
	require.NoError(t, err)

	assert.NotEqual(t, first.Scan.ID, second.Scan.ID)
	assert.Equal(t, 2, countScans(t, db))
}

func TestClassify_InvalidTagWritesNothing(t *testing.T) {
	repo, db := newTestRepo(t)
	c := newTestClassifier(repo)

	_, err := c.Classify(context.Background(), ScanRequest{TagID: "a-b", DeviceID: testDevice})
	require.ErrorIs(t, err, ErrInvalidTagID)
	assert.Equal(t, 0, countScans(t, db))
}

func TestClassify_LookupFailureRecordsAndWraps(t *testing.T) {
	boom := errors.New("disk I/O error")
	store := &failingStore{err: boom}
	c := newTestClassifier(store)

	res, err := c.Classify(context.Background(), ScanRequest{TagID: "TEST001", DeviceID: testDevice})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.ErrorIs(t, err, boom)

	assert.NotErrorIs(t, err, ErrScanNotRecorded, "the fallback record was committed")

	require.Len(t, store.recorded, 1)
	assert.Equal(t, StatusFailed, store.recorded[0].Status)
	assert.Equal(t, ReasonLookupFailed, store.recorded[0].Metadata["reason"])
}

func TestClassify_NothingRecordedIsReported(t *testing.T) {
	boom := errors.New("disk I/O error")
	store := &failingStore{err: boom, recordErr: boom}
	c := newTestClassifier(store)

	_, err := c.Classify(context.Background(), ScanRequest{TagID: "TEST001", DeviceID: testDevice})
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.ErrorIs(t, err, ErrScanNotRecorded)
	assert.Empty(t, store.recorded)
}

func TestClassify_CompletesAfterCancellation(t *testing.T) {
	repo, db := newTestRepo(t)
	insertUser(t, db, "usr-1", "Juan", true)
	insertTag(t, repo, "TEST001", "usr-1", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestClassifier(cancellingStore{Store: repo, cancel: cancel})

	res, err := c.Classify(ctx, ScanRequest{TagID: "TEST001", DeviceID: testDevice})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Error(t, ctx.Err(), "caller context was cancelled mid-classification")
	assert.Equal(t, 1, countScans(t, db))
}

func TestClassify_ObserversSeeCommittedScan(t *testing.T) {
	repo, db := newTestRepo(t)
	insertTag(t, repo, "TEST001", "", true)

	var seen []*Result
	c := newTestClassifier(repo, WithObserver(ObserverFunc(func(ctx context.Context, _ ScanRequest, res *Result) {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rfid_scans WHERE id = ?`, res.Scan.ID).Scan(&n))
		assert.Equal(t, 1, n, "observer ran before commit")
		seen = append(seen, res)
	})))

	_, err := c.Classify(context.Background(), ScanRequest{TagID: "TEST001", DeviceID: testDevice})
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), ScanRequest{TagID: "NOPE1234", DeviceID: testDevice})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, OutcomeSuccess, seen[0].Outcome)
	assert.Equal(t, OutcomeUnregistered, seen[1].Outcome)
}

func TestClassify_RegistrationMatch(t *testing.T) {
	repo, _ := newTestRepo(t)
	c := newTestClassifier(repo)

	res, err := c.Classify(context.Background(), ScanRequest{
		TagID:        "NEWTAG01",
		DeviceID:     testDevice,
		PendingTagID: "newtag01",
	})
	require.NoError(t, err)
	assert.True(t, res.RegistrationMatch)
	assert.Equal(t, OutcomeUnregistered, res.Outcome)
}

func TestClassifyBatch(t *testing.T) {
	repo, db := newTestRepo(t)
	insertTag(t, repo, "TEST001", "", true)
	c := newTestClassifier(repo)

	ts := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	results, err := c.ClassifyBatch(context.Background(), testDevice, []BatchEntry{
		{TagID: "test001", Timestamp: ts},
		{TagID: "bad!"},
		{TagID: "ZZZZ9999", Timestamp: ts.Add(time.Second)},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, "invalid", results[1].Outcome)
	assert.Equal(t, string(OutcomeUnregistered), results[2].Outcome)
	assert.Equal(t, 2, countScans(t, db))

	scans, err := repo.ListScans(context.Background(), ScanFilter{TagID: "TEST001"})
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.True(t, ts.Equal(scans[0].ScanTime), "device timestamp is kept")
	assert.Equal(t, "batch", scans[0].Metadata["source"])
}

func TestClassifyBatch_TooLarge(t *testing.T) {
	repo, db := newTestRepo(t)
	c := newTestClassifier(repo)

	entries := make([]BatchEntry, MaxBatchSize+1)
	_, err := c.ClassifyBatch(context.Background(), testDevice, entries)
	require.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Equal(t, 0, countScans(t, db))
}
