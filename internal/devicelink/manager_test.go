package devicelink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsakay/tagsakay-core/internal/device"
	"github.com/tagsakay/tagsakay-core/internal/guard"
	"github.com/tagsakay/tagsakay-core/internal/infrastructure/mqtt"
)

const testDeviceID = "AABBCCDDEEFF"

func newFakeAuth() *fakeAuth {
	return &fakeAuth{keys: map[string]*device.Principal{
		"tsk_good":  {Kind: device.PrincipalDevice, DeviceID: testDeviceID},
		"tsk_other": {Kind: device.PrincipalDevice, DeviceID: "112233445566"},
	}}
}

func newTestManager(clf Classifier, throttle *guard.Throttle) *Manager {
	return NewManager(ManagerConfig{}, newFakeAuth(), clf, throttle, quietLogger())
}

func TestManager_OnlineOffline(t *testing.T) {
	m := newTestManager(&fakeClassifier{}, nil)
	ctx := context.Background()

	require.ErrorIs(t, m.Online(ctx, testDeviceID, "tsk_bad"), device.ErrInvalidCredential)
	assert.Nil(t, m.Link(testDeviceID))

	require.ErrorIs(t, m.Online(ctx, testDeviceID, "tsk_other"), device.ErrDeviceMismatch)

	require.NoError(t, m.Online(ctx, testDeviceID, "tsk_good"))
	require.NotNil(t, m.Link(testDeviceID))
	assert.Equal(t, StateConnected, m.Link(testDeviceID).State())

	m.Offline(testDeviceID)
	assert.Equal(t, StateDisconnected, m.Link(testDeviceID).State())
	assert.Equal(t, 1, m.Len())
}

func TestManager_OnlineRateLimited(t *testing.T) {
	clock := newFakeClock()
	auth := newFakeAuth()
	limiter := guard.NewRouteLimiter(guard.LimiterConfig{}, guard.WithClock(clock.Now))
	m := NewManager(ManagerConfig{AuthLimiter: limiter}, auth, &fakeClassifier{}, nil, quietLogger())
	ctx := context.Background()

	for i := 0; i < guard.DeviceLinkAuthPolicy.Limit; i++ {
		require.ErrorIs(t, m.Online(ctx, testDeviceID, "tsk_guess"), device.ErrInvalidCredential)
	}
	require.Equal(t, guard.DeviceLinkAuthPolicy.Limit, auth.callCount())

	// Over the limit even the right key is refused before it is checked.
	assert.ErrorIs(t, m.Online(ctx, testDeviceID, "tsk_guess"), ErrThrottled)
	assert.ErrorIs(t, m.Online(ctx, testDeviceID, "tsk_good"), ErrThrottled)
	assert.Equal(t, guard.DeviceLinkAuthPolicy.Limit, auth.callCount())
	assert.Nil(t, m.Link(testDeviceID))

	// Other devices keep their own budget.
	assert.ErrorIs(t, m.Online(ctx, "112233445566", "tsk_guess"), device.ErrInvalidCredential)

	clock.Advance(2 * guard.DeviceLinkAuthPolicy.Window)
	require.NoError(t, m.Online(ctx, testDeviceID, "tsk_good"))
	assert.Equal(t, StateConnected, m.Link(testDeviceID).State())
}

func TestManager_OnlineSuccessNotCounted(t *testing.T) {
	m := newTestManager(&fakeClassifier{}, nil)
	ctx := context.Background()

	for i := 0; i < 2*guard.DeviceLinkAuthPolicy.Limit; i++ {
		require.NoError(t, m.Online(ctx, testDeviceID, "tsk_good"))
	}
}

func TestManager_SubmitUnknownDevice(t *testing.T) {
	m := newTestManager(&fakeClassifier{}, nil)
	_, err := m.Submit(context.Background(), testDeviceID, ScanMessage{TagID: "TEST001"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_Throttle(t *testing.T) {
	clock := newFakeClock()
	throttle := guard.NewThrottle(1, 2, guard.WithClock(clock.Now))
	clf := &fakeClassifier{}
	m := newTestManager(clf, throttle)
	ctx := context.Background()
	require.NoError(t, m.Online(ctx, testDeviceID, "tsk_good"))

	_, err := m.Submit(ctx, testDeviceID, ScanMessage{TagID: "TAG00001"})
	require.NoError(t, err)
	_, err = m.Submit(ctx, testDeviceID, ScanMessage{TagID: "TAG00002"})
	require.NoError(t, err)
	_, err = m.Submit(ctx, testDeviceID, ScanMessage{TagID: "TAG00003"})
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Len(t, clf.tags(), 2)
}

func TestManager_MQTTIngest(t *testing.T) {
	clf := &fakeClassifier{}
	m := newTestManager(clf, nil)
	sub := &fakeSubscriber{}
	ctx := context.Background()
	require.NoError(t, m.Start(ctx, sub))

	topics := mqtt.Topics{}
	status := sub.handlers[topics.AllDeviceStatus()]
	scan := sub.handlers[topics.AllDeviceScans()]
	require.NotNil(t, status)
	require.NotNil(t, scan)

	require.NoError(t, status(topics.DeviceStatus(testDeviceID), []byte(`{"status":"online","apiKey":"tsk_good"}`)))
	require.NoError(t, scan(topics.DeviceScan(testDeviceID), []byte(`{"tagId":"test001","location":"Gate 1"}`)))
	require.NoError(t, scan(topics.DeviceScan(testDeviceID), []byte(`{"tagId":"TEST001"}`)), "duplicate is swallowed")

	assert.Equal(t, []string{"TEST001"}, clf.tags())
	assert.Equal(t, "Gate 1", clf.seen[0].Location)
	assert.Equal(t, "mqtt", clf.seen[0].Source)

	assert.Error(t, scan(topics.DeviceScan(testDeviceID), []byte(`not json`)))
	assert.Error(t, status(topics.DeviceStatus(testDeviceID), []byte(`{"status":"sleeping"}`)))
	assert.Error(t, status(topics.DeviceStatus(testDeviceID), []byte(`{"status":"online","apiKey":"nope"}`)))

	require.NoError(t, status(topics.DeviceStatus(testDeviceID), []byte(`{"status":"offline"}`)))
	assert.ErrorIs(t, scan(topics.DeviceScan(testDeviceID), []byte(`{"tagId":"TEST002"}`)), ErrNotConnected)
}

func TestManager_DrainAll(t *testing.T) {
	clf := &fakeClassifier{}
	m := newTestManager(clf, nil)
	ctx := context.Background()
	require.NoError(t, m.Online(ctx, testDeviceID, "tsk_good"))

	clf.setErr(errStorage)
	_, err := m.Submit(ctx, testDeviceID, ScanMessage{TagID: "TEST001"})
	require.ErrorIs(t, err, ErrBuffered)

	m.DrainAll(ctx)
	assert.Equal(t, StateBuffering, m.Link(testDeviceID).State())

	clf.setErr(nil)
	m.DrainAll(ctx)
	assert.Equal(t, StateConnected, m.Link(testDeviceID).State())
	assert.Equal(t, []string{"TEST001"}, clf.tags())
}
