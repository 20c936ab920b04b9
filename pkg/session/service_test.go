package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/auth"
)

func testIdentity(userID, deviceID string) *auth.Identity {
	return &auth.Identity{
		UserID:             userID,
		DeviceID:           deviceID,
		TenantID:           "T-1",
		SubscriptionStatus: auth.SubscriptionActive,
		Env:                "dev",
		Source:             auth.SourceLegacy,
	}
}

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryStore(), 15*time.Second)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestCreate_DeactivatesPriorActiveForDevice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	s1, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "1.0.0")
	require.NoError(t, err)
	s2, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "1.0.0")
	require.NoError(t, err)

	old, err := svc.Get(ctx, s1.SessionID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	cur, err := svc.Get(ctx, s2.SessionID)
	require.NoError(t, err)
	assert.True(t, cur.Active)

	// Exactly one active session per (user, device).
	active, err := svc.ActiveByUser(ctx, "U-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, s2.SessionID, active[0].SessionID)
}

func TestCreate_OtherDeviceUnaffected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	s1, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, testIdentity("U-1", "D-2"), "")
	require.NoError(t, err)

	cur, err := svc.Get(ctx, s1.SessionID)
	require.NoError(t, err)
	assert.True(t, cur.Active, "session on a different device survives")
}

func TestHeartbeat_UpdatesSeqAndTime(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "")
	require.NoError(t, err)

	*now = now.Add(5 * time.Second)
	require.NoError(t, svc.Heartbeat(ctx, sess.SessionID, 1))

	got, err := svc.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.HeartbeatSeq)
	assert.Equal(t, *now, got.LastHeartbeatAt)
}

func TestHeartbeat_RejectsUnknownAndInactive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Heartbeat(ctx, "missing", 1), ErrNotFound)

	sess, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "")
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, sess.SessionID))
	assert.ErrorIs(t, svc.Heartbeat(ctx, sess.SessionID, 2), ErrInactive)
}

func TestCheckPresence_Boundary(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "")
	require.NoError(t, err)

	// 14.99 s old: fresh.
	*now = now.Add(15*time.Second - 10*time.Millisecond)
	assert.True(t, svc.CheckPresence(ctx, sess.SessionID))

	// Exactly 15.00 s old: stale.
	*now = now.Add(10 * time.Millisecond)
	assert.False(t, svc.CheckPresence(ctx, sess.SessionID))
}

func TestCheckPresence_MissingOrInactive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.False(t, svc.CheckPresence(ctx, "missing"))

	sess, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "")
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, sess.SessionID))
	assert.False(t, svc.CheckPresence(ctx, sess.SessionID))
}

func TestSweepStale(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	stale, err := svc.Create(ctx, testIdentity("U-1", "D-1"), "")
	require.NoError(t, err)
	*now = now.Add(10 * time.Minute)
	fresh, err := svc.Create(ctx, testIdentity("U-2", "D-2"), "")
	require.NoError(t, err)

	n, err := svc.SweepStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err := svc.Get(ctx, stale.SessionID)
	require.NoError(t, err)
	assert.False(t, s.Active)
	s, err = svc.Get(ctx, fresh.SessionID)
	require.NoError(t, err)
	assert.True(t, s.Active)
}
