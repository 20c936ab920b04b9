package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/commit"
	"github.com/myndlens/vox/pkg/dispatch"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/pipeline"
	"github.com/myndlens/vox/pkg/prompt"
	"github.com/myndlens/vox/pkg/session"
)

// newTestClient connects to CI_DATABASE_URL when set, otherwise spins up a
// postgres testcontainer for the test.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("vox_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	client, err := NewClient(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func newSession(userID, deviceID string) *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		SessionID:          uuid.New().String(),
		UserID:             userID,
		DeviceID:           deviceID,
		Env:                "dev",
		SubscriptionStatus: "ACTIVE",
		CreatedAt:          now,
		LastHeartbeatAt:    now,
		Active:             true,
	}
}

func TestSessionStore(t *testing.T) {
	client := newTestClient(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	s1 := newSession("U-1", "D-1")
	deactivated, err := store.Create(ctx, s1)
	require.NoError(t, err)
	assert.Empty(t, deactivated)

	t.Run("one active session per user and device", func(t *testing.T) {
		s2 := newSession("U-1", "D-1")
		deactivated, err := store.Create(ctx, s2)
		require.NoError(t, err)
		require.Equal(t, []string{s1.SessionID}, deactivated)

		old, err := store.Get(ctx, s1.SessionID)
		require.NoError(t, err)
		assert.False(t, old.Active)

		active, err := store.ActiveByUser(ctx, "U-1")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, s2.SessionID, active[0].SessionID)
	})

	t.Run("heartbeat updates active sessions only", func(t *testing.T) {
		s := newSession("U-2", "D-2")
		_, err := store.Create(ctx, s)
		require.NoError(t, err)

		at := time.Now().UTC().Add(time.Second)
		require.NoError(t, store.Heartbeat(ctx, s.SessionID, 7, at))
		got, err := store.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.HeartbeatSeq)

		require.NoError(t, store.Deactivate(ctx, s.SessionID))
		assert.ErrorIs(t, store.Heartbeat(ctx, s.SessionID, 8, at), session.ErrInactive)
		assert.ErrorIs(t, store.Heartbeat(ctx, "missing", 1, at), session.ErrNotFound)
	})

	t.Run("stale sweep", func(t *testing.T) {
		s := newSession("U-3", "D-3")
		s.LastHeartbeatAt = time.Now().UTC().Add(-time.Hour)
		_, err := store.Create(ctx, s)
		require.NoError(t, err)

		n, err := store.DeactivateStale(ctx, time.Now().UTC().Add(-30*time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		got, err := store.Get(ctx, s.SessionID)
		require.NoError(t, err)
		assert.False(t, got.Active)
	})
}

func TestCommitStore(t *testing.T) {
	client := newTestClient(t)
	store := NewCommitStore(client)
	ctx := context.Background()
	now := time.Now().UTC()

	c := &commit.Commit{
		CommitID:       uuid.New().String(),
		SessionID:      "S-1",
		DraftID:        "M-1",
		IdempotencyKey: commit.IdempotencyKey("S-1", "M-1"),
		State:          commit.StateDraft,
		Intent:         "send bob the budget",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Create(ctx, c))

	t.Run("duplicate idempotency key rejected", func(t *testing.T) {
		dup := *c
		dup.CommitID = uuid.New().String()
		assert.ErrorIs(t, store.Create(ctx, &dup), commit.ErrDuplicateIdempotencyKey)
	})

	t.Run("cas transition appends history", func(t *testing.T) {
		require.NoError(t, store.Transition(ctx, c.CommitID,
			commit.StateDraft, commit.StatePendingConfirmation, "user confirmed"))

		got, err := store.GetByIdempotencyKey(ctx, c.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, commit.StatePendingConfirmation, got.State)
		require.Len(t, got.Transitions, 1)
		assert.Equal(t, commit.StateDraft, got.Transitions[0].From)

		err = store.Transition(ctx, c.CommitID,
			commit.StateDraft, commit.StatePendingConfirmation, "")
		assert.ErrorIs(t, err, commit.ErrConcurrentModification)
	})

	t.Run("illegal edge rejected without touching the row", func(t *testing.T) {
		err := store.Transition(ctx, c.CommitID,
			commit.StatePendingConfirmation, commit.StateCompleted, "")
		assert.ErrorIs(t, err, commit.ErrIllegalTransition)
	})
}

func TestMandateStore(t *testing.T) {
	client := newTestClient(t)
	store := NewMandateStore(client)
	ctx := context.Background()
	now := time.Now().UTC()

	m := &mandate.Mandate{
		MandateID: uuid.New().String(),
		SessionID: "S-1",
		UserID:    "U-1",
		State:     mandate.StateApprovalPending,
		Intent:    "send the budget",
		CreatedAt: now,
		UpdatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, store.Put(ctx, m))

	t.Run("round trip", func(t *testing.T) {
		got, err := store.Get(ctx, m.MandateID)
		require.NoError(t, err)
		assert.Equal(t, m.Intent, got.Intent)
		assert.Equal(t, mandate.StateApprovalPending, got.State)
	})

	t.Run("cas transition updates doc state", func(t *testing.T) {
		require.NoError(t, store.Transition(ctx, m.MandateID,
			mandate.StateApprovalPending, mandate.StateApproved))
		got, err := store.Get(ctx, m.MandateID)
		require.NoError(t, err)
		assert.Equal(t, mandate.StateApproved, got.State)

		err = store.Transition(ctx, m.MandateID,
			mandate.StateApprovalPending, mandate.StateApproved)
		assert.ErrorIs(t, err, mandate.ErrConcurrentModification)
	})

	t.Run("rebind and purge", func(t *testing.T) {
		keep := &mandate.Mandate{
			MandateID: uuid.New().String(), SessionID: "S-2", UserID: "U-2",
			State: mandate.StateApprovalPending, CreatedAt: now, UpdatedAt: now,
		}
		drop := &mandate.Mandate{
			MandateID: uuid.New().String(), SessionID: "S-2", UserID: "U-2",
			State: mandate.StateDispatched, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, store.Put(ctx, keep))
		require.NoError(t, store.Put(ctx, drop))

		require.NoError(t, store.Rebind(ctx, "S-2", "S-3"))
		got, err := store.Get(ctx, keep.MandateID)
		require.NoError(t, err)
		assert.Equal(t, "S-3", got.SessionID)

		// The dispatched one did not move and is purged with its session.
		purged, err := store.PurgeSession(ctx, "S-2")
		require.NoError(t, err)
		assert.Equal(t, 1, purged)

		resumable, err := store.ResumableByUser(ctx, "U-2")
		require.NoError(t, err)
		require.Len(t, resumable, 1)
		assert.Equal(t, keep.MandateID, resumable[0].MandateID)
	})

	t.Run("approval pending older than", func(t *testing.T) {
		stale := &mandate.Mandate{
			MandateID: uuid.New().String(), SessionID: "S-4", UserID: "U-4",
			State: mandate.StateApprovalPending, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, store.Put(ctx, stale))
		// Fresh row: not returned for a large age.
		pending, err := store.ApprovalPendingOlderThan(ctx, time.Hour)
		require.NoError(t, err)
		for _, doc := range pending {
			assert.NotEqual(t, stale.MandateID, doc.MandateID)
		}
	})
}

func TestDispatchRecordStoreAndTenants(t *testing.T) {
	client := newTestClient(t)
	records := NewDispatchRecordStore(client)
	tenants := NewTenantRegistry(client)
	ctx := context.Background()

	rec := &dispatch.Record{
		DispatchID:     uuid.New().String(),
		IdempotencyKey: "S-1:mio-1",
		MIOID:          "mio-1",
		SessionID:      "S-1",
		TenantID:       "T-1",
		Action:         "send_email",
		Status:         dispatch.StatusSubmitted,
		LatencyMs:      42,
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, records.Put(ctx, rec))

	t.Run("at most one record per key", func(t *testing.T) {
		second := *rec
		second.DispatchID = uuid.New().String()
		require.NoError(t, records.Put(ctx, &second))

		got, err := records.GetByKey(ctx, rec.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, rec.DispatchID, got.DispatchID, "first insert wins")
	})

	t.Run("status update", func(t *testing.T) {
		require.NoError(t, records.UpdateStatus(ctx, rec.DispatchID, dispatch.StatusCompleted))
		got, err := records.GetByKey(ctx, rec.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, dispatch.StatusCompleted, got.Status)

		assert.ErrorIs(t, records.UpdateStatus(ctx, "missing", dispatch.StatusFailed),
			dispatch.ErrRecordNotFound)
	})

	t.Run("tenant resolution gates on status", func(t *testing.T) {
		require.NoError(t, tenants.Put(ctx, dispatch.Tenant{
			TenantID: "T-1", Endpoint: "https://adapter.example", Status: dispatch.TenantActive,
		}))
		got, err := tenants.Resolve(ctx, "T-1")
		require.NoError(t, err)
		assert.Equal(t, "https://adapter.example", got.Endpoint)

		require.NoError(t, tenants.Put(ctx, dispatch.Tenant{
			TenantID: "T-2", Endpoint: "https://other.example", Status: dispatch.TenantSuspended,
		}))
		_, err = tenants.Resolve(ctx, "T-2")
		assert.ErrorIs(t, err, dispatch.ErrTenantInactive)

		_, err = tenants.Resolve(ctx, "missing")
		assert.ErrorIs(t, err, dispatch.ErrTenantNotFound)
	})
}

func TestAuditSnapshotProgressStores(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	t.Run("audit events newest first", func(t *testing.T) {
		store := NewAuditStore(client)
		base := time.Now().UTC()
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Append(ctx, audit.Event{
				ID:        uuid.New().String(),
				SessionID: "S-1",
				EventType: audit.EventAuthSuccess,
				Details:   map[string]any{"seq": i},
				Timestamp: base.Add(time.Duration(i) * time.Second),
			}))
		}
		events, err := store.BySession(ctx, "S-1", 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[0].Timestamp.After(events[1].Timestamp))
	})

	t.Run("prompt snapshot round trip", func(t *testing.T) {
		store := NewSnapshotStore(client)
		snap := &prompt.Snapshot{
			PromptID:           uuid.New().String(),
			CallSiteID:         "pipeline.fragment_analyzer",
			Purpose:            prompt.PurposeThoughtToIntent,
			Mode:               "json",
			StableHash:         "abc",
			IncludedSectionIDs: []string{"identity", "task_context"},
			TotalTokensEst:     120,
			CreatedAt:          time.Now().UTC(),
		}
		require.NoError(t, store.Save(ctx, snap))
		got, err := store.Get(ctx, snap.PromptID)
		require.NoError(t, err)
		assert.Equal(t, snap.StableHash, got.StableHash)
		assert.Equal(t, snap.IncludedSectionIDs, got.IncludedSectionIDs)

		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, prompt.ErrSnapshotNotFound)
	})

	t.Run("progress latest per stage", func(t *testing.T) {
		store := NewProgressStore(client)
		execID := uuid.New().String()
		sessID := uuid.New().String()
		base := time.Now().UTC()
		for _, p := range []pipeline.Progress{
			{StageID: uuid.New().String(), ExecutionID: execID, SessionID: sessID,
				StageIndex: 0, TotalStages: 10, StageName: "capture_close",
				Status: pipeline.StageActive, Timestamp: base},
			{StageID: uuid.New().String(), ExecutionID: execID, SessionID: sessID,
				StageIndex: 0, TotalStages: 10, StageName: "capture_close",
				Status: pipeline.StageDone, ProgressPct: 10, Timestamp: base.Add(time.Second)},
			{StageID: uuid.New().String(), ExecutionID: execID, SessionID: sessID,
				StageIndex: 1, TotalStages: 10, StageName: "fragment_analysis",
				Status: pipeline.StageActive, Timestamp: base.Add(2 * time.Second)},
		} {
			require.NoError(t, store.Save(ctx, p))
		}

		latest, err := store.Latest(ctx, execID)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, pipeline.StageDone, latest[0].Status)
		assert.Equal(t, 1, latest[1].StageIndex)

		// A later execution on the same session wins the reconnect lookup.
		laterExec := uuid.New().String()
		require.NoError(t, store.Save(ctx, pipeline.Progress{
			StageID: uuid.New().String(), ExecutionID: laterExec, SessionID: sessID,
			StageIndex: 3, TotalStages: 10, StageName: "hypothesize",
			Status: pipeline.StageActive, Timestamp: base.Add(3 * time.Second),
		}))
		bySession, err := store.LatestBySession(ctx, sessID)
		require.NoError(t, err)
		require.Len(t, bySession, 1)
		assert.Equal(t, laterExec, bySession[0].ExecutionID)
		assert.Equal(t, 3, bySession[0].StageIndex)
	})
}
