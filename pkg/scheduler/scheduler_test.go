package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/conversation"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/pipeline"
)

func TestSupervisor_RunsAndStops(t *testing.T) {
	var ticks atomic.Int64
	sup := NewSupervisor(Task{
		Name:     "counter",
		Interval: time.Millisecond,
		Run: func(context.Context) error {
			ticks.Add(1)
			return nil
		},
	})

	sup.Start(context.Background())
	require.Eventually(t, func() bool { return ticks.Load() >= 3 },
		time.Second, time.Millisecond)
	sup.Stop()

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after Stop")
}

func TestSupervisor_KeepsRunningThroughFailures(t *testing.T) {
	var ticks atomic.Int64
	sup := NewSupervisor(Task{
		Name:     "flaky",
		Interval: time.Millisecond,
		Run: func(context.Context) error {
			if ticks.Add(1)%2 == 0 {
				return errors.New("boom")
			}
			return nil
		},
	})

	sup.Start(context.Background())
	defer sup.Stop()

	// Failures alternate with successes, so the counter resets and the
	// loop never reaches the backoff threshold.
	require.Eventually(t, func() bool { return ticks.Load() >= 6 },
		time.Second, time.Millisecond)
}

type recordingRunner struct {
	blocked bool
	runs    []string
}

func (r *recordingRunner) Run(_ context.Context, sessionID, _, transcript string) *pipeline.Result {
	r.runs = append(r.runs, sessionID+"|"+transcript)
	return &pipeline.Result{Blocked: r.blocked}
}

func TestCaptureCloseTask(t *testing.T) {
	conversations := conversation.NewManager()
	runner := &recordingRunner{}
	task := NewCaptureCloseTask(conversations, runner, time.Second)

	st := conversations.AddFragment("S-1", "U-1", "send bob the budget", nil, 1.0)
	st.CreatedAt = st.CreatedAt.Add(-2 * conversation.CaptureWindow)

	require.NoError(t, task.Run(context.Background()))
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "S-1|send bob the budget", runner.runs[0])
	assert.Equal(t, conversation.PhaseApprovalPending, conversations.Get("S-1", "U-1").Phase)
}

func TestCaptureCloseTask_BlockedRunResetsCapture(t *testing.T) {
	conversations := conversation.NewManager()
	runner := &recordingRunner{blocked: true}
	task := NewCaptureCloseTask(conversations, runner, time.Second)

	st := conversations.AddFragment("S-1", "U-1", "do the ambiguous thing", nil, 1.0)
	st.CreatedAt = st.CreatedAt.Add(-2 * conversation.CaptureWindow)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, conversation.PhaseListening, conversations.Get("S-1", "U-1").Phase)
}

type recordingBroadcaster struct {
	msgs []string
}

func (b *recordingBroadcaster) Broadcast(sessionID, msgType string, _ any) {
	b.msgs = append(b.msgs, sessionID+"|"+msgType)
}

func TestNudgeTask_NudgesOnce(t *testing.T) {
	store := mandate.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), &mandate.Mandate{
		MandateID: "M-1",
		SessionID: "S-1",
		UserID:    "U-1",
		State:     mandate.StateApprovalPending,
		Intent:    "send the budget",
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}))

	b := &recordingBroadcaster{}
	task := NewNudgeTask(store, b, 10*time.Minute, time.Second)

	require.NoError(t, task.Run(context.Background()))
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, []string{"S-1|DRAFT_UPDATE"}, b.msgs, "one nudge per draft")
}

func TestNudgeTask_ForgetsResolvedDrafts(t *testing.T) {
	store := mandate.NewMemoryStore()
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Put(context.Background(), &mandate.Mandate{
		MandateID: "M-1",
		SessionID: "S-1",
		State:     mandate.StateApprovalPending,
		Intent:    "send the budget",
		UpdatedAt: old,
	}))

	b := &recordingBroadcaster{}
	task := NewNudgeTask(store, b, 10*time.Minute, time.Second)
	require.NoError(t, task.Run(context.Background()))
	require.Len(t, b.msgs, 1)

	// The draft resolves; its once-map entry goes with it.
	require.NoError(t, store.Put(context.Background(), &mandate.Mandate{
		MandateID: "M-1",
		SessionID: "S-1",
		State:     mandate.StateApproved,
		UpdatedAt: old,
	}))
	require.NoError(t, task.Run(context.Background()))
	require.Len(t, b.msgs, 1)

	// A new pending draft reusing the ID is a fresh draft and gets its nudge.
	require.NoError(t, store.Put(context.Background(), &mandate.Mandate{
		MandateID: "M-1",
		SessionID: "S-1",
		State:     mandate.StateApprovalPending,
		Intent:    "send the budget",
		UpdatedAt: old,
	}))
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, []string{"S-1|DRAFT_UPDATE", "S-1|DRAFT_UPDATE"}, b.msgs)
}

func TestNudgeTask_SkipsFreshDrafts(t *testing.T) {
	store := mandate.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), &mandate.Mandate{
		MandateID: "M-2",
		SessionID: "S-1",
		State:     mandate.StateApprovalPending,
		UpdatedAt: time.Now().UTC(),
	}))

	b := &recordingBroadcaster{}
	task := NewNudgeTask(store, b, 10*time.Minute, time.Second)

	require.NoError(t, task.Run(context.Background()))
	assert.Empty(t, b.msgs)
}
