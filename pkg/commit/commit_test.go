package commit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommit(id, sessionID, draftID string) *Commit {
	return &Commit{
		CommitID:       id,
		SessionID:      sessionID,
		DraftID:        draftID,
		IdempotencyKey: IdempotencyKey(sessionID, draftID),
		State:          StateDraft,
		IntentSummary:  "send the budget",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreate_DuplicateIdempotencyKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newCommit("C-1", "S-1", "D-1")))

	err := s.Create(ctx, newCommit("C-2", "S-1", "D-1"))
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
}

func TestTransition_FullLifecycleRecordsHistory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newCommit("C-1", "S-1", "D-1")))

	require.NoError(t, s.Transition(ctx, "C-1", StateDraft, StatePendingConfirmation, ""))
	require.NoError(t, s.Transition(ctx, "C-1", StatePendingConfirmation, StateConfirmed, "user approved"))
	require.NoError(t, s.Transition(ctx, "C-1", StateConfirmed, StateDispatching, ""))
	require.NoError(t, s.Transition(ctx, "C-1", StateDispatching, StateCompleted, "adapter accepted"))

	c, err := s.Get(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State)
	require.Len(t, c.Transitions, 4)
	assert.Equal(t, StateDraft, c.Transitions[0].From)
	assert.Equal(t, "user approved", c.Transitions[1].Reason)
}

func TestTransition_ForbiddenEdge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newCommit("C-1", "S-1", "D-1")))

	// DRAFT cannot jump straight to DISPATCHING.
	err := s.Transition(ctx, "C-1", StateDraft, StateDispatching, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransition_CASConflictNotSilentlyRetried(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newCommit("C-1", "S-1", "D-1")))
	require.NoError(t, s.Transition(ctx, "C-1", StateDraft, StatePendingConfirmation, ""))

	err := s.Transition(ctx, "C-1", StateDraft, StatePendingConfirmation, "")
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// The losing write left no trace in history.
	c, err := s.Get(ctx, "C-1")
	require.NoError(t, err)
	assert.Len(t, c.Transitions, 1)
}

func TestTransition_CancelFromNonTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newCommit("C-1", "S-1", "D-1")))
	require.NoError(t, s.Transition(ctx, "C-1", StateDraft, StatePendingConfirmation, ""))
	require.NoError(t, s.Transition(ctx, "C-1", StatePendingConfirmation, StateCancelled, "user cancelled"))

	// Terminal: CANCELLED admits nothing.
	err := s.Transition(ctx, "C-1", StateCancelled, StateDraft, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransition_FailedRetriesToDraftOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c := newCommit("C-1", "S-1", "D-1")
	require.NoError(t, s.Create(ctx, c))
	require.NoError(t, s.Transition(ctx, "C-1", StateDraft, StatePendingConfirmation, ""))
	require.NoError(t, s.Transition(ctx, "C-1", StatePendingConfirmation, StateConfirmed, ""))
	require.NoError(t, s.Transition(ctx, "C-1", StateConfirmed, StateDispatching, ""))
	require.NoError(t, s.Transition(ctx, "C-1", StateDispatching, StateFailed, "adapter 502"))

	assert.ErrorIs(t, s.Transition(ctx, "C-1", StateFailed, StateCompleted, ""), ErrIllegalTransition)
	assert.NoError(t, s.Transition(ctx, "C-1", StateFailed, StateDraft, "retry"))
}

func TestGetByIdempotencyKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newCommit("C-1", "S-1", "D-1")))

	c, err := s.GetByIdempotencyKey(ctx, "S-1:D-1")
	require.NoError(t, err)
	assert.Equal(t, "C-1", c.CommitID)

	_, err = s.GetByIdempotencyKey(ctx, "S-9:D-9")
	assert.ErrorIs(t, err, ErrNotFound)
}
