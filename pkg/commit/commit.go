// Package commit tracks the user-visible mandate lifecycle independently of
// the MIO. Transitions are validated against an explicit allow-map and
// applied with optimistic locking; a failed swap surfaces as a concurrent
// modification error and is never retried silently.
package commit

import (
	"context"
	"errors"
	"time"
)

// State is the commit lifecycle state.
type State string

const (
	StateDraft               State = "DRAFT"
	StatePendingConfirmation State = "PENDING_CONFIRMATION"
	StateConfirmed           State = "CONFIRMED"
	StateDispatching         State = "DISPATCHING"
	StateCompleted           State = "COMPLETED"
	StateFailed              State = "FAILED"
	StateCancelled           State = "CANCELLED"
)

var (
	// ErrNotFound is returned for unknown commit IDs.
	ErrNotFound = errors.New("commit not found")
	// ErrIllegalTransition is returned for edges outside the allow-map.
	ErrIllegalTransition = errors.New("illegal commit transition")
	// ErrConcurrentModification is returned when the CAS precondition fails.
	ErrConcurrentModification = errors.New("concurrent commit modification")
	// ErrDuplicateIdempotencyKey is returned when creating a commit whose
	// idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// allowed is the explicit transition allow-map. CANCELLED is reachable from
// any non-terminal state; FAILED may return to DRAFT for retry only.
var allowed = map[State][]State{
	StateDraft:               {StatePendingConfirmation, StateCancelled},
	StatePendingConfirmation: {StateConfirmed, StateCancelled},
	StateConfirmed:           {StateDispatching, StateCancelled},
	StateDispatching:         {StateCompleted, StateFailed, StateCancelled},
	StateFailed:              {StateDraft, StateCancelled},
	StateCompleted:           {},
	StateCancelled:           {},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Commit is the user-visible record of one mandate attempt's execution.
type Commit struct {
	CommitID       string         `json:"commit_id"`
	SessionID      string         `json:"session_id"`
	DraftID        string         `json:"draft_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	State          State          `json:"state"`
	IntentSummary  string         `json:"intent_summary"`
	Intent         string         `json:"intent"`
	Dimensions     map[string]any `json:"dimensions,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Transitions    []Transition   `json:"transitions"`
}

// IdempotencyKey derives the unique commit key.
func IdempotencyKey(sessionID, draftID string) string {
	return sessionID + ":" + draftID
}

// Store persists commits. Implementations: memory, postgres.
type Store interface {
	// Create inserts a new commit; ErrDuplicateIdempotencyKey when the key
	// already exists.
	Create(ctx context.Context, c *Commit) error
	Get(ctx context.Context, commitID string) (*Commit, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Commit, error)
	// Transition applies from → to with CAS on the current state and
	// appends to the transition history.
	Transition(ctx context.Context, commitID string, from, to State, reason string) error
}
