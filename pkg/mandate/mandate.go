// Package mandate holds the structured mandate document assembled by the
// inference pipeline and its lifecycle store. Transitions are CAS-guarded;
// only resumable states survive a reconnect.
package mandate

import (
	"context"
	"errors"
	"time"
)

// State is the mandate lifecycle state.
type State string

const (
	StateDimensionsExtracted State = "DIMENSIONS_EXTRACTED"
	StateGuardrailsPassed    State = "GUARDRAILS_PASSED"
	StateApprovalPending     State = "APPROVAL_PENDING"
	StateApproved            State = "APPROVED"
	StateProvisioning        State = "PROVISIONING"
	StateDispatched          State = "DISPATCHED"
	StateCompleted           State = "COMPLETED"
	StateFailed              State = "FAILED"
)

var (
	// ErrNotFound is returned for unknown mandate IDs.
	ErrNotFound = errors.New("mandate not found")
	// ErrIllegalTransition is returned for an edge outside the allow-map.
	ErrIllegalTransition = errors.New("illegal mandate transition")
	// ErrConcurrentModification is returned when the CAS precondition fails.
	ErrConcurrentModification = errors.New("concurrent mandate modification")
)

// transitions is the allow-map of legal lifecycle edges.
var transitions = map[State][]State{
	StateDimensionsExtracted: {StateGuardrailsPassed, StateFailed},
	StateGuardrailsPassed:    {StateApprovalPending, StateFailed},
	StateApprovalPending:     {StateApproved, StateFailed},
	StateApproved:            {StateProvisioning, StateFailed},
	StateProvisioning:        {StateDispatched, StateFailed},
	StateDispatched:          {StateCompleted, StateFailed},
	StateCompleted:           {},
	StateFailed:              {},
}

// resumable states survive reconnect; everything else is purged with the
// session.
var resumable = map[State]bool{
	StateDimensionsExtracted: true,
	StateGuardrailsPassed:    true,
	StateApprovalPending:     true,
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Resumable reports whether a mandate in this state survives reconnect.
func Resumable(s State) bool { return resumable[s] }

// DimensionSource records where a dimension value came from.
type DimensionSource string

const (
	SourceStated      DimensionSource = "stated"
	SourceDigitalSelf DimensionSource = "digital_self"
	SourceInferred    DimensionSource = "inferred"
	SourceMissing     DimensionSource = "missing"
)

// Dimension is one attribute of a mandate action with its provenance.
type Dimension struct {
	Value  string          `json:"value"`
	Source DimensionSource `json:"source"`
}

// Person referenced by the mandate.
type Person struct {
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Action is one concrete thing the mandate asks for.
type Action struct {
	Name       string               `json:"name"`
	Priority   string               `json:"priority"` // high, med, low
	Dimensions map[string]Dimension `json:"dimensions"`
}

// Mandate is the structured document assembled from the transcript.
type Mandate struct {
	MandateID   string    `json:"mandate_id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	State       State     `json:"state"`
	Intent      string    `json:"intent"`
	Summary     string    `json:"summary"`
	ActionClass string    `json:"action_class,omitempty"`
	RiskTier    int       `json:"risk_tier"`
	People      []Person  `json:"people,omitempty"`
	Actions     []Action  `json:"actions"`
	Timing      string    `json:"timing,omitempty"`
	Location    string    `json:"location,omitempty"`
	Preferences []string  `json:"preferences,omitempty"`
	Constraints []string  `json:"constraints,omitempty"`
	Missing     []string  `json:"missing,omitempty"`
	Confidence  float64   `json:"confidence"`

	// Grounding ties the mandate back to the evidence it was derived from;
	// the MIO signer copies these verbatim.
	TranscriptHash string   `json:"transcript_hash,omitempty"`
	L1Hash         string   `json:"l1_hash,omitempty"`
	L2AuditHash    string   `json:"l2_audit_hash,omitempty"`
	MemoryNodeIDs  []string `json:"memory_node_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists mandates. Implementations: memory, postgres.
type Store interface {
	Put(ctx context.Context, m *Mandate) error
	Get(ctx context.Context, mandateID string) (*Mandate, error)
	// Transition moves the mandate from expected state to next via CAS.
	// ErrIllegalTransition for edges outside the allow-map;
	// ErrConcurrentModification when the stored state is not `from`.
	Transition(ctx context.Context, mandateID string, from, to State) error
	// PurgeSession drops the session's non-resumable mandates on disconnect
	// and returns how many were purged.
	PurgeSession(ctx context.Context, sessionID string) (int, error)
	// ResumableByUser returns mandates in resumable states for a user.
	ResumableByUser(ctx context.Context, userID string) ([]*Mandate, error)
	// ApprovalPendingOlderThan returns mandates that have sat in
	// APPROVAL_PENDING for at least age; the nudge scheduler reminds
	// their owners.
	ApprovalPendingOlderThan(ctx context.Context, age time.Duration) ([]*Mandate, error)
	// Rebind moves resumable mandates from an old session to a new one.
	Rebind(ctx context.Context, oldSessionID, newSessionID string) error
}
