// Package conversation holds the per-session capture state machine that
// accumulates utterance fragments into a mandate attempt, plus the
// deterministic intent router that classifies inbound utterances before
// any LLM is involved.
package conversation

import (
	"errors"
	"strings"
	"time"
)

// Phase is the capture lifecycle phase of one mandate attempt.
type Phase string

const (
	PhaseListening       Phase = "LISTENING"
	PhaseAccumulating    Phase = "ACCUMULATING"
	PhaseActiveCapture   Phase = "ACTIVE_CAPTURE"
	PhaseHeld            Phase = "HELD"
	PhaseResuming        Phase = "RESUMING"
	PhaseProcessing      Phase = "PROCESSING"
	PhaseApprovalPending Phase = "APPROVAL_PENDING"
	PhaseExecuting       Phase = "EXECUTING"
	PhaseDone            Phase = "DONE"
)

// CaptureWindow bounds how long a capture may accumulate fragments before
// the pipeline closes it.
const CaptureWindow = 5 * time.Minute

// MaxQuestions is the hard cap on clarification questions per mandate
// attempt. Once reached the pipeline proceeds with defaults.
const MaxQuestions = 3

var (
	// ErrQuestionCapReached is returned when a 4th question is requested.
	ErrQuestionCapReached = errors.New("question cap reached for this mandate attempt")
	// ErrInvalidPhase is returned for a transition the phase machine forbids.
	ErrInvalidPhase = errors.New("invalid phase transition")
)

// Fragment is one utterance fragment in arrival order.
type Fragment struct {
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	SubIntents []string  `json:"sub_intents,omitempty"`
	Confidence float64   `json:"confidence"`
}

// ChecklistSource records where a checklist value came from.
type ChecklistSource string

const (
	SourceUserSaid    ChecklistSource = "userSaid"
	SourceDigitalSelf ChecklistSource = "digitalSelf"
	SourceDefault     ChecklistSource = "default"
)

// ChecklistItem is one dimension the mandate needs before assembly.
type ChecklistItem struct {
	Dimension string          `json:"dimension"`
	Value     string          `json:"value,omitempty"`
	Source    ChecklistSource `json:"source,omitempty"`
	Filled    bool            `json:"filled"`
}

// State is the per-session conversation state for one mandate attempt.
// All fields except identity are cleared on Reset.
type State struct {
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	Phase          Phase           `json:"phase"`
	Fragments      []Fragment      `json:"fragments"`
	Checklist      []ChecklistItem `json:"checklist"`
	QuestionsAsked []string        `json:"questions_asked"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CombinedTranscript joins fragment texts in arrival order. It is a pure
// function of the fragment list.
func (s *State) CombinedTranscript() string {
	parts := make([]string, 0, len(s.Fragments))
	for _, f := range s.Fragments {
		if t := strings.TrimSpace(f.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// QuestionsRemaining is how many clarification questions may still be asked.
func (s *State) QuestionsRemaining() int {
	return MaxQuestions - len(s.QuestionsAsked)
}

// CaptureExpired reports whether the 5-minute capture window has elapsed.
func (s *State) CaptureExpired(now time.Time) bool {
	return now.Sub(s.CreatedAt) >= CaptureWindow
}
