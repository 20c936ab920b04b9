package conversation

import (
	"log/slog"
	"sync"
	"time"
)

// Manager owns the per-session conversation states. Per-session singleton:
// at most one State exists per sessionID, created lazily in LISTENING.
type Manager struct {
	mu     sync.Mutex
	states map[string]*State
	// now is injectable for capture-window tests.
	now func() time.Time
}

// NewManager creates an empty conversation manager.
func NewManager() *Manager {
	return &Manager{
		states: make(map[string]*State),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the session's state, creating a fresh LISTENING state on
// first use.
func (m *Manager) Get(sessionID, userID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(sessionID, userID)
}

func (m *Manager) getLocked(sessionID, userID string) *State {
	if st, ok := m.states[sessionID]; ok {
		return st
	}
	now := m.now()
	st := &State{
		SessionID: sessionID,
		UserID:    userID,
		Phase:     PhaseListening,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.states[sessionID] = st
	return st
}

// AddFragment appends a fragment in arrival order and advances LISTENING to
// ACCUMULATING on the first one. Returns the updated state.
func (m *Manager) AddFragment(sessionID, userID, text string, subIntents []string, confidence float64) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.getLocked(sessionID, userID)
	st.Fragments = append(st.Fragments, Fragment{
		Text:       text,
		Timestamp:  m.now(),
		SubIntents: subIntents,
		Confidence: confidence,
	})
	if st.Phase == PhaseListening {
		st.Phase = PhaseAccumulating
	}
	st.UpdatedAt = m.now()
	return st
}

// FillChecklist upserts a checklist dimension with its value and source.
func (m *Manager) FillChecklist(sessionID, dim, value string, source ChecklistSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return
	}
	for i := range st.Checklist {
		if st.Checklist[i].Dimension == dim {
			st.Checklist[i].Value = value
			st.Checklist[i].Source = source
			st.Checklist[i].Filled = true
			st.UpdatedAt = m.now()
			return
		}
	}
	st.Checklist = append(st.Checklist, ChecklistItem{
		Dimension: dim, Value: value, Source: source, Filled: true,
	})
	st.UpdatedAt = m.now()
}

// RequireDimension registers a dimension as needed without filling it.
func (m *Manager) RequireDimension(sessionID, dim string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return
	}
	for _, item := range st.Checklist {
		if item.Dimension == dim {
			return
		}
	}
	st.Checklist = append(st.Checklist, ChecklistItem{Dimension: dim})
	st.UpdatedAt = m.now()
}

// Unfilled returns the checklist items still lacking values.
func (m *Manager) Unfilled(sessionID string) []ChecklistItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return nil
	}
	var out []ChecklistItem
	for _, item := range st.Checklist {
		if !item.Filled {
			out = append(out, item)
		}
	}
	return out
}

// CanAskQuestion reports whether the 3-question cap still has headroom.
func (m *Manager) CanAskQuestion(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return false
	}
	return len(st.QuestionsAsked) < MaxQuestions
}

// RecordQuestion appends an asked question, enforcing the hard cap.
func (m *Manager) RecordQuestion(sessionID, question string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return ErrInvalidPhase
	}
	if len(st.QuestionsAsked) >= MaxQuestions {
		return ErrQuestionCapReached
	}
	st.QuestionsAsked = append(st.QuestionsAsked, question)
	st.UpdatedAt = m.now()
	return nil
}

// phaseTransitions is the allow-map for Transition. DONE is reachable from
// anywhere and handled separately.
var phaseTransitions = map[Phase][]Phase{
	PhaseListening:       {PhaseAccumulating},
	PhaseAccumulating:    {PhaseActiveCapture, PhaseProcessing, PhaseHeld},
	PhaseActiveCapture:   {PhaseProcessing, PhaseHeld},
	PhaseHeld:            {PhaseResuming},
	PhaseResuming:        {PhaseAccumulating},
	PhaseProcessing:      {PhaseApprovalPending},
	PhaseApprovalPending: {PhaseExecuting},
	PhaseExecuting:       {},
	PhaseDone:            {},
}

// Transition moves the session's phase, enforcing the allow-map. Any
// non-terminal phase may move to DONE.
func (m *Manager) Transition(sessionID string, to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return ErrInvalidPhase
	}
	if to == PhaseDone {
		st.Phase = PhaseDone
		st.UpdatedAt = m.now()
		return nil
	}
	for _, allowed := range phaseTransitions[st.Phase] {
		if allowed == to {
			st.Phase = to
			st.UpdatedAt = m.now()
			return nil
		}
	}
	return ErrInvalidPhase
}

// Hold pauses capture on an explicit hold command.
func (m *Manager) Hold(sessionID string) error { return m.Transition(sessionID, PhaseHeld) }

// Resume re-enters accumulation after a hold.
func (m *Manager) Resume(sessionID string) error {
	if err := m.Transition(sessionID, PhaseResuming); err != nil {
		return err
	}
	return m.Transition(sessionID, PhaseAccumulating)
}

// Reset clears everything except identity, returning the state to
// LISTENING with a fresh capture window.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[sessionID]
	if !ok {
		return
	}
	now := m.now()
	st.Phase = PhaseListening
	st.Fragments = nil
	st.Checklist = nil
	st.QuestionsAsked = nil
	st.CreatedAt = now
	st.UpdatedAt = now
}

// Drop removes the session's state entirely (disconnect cleanup).
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
}

// Migrate moves an in-flight conversation from the user's older session to
// the new one on reconnect. States with zero fragments are not worth
// carrying and are dropped instead. Returns the migrated state, or nil.
// The original createdAt is preserved so the capture window keeps ticking.
func (m *Manager) Migrate(userID, newSessionID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldID string
	var oldState *State
	for id, st := range m.states {
		if id == newSessionID || st.UserID != userID {
			continue
		}
		if len(st.Fragments) == 0 {
			continue
		}
		// Prefer the most recently touched state when several linger.
		if oldState == nil || st.UpdatedAt.After(oldState.UpdatedAt) {
			oldID, oldState = id, st
		}
	}
	if oldState == nil {
		return nil
	}

	delete(m.states, oldID)
	oldState.SessionID = newSessionID
	oldState.UpdatedAt = m.now()
	m.states[newSessionID] = oldState
	slog.Info("Migrated conversation state across reconnect",
		"user_id", userID, "from_session", oldID, "to_session", newSessionID,
		"fragments", len(oldState.Fragments),
		"questions_asked", len(oldState.QuestionsAsked))
	return oldState
}

// ExpiredCaptures returns sessions whose ACCUMULATING capture window has
// elapsed; the orchestrator closes them into PROCESSING.
func (m *Manager) ExpiredCaptures() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []string
	for id, st := range m.states {
		if (st.Phase == PhaseAccumulating || st.Phase == PhaseActiveCapture) && st.CaptureExpired(now) {
			out = append(out, id)
		}
	}
	return out
}
