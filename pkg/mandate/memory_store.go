package mandate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory mandate store for tests and single-node runs.
type MemoryStore struct {
	mu       sync.Mutex
	mandates map[string]*Mandate
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mandates: make(map[string]*Mandate)}
}

func (s *MemoryStore) Put(_ context.Context, m *Mandate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.mandates[m.MandateID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, mandateID string) (*Mandate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mandates[mandateID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, mandateID string, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mandates[mandateID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(from, to) {
		return ErrIllegalTransition
	}
	if m.State != from {
		return ErrConcurrentModification
	}
	m.State = to
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) PurgeSession(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, m := range s.mandates {
		if m.SessionID == sessionID && !Resumable(m.State) {
			delete(s.mandates, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) ResumableByUser(_ context.Context, userID string) ([]*Mandate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Mandate
	for _, m := range s.mandates {
		if m.UserID == userID && Resumable(m.State) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ApprovalPendingOlderThan(_ context.Context, age time.Duration) ([]*Mandate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-age)
	var out []*Mandate
	for _, m := range s.mandates {
		if m.State == StateApprovalPending && m.UpdatedAt.Before(cutoff) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Rebind(_ context.Context, oldSessionID, newSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mandates {
		if m.SessionID == oldSessionID && Resumable(m.State) {
			m.SessionID = newSessionID
			m.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}
