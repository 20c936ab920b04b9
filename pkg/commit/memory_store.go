package commit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory commit store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	commits map[string]*Commit
	byKey   map[string]string // idempotencyKey -> commitID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commits: make(map[string]*Commit),
		byKey:   make(map[string]string),
	}
}

func copyCommit(c *Commit) *Commit {
	cp := *c
	cp.Transitions = make([]Transition, len(c.Transitions))
	copy(cp.Transitions, c.Transitions)
	return &cp
}

func (s *MemoryStore) Create(_ context.Context, c *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[c.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	s.commits[c.CommitID] = copyCommit(c)
	s.byKey[c.IdempotencyKey] = c.CommitID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, commitID string) (*Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[commitID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCommit(c), nil
}

func (s *MemoryStore) GetByIdempotencyKey(_ context.Context, key string) (*Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCommit(s.commits[id]), nil
}

func (s *MemoryStore) Transition(_ context.Context, commitID string, from, to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[commitID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(from, to) {
		return ErrIllegalTransition
	}
	if c.State != from {
		return ErrConcurrentModification
	}
	now := time.Now().UTC()
	c.State = to
	c.UpdatedAt = now
	c.Transitions = append(c.Transitions, Transition{From: from, To: to, At: now, Reason: reason})
	return nil
}
