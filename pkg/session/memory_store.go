package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for tests and single-node runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Create(_ context.Context, sess *Session) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deactivated []string
	for id, existing := range s.sessions {
		if existing.Active && existing.UserID == sess.UserID && existing.DeviceID == sess.DeviceID {
			existing.Active = false
			deactivated = append(deactivated, id)
		}
	}
	cp := *sess
	s.sessions[sess.SessionID] = &cp
	return deactivated, nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, sessionID string, seq int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !sess.Active {
		return ErrInactive
	}
	sess.LastHeartbeatAt = at
	sess.HeartbeatSeq = seq
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Active = false
	return nil
}

func (s *MemoryStore) ActiveByUser(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.Active && sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeactivateStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.Active && sess.LastHeartbeatAt.Before(cutoff) {
			sess.Active = false
			count++
		}
	}
	return count, nil
}
