package pipeline

import (
	"context"
	"sync"
	"time"
)

// MemoryProgressStore keeps the latest progress per (execution, stage) in
// memory. Good for tests and single-node runs; reconnect catch-up reads it.
type MemoryProgressStore struct {
	mu sync.Mutex
	// latest[executionID][stageIndex]
	latest map[string]map[int]Progress
}

// NewMemoryProgressStore creates an empty progress store.
func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{latest: make(map[string]map[int]Progress)}
}

func (s *MemoryProgressStore) Save(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages, ok := s.latest[p.ExecutionID]
	if !ok {
		stages = make(map[int]Progress)
		s.latest[p.ExecutionID] = stages
	}
	stages[p.StageIndex] = p
	return nil
}

func (s *MemoryProgressStore) Latest(_ context.Context, executionID string) ([]Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stagesLocked(executionID), nil
}

func (s *MemoryProgressStore) LatestBySession(_ context.Context, sessionID string) ([]Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newestID string
	var newest time.Time
	for execID, stages := range s.latest {
		for _, p := range stages {
			if p.SessionID != sessionID {
				continue
			}
			if newestID == "" || p.Timestamp.After(newest) {
				newestID, newest = execID, p.Timestamp
			}
		}
	}
	if newestID == "" {
		return nil, nil
	}
	return s.stagesLocked(newestID), nil
}

func (s *MemoryProgressStore) stagesLocked(executionID string) []Progress {
	stages, ok := s.latest[executionID]
	if !ok {
		return nil
	}
	out := make([]Progress, 0, len(stages))
	for i := 0; i < TotalStages; i++ {
		if p, ok := stages[i]; ok {
			out = append(out, p)
		}
	}
	return out
}
