package prompt

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSnapshotNotFound is returned for unknown prompt IDs.
var ErrSnapshotNotFound = errors.New("prompt snapshot not found")

// Snapshot is the persisted record of one artifact as sent to the provider.
// One snapshot exists per LLM call; the prompt ID ties audit events, logs,
// and provider responses back to the exact prompt text identity.
type Snapshot struct {
	PromptID           string    `json:"prompt_id"`
	CallSiteID         string    `json:"call_site_id"`
	Purpose            Purpose   `json:"purpose"`
	Mode               string    `json:"mode"`
	StableHash         string    `json:"stable_hash"`
	VolatileHash       string    `json:"volatile_hash"`
	IncludedSectionIDs []string  `json:"included_section_ids"`
	ExcludedSectionIDs []string  `json:"excluded_section_ids,omitempty"`
	TotalTokensEst     int       `json:"total_tokens_est"`
	CreatedAt          time.Time `json:"created_at"`
}

// SnapshotStore persists one snapshot per LLM call.
type SnapshotStore interface {
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, promptID string) (*Snapshot, error)
}

// SnapshotFromArtifact builds the persistable record for one call.
func SnapshotFromArtifact(a *Artifact, callSiteID string) *Snapshot {
	return &Snapshot{
		PromptID:           a.PromptID,
		CallSiteID:         callSiteID,
		Purpose:            a.Purpose,
		Mode:               a.Mode,
		StableHash:         a.StableHash,
		VolatileHash:       a.VolatileHash,
		IncludedSectionIDs: a.IncludedSectionIDs,
		ExcludedSectionIDs: a.ExcludedSectionIDs,
		TotalTokensEst:     a.TotalTokensEst,
		CreatedAt:          a.CreatedAt,
	}
}

// MemorySnapshotStore is the in-memory store for tests and single-node runs.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*Snapshot)}
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snapshots[snap.PromptID] = &cp
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, promptID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[promptID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	cp := *snap
	return &cp, nil
}
