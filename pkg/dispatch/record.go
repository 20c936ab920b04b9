package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status of one dispatch attempt.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// ErrRecordNotFound is returned for unknown dispatch IDs or keys.
var ErrRecordNotFound = errors.New("dispatch record not found")

// Record is the persisted outcome of one dispatch attempt. At most one
// record exists per idempotency key.
type Record struct {
	DispatchID     string    `json:"dispatch_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	MIOID          string    `json:"mio_id"`
	SessionID      string    `json:"session_id"`
	TenantID       string    `json:"tenant_id"`
	Action         string    `json:"action"`
	Status         Status    `json:"status"`
	LatencyMs      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// RecordStore persists dispatch records keyed by idempotency key.
type RecordStore interface {
	Put(ctx context.Context, r *Record) error
	GetByKey(ctx context.Context, idempotencyKey string) (*Record, error)
	UpdateStatus(ctx context.Context, dispatchID string, status Status) error
}

// MemoryRecordStore is the in-memory record store for tests and
// single-node runs.
type MemoryRecordStore struct {
	mu    sync.Mutex
	byKey map[string]*Record
	byID  map[string]*Record
}

// NewMemoryRecordStore creates an empty record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		byKey: make(map[string]*Record),
		byID:  make(map[string]*Record),
	}
}

func (s *MemoryRecordStore) Put(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.byKey[r.IdempotencyKey] = &cp
	s.byID[r.DispatchID] = &cp
	return nil
}

func (s *MemoryRecordStore) GetByKey(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byKey[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryRecordStore) UpdateStatus(_ context.Context, dispatchID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[dispatchID]
	if !ok {
		return ErrRecordNotFound
	}
	r.Status = status
	return nil
}
