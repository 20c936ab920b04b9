package dispatch

import (
	"context"
	"errors"
	"sync"
)

// TenantStatus gates whether a tenant may receive dispatches.
type TenantStatus string

const (
	TenantActive    TenantStatus = "ACTIVE"
	TenantSuspended TenantStatus = "SUSPENDED"
	TenantDisabled  TenantStatus = "DISABLED"
)

var (
	// ErrTenantNotFound is returned for unknown tenant IDs.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantInactive is returned when the tenant is not ACTIVE.
	ErrTenantInactive = errors.New("tenant is not active")
)

// Tenant binds a tenant to its adapter endpoint and credentials.
type Tenant struct {
	TenantID string       `json:"tenant_id"`
	Endpoint string       `json:"endpoint"`
	Token    string       `json:"token"`
	Status   TenantStatus `json:"status"`
}

// TenantRegistry resolves tenant bindings at the dispatch edge.
type TenantRegistry interface {
	// Resolve returns the tenant when it exists and is ACTIVE.
	Resolve(ctx context.Context, tenantID string) (*Tenant, error)
}

// MemoryTenantRegistry is an in-memory registry seeded at startup.
type MemoryTenantRegistry struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryTenantRegistry creates a registry with the given tenants.
func NewMemoryTenantRegistry(tenants ...Tenant) *MemoryTenantRegistry {
	r := &MemoryTenantRegistry{tenants: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		r.tenants[t.TenantID] = t
	}
	return r
}

// Put adds or replaces a tenant binding.
func (r *MemoryTenantRegistry) Put(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.TenantID] = t
}

func (r *MemoryTenantRegistry) Resolve(_ context.Context, tenantID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	if t.Status != TenantActive {
		return nil, ErrTenantInactive
	}
	cp := t
	return &cp, nil
}
