package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myndlens/vox/pkg/dispatch"
)

// DispatchRecordStore is the postgres-backed dispatch.RecordStore. The
// unique constraint on idempotency_key is what makes dispatch at-most-once
// across processes.
type DispatchRecordStore struct {
	pool *pgxpool.Pool
}

// NewDispatchRecordStore creates the store over the shared pool.
func NewDispatchRecordStore(c *Client) *DispatchRecordStore {
	return &DispatchRecordStore{pool: c.pool}
}

func (s *DispatchRecordStore) Put(ctx context.Context, r *dispatch.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispatches (dispatch_id, idempotency_key, mio_id,
		                         session_id, tenant_id, action, status,
		                         latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		r.DispatchID, r.IdempotencyKey, r.MIOID, r.SessionID, r.TenantID,
		r.Action, string(r.Status), r.LatencyMs, r.Timestamp)
	if err != nil {
		return fmt.Errorf("insert dispatch record: %w", err)
	}
	return nil
}

func (s *DispatchRecordStore) GetByKey(ctx context.Context, idempotencyKey string) (*dispatch.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT dispatch_id, idempotency_key, mio_id, session_id, tenant_id,
		        action, status, latency_ms, created_at
		 FROM dispatches WHERE idempotency_key = $1`, idempotencyKey)

	var r dispatch.Record
	var status string
	err := row.Scan(&r.DispatchID, &r.IdempotencyKey, &r.MIOID, &r.SessionID,
		&r.TenantID, &r.Action, &status, &r.LatencyMs, &r.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dispatch.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dispatch record: %w", err)
	}
	r.Status = dispatch.Status(status)
	return &r, nil
}

func (s *DispatchRecordStore) UpdateStatus(ctx context.Context, dispatchID string, status dispatch.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dispatches SET status = $2 WHERE dispatch_id = $1`,
		dispatchID, string(status))
	if err != nil {
		return fmt.Errorf("update dispatch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrRecordNotFound
	}
	return nil
}

// TenantRegistry is the postgres-backed dispatch.TenantRegistry.
type TenantRegistry struct {
	pool *pgxpool.Pool
}

// NewTenantRegistry creates the registry over the shared pool.
func NewTenantRegistry(c *Client) *TenantRegistry {
	return &TenantRegistry{pool: c.pool}
}

func (r *TenantRegistry) Resolve(ctx context.Context, tenantID string) (*dispatch.Tenant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT tenant_id, endpoint, token, status FROM tenants WHERE tenant_id = $1`,
		tenantID)

	var t dispatch.Tenant
	var status string
	err := row.Scan(&t.TenantID, &t.Endpoint, &t.Token, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dispatch.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.Status = dispatch.TenantStatus(status)
	if t.Status != dispatch.TenantActive {
		return nil, fmt.Errorf("%w: %s is %s", dispatch.ErrTenantInactive, tenantID, t.Status)
	}
	return &t, nil
}

// Put inserts or replaces a tenant binding; used by provisioning.
func (r *TenantRegistry) Put(ctx context.Context, t dispatch.Tenant) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tenants (tenant_id, endpoint, token, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET endpoint = EXCLUDED.endpoint, token = EXCLUDED.token,
		     status = EXCLUDED.status`,
		t.TenantID, t.Endpoint, t.Token, string(t.Status))
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}
