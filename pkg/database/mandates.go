package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myndlens/vox/pkg/mandate"
)

// resumableStates mirrors the lifecycle allow-map for SQL predicates.
var resumableStates = []string{
	string(mandate.StateDimensionsExtracted),
	string(mandate.StateGuardrailsPassed),
	string(mandate.StateApprovalPending),
}

// MandateStore is the postgres-backed mandate.Store. The full document is
// stored as JSONB; the state column carries the CAS.
type MandateStore struct {
	pool *pgxpool.Pool
}

// NewMandateStore creates the store over the shared pool.
func NewMandateStore(c *Client) *MandateStore {
	return &MandateStore{pool: c.pool}
}

func (s *MandateStore) Put(ctx context.Context, m *mandate.Mandate) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mandate: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pending_mandates (mandate_id, session_id, user_id, state,
		                               doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (mandate_id) DO UPDATE
		 SET session_id = EXCLUDED.session_id, state = EXCLUDED.state,
		     doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		m.MandateID, m.SessionID, m.UserID, string(m.State), doc,
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert mandate: %w", err)
	}
	return nil
}

func (s *MandateStore) Get(ctx context.Context, mandateID string) (*mandate.Mandate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT doc FROM pending_mandates WHERE mandate_id = $1`, mandateID)
	return scanMandate(row)
}

func (s *MandateStore) Transition(ctx context.Context, mandateID string, from, to mandate.State) error {
	if !mandate.CanTransition(from, to) {
		return mandate.ErrIllegalTransition
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_mandates
		 SET state = $3,
		     doc = jsonb_set(doc, '{state}', to_jsonb($3::text)),
		     updated_at = NOW()
		 WHERE mandate_id = $1 AND state = $2`,
		mandateID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("mandate transition: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, mandateID); err != nil {
		return err
	}
	return mandate.ErrConcurrentModification
}

func (s *MandateStore) PurgeSession(ctx context.Context, sessionID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pending_mandates
		 WHERE session_id = $1 AND NOT (state = ANY($2))`,
		sessionID, resumableStates)
	if err != nil {
		return 0, fmt.Errorf("purge session mandates: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *MandateStore) ResumableByUser(ctx context.Context, userID string) ([]*mandate.Mandate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM pending_mandates
		 WHERE user_id = $1 AND state = ANY($2)`,
		userID, resumableStates)
	if err != nil {
		return nil, fmt.Errorf("resumable mandates query: %w", err)
	}
	return collectMandates(rows)
}

func (s *MandateStore) ApprovalPendingOlderThan(ctx context.Context, age time.Duration) ([]*mandate.Mandate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM pending_mandates
		 WHERE state = $1 AND updated_at < $2`,
		string(mandate.StateApprovalPending), time.Now().UTC().Add(-age))
	if err != nil {
		return nil, fmt.Errorf("pending mandates query: %w", err)
	}
	return collectMandates(rows)
}

func (s *MandateStore) Rebind(ctx context.Context, oldSessionID, newSessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pending_mandates
		 SET session_id = $2,
		     doc = jsonb_set(doc, '{session_id}', to_jsonb($2::text)),
		     updated_at = NOW()
		 WHERE session_id = $1 AND state = ANY($3)`,
		oldSessionID, newSessionID, resumableStates)
	if err != nil {
		return fmt.Errorf("rebind mandates: %w", err)
	}
	return nil
}

func scanMandate(row pgx.Row) (*mandate.Mandate, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mandate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mandate: %w", err)
	}
	var m mandate.Mandate
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("unmarshal mandate: %w", err)
	}
	return &m, nil
}

func collectMandates(rows pgx.Rows) ([]*mandate.Mandate, error) {
	defer rows.Close()
	var out []*mandate.Mandate
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
