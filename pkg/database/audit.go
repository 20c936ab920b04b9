package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myndlens/vox/pkg/audit"
)

// AuditStore is the postgres-backed audit.Store. Append-only.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates the store over the shared pool.
func NewAuditStore(c *Client) *AuditStore {
	return &AuditStore{pool: c.pool}
}

func (s *AuditStore) Append(ctx context.Context, ev audit.Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_events (id, session_id, user_id, event_type, details, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.SessionID, ev.UserID, ev.EventType, details, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *AuditStore) BySession(ctx context.Context, sessionID string, limit int) ([]audit.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, event_type, details, ts
		 FROM audit_events
		 WHERE session_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var ev audit.Event
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.UserID, &ev.EventType,
			&details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			return nil, fmt.Errorf("unmarshal audit details: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
