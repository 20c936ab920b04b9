package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myndlens/vox/pkg/session"
)

// SessionStore is the postgres-backed session.Store.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates the store over the shared pool.
func NewSessionStore(c *Client) *SessionStore {
	return &SessionStore{pool: c.pool}
}

func (s *SessionStore) Create(ctx context.Context, sess *session.Session) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session create: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE sessions SET active = FALSE
		 WHERE user_id = $1 AND device_id = $2 AND active
		 RETURNING session_id`,
		sess.UserID, sess.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("deactivate prior sessions: %w", err)
	}
	var deactivated []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		deactivated = append(deactivated, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, device_id, tenant_id, env,
		                       client_version, subscription_status, created_at,
		                       last_heartbeat_at, heartbeat_seq, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.SessionID, sess.UserID, sess.DeviceID, sess.TenantID, sess.Env,
		sess.ClientVersion, sess.SubscriptionStatus, sess.CreatedAt,
		sess.LastHeartbeatAt, sess.HeartbeatSeq, sess.Active)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit session create: %w", err)
	}
	return deactivated, nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, device_id, tenant_id, env, client_version,
		        subscription_status, created_at, last_heartbeat_at,
		        heartbeat_seq, active
		 FROM sessions WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (s *SessionStore) Heartbeat(ctx context.Context, sessionID string, seq int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_heartbeat_at = $2, heartbeat_seq = $3
		 WHERE session_id = $1 AND active`,
		sessionID, at, seq)
	if err != nil {
		return fmt.Errorf("heartbeat update: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	return session.ErrInactive
}

func (s *SessionStore) Deactivate(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET active = FALSE WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) ActiveByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, user_id, device_id, tenant_id, env, client_version,
		        subscription_status, created_at, last_heartbeat_at,
		        heartbeat_seq, active
		 FROM sessions WHERE user_id = $1 AND active
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("active sessions query: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) DeactivateStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET active = FALSE
		 WHERE active AND last_heartbeat_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("stale session sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var sess session.Session
	err := row.Scan(&sess.SessionID, &sess.UserID, &sess.DeviceID, &sess.TenantID,
		&sess.Env, &sess.ClientVersion, &sess.SubscriptionStatus, &sess.CreatedAt,
		&sess.LastHeartbeatAt, &sess.HeartbeatSeq, &sess.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}
