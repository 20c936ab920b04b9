package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myndlens/vox/pkg/commit"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// CommitStore is the postgres-backed commit.Store.
type CommitStore struct {
	pool *pgxpool.Pool
}

// NewCommitStore creates the store over the shared pool.
func NewCommitStore(c *Client) *CommitStore {
	return &CommitStore{pool: c.pool}
}

func (s *CommitStore) Create(ctx context.Context, c *commit.Commit) error {
	dims, err := json.Marshal(c.Dimensions)
	if err != nil {
		return fmt.Errorf("marshal commit dimensions: %w", err)
	}
	transitions, err := json.Marshal(c.Transitions)
	if err != nil {
		return fmt.Errorf("marshal commit transitions: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO commits (commit_id, session_id, draft_id, idempotency_key,
		                      state, intent_summary, intent, dimensions,
		                      transitions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.CommitID, c.SessionID, c.DraftID, c.IdempotencyKey, string(c.State),
		c.IntentSummary, c.Intent, dims, transitions, c.CreatedAt, c.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return commit.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("insert commit: %w", err)
	}
	return nil
}

func (s *CommitStore) Get(ctx context.Context, commitID string) (*commit.Commit, error) {
	row := s.pool.QueryRow(ctx, selectCommit+` WHERE commit_id = $1`, commitID)
	return scanCommit(row)
}

func (s *CommitStore) GetByIdempotencyKey(ctx context.Context, key string) (*commit.Commit, error) {
	row := s.pool.QueryRow(ctx, selectCommit+` WHERE idempotency_key = $1`, key)
	return scanCommit(row)
}

func (s *CommitStore) Transition(ctx context.Context, commitID string, from, to commit.State, reason string) error {
	if !commit.CanTransition(from, to) {
		return commit.ErrIllegalTransition
	}
	entry, err := json.Marshal(commit.Transition{
		From: from, To: to, At: time.Now().UTC(), Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("marshal transition entry: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE commits
		 SET state = $3,
		     transitions = transitions || $4::jsonb,
		     updated_at = NOW()
		 WHERE commit_id = $1 AND state = $2`,
		commitID, string(from), string(to), entry)
	if err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, commitID); err != nil {
		return err
	}
	return commit.ErrConcurrentModification
}

const selectCommit = `
	SELECT commit_id, session_id, draft_id, idempotency_key, state,
	       intent_summary, intent, dimensions, transitions,
	       created_at, updated_at
	FROM commits`

func scanCommit(row pgx.Row) (*commit.Commit, error) {
	var c commit.Commit
	var state string
	var dims, transitions []byte
	err := row.Scan(&c.CommitID, &c.SessionID, &c.DraftID, &c.IdempotencyKey,
		&state, &c.IntentSummary, &c.Intent, &dims, &transitions,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, commit.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan commit: %w", err)
	}
	c.State = commit.State(state)
	if err := json.Unmarshal(dims, &c.Dimensions); err != nil {
		return nil, fmt.Errorf("unmarshal commit dimensions: %w", err)
	}
	if err := json.Unmarshal(transitions, &c.Transitions); err != nil {
		return nil, fmt.Errorf("unmarshal commit transitions: %w", err)
	}
	return &c, nil
}
