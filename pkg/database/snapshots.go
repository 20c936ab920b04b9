package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myndlens/vox/pkg/prompt"
)

// SnapshotStore is the postgres-backed prompt.SnapshotStore. One row per
// LLM call, keyed by prompt ID.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates the store over the shared pool.
func NewSnapshotStore(c *Client) *SnapshotStore {
	return &SnapshotStore{pool: c.pool}
}

func (s *SnapshotStore) Save(ctx context.Context, snap *prompt.Snapshot) error {
	included, err := json.Marshal(snap.IncludedSectionIDs)
	if err != nil {
		return fmt.Errorf("marshal included sections: %w", err)
	}
	excluded, err := json.Marshal(snap.ExcludedSectionIDs)
	if err != nil {
		return fmt.Errorf("marshal excluded sections: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO prompt_snapshots (prompt_id, call_site_id, purpose, mode,
		                               stable_hash, volatile_hash,
		                               included_section_ids, excluded_section_ids,
		                               total_tokens_est, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		snap.PromptID, snap.CallSiteID, string(snap.Purpose), snap.Mode,
		snap.StableHash, snap.VolatileHash, included, excluded,
		snap.TotalTokensEst, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prompt snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, promptID string) (*prompt.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT prompt_id, call_site_id, purpose, mode, stable_hash,
		        volatile_hash, included_section_ids, excluded_section_ids,
		        total_tokens_est, created_at
		 FROM prompt_snapshots WHERE prompt_id = $1`, promptID)

	var snap prompt.Snapshot
	var purpose string
	var included, excluded []byte
	err := row.Scan(&snap.PromptID, &snap.CallSiteID, &purpose, &snap.Mode,
		&snap.StableHash, &snap.VolatileHash, &included, &excluded,
		&snap.TotalTokensEst, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, prompt.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt snapshot: %w", err)
	}
	snap.Purpose = prompt.Purpose(purpose)
	if err := json.Unmarshal(included, &snap.IncludedSectionIDs); err != nil {
		return nil, fmt.Errorf("unmarshal included sections: %w", err)
	}
	if err := json.Unmarshal(excluded, &snap.ExcludedSectionIDs); err != nil {
		return nil, fmt.Errorf("unmarshal excluded sections: %w", err)
	}
	return &snap, nil
}
