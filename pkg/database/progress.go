package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myndlens/vox/pkg/pipeline"
)

// ProgressStore is the postgres-backed pipeline.ProgressStore. Rows are
// append-only; Latest reduces to the newest row per stage so a reconnecting
// client can replay the progress bar.
type ProgressStore struct {
	pool *pgxpool.Pool
}

// NewProgressStore creates the store over the shared pool.
func NewProgressStore(c *Client) *ProgressStore {
	return &ProgressStore{pool: c.pool}
}

func (s *ProgressStore) Save(ctx context.Context, p pipeline.Progress) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_progress (stage_id, execution_id, session_id,
		                                stage_index, total_stages, stage_name,
		                                status, sub_status, progress_pct, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.StageID, p.ExecutionID, p.SessionID, p.StageIndex, p.TotalStages,
		p.StageName, string(p.Status), p.SubStatus, p.ProgressPct, p.Timestamp)
	if err != nil {
		return fmt.Errorf("insert pipeline progress: %w", err)
	}
	return nil
}

func (s *ProgressStore) Latest(ctx context.Context, executionID string) ([]pipeline.Progress, error) {
	return s.query(ctx,
		`SELECT DISTINCT ON (stage_index)
		        stage_id, execution_id, session_id, stage_index, total_stages,
		        stage_name, status, sub_status, progress_pct, ts
		 FROM pipeline_progress
		 WHERE execution_id = $1
		 ORDER BY stage_index, ts DESC`, executionID)
}

// LatestBySession resolves the session's newest execution and returns its
// per-stage progress, for the reconnect catch-up push.
func (s *ProgressStore) LatestBySession(ctx context.Context, sessionID string) ([]pipeline.Progress, error) {
	return s.query(ctx,
		`SELECT DISTINCT ON (stage_index)
		        stage_id, execution_id, session_id, stage_index, total_stages,
		        stage_name, status, sub_status, progress_pct, ts
		 FROM pipeline_progress
		 WHERE execution_id = (SELECT execution_id FROM pipeline_progress
		                       WHERE session_id = $1
		                       ORDER BY ts DESC LIMIT 1)
		 ORDER BY stage_index, ts DESC`, sessionID)
}

func (s *ProgressStore) query(ctx context.Context, sql string, arg any) ([]pipeline.Progress, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("progress query: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Progress
	for rows.Next() {
		var p pipeline.Progress
		var status string
		if err := rows.Scan(&p.StageID, &p.ExecutionID, &p.SessionID,
			&p.StageIndex, &p.TotalStages, &p.StageName, &status,
			&p.SubStatus, &p.ProgressPct, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline progress: %w", err)
		}
		p.Status = pipeline.StageStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}
