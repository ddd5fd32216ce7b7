package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// RunRepositoryPG implements domain.RunRepository. One row per job holds the
// run's step cursor and checkpointed outputs so a retried run re-enters after
// the last completed step instead of redoing side effects.
type RunRepositoryPG struct {
	db DB
}

// NewRunRepository creates a new run-state repository backed by PostgreSQL.
func NewRunRepository(db DB) *RunRepositoryPG {
	return &RunRepositoryPG{db: db}
}

// Get loads the run state for a job, or ErrNotFound when none was persisted.
func (r *RunRepositoryPG) Get(ctx context.Context, jobID string) (*domain.RunState, error) {
	query := `
SELECT job_id, step_cursor, attempts, COALESCE(result_key, ''), updated_at
FROM job_runs
WHERE job_id = $1;
`
	var state domain.RunState
	err := r.db.QueryRow(ctx, query, jobID).Scan(
		&state.JobID,
		&state.Cursor,
		&state.Attempts,
		&state.ResultKey,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &state, nil
}

// Save upserts the run state.
func (r *RunRepositoryPG) Save(ctx context.Context, state *domain.RunState) error {
	query := `
INSERT INTO job_runs (job_id, step_cursor, attempts, result_key, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
ON CONFLICT (job_id) DO UPDATE
SET step_cursor = EXCLUDED.step_cursor,
    attempts = EXCLUDED.attempts,
    result_key = EXCLUDED.result_key,
    updated_at = NOW();
`
	_, err := r.db.Exec(ctx, query, state.JobID, state.Cursor, state.Attempts, state.ResultKey)
	return err
}
