package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db DB
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db DB) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new job record. Jobs always start pending with no result
// key and the failed flag down.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, kind, status, payload, result_key, failed)
VALUES ($1, $2, $3, $4, $5, NULL, FALSE);
`
	_, err = r.db.Exec(ctx, query, job.ID, job.UserID, job.Kind, domain.JobStatusPending, payload)
	return err
}

const jobColumns = `id, user_id, kind, status, payload, COALESCE(result_key, ''), failed, created_at, updated_at`

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return r.scanJob(r.db.QueryRow(ctx, query, jobID))
}

// GetForUser fetches a job only when the requester owns it; a job belonging
// to someone else is indistinguishable from an absent one.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND user_id = $2;`
	return r.scanJob(r.db.QueryRow(ctx, query, jobID, userID))
}

// ListForUser returns the user's most recent jobs.
func (r *JobRepositoryPG) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkInProgress records that the orchestrator picked the job up.
func (r *JobRepositoryPG) MarkInProgress(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = $3;
`
	_, err := r.db.Exec(ctx, query, jobID, domain.JobStatusInProgress, domain.JobStatusPending)
	return err
}

// MarkCompleted sets the result key and completed status. The transition is
// guarded: a job that already completed is left untouched and ErrJobTerminal
// is returned. The failed flag does not block completion; a run may complete
// on a later attempt after an earlier one flagged the job.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, resultKey string) error {
	query := `
UPDATE jobs
SET status = $2, result_key = $3, updated_at = NOW()
WHERE id = $1 AND status <> $2;
`
	tag, err := r.db.Exec(ctx, query, jobID, domain.JobStatusCompleted, resultKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

// MarkFailed raises the failed flag. Safe to call repeatedly.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET failed = TRUE, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.db.Exec(ctx, query, jobID)
	return err
}

// CountCreatedSince counts the user's jobs created after the given instant;
// it backs the trailing-window throttle warning.
func (r *JobRepositoryPG) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE user_id = $1 AND created_at >= $2;`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var payload []byte
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Kind,
		&job.Status,
		&payload,
		&job.ResultKey,
		&job.Failed,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
	}
	return &job, nil
}
