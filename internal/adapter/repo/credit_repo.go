package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"server/internal/domain"
)

// CreditRepositoryPG implements domain.CreditRepository on top of the users
// balance column and the append-only credit_entries ledger.
type CreditRepositoryPG struct {
	db DB
}

// NewCreditRepository creates a new credit repository backed by PostgreSQL.
func NewCreditRepository(db DB) *CreditRepositoryPG {
	return &CreditRepositoryPG{db: db}
}

// Balance returns the user's current spendable credits.
func (r *CreditRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	query := `SELECT credits FROM users WHERE id = $1;`
	var balance int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

// HasSufficient is a read-only pre-check. It is not transactional with a
// later debit; DebitForJob is the authoritative gate.
func (r *CreditRepositoryPG) HasSufficient(ctx context.Context, userID string, cost int) (bool, error) {
	balance, err := r.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= cost, nil
}

// DebitForJob charges the user for one completed job. The ledger entry is
// keyed by job id, so a retried run that reaches the debit step again is a
// no-op. The decrement itself is conditional on the balance covering the
// cost, which closes the check-then-debit race: two concurrent runs can both
// pass HasSufficient but only one conditional decrement can win.
func (r *CreditRepositoryPG) DebitForJob(ctx context.Context, userID, jobID string, cost int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO credit_entries (id, user_id, job_id, delta, reason)
VALUES ($1, $2, $3, $4, 'generation')
ON CONFLICT (job_id) DO NOTHING;
`, uuid.NewString(), userID, jobID, -cost)
	if err != nil {
		return fmt.Errorf("record debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already debited for this job by an earlier run.
		return tx.Commit(ctx)
	}

	tag, err = tx.Exec(ctx, `
UPDATE users
SET credits = credits - $2, updated_at = NOW()
WHERE id = $1 AND credits >= $2;
`, userID, cost)
	if err != nil {
		return fmt.Errorf("apply debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientCredits
	}
	return tx.Commit(ctx)
}

// Grant adds credits to the user's balance and records the matching ledger
// entry. Used by operator tooling and plan top-ups.
func (r *CreditRepositoryPG) Grant(ctx context.Context, userID string, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin grant: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_entries (id, user_id, delta, reason)
VALUES ($1, $2, $3, $4);
`, uuid.NewString(), userID, amount, reason); err != nil {
		return fmt.Errorf("record grant: %w", err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE users
SET credits = credits + $2, updated_at = NOW()
WHERE id = $1;
`, userID, amount)
	if err != nil {
		return fmt.Errorf("apply grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit(ctx)
}

// EntriesForUser returns the user's most recent ledger entries.
func (r *CreditRepositoryPG) EntriesForUser(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT id, user_id, COALESCE(job_id, ''), delta, reason, created_at
FROM credit_entries
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CreditEntry
	for rows.Next() {
		var e domain.CreditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
