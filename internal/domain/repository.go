package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities. Jobs are created by the
// acceptance layer and mutated only by the orchestrator afterwards.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetForUser(ctx context.Context, jobID, userID string) (*Job, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Job, error)
	MarkInProgress(ctx context.Context, jobID string) error
	// MarkCompleted sets the result key and completed status. It is a
	// guarded transition: a job that already reached a terminal state is
	// left untouched and ErrJobTerminal is returned.
	MarkCompleted(ctx context.Context, jobID, resultKey string) error
	// MarkFailed raises the failed flag. Idempotent.
	MarkFailed(ctx context.Context, jobID string) error
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// CreditRepository gates and charges generation work.
type CreditRepository interface {
	Balance(ctx context.Context, userID string) (int, error)
	HasSufficient(ctx context.Context, userID string, cost int) (bool, error)
	// DebitForJob atomically decrements the balance and records a ledger
	// entry keyed by job id. Calling it again for the same job is a no-op.
	// ErrInsufficientCredits is returned when the balance cannot cover the
	// cost at debit time.
	DebitForJob(ctx context.Context, userID, jobID string, cost int) error
	Grant(ctx context.Context, userID string, amount int, reason string) error
	EntriesForUser(ctx context.Context, userID string, limit int) ([]CreditEntry, error)
}

// VoiceRepository handles persistence for uploaded voice assets.
type VoiceRepository interface {
	Create(ctx context.Context, voice *VoiceAsset) error
	ListAvailable(ctx context.Context, userID string) ([]VoiceAsset, error)
}

// RunState is the persisted cursor of one job run. Cursor is the index of
// the last completed step; a retried run re-enters after it. ResultKey holds
// the provider output checkpointed between the call-provider and
// persist-result steps.
type RunState struct {
	JobID     string
	Cursor    int
	Attempts  int
	ResultKey string
	UpdatedAt time.Time
}

// RunRepository persists step checkpoints so a retried run does not redo
// side effects of steps that already succeeded.
type RunRepository interface {
	Get(ctx context.Context, jobID string) (*RunState, error)
	Save(ctx context.Context, state *RunState) error
}
