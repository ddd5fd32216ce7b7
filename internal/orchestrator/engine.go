// Package orchestrator drives generation jobs through their lifecycle as a
// sequence of checkpointed, independently retryable steps. The unit of retry
// is the step, not the whole job: a retried run re-enters after the last
// checkpointed step, so transient failures do not re-charge credits or
// re-call a provider operation that already succeeded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
)

// fatalError marks a condition retrying cannot fix.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the run terminates immediately instead of retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) is non-retriable.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// step is one checkpointed unit of work within a run.
type step struct {
	name string
	// rerun steps are pure reads whose outputs later steps need; they are
	// re-executed on re-entry instead of being skipped.
	rerun bool
	run   func(ctx context.Context) error
}

// runSteps executes the remaining steps of a run, persisting the cursor after
// each one. Steps at or below the cursor are skipped unless marked rerun.
func runSteps(ctx context.Context, steps []step, state *domain.RunState, runs domain.RunRepository, logger infra.Logger) error {
	for i, s := range steps {
		idx := i + 1
		if idx <= state.Cursor && !s.rerun {
			logger.Debug().Str("job_id", state.JobID).Str("step", s.name).Msg("orchestrator: step already checkpointed, skipping")
			continue
		}

		if err := s.run(ctx); err != nil {
			return fmt.Errorf("step %s: %w", s.name, err)
		}

		if idx > state.Cursor {
			state.Cursor = idx
			if err := runs.Save(ctx, state); err != nil {
				return fmt.Errorf("checkpoint step %s: %w", s.name, err)
			}
		}
	}
	return nil
}
