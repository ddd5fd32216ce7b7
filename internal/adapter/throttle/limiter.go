package throttle

import (
	"context"
	"fmt"
	"time"
)

// Limiter blocks a run until its owner has a free slot in the window.
type Limiter struct {
	reserver Reserver
}

// NewLimiter wraps a Reserver with queueing behavior.
func NewLimiter(reserver Reserver) *Limiter {
	return &Limiter{reserver: reserver}
}

// Acquire waits until a slot is reserved for key or the context ends. Runs
// beyond the window limit are queued, never dropped.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	for {
		ok, wait, err := l.reserver.Reserve(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("throttle: wait for slot: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
