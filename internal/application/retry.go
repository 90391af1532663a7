package application

import (
	"context"
	"errors"
	"time"

	"github.com/example/party-scheduler/internal/persistence"
)

// retryPolicy controls re-running a unit of work after an optimistic version conflict.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

const defaultJoinRetries = 3

func newRetryPolicy(attempts int) retryPolicy {
	if attempts <= 0 {
		attempts = defaultJoinRetries
	}
	return retryPolicy{attempts: attempts, backoff: 5 * time.Millisecond}
}

// run invokes fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. The last version conflict is returned in that case.
func (p retryPolicy) run(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil || !errors.Is(lastErr, persistence.ErrVersionConflict) {
			return lastErr
		}
	}
	return lastErr
}
