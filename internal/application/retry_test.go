package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/party-scheduler/internal/persistence"
)

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	t.Run("retries version conflicts until success", func(t *testing.T) {
		calls := 0
		err := newRetryPolicy(3).run(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("update: %w", persistence.ErrVersionConflict)
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("expected success on third attempt, got %v after %d calls", err, calls)
		}
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		calls := 0
		err := newRetryPolicy(2).run(context.Background(), func(context.Context) error {
			calls++
			return persistence.ErrVersionConflict
		})
		if !errors.Is(err, persistence.ErrVersionConflict) || calls != 2 {
			t.Fatalf("expected conflict after 2 calls, got %v after %d", err, calls)
		}
	})

	t.Run("other errors are returned immediately", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := newRetryPolicy(0).run(context.Background(), func(context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Fatalf("expected single boom call, got %v after %d", err, calls)
		}
	})
}
