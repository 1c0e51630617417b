package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds an exponential backoff loop.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool
}

// Default is used by collaborator adapters for network calls.
var Default = Policy{Attempts: 3, Base: time.Second, Max: 30 * time.Second}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Base

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if p.Max > 0 && backoff > p.Max {
				backoff = p.Max
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

// Value is Do for functions that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
