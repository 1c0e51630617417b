package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(4), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(3), func(ctx context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDoSkipsNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := fast(5)
	p.Retryable = func(err error) bool { return errors.Is(err, errFlaky) }

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, Base: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fast(2), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}
