package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestRetryPolicy(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}.Do(context.Background(), func() error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 3, calls)
	})

	t.Run("non retryable", func(t *testing.T) {
		calls := 0
		policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, Retryable: func(error) bool { return false }}
		err := policy.Do(context.Background(), func() error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour}.Do(ctx, func() error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, calls)
	})
}

func TestBreaker_TripsAndIgnores(t *testing.T) {
	errMissing := errors.New("missing")
	b := NewBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
		Ignore:           func(err error) bool { return errors.Is(err, errMissing) },
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errMissing }), errMissing)
	}

	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)

	err := b.Execute(func() error { return nil })
	assert.True(t, IsOpen(err))
}

func TestNoopBreaker(t *testing.T) {
	assert.ErrorIs(t, NoopBreaker().Execute(func() error { return errBoom }), errBoom)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NewRateLimiter(0, 0).Wait(ctx))

	l := NewRateLimiter(60, 1)
	assert.NoError(t, l.Wait(ctx))

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(short))
}
