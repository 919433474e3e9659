package resilience

import (
	"context"
	"time"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// are used up or ctx ends. The delay grows linearly with the attempt.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return err
		}
		if i == r.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.BaseDelay * time.Duration(i+1)):
		}
	}
	return err
}
