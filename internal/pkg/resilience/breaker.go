// Package resilience wraps outbound calls with a circuit breaker, a client
// side rate limit and bounded retries.
package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

type Breaker interface {
	Execute(fn func() error) error
}

type noopBreaker struct{}

func (noopBreaker) Execute(fn func() error) error { return fn() }

func NoopBreaker() Breaker { return noopBreaker{} }

type BreakerConfig struct {
	Name string
	// FailureThreshold consecutive-window failures trip the breaker once
	// MinRequests have been seen.
	FailureThreshold uint32
	MinRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
	// Ignore marks errors that say nothing about the remote's health, such
	// as a 404.
	Ignore func(error) bool
}

type gobreakerWrapper struct {
	cb *gobreaker.CircuitBreaker
}

func (g *gobreakerWrapper) Execute(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func NewBreaker(cfg BreakerConfig) Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = cfg.FailureThreshold
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	ignore := cfg.Ignore
	return &gobreakerWrapper{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return counts.TotalFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (ignore != nil && ignore(err))
		},
	})}
}

// IsOpen reports whether err came from a tripped breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
