package utils

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// ExponentialConfig configures an exponential backoff: attempt i waits
// 2^i * Base, capped at Max.
type ExponentialConfig struct {
	// Base is the first delay of the progression, must be positive.
	Base time.Duration
	// Retries is the number of attempts allowed.
	Retries int
	// Max caps an individual delay. Zero means uncapped.
	Max time.Duration
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *ExponentialConfig) CheckAndSetDefaults() error {
	if c.Base <= 0 {
		return trace.BadParameter("missing backoff base duration")
	}
	if c.Retries <= 0 {
		return trace.BadParameter("retries must be positive")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Exponential implements bounded exponential backoff. Not safe for
// concurrent use; give each task its own instance.
type Exponential struct {
	ExponentialConfig
	attempt int
}

// NewExponential returns a backoff in reset state.
func NewExponential(cfg ExponentialConfig) (*Exponential, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Exponential{ExponentialConfig: cfg}, nil
}

// Reset rewinds to the first attempt.
func (r *Exponential) Reset() {
	r.attempt = 0
}

// Attempt returns the zero-based attempt counter.
func (r *Exponential) Attempt() int {
	return r.attempt
}

// Exhausted reports whether all attempts have been spent.
func (r *Exponential) Exhausted() bool {
	return r.attempt >= r.Retries
}

// Duration returns the delay of the current attempt.
func (r *Exponential) Duration() time.Duration {
	d := r.Base << uint(r.attempt)
	if r.Max > 0 && d > r.Max {
		return r.Max
	}
	return d
}

// Wait sleeps out the current attempt's delay and advances the counter.
// Returns early with an error when the context is canceled or all
// attempts are spent.
func (r *Exponential) Wait(ctx context.Context) error {
	if r.Exhausted() {
		return trace.LimitExceeded("all %v attempts used", r.Retries)
	}
	d := r.Duration()
	r.attempt++
	select {
	case <-r.Clock.After(d):
		return nil
	case <-ctx.Done():
		return trace.Wrap(ctx.Err())
	}
}
