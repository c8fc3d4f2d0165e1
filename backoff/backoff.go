// Package backoff computes retry delays for failed step attempts.
// Strategies are stateless, so one value may serve every run in the
// engine concurrently.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt. Attempt numbers
// are 1-indexed: attempt 1 is the first retry after the initial
// failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to the Strategy interface.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval before every retry. Mostly useful
// in tests and for endpoints with known recovery times.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay on each attempt, starting from Base
// and never exceeding Cap. With Jitter set, the computed delay becomes
// the upper bound of a uniform random draw (full jitter), which keeps
// a burst of simultaneous failures from retrying in lockstep.
type Exponential struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter bool
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(base, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap}
}

// NewExponentialWithJitter creates an exponential strategy with full
// jitter.
func NewExponentialWithJitter(base, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap, Jitter: true}
}

// Delay returns min(Base << (attempt-1), Cap), drawn uniformly from
// [0, that bound) when Jitter is set.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Cap > 0 && d >= e.Cap {
			d = e.Cap
			break
		}
		if d <= 0 { // overflow
			d = e.Cap
			break
		}
	}
	if e.Cap > 0 && d > e.Cap {
		d = e.Cap
	}
	if !e.Jitter || d <= 0 {
		return d
	}
	return rand.N(d) //nolint:gosec // retry jitter does not need crypto rand
}

// DefaultStrategy is what the executor uses when a host configures
// nothing: exponential with full jitter, 1s base, 1m cap.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(time.Second, time.Minute)
}
