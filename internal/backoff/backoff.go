// Package backoff provides restart delay strategies for the worker supervisor.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before restart attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(e.Initial, e.Max, attempt)
}

// ExponentialWithJitter returns a random delay in [Initial, min(Initial * 2^(attempt-1), Max)].
// The floor keeps a crashed worker from being respawned immediately.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration between Initial and the capped exponential bound.
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	upper := capped(e.Initial, e.Max, attempt)
	span := upper - e.Initial
	if span <= 0 {
		return upper
	}
	return e.Initial + time.Duration(rand.Int64N(int64(span)+1)) //nolint:gosec // jitter does not need crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && f > float64(maxDelay) {
		return maxDelay
	}
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// Names accepted by FromName.
const (
	NameConstant    = "constant"
	NameExponential = "exponential"
	NameJitter      = "jitter"
)

// FromName builds a strategy from its configured name.
func FromName(name string, initial, maxDelay time.Duration) (Strategy, error) {
	if initial <= 0 {
		return nil, fmt.Errorf("initial delay must be positive")
	}
	switch name {
	case NameConstant, "":
		return NewConstant(initial), nil
	case NameExponential:
		return NewExponential(initial, maxDelay), nil
	case NameJitter:
		return NewExponentialWithJitter(initial, maxDelay), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q (want %s, %s or %s)", name, NameConstant, NameExponential, NameJitter)
	}
}

// DefaultStrategy restarts after a fixed one second.
func DefaultStrategy() Strategy {
	return NewConstant(1 * time.Second)
}
