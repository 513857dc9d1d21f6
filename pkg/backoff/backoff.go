// Package backoff provides retry delay strategies for job execution.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultInitial is the base delay used when none is configured.
	DefaultInitial = time.Second
	// DefaultMax caps computed delays when none is configured.
	DefaultMax = time.Minute
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
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

// Exponential computes Initial * 2^attempt, capped at Max. The exponent is
// the attempt count itself, so attempt 1 already doubles the base delay.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^attempt, capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	initial := e.Initial
	if initial <= 0 {
		initial = DefaultInitial
	}
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(initial) * math.Pow(2, float64(attempt)))
	if d < initial {
		// Overflow on very large attempt counts.
		d = e.Max
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialWithJitter draws a random delay in [0, Exponential.Delay(n)].
// The jitter spreads simultaneous retries apart.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^attempt, Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := (&Exponential{Initial: e.Initial, Max: e.Max}).Delay(attempt)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter does not need crypto rand
}

// Default returns the strategy used by workers when none is configured:
// plain exponential with 1s base and 1m cap, keeping retry timing
// deterministic for a given attempt count.
func Default() Strategy {
	return NewExponential(DefaultInitial, DefaultMax)
}
