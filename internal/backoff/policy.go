// Package backoff implements jittered exponential delays for retry loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the exponential growth applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added on top.
	Jitter float64
}

// Default returns the policy used for provider call retries.
func Default() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Quick returns a policy for short local retries such as scheduler
// delivery callbacks.
func Quick() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     5 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the backoff for a given attempt number. Attempts are
// 1-indexed; attempt 1 yields the Initial delay.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand computes the backoff using a provided random value in
// [0.0, 1.0), so tests can be deterministic.
func (p Policy) DelayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if limit := float64(p.Max); total > limit {
		total = limit
	}
	return time.Duration(total)
}
