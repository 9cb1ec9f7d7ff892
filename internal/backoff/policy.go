// Package backoff computes exponential retry delays with jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines an exponential backoff curve.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Jitter adds up to Jitter*delay of random spread, in [0, 1].
	Jitter float64
}

// ReconnectPolicy is the curve realtime clients use between reconnect
// attempts: one second growing to at most five.
func ReconnectPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     5 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// DefaultPolicy is a general purpose curve for outbound calls.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the wait before the given attempt. Attempts start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not need a CSPRNG
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}
