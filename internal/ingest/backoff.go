package ingest

import (
	"math"
	"math/rand"
	"time"
)

// Backoff sizes the wait before retrying a failed gateway fetch. Waits grow
// geometrically from Min by Factor per attempt up to Max; Jitter spreads the
// result by +/- that fraction so parallel fetch workers do not retry in
// lockstep.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff provides conservative fetch-retry defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait duration for the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := float64(min) * math.Pow(factor, float64(attempt-1))
	if wait > float64(max) {
		wait = float64(max)
	}
	if jitter := math.Min(b.Jitter, 1); jitter > 0 {
		spread := wait * jitter
		wait += rand.Float64()*2*spread - spread
	}
	return time.Duration(wait)
}
