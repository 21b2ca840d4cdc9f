package httpretry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with full jitter:
// random(0, min(Max, Base * 2^(attempt-1))), floored at Min.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	Min  time.Duration
}

// DefaultBackoff matches the delays used for external API calls.
func DefaultBackoff() Backoff {
	return Backoff{Base: 1 * time.Second, Max: 30 * time.Second, Min: 100 * time.Millisecond}
}

// Delay returns the wait before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	expDelay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && expDelay > float64(b.Max) {
		expDelay = float64(b.Max)
	}

	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < b.Min {
		jittered = b.Min
	}
	return jittered
}

// Wait sleeps for the attempt's delay or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
