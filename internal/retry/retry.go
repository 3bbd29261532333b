// Package retry re-attempts outbound checkout calls with capped exponential
// backoff. Which errors are worth another attempt is the caller's decision.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// ShouldRetry classifies a failed attempt. Nil retries every error.
	ShouldRetry func(error) bool
	// OnRetry, if set, runs before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy: three attempts, 200ms doubling, capped at 2s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Backoff returns the wait after the given failed attempt (1-based): the
// doubled base delay, capped, with equal jitter so the result lies in
// [d/2, d].
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

// Do runs fn until it succeeds, ShouldRetry rejects the error, attempts run
// out or ctx ends. The last attempt's error is returned as-is; a cancelled
// ctx during backoff returns ctx.Err().
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || (p.ShouldRetry != nil && !p.ShouldRetry(err)) {
			return err
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
