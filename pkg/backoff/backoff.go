// Package backoff holds the sleep and delay helpers shared by the polling
// workers and the ready-signal publisher.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Next doubles current, starting from base and capped at max.
func Next(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// WithJitter adds up to a quarter of d.
func WithJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	window := int64(d / 4)
	if window <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(window))
}
