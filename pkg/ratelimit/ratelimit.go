// Package ratelimit provides the per-provider token buckets that every
// outbound provider call must take a token from.
package ratelimit

import (
	"context"
	"time"
)

// Limiter blocks until a token is available. Callers bound the wait with
// their own context; a context that ends first yields a rate_limit_exceeded
// error.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Quota is a number of tokens replenished every Interval.
type Quota struct {
	Tokens   int
	Interval time.Duration
}

func (q Quota) normalized() Quota {
	if q.Tokens <= 0 {
		q.Tokens = 100
	}
	if q.Interval <= 0 {
		q.Interval = time.Minute
	}
	return q
}

func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
