package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
)

// LocalLimiter is an in-process token bucket. Each replica gets its own
// quota; RedisLimiter shares one across the fleet.
type LocalLimiter struct {
	provider string
	limiter  *rate.Limiter
}

// NewLocalLimiter starts full. Tokens trickle back at Tokens per Interval.
func NewLocalLimiter(provider string, quota Quota) *LocalLimiter {
	quota = quota.normalized()
	return &LocalLimiter{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(quota.Interval/time.Duration(quota.Tokens)), quota.Tokens),
	}
}

// Wait reserves a token and sleeps until it matures. The reservation is handed
// back if ctx ends first.
func (l *LocalLimiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return apperrors.RateLimitExceeded(l.provider, errors.New("reservation exceeds bucket size"))
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if err := waitFor(ctx, delay); err != nil {
		r.Cancel()
		return apperrors.RateLimitExceeded(l.provider, err)
	}
	return nil
}

// TryAcquire takes a token only if one is available now.
func (l *LocalLimiter) TryAcquire() bool {
	return l.limiter.Allow()
}
