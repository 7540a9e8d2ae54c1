package ratelimit

import (
	"context"
	"time"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
)

// minPoll keeps a nearly-refilled bucket from turning into a busy loop.
const minPoll = 10 * time.Millisecond

// Bucket is the shared store behind RedisLimiter.
type Bucket interface {
	Take(ctx context.Context, key string, quota int64, interval time.Duration) (bool, time.Duration, error)
}

// RedisLimiter shares one provider quota across every replica.
type RedisLimiter struct {
	provider string
	bucket   Bucket
	quota    Quota
}

func NewRedisLimiter(provider string, bucket Bucket, quota Quota) *RedisLimiter {
	return &RedisLimiter{provider: provider, bucket: bucket, quota: quota.normalized()}
}

// Wait polls the shared bucket, sleeping until the reported refill, until a
// token is taken or ctx ends.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	for {
		ok, retryIn, err := l.bucket.Take(ctx, l.provider, int64(l.quota.Tokens), l.quota.Interval)
		if err != nil {
			if ctx.Err() != nil {
				return apperrors.RateLimitExceeded(l.provider, ctx.Err())
			}
			return apperrors.Internal("rate limiter unavailable", err)
		}
		if ok {
			return nil
		}
		if retryIn < minPoll {
			retryIn = minPoll
		}
		if err := waitFor(ctx, retryIn); err != nil {
			return apperrors.RateLimitExceeded(l.provider, err)
		}
	}
}
