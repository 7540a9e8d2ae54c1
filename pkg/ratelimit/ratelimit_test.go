package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

func TestLocalLimiterAllowsQuotaImmediately(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter("SALESFORCE", ratelimit.Quota{Tokens: 5, Interval: time.Hour})

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, limiter.TryAcquire())
}

func TestLocalLimiterBlocksUntilContextEnds(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter("SALESFORCE", ratelimit.Quota{Tokens: 1, Interval: time.Hour})
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(ctx)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.True(t, apperrors.IsRateLimitExceeded(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLimiterReleasesWaiterWhenTokenRefills(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter("HUBSPOT", ratelimit.Quota{Tokens: 1, Interval: 30 * time.Millisecond})
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, limiter.Wait(ctx))
}

// fakeBucket hands out tokens until empty, then reports a fixed refill wait.
type fakeBucket struct {
	mu      sync.Mutex
	tokens  int
	refill  time.Duration
	calls   int
	lastKey string
	err     error
}

func (b *fakeBucket) Take(_ context.Context, key string, _ int64, _ time.Duration) (bool, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.lastKey = key
	if b.err != nil {
		return false, 0, b.err
	}
	if b.tokens > 0 {
		b.tokens--
		return true, 0, nil
	}
	b.tokens = 1
	return false, b.refill, nil
}

func TestRedisLimiterWaitsForRefill(t *testing.T) {
	bucket := &fakeBucket{refill: 20 * time.Millisecond}
	limiter := ratelimit.NewRedisLimiter("ZOHO", bucket, ratelimit.Quota{Tokens: 1, Interval: time.Minute})

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 2, bucket.calls)
	assert.Equal(t, "ZOHO", bucket.lastKey)
}

func TestRedisLimiterHonorsContext(t *testing.T) {
	bucket := &fakeBucket{refill: time.Hour}
	limiter := ratelimit.NewRedisLimiter("ZOHO", bucket, ratelimit.Quota{Tokens: 1, Interval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.True(t, apperrors.IsRateLimitExceeded(limiter.Wait(ctx)))
}

func TestRedisLimiterStoreFailureIsInternal(t *testing.T) {
	bucket := &fakeBucket{err: errors.New("connection refused")}
	limiter := ratelimit.NewRedisLimiter("PIPEDRIVE", bucket, ratelimit.Quota{})

	err := limiter.Wait(context.Background())
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
}
