package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/redis"
)

// liveClient needs a reachable redis at REDIS_ADDR.
func liveClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	client := redis.NewClientFromRedis(rdb, ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {}))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "localhost:6379", redis.Config{Host: "localhost", Port: 6379}.Addr())
}

func TestLockerLease(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()
	locker := redis.NewLocker(client, "fern:test:lock:")
	key := uuid.NewString()

	release, err := locker.Lease(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Lease(ctx, key, time.Minute)
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), redis.ErrLockNotHeld)

	release, err = locker.Lease(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestTokenBucketExhaustsThenReportsWait(t *testing.T) {
	client := liveClient(t)
	ctx := context.Background()
	bucket := redis.NewTokenBucket(client, "fern:test:bucket:")
	key := uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, _, err := bucket.Take(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, wait, err := bucket.Take(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Minute)
}
