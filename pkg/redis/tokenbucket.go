package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first take in an interval starts the window; the bucket refills in full
// when the key expires.
var takeScript = redis.NewScript(`
local taken = redis.call("incr", KEYS[1])
if taken == 1 then
	redis.call("pexpire", KEYS[1], ARGV[2])
end
if taken <= tonumber(ARGV[1]) then
	return {1, 0}
end
local ttl = redis.call("pttl", KEYS[1])
if ttl < 0 then
	redis.call("pexpire", KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
return {0, ttl}
`)

// TokenBucket is a fixed-interval token bucket shared by every replica.
type TokenBucket struct {
	client    *Client
	keyPrefix string
}

func NewTokenBucket(client *Client, keyPrefix string) *TokenBucket {
	if keyPrefix == "" {
		keyPrefix = "fern:ratelimit:"
	}
	return &TokenBucket{client: client, keyPrefix: keyPrefix}
}

// Take tries to remove one token from key's bucket. When none are left it
// reports how long until the bucket refills.
func (b *TokenBucket) Take(ctx context.Context, key string, quota int64, interval time.Duration) (bool, time.Duration, error) {
	res, err := takeScript.Run(ctx, b.client.rdb, []string{b.keyPrefix + key}, quota, interval.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}
