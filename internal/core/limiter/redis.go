package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/threadgate/threadgate/internal/core"
)

// DefaultRedisPrefix namespaces limiter keys in a shared Redis.
const DefaultRedisPrefix = "threadgate:ratelimit"

// incrementIfBelowScript returns {admitted, count, ttl_ms}.
var incrementIfBelowScript = goredis.NewScript(`
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = redis.call('GET', KEYS[1])
if not current then
  if max < 1 then
    return {0, 0, window}
  end
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window}
end
local count = tonumber(current)
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
if count < max then
  count = redis.call('INCR', KEYS[1])
  return {1, count, ttl}
end
return {0, count, ttl}
`)

// RedisStore keeps counters in Redis so several processes share one window.
// Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string

	// Clock anchors reset times reported by Get; defaults to time.Now in UTC.
	Clock func() time.Time
}

// NewRedisStore wraps a connected client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisStore) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

// IncrementIfBelow implements Store.
func (r *RedisStore) IncrementIfBelow(ctx context.Context, key string, max int, window time.Duration, now time.Time) (core.RateLimitEntry, bool, error) {
	if r == nil || r.client == nil {
		return core.RateLimitEntry{}, false, errors.New("redis store not configured")
	}
	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}

	res, err := incrementIfBelowScript.Run(ctx, r.client, []string{r.key(key)}, max, windowMS).Int64Slice()
	if err != nil {
		return core.RateLimitEntry{}, false, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(res) != 3 {
		return core.RateLimitEntry{}, false, fmt.Errorf("redis increment %s: unexpected reply %v", key, res)
	}

	entry := core.RateLimitEntry{
		Key:           key,
		Count:         int(res[1]),
		WindowResetAt: now.Add(time.Duration(res[2]) * time.Millisecond),
	}
	return entry, res[0] == 1, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (*core.RateLimitEntry, error) {
	fullKey := r.key(key)
	pipe := r.client.Pipeline()
	countCmd := pipe.Get(ctx, fullKey)
	ttlCmd := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	count, err := countCmd.Int()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return &core.RateLimitEntry{
		Key:           key,
		Count:         count,
		WindowResetAt: r.now().Add(ttl),
	}, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Sweep implements Store. Redis expires keys itself, so there is nothing to do.
func (r *RedisStore) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
