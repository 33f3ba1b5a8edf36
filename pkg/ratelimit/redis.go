package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps a Redis sorted set per actor, scored by the
// failure's unix-microsecond timestamp, trims everything older than the
// window on every call, and returns the surviving count. This mirrors the
// teacher's atomic Lua-script token bucket, adapted from a refill/consume
// bucket to a trim/count sliding window.
//
// KEYS[1] = sorted-set key (e.g. "login_failures:alice")
// ARGV[1] = current unix-microsecond timestamp
// ARGV[2] = window size in microseconds
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cutoff = now - window

redis.call("ZREMRANGEBYSCORE", key, "-inf", cutoff)
local count = redis.call("ZCARD", key)
redis.call("EXPIRE", key, math.ceil(window / 1e6) + 1)
return count
`)

// RedisStore implements LimiterStore using a Redis sorted set per actor,
// for deployments running multiple API replicas against one audit head
// (spec.md §4.6 expansion).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the Redis instance at addr.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisStore) key(actorID string) string {
	return fmt.Sprintf("munin:login_failures:%s", actorID)
}

func (s *RedisStore) RecordFailure(ctx context.Context, actorID string) error {
	now := time.Now().UnixMicro()
	if err := s.client.ZAdd(ctx, s.key(actorID), redis.Z{Score: float64(now), Member: now}).Err(); err != nil {
		return fmt.Errorf("ratelimit: record failure: %w", err)
	}
	return nil
}

func (s *RedisStore) FailureCount(ctx context.Context, actorID string, window time.Duration) (int, error) {
	now := time.Now().UnixMicro()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{s.key(actorID)}, now, window.Microseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: failure count: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("ratelimit: unexpected script response %T", res)
	}
	return int(count), nil
}

func (s *RedisStore) Reset(ctx context.Context, actorID string) error {
	if err := s.client.Del(ctx, s.key(actorID)).Err(); err != nil {
		return fmt.Errorf("ratelimit: reset: %w", err)
	}
	return nil
}
