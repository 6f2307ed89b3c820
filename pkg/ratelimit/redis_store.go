package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript maintains the window atomically in Redis.
// KEYS[1] = window key (e.g. "ratelimit:owner|create")
// ARGV[1] = window length in milliseconds
// ARGV[2] = max calls inside the window
// ARGV[3] = current unix time in milliseconds
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local max_calls = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
if count >= max_calls then
    return 0
end

redis.call("ZADD", key, now, now .. "-" .. count)
redis.call("PEXPIRE", key, window)
return 1
`)

// RedisStore implements Store on a shared Redis instance so quotas hold
// across engine replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a store to Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

// Allow executes the sliding-window script for one call.
func (s *RedisStore) Allow(ctx context.Context, key string, rule Rule, now time.Time) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{"ratelimit:" + key},
		rule.Window.Milliseconds(),
		rule.MaxCalls,
		now.UnixMilli(),
	).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid response from lua script")
	}
	return allowed == 1, nil
}
