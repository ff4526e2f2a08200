package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "exch:orders:rl:"

// INCR with expiry on first hit; returns {allowed, ttl_ms}.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  ttl = window_ms
end

if current > limit then
  return {0, ttl}
end
return {1, ttl}
`)

// RedisLimiter shares windows across exchange replicas.
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	windowMS := l.window.Milliseconds()
	if windowMS <= 0 {
		return false, 0, fmt.Errorf("invalid rate limit window %s", l.window)
	}

	vals, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.limit, windowMS).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply %v", vals)
	}
	if vals[0] == 1 {
		return true, 0, nil
	}
	return false, max(time.Duration(vals[1])*time.Millisecond, 0), nil
}
