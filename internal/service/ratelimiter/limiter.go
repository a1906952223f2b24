// Package ratelimiter provides a Redis-backed token bucket for capping
// outbound AI calls across all instances of the service. The bucket state
// lives in Redis so concurrent workers share one budget; on Redis failure the
// limiter fails open rather than stalling the pipeline.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// PerMinute sizes a bucket for a calls-per-minute budget. Zero or negative
// budgets produce a zero config, which Allow treats as unlimited.
func PerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// RedisLimiter runs the token bucket as a Lua script so the
// read-refill-consume cycle is atomic under concurrent callers.
type RedisLimiter struct {
	rdb     *redis.Client
	script  *redis.Script
	mu      sync.RWMutex
	buckets map[string]BucketConfig
}

// NewRedisLimiter builds a limiter over the given buckets, keyed by logical
// name. A nil client yields a nil limiter, which allows everything.
func NewRedisLimiter(rdb *redis.Client, buckets map[string]BucketConfig) *RedisLimiter {
	if rdb == nil {
		return nil
	}
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &RedisLimiter{
		rdb:     rdb,
		script:  redis.NewScript(tokenBucketScript),
		buckets: buckets,
	}
}

const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_after_ms = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
elseif refill_rate > 0 then
  -- Reply values are integers, so report the wait in milliseconds.
  retry_after_ms = math.ceil((cost - tokens) / refill_rate * 1000)
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", key, math.ceil(capacity / math.max(refill_rate, 0.001)) + 60)

return { allowed, retry_after_ms }
`

// Allow consumes cost tokens from the named bucket. When the bucket is empty
// it returns allowed=false and how long to wait for enough tokens to refill.
// Unknown buckets and Redis errors allow the call.
func (l *RedisLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.rdb == nil {
		return true, 0, nil
	}
	l.mu.RLock()
	cfg, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	nowSec := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.rdb, []string{"rate:" + key}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("rate limiter script failed, allowing call",
			slog.String("key", key),
			slog.Any("error", err))
		return true, 0, fmt.Errorf("op=ratelimiter.Allow: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("rate limiter returned unexpected result",
			slog.String("key", key),
			slog.Any("result", res))
		return true, 0, nil
	}

	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toInt64(vals[1])) * time.Millisecond
	return allowed, retryAfter, nil
}

// SetBucket replaces the configuration of one bucket at runtime.
func (l *RedisLimiter) SetBucket(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[key] = cfg
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
