package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a distributed token bucket backed by Redis, used to throttle
// job creation and chat streams per client.
type Limiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// Decision is the outcome of one Allow call. RetryAfter is a best-effort
// estimate of when the next token becomes available; zero when allowed.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// New constructs a limiter with the provided capacity and refill rate.
func New(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes a single token for the given key if available.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{key}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run bucket script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("unexpected bucket script reply: %T", res)
	}

	d := Decision{Allowed: arr[0].(int64) == 1}
	switch v := arr[1].(type) {
	case int64:
		d.Remaining = float64(v)
	case float64:
		d.Remaining = v
	case string:
		// Lua numbers come back truncated; the script stringifies the
		// fractional remainder instead.
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Remaining = f
		}
	}
	if !d.Allowed && l.refill > 0 {
		deficit := 1 - d.Remaining
		if deficit < 0 {
			deficit = 0
		}
		d.RetryAfter = time.Duration(deficit / l.refill * float64(time.Second))
	}
	return d, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
