// Package throttle rate-limits job runs per owner over a sliding window.
// Excess runs queue until the window frees up rather than being rejected.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Reserver grants or defers a slot in a per-key sliding window.
type Reserver interface {
	// Reserve tries to claim a slot for key. When the window is full it
	// returns ok=false and the duration after which a slot should free up.
	Reserve(ctx context.Context, key string) (ok bool, wait time.Duration, err error)
}

// RedisWindow implements Reserver with a Redis sorted set per key: members
// are run markers scored by start time, trimmed to the trailing window. This
// keeps the window consistent across multiple worker processes.
type RedisWindow struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow builds a window allowing limit runs per key per window.
func NewRedisWindow(client *redis.Client, limit int, window time.Duration) *RedisWindow {
	if limit <= 0 {
		limit = 3
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisWindow{
		client: client,
		prefix: "throttle:runs:",
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// reserveScript trims the trailing window, checks capacity and claims a slot
// in one atomic evaluation, so concurrent workers cannot both take the last
// slot. KEYS[1] is the window zset; ARGV is now-millis, window-millis, limit,
// member. Replies {1, 0} on success or {0, wait-millis} when the window is
// full.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window + 1000)
  return {1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {0, tonumber(oldest[2]) + window - now}
`)

func (w *RedisWindow) Reserve(ctx context.Context, key string) (bool, time.Duration, error) {
	reply, err := reserveScript.Run(ctx, w.client,
		[]string{w.prefix + key},
		w.now().UnixMilli(), w.window.Milliseconds(), w.limit, uuid.NewString(),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("throttle: reserve slot: %w", err)
	}
	return parseReserve(reply, w.window)
}

// parseReserve decodes the script reply into a reservation decision.
func parseReserve(reply any, window time.Duration) (bool, time.Duration, error) {
	vals, ok := reply.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("throttle: unexpected reserve reply %v", reply)
	}
	allowed, allowedOK := vals[0].(int64)
	waitMillis, waitOK := vals[1].(int64)
	if !allowedOK || !waitOK {
		return false, 0, fmt.Errorf("throttle: unexpected reserve reply %v", reply)
	}
	if allowed == 1 {
		return true, 0, nil
	}
	wait := time.Duration(waitMillis) * time.Millisecond
	if wait <= 0 {
		wait = window / 10
	}
	return false, wait, nil
}
