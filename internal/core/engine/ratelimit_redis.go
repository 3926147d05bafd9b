package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/llmgate/llmgate/internal/core"
)

// Scores are Redis server time in microseconds. Numbers are formatted with
// %d because Lua's default number formatting loses precision at this scale.
var acquireScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000000 + tonumber(t[2])
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', string.format('(%d', now - window))
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
  redis.call('ZADD', KEYS[1], string.format('%d', now), ARGV[3])
  redis.call('PEXPIRE', KEYS[1], math.floor(window / 1000) + 1000)
  return {1, count + 1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {0, count, tonumber(oldest[2]) + window - now + 1}
`)

var usageScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000000 + tonumber(t[2])
local window = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', string.format('(%d', now - window))
local count = redis.call('ZCARD', KEYS[1])
if count == 0 then
  return {0, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {count, tonumber(oldest[2]) + window - now + 1}
`)

// RedisWindow is a WindowBackend shared by every process using the same key.
// Each admission is one atomic script run using the Redis server clock.
type RedisWindow struct {
	client redis.UniversalClient
	key    string
	rpm    int
}

// WindowKey builds the Redis key for an endpoint window.
func WindowKey(prefix, endpointID string) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return "window:" + endpointID
	}
	return prefix + ":window:" + endpointID
}

// NewRedisWindow returns a shared window admitting at most rpm calls per minute.
func NewRedisWindow(client redis.UniversalClient, key string, rpm int) (*RedisWindow, error) {
	if rpm <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRPM, rpm)
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("redis window key is required")
	}
	return &RedisWindow{client: client, key: key, rpm: rpm}, nil
}

// Key returns the Redis key holding the window.
func (w *RedisWindow) Key() string {
	return w.key
}

// Limit returns the window capacity.
func (w *RedisWindow) Limit() int {
	return w.rpm
}

// TryAcquire runs the admission script.
func (w *RedisWindow) TryAcquire(ctx context.Context) (Admission, error) {
	vals, err := acquireScript.Run(ctx, w.client, []string{w.key},
		WindowDuration.Microseconds(), w.rpm, uuid.NewString()).Int64Slice()
	if err != nil {
		return Admission{}, fmt.Errorf("redis window %s: %w", w.key, err)
	}
	if len(vals) != 3 {
		return Admission{}, fmt.Errorf("redis window %s: unexpected script reply %v", w.key, vals)
	}
	return Admission{
		Admitted:   vals[0] == 1,
		Used:       int(vals[1]),
		RetryAfter: time.Duration(vals[2]) * time.Microsecond,
	}, nil
}

// Usage reports current occupancy.
func (w *RedisWindow) Usage(ctx context.Context) (core.WindowUsage, error) {
	vals, err := usageScript.Run(ctx, w.client, []string{w.key}, WindowDuration.Microseconds()).Int64Slice()
	if err != nil {
		return core.WindowUsage{}, fmt.Errorf("redis window %s: %w", w.key, err)
	}
	if len(vals) != 2 {
		return core.WindowUsage{}, fmt.Errorf("redis window %s: unexpected script reply %v", w.key, vals)
	}
	used := int(vals[0])
	usage := core.WindowUsage{
		Used:      used,
		Limit:     w.rpm,
		Remaining: w.rpm - used,
	}
	if usage.Remaining <= 0 {
		usage.Remaining = 0
		usage.RetryAfter = time.Duration(vals[1]) * time.Microsecond
	}
	return usage, nil
}

// Reset deletes the window key.
func (w *RedisWindow) Reset(ctx context.Context) error {
	if err := w.client.Del(ctx, w.key).Err(); err != nil {
		return fmt.Errorf("redis window %s: %w", w.key, err)
	}
	return nil
}
