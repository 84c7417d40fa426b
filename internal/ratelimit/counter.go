package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCounterUnavailable indicates the reservation backend could not be reached.
var ErrCounterUnavailable = errors.New("rate limit counter unavailable")

// Counter is a fixed-window counter of reservations per key.
type Counter interface {
	// Reserve adds one to key unless that would exceed limit.
	Reserve(ctx context.Context, key string, limit int, window time.Duration) (Grant, error)
	// Release gives back one reservation taken in the window identified by windowID. It does nothing
	// once that window has ended, so a late release cannot lower a newer window's count.
	Release(ctx context.Context, key, windowID string) error
}

// Grant is the outcome of Reserve. When refused, RetryAfter is the time left in the window.
type Grant struct {
	OK         bool
	RetryAfter time.Duration
	WindowID   string
}

// reserveScript increments the counter, starts the window on the first hit, and undoes the
// increment when the limit is exceeded. A new window is tagged with ARGV[3].
// Returns {allowed, pttl, window id}.
var reserveScript = redis.NewScript(`
local current = redis.call('HINCRBY', KEYS[1], 'n', 1)
local ttl = redis.call('PTTL', KEYS[1])
if current == 1 or ttl < 0 then
	redis.call('HSET', KEYS[1], 'w', ARGV[3])
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
local id = redis.call('HGET', KEYS[1], 'w')
if current > tonumber(ARGV[1]) then
	redis.call('HINCRBY', KEYS[1], 'n', -1)
	return {0, ttl, id}
end
return {1, ttl, id}
`)

// releaseScript decrements only while the window tagged ARGV[1] is still current.
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'w') ~= ARGV[1] then
	return 0
end
local current = redis.call('HINCRBY', KEYS[1], 'n', -1)
if current <= 0 then
	redis.call('DEL', KEYS[1])
end
return current
`)

// RedisCounter keeps reservations in Redis so every API instance shares one budget per IP.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounter returns a Counter storing keys under prefix.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{redis: client, prefix: prefix}
}

// Reserve implements Counter with a single Lua script, so concurrent callers cannot overshoot limit.
func (c *RedisCounter) Reserve(ctx context.Context, key string, limit int, window time.Duration) (Grant, error) {
	res, err := reserveScript.Run(ctx, c.redis, []string{c.prefix + key}, limit, window.Milliseconds(), uuid.NewString()).Slice()
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	if len(res) != 3 {
		return Grant{}, fmt.Errorf("%w: unexpected reply %v", ErrCounterUnavailable, res)
	}
	allowed, _ := res[0].(int64)
	ttl, _ := res[1].(int64)
	id, _ := res[2].(string)
	return Grant{OK: allowed == 1, RetryAfter: time.Duration(ttl) * time.Millisecond, WindowID: id}, nil
}

// Release implements Counter.
func (c *RedisCounter) Release(ctx context.Context, key, windowID string) error {
	if err := releaseScript.Run(ctx, c.redis, []string{c.prefix + key}, windowID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
	}
	return nil
}

// MemoryCounter is an in-process Counter for single-instance deployments and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	id      string
	count   int
	expires time.Time
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*window), now: time.Now}
}

// Reserve implements Counter.
func (c *MemoryCounter) Reserve(_ context.Context, key string, limit int, d time.Duration) (Grant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &window{id: uuid.NewString(), expires: now.Add(d)}
		c.windows[key] = w
	}
	g := Grant{RetryAfter: w.expires.Sub(now), WindowID: w.id}
	if w.count >= limit {
		return g, nil
	}
	w.count++
	g.OK = true
	return g, nil
}

// Release implements Counter.
func (c *MemoryCounter) Release(_ context.Context, key, windowID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[key]
	if !ok || w.id != windowID || !c.now().Before(w.expires) {
		return nil
	}
	w.count--
	if w.count <= 0 {
		delete(c.windows, key)
	}
	return nil
}
