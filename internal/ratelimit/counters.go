package ratelimit

import (
	"context"
	"sync"
	"time"

	"funnel-bot/internal/cache"
)

// MemoryCounter keeps counts in process. Only correct for single-process deployments.
// Each key removes itself once its window has elapsed.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	now    func() time.Time
}

// NewMemoryCounter returns an empty in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts: make(map[string]int64),
		now:    time.Now,
	}
}

// Increment implements Counter.
func (c *MemoryCounter) Increment(_ context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, exists := c.counts[key]
	count++
	c.counts[key] = count
	if !exists {
		wait := windowStart.Add(window).Sub(c.now())
		if wait < 0 {
			wait = 0
		}
		time.AfterFunc(wait, func() { c.expire(key) })
	}
	return count, nil
}

// Len reports how many live keys the counter holds.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

func (c *MemoryCounter) expire(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
}

// RedisCounter keeps counts in Redis so several processes share one budget.
type RedisCounter struct {
	redis *cache.Redis
}

// NewRedisCounter wraps the shared Redis client.
func NewRedisCounter(r *cache.Redis) *RedisCounter {
	return &RedisCounter{redis: r}
}

// Increment implements Counter. Keys expire one window after the window start.
func (c *RedisCounter) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	ttl := time.Until(windowStart.Add(window))
	if ttl < time.Second {
		ttl = time.Second
	}
	return c.redis.IncrWithExpiry(ctx, c.redis.Key("rate", key), ttl)
}
