package memory

import (
	"context"
	"sync"
	"time"

	"funnel-bot/internal/cache"
	"funnel-bot/internal/domain"
)

// Cache is the read-through tier in front of the durable turn log.
type Cache interface {
	Get(ctx context.Context, subscriberID string) ([]domain.Turn, bool, error)
	Set(ctx context.Context, subscriberID string, turns []domain.Turn) error
	Delete(ctx context.Context, subscriberID string) error
}

type localEntry struct {
	turns    []domain.Turn
	storedAt time.Time
}

// LocalCache is an in-process TTL cache. A background sweep evicts expired entries
// until Close is called.
type LocalCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	ttl     time.Duration
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalCache starts the sweeper. sweepEvery defaults to ttl.
func NewLocalCache(ttl, sweepEvery time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = ttl
	}
	c := &LocalCache{
		entries: make(map[string]localEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepEvery)
	return c
}

func (c *LocalCache) Get(_ context.Context, subscriberID string) ([]domain.Turn, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[subscriberID]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		return nil, false, nil
	}
	return append([]domain.Turn(nil), e.turns...), true, nil
}

func (c *LocalCache) Set(_ context.Context, subscriberID string, turns []domain.Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[subscriberID] = localEntry{turns: append([]domain.Turn(nil), turns...), storedAt: c.now()}
	return nil
}

func (c *LocalCache) Delete(_ context.Context, subscriberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subscriberID)
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper and waits for it to exit.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *LocalCache) sweepLoop(every time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *LocalCache) sweep() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// RedisCache stores history as JSON in Redis; expiry is left to Redis.
type RedisCache struct {
	redis *cache.Redis
	ttl   time.Duration
}

// NewRedisCache wraps the shared Redis client.
func NewRedisCache(r *cache.Redis, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{redis: r, ttl: ttl}
}

func (c *RedisCache) key(subscriberID string) string {
	return c.redis.Key("history", subscriberID)
}

func (c *RedisCache) Get(ctx context.Context, subscriberID string) ([]domain.Turn, bool, error) {
	var turns []domain.Turn
	ok, err := c.redis.GetJSON(ctx, c.key(subscriberID), &turns)
	if err != nil || !ok {
		return nil, false, err
	}
	return turns, true, nil
}

func (c *RedisCache) Set(ctx context.Context, subscriberID string, turns []domain.Turn) error {
	return c.redis.SetJSON(ctx, c.key(subscriberID), turns, c.ttl)
}

func (c *RedisCache) Delete(ctx context.Context, subscriberID string) error {
	return c.redis.Delete(ctx, c.key(subscriberID))
}
