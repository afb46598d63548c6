package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Invalidator drops cached entries after the data behind them changed.
// Services receive it explicitly so every write path names what it invalidates.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Cache is a read-through store of JSON-encodable values
type Cache interface {
	Invalidator
	// Get decodes the entry stored under key into dest and reports whether it was found
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key. A zero ttl uses the cache's default expiration.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Options configures the in-memory cache
type Options struct {
	DefaultExpiration time.Duration
	CleanupInterval   time.Duration
	MaxItems          int
}

// item represents a cached entry with expiration
type item struct {
	value      []byte
	expiration int64
}

func (it item) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

// Memory is a thread-safe in-memory cache with expiration
type Memory struct {
	items             map[string]item
	mu                sync.RWMutex
	defaultExpiration time.Duration
	cleanupInterval   time.Duration
	maxItems          int
}

// NewMemory creates an in-memory cache. Call Run to purge expired entries periodically.
func NewMemory(opts Options) *Memory {
	return &Memory{
		items:             make(map[string]item),
		defaultExpiration: opts.DefaultExpiration,
		cleanupInterval:   opts.CleanupInterval,
		maxItems:          opts.MaxItems,
	}
}

// Get implements Cache
func (c *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.RLock()
	it, found := c.items[key]
	c.mu.RUnlock()

	if !found || it.expired(time.Now().UnixNano()) {
		return false, nil
	}
	if err := json.Unmarshal(it.value, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Cache
func (c *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.defaultExpiration
	}
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[key] = item{value: raw, expiration: exp}
	return nil
}

// Invalidate implements Invalidator
func (c *Memory) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

// InvalidatePrefix implements Invalidator
func (c *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

// Count returns the number of items in the cache (including expired items)
func (c *Memory) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Run deletes expired items every cleanup interval until ctx is done
func (c *Memory) Run(ctx context.Context) {
	if c.cleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.deleteExpired()
		}
	}
}

func (c *Memory) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest removes the entry closest to expiring. Entries without
// expiration are evicted first.
func (c *Memory) evictOldest() {
	var oldestKey string
	var oldestTime int64
	first := true

	for k, v := range c.items {
		if first || v.expiration < oldestTime {
			oldestKey = k
			oldestTime = v.expiration
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}

// Noop never stores anything. Used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Noop) Invalidate(context.Context, ...string) error           { return nil }
func (Noop) InvalidatePrefix(context.Context, string) error        { return nil }
