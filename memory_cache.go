package cloudblob

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	value  string
	expire time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expire.IsZero() && now.After(e.expire)
}

// MemoryCache is an in-process Cache with per-entry TTL.
// Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		return "", ErrCacheMiss
	}
	if !e.expired(c.now()) {
		return e.value, nil
	}

	// Expired: re-check under the write lock before deleting.
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if e.expired(c.now()) {
		delete(c.data, key)
		return "", ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value under key. ttl <= 0 keeps the entry until overwritten.
func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expire time.Time
	if ttl > 0 {
		expire = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{value: value, expire: expire}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
