package secrets

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *cacheEntry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// CacheMetrics tracks cache performance statistics
type CacheMetrics struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	TotalReads int64
	TotalSize  int64
}

// HitRate calculates the cache hit rate as a percentage
func (m *CacheMetrics) HitRate() float64 {
	if m.TotalReads == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(m.TotalReads) * 100.0
}

// Cache is a TTL cache with a size bound. Resolved credential bundles live
// here so a long-running scheduler picks up rotated passwords once the TTL
// lapses, without calling Secrets Manager on every run.
type Cache[V any] struct {
	entries map[string]*cacheEntry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	mu      sync.Mutex
	metrics CacheMetrics
	stopCh  chan struct{}
	once    sync.Once
}

// NewCache creates a cache and starts its background cleanup.
func NewCache[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = 1
	}

	c := &Cache[V]{
		entries: make(map[string]*cacheEntry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Get returns the cached value and whether it was present and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalReads++

	entry, ok := c.entries[key]
	if !ok || entry.expired(c.now()) {
		c.metrics.Misses++
		var zero V
		return zero, false
	}

	c.metrics.Hits++
	return entry.value, true
}

// Set stores a value with TTL expiration
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictExpired()

		if len(c.entries) >= c.maxSize {
			c.evictOldest()
		}
	}

	c.entries[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	c.metrics.TotalSize = int64(len(c.entries))
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.metrics.TotalSize = int64(len(c.entries))
}

// Metrics returns a copy of the current cache metrics
func (c *Cache[V]) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Close stops the background cleanup goroutine
func (c *Cache[V]) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache[V]) cleanupLoop() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpired()
			c.metrics.TotalSize = int64(len(c.entries))
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// evictExpired must be called with the lock held.
func (c *Cache[V]) evictExpired() {
	now := c.now()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			c.metrics.Evictions++
		}
	}
}

// evictOldest must be called with the lock held.
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = entry.expiresAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.metrics.Evictions++
	}
}
