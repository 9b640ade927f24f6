package lrucache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"videoxt/internal/logging"
	"videoxt/internal/services"
)

// ComputeFunc produces the value for a missing key.
type ComputeFunc[K comparable, V any] func(K) (V, error)

// Stats reports cache activity counters.
type Stats struct {
	Name            string `json:"name"`
	Capacity        int    `json:"capacity"`
	Size            int    `json:"size"`
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	Evictions       uint64 `json:"evictions"`
	Invalidations   uint64 `json:"invalidations"`
	ComputeFailures uint64 `json:"computeFailures"`
}

// Cache is a fixed-capacity map with least recently used eviction.
type Cache[K comparable, V any] struct {
	name     string
	capacity int
	logger   *slog.Logger

	mu    sync.Mutex
	lru   *simplelru.LRU[K, V]
	stats Stats
}

// New constructs a cache holding at most capacity entries.
func New[K comparable, V any](name string, capacity int, logger *slog.Logger) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "lrucache", "new", fmt.Sprintf("cache %s capacity must be positive, got %d", name, capacity), nil)
	}
	c := &Cache[K, V]{
		name:     name,
		capacity: capacity,
		logger:   logging.NewComponentLogger(logger, "cache."+name),
	}
	lru, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru %s: %w", name, err)
	}
	c.lru = lru
	return c, nil
}

// Get returns the cached value for key or computes, stores, and returns it.
// A hit promotes key to most recently used. On a miss compute runs exactly
// once while the cache lock is held; if it fails the cache is left unchanged
// and the error is returned.
func (c *Cache[K, V]) Get(key K, compute ComputeFunc[K, V]) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, ok := c.lru.Get(key); ok {
		c.stats.Hits++
		return value, nil
	}
	c.stats.Misses++

	value, err := compute(key)
	if err != nil {
		c.stats.ComputeFailures++
		var zero V
		if services.HasMarker(err) {
			return zero, err
		}
		return zero, services.Wrap(services.ErrCompute, "lrucache", "compute", "cache "+c.name, err)
	}

	oldest, _, hasOldest := c.lru.GetOldest()
	if evicted := c.lru.Add(key, value); evicted {
		c.stats.Evictions++
		if hasOldest {
			c.logger.Debug("evicted entry", logging.Any("key", oldest))
		}
	}
	return value, nil
}

// Peek returns the cached value without computing or touching recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Invalidate removes key. It reports whether an entry was present.
func (c *Cache[K, V]) Invalidate(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	present := c.lru.Remove(key)
	if present {
		c.stats.Invalidations++
		c.logger.Debug("invalidated entry", logging.Any("key", key))
	}
	return present
}

// InvalidateFunc removes every key for which match returns true and returns
// the number removed.
func (c *Cache[K, V]) InvalidateFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range c.lru.Keys() {
		if match(key) && c.lru.Remove(key) {
			removed++
		}
	}
	c.stats.Invalidations += uint64(removed)
	return removed
}

// Contains reports whether key is cached without touching its recency or
// the hit and miss counters.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the entry limit the cache was built with.
func (c *Cache[K, V]) Capacity() int { return c.capacity }

// Name identifies the cache in stats and logs.
func (c *Cache[K, V]) Name() string { return c.name }

// Stats returns a snapshot of the activity counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Name = c.name
	s.Capacity = c.capacity
	s.Size = c.lru.Len()
	return s
}
