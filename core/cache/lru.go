package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a generic fixed-size LRU cache with hit/miss counters, wrapping
// hashicorp/golang-lru/v2. It backs the persistent backend's point-read
// object cache.
type LRU[K comparable, V any] struct {
	Cache *lru.Cache[K, V]
	hit   int64
	miss  int64
}

// NewLRUCache creates an LRU cache holding at most size entries.
func NewLRUCache[K comparable, V any](size int) *LRU[K, V] {
	c, _ := lru.New[K, V](size)
	return &LRU[K, V]{Cache: c}
}

// Add inserts or overwrites key with value, evicting the least recently
// used entry if the cache is full.
func (c *LRU[K, V]) Add(key K, value V) error {
	c.Cache.Add(key, value)
	return nil
}

// Get returns the cached value for key, counting a hit or a miss.
func (c *LRU[K, V]) Get(key K) (V, error) {
	v, ok := c.Cache.Get(key)
	if !ok {
		c.miss++
		var zero V
		return zero, ErrNotCached
	}
	c.hit++
	return v, nil
}

// Remove evicts key from the cache, if present.
func (c *LRU[K, V]) Remove(key K) {
	c.Cache.Remove(key)
}

// GetHit returns the cumulative hit count.
func (c *LRU[K, V]) GetHit() int64 {
	return c.hit
}

// GetMiss returns the cumulative miss count.
func (c *LRU[K, V]) GetMiss() int64 {
	return c.miss
}
