package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheFactory builds bounded LRU scope stores.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory returns a factory for stores holding at most maxSize scopes.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create implements LocalCacheFactory.
func (f *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(f.maxSize)
}

// LRUCache holds at most maxSize scope entries and drops the least recently
// read one when full. Writes are synchronous and cost is ignored.
type LRUCache struct {
	entries  *lru.Cache[string, any]
	maxSize  int64
	counters localCounters
}

// NewLRUCache creates an LRU scope store. maxSize must be positive.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	c := &LRUCache{maxSize: int64(maxSize)}
	entries, err := lru.NewWithEvict(maxSize, func(string, any) { c.counters.evicted() })
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

func (c *LRUCache) Get(key string) (any, bool) {
	value, found := c.entries.Get(key)
	c.counters.lookup(found)
	return value, found
}

func (c *LRUCache) Set(key string, value any, _ int64) bool {
	c.entries.Add(key, value)
	return true
}

func (c *LRUCache) Delete(key string) { c.entries.Remove(key) }
func (c *LRUCache) Clear()            { c.entries.Purge() }
func (c *LRUCache) Close()            { c.entries.Purge() }

// Len returns the number of entries currently held.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// Metrics reports lookups and evictions. Size is the entry limit.
func (c *LRUCache) Metrics() LocalCacheMetrics {
	return c.counters.snapshot(c.maxSize)
}
