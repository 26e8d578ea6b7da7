package cache

import (
	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory builds Ristretto-backed scope stores from a shared config.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory returns the default LocalCacheFactory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create implements LocalCacheFactory.
func (f *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(f.config)
}

// LFUCache holds one entry per scope in a Ristretto cache. Admission is
// frequency based, so rarely read scopes are the first to go under
// pressure.
type LFUCache struct {
	entries  *lfu.Cache
	capacity int64
	counters localCounters
}

// NewLFUCache creates an LFU scope store.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	c := &LFUCache{capacity: config.MaxCost}
	entries, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict:            func(*lfu.Item) { c.counters.evicted() },
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

func (c *LFUCache) Get(key string) (any, bool) {
	value, found := c.entries.Get(key)
	c.counters.lookup(found)
	return value, found
}

// Set stores the entry and waits for Ristretto's write buffers to drain,
// so the next Get sees it. Refetches complete in order only if it does.
func (c *LFUCache) Set(key string, value any, cost int64) bool {
	admitted := c.entries.Set(key, value, cost)
	c.entries.Wait()
	return admitted
}

func (c *LFUCache) Delete(key string) { c.entries.Del(key) }
func (c *LFUCache) Clear()            { c.entries.Clear() }
func (c *LFUCache) Close()            { c.entries.Close() }

// Metrics reports lookups and evictions. Size is the configured MaxCost.
func (c *LFUCache) Metrics() LocalCacheMetrics {
	return c.counters.snapshot(c.capacity)
}
