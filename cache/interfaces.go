package cache

import (
	"context"
	"sync/atomic"

	"github.com/huykn/reactive-sync/types"
)

// Logger defines the interface for logging across the synchronization engine.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller defines the interface for snapshot marshalling/unmarshalling.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache defines the interface for the in-process scope entry cache.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache.
	Set(key string, value any, cost int64) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// localCounters backs Metrics for the bundled local caches.
type localCounters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func (c *localCounters) lookup(found bool) {
	if found {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *localCounters) evicted() { c.evictions.Add(1) }

func (c *localCounters) snapshot(size int64) LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Store defines the interface for the remote snapshot mirror (e.g., Redis).
type Store interface {
	// Get retrieves a value from the store.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the store.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value from the store.
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the store.
	Clear(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Fetcher loads the current remote value of one scope.
type Fetcher func(ctx context.Context) (any, error)

// ScopeKey is an alias for types.ScopeKey.
type ScopeKey = types.ScopeKey

// Stats represents scope cache statistics.
type Stats struct {
	LocalHits        int64
	LocalMisses      int64
	SnapshotHits     int64
	SnapshotMisses   int64
	Refetches        int64
	RefetchFailures  int64
	Invalidations    int64
	ObservedScopes   int64
	RegisteredScopes int64
}
