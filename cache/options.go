package cache

import (
	"errors"
	"time"
)

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int
}

// Options configures a ScopeCache instance.
type Options struct {
	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the Ristretto factory.
	LocalCacheFactory LocalCacheFactory

	// Store mirrors fetched snapshots remotely. Optional.
	Store Store

	// SnapshotPrefix prefixes snapshot keys written to Store.
	SnapshotPrefix string

	// Marshaller serializes snapshots for Store.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds Store calls made without a caller context.
	ContextTimeout time.Duration

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default scope cache options.
func DefaultOptions() Options {
	return Options{
		LocalCacheConfig:  DefaultLocalCacheConfig(),
		LocalCacheFactory: nil, // Will default to Ristretto in New()
		SnapshotPrefix:    "scope:",
		ContextTimeout:    5 * time.Second,
		Marshaller:        nil, // Will default to JSON in New()
		Logger:            nil, // Will default to no-op in New()
		DebugMode:         false,
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
// Scopes are few, so the sizes are modest.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e4,
		MaxCost:            1 << 20,
		BufferItems:        64,
		IgnoreInternalCost: true,
		MaxSize:            1024,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.ContextTimeout <= 0 {
		return ErrInvalidConfig
	}
	if o.LocalCacheFactory == nil {
		if o.LocalCacheConfig.NumCounters <= 0 {
			return ErrInvalidConfig
		}
		if o.LocalCacheConfig.MaxCost <= 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = errors.New("invalid scope cache configuration")
