package reactivesync

import (
	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/notify"
	"github.com/huykn/reactive-sync/types"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheMetrics is an alias for cache.LocalCacheMetrics.
type LocalCacheMetrics = cache.LocalCacheMetrics

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// Store is an alias for cache.Store.
type Store = cache.Store

// Fetcher is an alias for cache.Fetcher.
type Fetcher = cache.Fetcher

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// ScopeKey is an alias for types.ScopeKey.
type ScopeKey = types.ScopeKey

// MutationEvent is an alias for types.MutationEvent.
type MutationEvent = types.MutationEvent

// PerformanceMetric is an alias for types.PerformanceMetric.
type PerformanceMetric = types.PerformanceMetric

// Notification is an alias for notify.Notification.
type Notification = notify.Notification

// Sink is an alias for notify.Sink.
type Sink = notify.Sink

// AllScopes requests a refresh of every known scope.
const AllScopes = types.AllScopes

// DefaultLocalCacheConfig returns default local cache configuration for Ristretto.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
