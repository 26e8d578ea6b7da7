package reactivesync

import (
	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/engine"
	"github.com/huykn/reactive-sync/storage"
)

// ErrNotFound is returned when a record or snapshot does not exist.
var ErrNotFound = storage.ErrNotFound

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrUnknownScope is returned for scopes without a registered fetcher.
var ErrUnknownScope = cache.ErrUnknownScope

// ErrInvalidConfig is returned when the engine configuration is invalid.
var ErrInvalidConfig = engine.ErrInvalidConfig

// ErrUnsupportedVerb is returned for write verbs that map to no action.
var ErrUnsupportedVerb = storage.ErrUnsupportedVerb

// ErrRedisConnection is returned when Redis connection fails.
var ErrRedisConnection = storage.ErrConnection

// RefreshError carries the per-scope failures of a refresh cycle.
type RefreshError = engine.RefreshError
