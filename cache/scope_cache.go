package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = errors.New("scope cache is closed")

// ErrUnknownScope is returned when a scope has no registered fetcher.
var ErrUnknownScope = errors.New("unknown scope")

type scopeState struct {
	fetcher    Fetcher
	observers  int
	stale      bool
	generation uint64
}

// ScopeCache is the data-access layer behind the refresh engine. It keeps
// one entry per scope in a local cache, tracks which scopes are observed
// by views, marks scopes stale on invalidation, and optionally mirrors
// fetched snapshots to a remote Store.
type ScopeCache struct {
	local      LocalCache
	store      Store
	serializer Marshaller
	logger     Logger
	options    Options
	loads      singleflight.Group

	mu     sync.Mutex
	scopes map[ScopeKey]*scopeState

	closed int32
	stats  Stats
}

// New creates a new ScopeCache instance.
func New(opts Options) (*ScopeCache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLFUCacheFactory(opts.LocalCacheConfig)
	}
	if opts.Marshaller == nil {
		opts.Marshaller = NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	return &ScopeCache{
		local:      local,
		store:      opts.Store,
		serializer: opts.Marshaller,
		logger:     opts.Logger,
		options:    opts,
		scopes:     make(map[ScopeKey]*scopeState),
	}, nil
}

// Register binds a fetcher to a scope. Registering again replaces the fetcher.
// A freshly registered scope is cold, not stale: the first Get may warm it
// from the snapshot mirror before falling back to the fetcher.
func (sc *ScopeCache) Register(scope ScopeKey, fetcher Fetcher) error {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return ErrCacheClosed
	}
	if fetcher == nil {
		return fmt.Errorf("%w: nil fetcher for %s", ErrInvalidConfig, scope)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	st, ok := sc.scopes[scope]
	if !ok {
		st = &scopeState{}
		sc.scopes[scope] = st
	}
	st.fetcher = fetcher
	return nil
}

// Scopes returns the registered scopes in lexical order.
func (sc *ScopeCache) Scopes() []ScopeKey {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]ScopeKey, 0, len(sc.scopes))
	for k, st := range sc.scopes {
		if st.fetcher != nil {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Observe marks the scope as watched by one more view. The returned release
// function undoes it; calling release more than once has no further effect.
func (sc *ScopeCache) Observe(scope ScopeKey) (release func()) {
	sc.mu.Lock()
	st, ok := sc.scopes[scope]
	if !ok {
		st = &scopeState{}
		sc.scopes[scope] = st
	}
	st.observers++
	sc.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sc.mu.Lock()
			defer sc.mu.Unlock()
			if st := sc.scopes[scope]; st != nil && st.observers > 0 {
				st.observers--
			}
		})
	}
}

// IsActive reports whether at least one view observes the scope.
func (sc *ScopeCache) IsActive(scope ScopeKey) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st, ok := sc.scopes[scope]
	return ok && st.observers > 0
}

// IsStale reports whether the scope is marked stale.
func (sc *ScopeCache) IsStale(scope ScopeKey) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st, ok := sc.scopes[scope]
	return ok && st.stale
}

// Has reports whether a fetcher is registered for the scope.
func (sc *ScopeCache) Has(scope ScopeKey) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	st, ok := sc.scopes[scope]
	return ok && st.fetcher != nil
}

// Invalidate marks the scope stale. A refetch that is already in flight
// still stores its value when it completes but does not clear the mark.
// Scopes the cache has never seen are ignored.
func (sc *ScopeCache) Invalidate(scope ScopeKey) {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return
	}

	sc.mu.Lock()
	st, ok := sc.scopes[scope]
	if !ok {
		sc.mu.Unlock()
		return
	}
	st.stale = true
	st.generation++
	sc.mu.Unlock()

	atomic.AddInt64(&sc.stats.Invalidations, 1)
	if sc.options.DebugMode {
		sc.logger.Debug("Invalidate: marked scope stale", "scope", scope)
	}

	if sc.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sc.options.ContextTimeout)
		defer cancel()
		if err := sc.store.Delete(ctx, sc.snapshotKey(scope)); err != nil {
			sc.reportError("Invalidate: failed to drop snapshot", scope, err)
		}
	}
}

// Refetch loads the scope from its fetcher and stores the result. Entries
// are written in completion order, so the refetch that finishes last wins.
func (sc *ScopeCache) Refetch(ctx context.Context, scope ScopeKey) error {
	_, err := sc.refetch(ctx, scope)
	return err
}

func (sc *ScopeCache) refetch(ctx context.Context, scope ScopeKey) (any, error) {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return nil, ErrCacheClosed
	}

	sc.mu.Lock()
	st, ok := sc.scopes[scope]
	if !ok || st.fetcher == nil {
		sc.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	fetcher := st.fetcher
	generation := st.generation
	sc.mu.Unlock()

	if sc.options.DebugMode {
		sc.logger.Debug("Refetch: loading scope", "scope", scope)
	}

	value, err := fetcher(ctx)
	if err != nil {
		atomic.AddInt64(&sc.stats.RefetchFailures, 1)
		if sc.options.DebugMode {
			sc.logger.Debug("Refetch: fetcher failed", "scope", scope, "error", err)
		}
		return nil, err
	}

	sc.mu.Lock()
	sc.local.Set(string(scope), value, 1)
	if st.generation == generation {
		st.stale = false
	}
	sc.mu.Unlock()
	atomic.AddInt64(&sc.stats.Refetches, 1)

	sc.mirror(scope, value)
	return value, nil
}

// Get returns the current value of the scope. Stale or missing entries are
// loaded through the fetcher; concurrent cold loads of one scope share a
// single fetch.
func (sc *ScopeCache) Get(ctx context.Context, scope ScopeKey) (any, error) {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return nil, ErrCacheClosed
	}

	sc.mu.Lock()
	st, ok := sc.scopes[scope]
	if !ok || st.fetcher == nil {
		sc.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	stale := st.stale
	generation := st.generation
	sc.mu.Unlock()

	if !stale {
		if value, found := sc.local.Get(string(scope)); found {
			atomic.AddInt64(&sc.stats.LocalHits, 1)
			return value, nil
		}
		atomic.AddInt64(&sc.stats.LocalMisses, 1)

		if value, found := sc.loadSnapshot(ctx, scope, generation); found {
			return value, nil
		}
	}

	value, err, _ := sc.loads.Do(string(scope), func() (any, error) {
		return sc.refetch(ctx, scope)
	})
	return value, err
}

// Peek returns the cached value without loading or touching statistics
// beyond the local cache's own counters.
func (sc *ScopeCache) Peek(scope ScopeKey) (any, bool) {
	return sc.local.Get(string(scope))
}

// Stats returns scope cache statistics.
func (sc *ScopeCache) Stats() Stats {
	s := Stats{
		LocalHits:       atomic.LoadInt64(&sc.stats.LocalHits),
		LocalMisses:     atomic.LoadInt64(&sc.stats.LocalMisses),
		SnapshotHits:    atomic.LoadInt64(&sc.stats.SnapshotHits),
		SnapshotMisses:  atomic.LoadInt64(&sc.stats.SnapshotMisses),
		Refetches:       atomic.LoadInt64(&sc.stats.Refetches),
		RefetchFailures: atomic.LoadInt64(&sc.stats.RefetchFailures),
		Invalidations:   atomic.LoadInt64(&sc.stats.Invalidations),
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, st := range sc.scopes {
		if st.fetcher != nil {
			s.RegisteredScopes++
		}
		if st.observers > 0 {
			s.ObservedScopes++
		}
	}
	return s
}

// Close closes the cache and releases all resources.
func (sc *ScopeCache) Close() error {
	if !atomic.CompareAndSwapInt32(&sc.closed, 0, 1) {
		return nil
	}

	var err error
	if sc.store != nil {
		err = sc.store.Close()
	}
	sc.local.Close()
	return err
}

func (sc *ScopeCache) snapshotKey(scope ScopeKey) string {
	return sc.options.SnapshotPrefix + string(scope)
}

func (sc *ScopeCache) mirror(scope ScopeKey, value any) {
	if sc.store == nil {
		return
	}

	data, err := sc.serializer.Marshal(value)
	if err != nil {
		sc.reportError("Refetch: snapshot serialization failed", scope, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sc.options.ContextTimeout)
	defer cancel()
	if err := sc.store.Set(ctx, sc.snapshotKey(scope), data); err != nil {
		sc.reportError("Refetch: failed to mirror snapshot", scope, err)
	}
}

// loadSnapshot warms the local entry from the remote mirror. The value is
// only kept when no invalidation happened meanwhile.
func (sc *ScopeCache) loadSnapshot(ctx context.Context, scope ScopeKey, generation uint64) (any, bool) {
	if sc.store == nil {
		return nil, false
	}

	data, err := sc.store.Get(ctx, sc.snapshotKey(scope))
	if err != nil {
		atomic.AddInt64(&sc.stats.SnapshotMisses, 1)
		return nil, false
	}

	var value any
	if err := sc.serializer.Unmarshal(data, &value); err != nil {
		sc.reportError("Get: snapshot deserialization failed", scope, err)
		atomic.AddInt64(&sc.stats.SnapshotMisses, 1)
		return nil, false
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	st := sc.scopes[scope]
	if st == nil || st.generation != generation || st.stale {
		atomic.AddInt64(&sc.stats.SnapshotMisses, 1)
		return nil, false
	}
	sc.local.Set(string(scope), value, 1)
	atomic.AddInt64(&sc.stats.SnapshotHits, 1)
	return value, true
}

func (sc *ScopeCache) reportError(msg string, scope ScopeKey, err error) {
	if sc.options.OnError != nil {
		sc.options.OnError(err)
	}
	sc.logger.Warn(msg, "scope", scope, "error", err)
}
