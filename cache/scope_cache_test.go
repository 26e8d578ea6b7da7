package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Clear(ctx context.Context) error { return nil }
func (m *memoryStore) Close() error                    { return nil }

func newTestScopeCache(t *testing.T, store Store) *ScopeCache {
	t.Helper()
	opts := DefaultOptions()
	opts.LocalCacheFactory = NewLRUCacheFactory(64)
	opts.Store = store
	sc, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create scope cache: %v", err)
	}
	t.Cleanup(func() { sc.Close() })
	return sc
}

func TestScopeCacheGetLoadsOnceThenHits(t *testing.T) {
	sc := newTestScopeCache(t, nil)
	var calls int32
	sc.Register("users", func(ctx context.Context) (any, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	})

	ctx := context.Background()
	v, err := sc.Get(ctx, "users")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != 1 {
		t.Fatalf("Expected first load value 1, got %v", v)
	}

	v, _ = sc.Get(ctx, "users")
	if v != 1 || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("Second Get should hit the local entry, value=%v calls=%d", v, calls)
	}

	stats := sc.Stats()
	if stats.LocalHits != 1 || stats.Refetches != 1 {
		t.Fatalf("Unexpected stats %+v", stats)
	}
}

func TestScopeCacheInvalidateForcesLazyReload(t *testing.T) {
	sc := newTestScopeCache(t, nil)
	var calls int32
	sc.Register("schools", func(ctx context.Context) (any, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	})

	ctx := context.Background()
	sc.Get(ctx, "schools")
	sc.Invalidate("schools")
	sc.Invalidate("schools")

	if !sc.IsStale("schools") {
		t.Fatal("Scope should be stale after Invalidate")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatal("Invalidate must not fetch")
	}

	v, _ := sc.Get(ctx, "schools")
	if v != 2 {
		t.Fatalf("Expected reload after invalidation, got %v", v)
	}
	if sc.IsStale("schools") {
		t.Fatal("Scope should be fresh after reload")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("Double invalidation should cause a single reload, got %d fetches", calls)
	}
}

func TestScopeCacheObserve(t *testing.T) {
	sc := newTestScopeCache(t, nil)

	if sc.IsActive("classes") {
		t.Fatal("Unobserved scope should not be active")
	}

	release1 := sc.Observe("classes")
	release2 := sc.Observe("classes")
	if !sc.IsActive("classes") {
		t.Fatal("Observed scope should be active")
	}

	release1()
	release1()
	if !sc.IsActive("classes") {
		t.Fatal("Repeated release should only count once")
	}

	release2()
	if sc.IsActive("classes") {
		t.Fatal("Scope should be inactive after all releases")
	}
}

func TestScopeCacheLastCompletionWins(t *testing.T) {
	sc := newTestScopeCache(t, nil)

	releaseFirst := make(chan struct{})
	var issued int32
	sc.Register("users", func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&issued, 1)
		if n == 1 {
			<-releaseFirst
			return "t0", nil
		}
		return "t1", nil
	})

	ctx := context.Background()
	firstDone := make(chan error, 1)
	go func() { firstDone <- sc.Refetch(ctx, "users") }()

	for atomic.LoadInt32(&issued) < 1 {
		time.Sleep(time.Millisecond)
	}
	if err := sc.Refetch(ctx, "users"); err != nil {
		t.Fatalf("Second refetch failed: %v", err)
	}
	close(releaseFirst)
	if err := <-firstDone; err != nil {
		t.Fatalf("First refetch failed: %v", err)
	}

	v, found := sc.Peek("users")
	if !found || v != "t0" {
		t.Fatalf("Expected the later-completing response t0, got %v", v)
	}
}

func TestScopeCacheInvalidationDuringRefetchKeepsStale(t *testing.T) {
	sc := newTestScopeCache(t, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	sc.Register("dashboard-stats", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "old", nil
	})

	done := make(chan error, 1)
	go func() { done <- sc.Refetch(context.Background(), "dashboard-stats") }()
	<-started
	sc.Invalidate("dashboard-stats")
	close(release)
	<-done

	if !sc.IsStale("dashboard-stats") {
		t.Fatal("An invalidation during a refetch must keep the scope stale")
	}
}

func TestScopeCacheRefetchFailure(t *testing.T) {
	sc := newTestScopeCache(t, nil)
	boom := errors.New("boom")
	sc.Register("enrollments", func(ctx context.Context) (any, error) { return nil, boom })
	sc.Invalidate("enrollments")

	if err := sc.Refetch(context.Background(), "enrollments"); !errors.Is(err, boom) {
		t.Fatalf("Expected fetcher error, got %v", err)
	}
	if !sc.IsStale("enrollments") {
		t.Fatal("Failed refetch must leave the scope stale")
	}
	if sc.Stats().RefetchFailures != 1 {
		t.Fatal("Failure should be counted")
	}
}

func TestScopeCacheUnknownScope(t *testing.T) {
	sc := newTestScopeCache(t, nil)

	if err := sc.Refetch(context.Background(), "nope"); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("Expected ErrUnknownScope, got %v", err)
	}
	if _, err := sc.Get(context.Background(), "nope"); !errors.Is(err, ErrUnknownScope) {
		t.Fatalf("Expected ErrUnknownScope, got %v", err)
	}
	if err := sc.Register("nope", nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig for nil fetcher, got %v", err)
	}
}

func TestScopeCacheInvalidateIgnoresUnseenScopes(t *testing.T) {
	sc := newTestScopeCache(t, nil)
	sc.Register("users", func(ctx context.Context) (any, error) { return nil, nil })

	for i := 0; i < 100; i++ {
		sc.Invalidate(ScopeKey(fmt.Sprintf("bogus-%d", i)))
	}

	sc.mu.Lock()
	n := len(sc.scopes)
	sc.mu.Unlock()
	if n != 1 {
		t.Fatalf("Expected only the registered scope to be tracked, got %d entries", n)
	}
	if sc.IsStale("bogus-1") {
		t.Fatal("Unseen scope should not become stale")
	}
	if sc.Stats().Invalidations != 0 {
		t.Fatalf("Expected no invalidations counted, got %d", sc.Stats().Invalidations)
	}
	if !sc.Has("users") || sc.Has("bogus-1") {
		t.Fatal("Has should only report registered scopes")
	}
}

func TestScopeCacheSnapshotMirror(t *testing.T) {
	store := newMemoryStore()
	writer := newTestScopeCache(t, store)
	writer.Register("users", func(ctx context.Context) (any, error) {
		return map[string]any{"total": 7}, nil
	})
	if err := writer.Refetch(context.Background(), "users"); err != nil {
		t.Fatalf("Refetch failed: %v", err)
	}
	if _, err := store.Get(context.Background(), "scope:users"); err != nil {
		t.Fatal("Refetch should mirror the snapshot")
	}

	reader := newTestScopeCache(t, store)
	var fetched int32
	reader.Register("users", func(ctx context.Context) (any, error) {
		atomic.AddInt32(&fetched, 1)
		return nil, nil
	})

	v, err := reader.Get(context.Background(), "users")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m, ok := v.(map[string]any); !ok || m["total"] != float64(7) {
		t.Fatalf("Expected snapshot value, got %v", v)
	}
	if atomic.LoadInt32(&fetched) != 0 {
		t.Fatal("Cold Get should warm from the snapshot without fetching")
	}
	if reader.Stats().SnapshotHits != 1 {
		t.Fatal("Snapshot hit should be counted")
	}

	writer.Invalidate("users")
	if _, err := store.Get(context.Background(), "scope:users"); err == nil {
		t.Fatal("Invalidate should drop the mirrored snapshot")
	}
}

func TestScopeCacheClosed(t *testing.T) {
	sc := newTestScopeCache(t, nil)
	sc.Close()

	if err := sc.Register("users", func(ctx context.Context) (any, error) { return nil, nil }); err != ErrCacheClosed {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
	if _, err := sc.Get(context.Background(), "users"); err != ErrCacheClosed {
		t.Fatalf("Expected ErrCacheClosed, got %v", err)
	}
	if err := sc.Close(); err != nil {
		t.Fatalf("Second Close should be a no-op, got %v", err)
	}
}
