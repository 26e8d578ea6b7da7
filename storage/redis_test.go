package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRedisStore(t *testing.T, prefix string) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(RedisOptions{Addr: "localhost:6379", DB: 1, Prefix: prefix})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	store := newTestRedisStore(t, "test:snap:")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Set(ctx, "users", []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}

	value, err := store.Get(ctx, "users")
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}
	if string(value) != `[{"id":1}]` {
		t.Fatalf("Unexpected value %s", value)
	}

	raw, err := store.GetClient().Get(ctx, "test:snap:users").Result()
	if err != nil || raw != `[{"id":1}]` {
		t.Fatalf("Key should be written under the prefix, got %q (%v)", raw, err)
	}

	if err := store.Delete(ctx, "users"); err != nil {
		t.Fatalf("Failed to delete value: %v", err)
	}
	if _, err := store.Get(ctx, "users"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisStoreClearOnlyTouchesPrefix(t *testing.T) {
	store := newTestRedisStore(t, "test:clear:")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := store.GetClient()
	client.Set(ctx, "test:other", "keep", 0)
	defer client.Del(ctx, "test:other")

	for _, k := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Failed to set %s: %v", k, err)
		}
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, err := store.Get(ctx, k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected %s to be cleared, got %v", k, err)
		}
	}
	if v, _ := client.Get(ctx, "test:other").Result(); v != "keep" {
		t.Fatal("Clear must not remove keys outside the prefix")
	}
}

func TestRedisStoreTTL(t *testing.T) {
	store, err := NewRedisStore(RedisOptions{Addr: "localhost:6379", DB: 1, Prefix: "test:ttl:", TTL: time.Minute})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	store.Set(ctx, "users", []byte("x"))
	defer store.Delete(ctx, "users")

	ttl, err := store.GetClient().TTL(ctx, "test:ttl:users").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("Expected TTL within a minute, got %v", ttl)
	}
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(RedisOptions{Addr: "127.0.0.1:1"})
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected ErrConnection, got %v", err)
	}
}

func TestRedisStoreFromClientDoesNotOwnClient(t *testing.T) {
	store := newTestRedisStore(t, "")
	wrapped := NewRedisStoreFromClient(store.GetClient(), "test:wrapped:", 0)

	if err := wrapped.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.GetClient().Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Underlying client should stay open: %v", err)
	}
}
