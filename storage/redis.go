package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors scope snapshots in Redis so that other processes can
// warm cold scopes without hitting the relational store.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix scopes every key written by this store. Clear only removes
	// keys under it.
	Prefix string

	// TTL bounds how long a snapshot survives without being refreshed.
	// Zero keeps snapshots until they are invalidated.
	TTL time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Join(ErrConnection, err)
	}

	return &RedisStore{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		owned:  true,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. Close leaves the client open.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get retrieves a snapshot from Redis.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := rs.client.Get(ctx, rs.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Set stores a snapshot in Redis.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return rs.client.Set(ctx, rs.prefix+key, value, rs.ttl).Err()
}

// Delete removes a snapshot from Redis.
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	return rs.client.Del(ctx, rs.prefix+key).Err()
}

// Clear removes every key under the store prefix.
func (rs *RedisStore) Clear(ctx context.Context) error {
	iter := rs.client.Scan(ctx, 0, rs.prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := rs.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return rs.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Close closes the Redis connection when the store created it.
func (rs *RedisStore) Close() error {
	if !rs.owned {
		return nil
	}
	return rs.client.Close()
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() *redis.Client {
	return rs.client
}

// ErrNotFound is returned when a key is not found.
var ErrNotFound = errors.New("key not found in redis")

// ErrConnection is returned when Redis cannot be reached.
var ErrConnection = errors.New("redis connection failed")
