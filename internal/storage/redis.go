package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campaign-runner/internal/config"
	apperrors "github.com/campaign-runner/internal/errors"
)

// NewRedisClient builds a client without requiring Redis to be up; go-redis
// dials lazily, so a store created while Redis is down starts working once it returns.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolTimeout:  3 * time.Second,
	})
}

// RedisStateStore keeps records under a key prefix, optionally expiring them
type RedisStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStateStore creates a store; ttl of zero keeps records forever
func NewRedisStateStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStateStore) key(k string) string {
	return r.prefix + k
}

// Ping checks if Redis is reachable
func (r *RedisStateStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Put stores a record
func (r *RedisStateStore) Put(ctx context.Context, key string, record []byte) error {
	if err := r.client.Set(ctx, r.key(key), record, r.ttl).Err(); err != nil {
		return apperrors.NewStorageError("redis", "put", err)
	}
	return nil
}

// Get retrieves a record or ErrNotFound
func (r *RedisStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, apperrors.NewStorageError("redis", "get", err)
	}
	return raw, nil
}

// Delete removes a record; deleting a missing key is not an error
func (r *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return apperrors.NewStorageError("redis", "delete", err)
	}
	return nil
}
