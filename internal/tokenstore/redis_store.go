package tokenstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "recurring:token:"

// RedisStore keeps one hash per shopper so tokens survive restarts and are
// visible to every instance pointed at the same Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix}
}

// NewRedisStoreFromURL parses a redis:// URL and connects.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tokenstore: connect redis: %w", err)
	}
	return NewRedisStore(client), nil
}

func (r *RedisStore) key(shopperReference string) string {
	return r.prefix + shopperReference
}

func (r *RedisStore) Put(ctx context.Context, shopperReference, token string) error {
	if err := validate(shopperReference, token); err != nil {
		observe("redis", "put", err)
		return err
	}

	key := r.key(shopperReference)
	now := strconv.FormatInt(time.Now().UnixNano(), 10)

	// MULTI keeps the overwrite and the created_at default atomic for the key.
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "token", token, "updated_at", now)
		pipe.HSetNX(ctx, key, "created_at", now)
		return nil
	})
	observe("redis", "put", err)
	if err != nil {
		return fmt.Errorf("tokenstore: put: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, shopperReference string) (*Token, error) {
	fields, err := r.client.HGetAll(ctx, r.key(shopperReference)).Result()
	if err != nil {
		observe("redis", "get", err)
		return nil, fmt.Errorf("tokenstore: get: %w", err)
	}
	token, ok := fields["token"]
	if !ok || token == "" {
		observe("redis", "get", ErrTokenNotFound)
		return nil, ErrTokenNotFound
	}
	observe("redis", "get", nil)
	return &Token{
		ShopperReference:         shopperReference,
		RecurringDetailReference: token,
		CreatedAt:                parseNanos(fields["created_at"]),
		UpdatedAt:                parseNanos(fields["updated_at"]),
	}, nil
}

func (r *RedisStore) Delete(ctx context.Context, shopperReference string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(shopperReference)).Result()
	observe("redis", "delete", err)
	if err != nil {
		return false, fmt.Errorf("tokenstore: delete: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Exists(ctx context.Context, shopperReference string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(shopperReference)).Result()
	observe("redis", "exists", err)
	if err != nil {
		return false, fmt.Errorf("tokenstore: exists: %w", err)
	}
	return n > 0, nil
}

// Ping checks Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func parseNanos(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Pinger = (*RedisStore)(nil)
)
