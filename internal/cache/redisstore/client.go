// Package redisstore wraps the Redis client operations used by the search
// cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wayfinder-foundry/stac-scope/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns (nil, nil) on a miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", "miss")
		return nil, nil
	}
	if err != nil {
		observability.ObserveCacheOp("get", "error")
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	observability.ObserveCacheOp("get", "hit")
	return v, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		observability.ObserveCacheOp("set", "error")
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	observability.ObserveCacheOp("set", "ok")
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		observability.ObserveCacheOp("del", "error")
		return 0, fmt.Errorf("redis del %d keys: %w", len(keys), err)
	}
	observability.ObserveCacheOp("del", "ok")
	return n, nil
}

// IndexAdd records key under the named set and keeps the set from outliving
// its members for too long.
func (c *Client) IndexAdd(ctx context.Context, index, key string, ttl time.Duration) error {
	if err := c.rdb.SAdd(ctx, index, key).Err(); err != nil {
		observability.ObserveCacheOp("index_add", "error")
		return fmt.Errorf("redis sadd %q: %w", index, err)
	}
	if ttl > 0 {
		_ = c.rdb.Expire(ctx, index, 2*ttl).Err()
	}
	observability.ObserveCacheOp("index_add", "ok")
	return nil
}

func (c *Client) IndexMembers(ctx context.Context, index string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, index).Result()
	if err != nil {
		observability.ObserveCacheOp("index_members", "error")
		return nil, fmt.Errorf("redis smembers %q: %w", index, err)
	}
	observability.ObserveCacheOp("index_members", "ok")
	return members, nil
}

func (c *Client) Close() error { return c.rdb.Close() }
