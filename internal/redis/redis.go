// Package redis wraps the go-redis client used for caches shared between
// API instances.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = goredis.Nil

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Client wraps a go-redis client.
type Client struct {
	inner *goredis.Client
}

// Connect creates the client and verifies the server answers.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	inner := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := inner.Ping(pingCtx).Err(); err != nil {
		inner.Close()
		return nil, err
	}
	return &Client{inner: inner}, nil
}

// Get fetches the key as string. A missing key returns ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.inner.Get(ctx, key).Result()
}

// Set stores a key with TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.inner.Set(ctx, key, value, ttl).Err()
}

// Del removes the provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) error {
	return c.inner.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription on channel. The caller must close it.
func (c *Client) Subscribe(ctx context.Context, channel string) *goredis.PubSub {
	return c.inner.Subscribe(ctx, channel)
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx).Err()
}

// Close closes the client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
