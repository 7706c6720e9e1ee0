// Package redis provides the shared Redis client component.
//
// The same connection backs three independent concerns: the retrieval
// result cache, the sliding-window rate limiter and the token budget
// counters. Each concern owns its own key prefix.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	options "github.com/ragdesk/ragdesk/pkg/options/redis"
)

// Client wraps a go-redis client constructed from options.
//
// Example usage:
//
//	opts := options.NewOptions()
//	opts.Host = "localhost"
//
//	client, err := redis.New(ctx, opts)
//	if err != nil {
//	    log.Fatalf("failed to create Redis client: %v", err)
//	}
//	defer client.Close()
//
//	rdb := client.Client()
//	err = rdb.Set(ctx, "key", "value", 0).Err()
type Client struct {
	client *goredis.Client
	opts   *options.Options
}

// New creates a new Redis client from the provided options and
// verifies connectivity with a ping bounded by ctx.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid redis options: %v", errs)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolTimeout:  opts.PoolTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Client{
		client: rdb,
		opts:   opts,
	}, nil
}

// Name returns the component identifier.
func (c *Client) Name() string {
	return "redis"
}

// Ping checks if the connection to Redis is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection. Safe to call multiple times.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health returns a health check function with a bounded timeout.
func (c *Client) Health() func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return c.Ping(ctx)
	}
}

// Client returns the underlying go-redis client.
func (c *Client) Client() *goredis.Client {
	return c.client
}

// Options returns the Redis options used by this client.
func (c *Client) Options() *options.Options {
	return c.opts
}

// Pipeline returns a Redis pipeline for batch operations.
func (c *Client) Pipeline() goredis.Pipeliner {
	return c.client.Pipeline()
}

// TxPipeline returns a transactional Redis pipeline.
func (c *Client) TxPipeline() goredis.Pipeliner {
	return c.client.TxPipeline()
}
