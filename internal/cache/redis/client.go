// Package redis backs the agent's shared state with go-redis/v9: the price and
// instrument caches, persisted protection state, the REST rate limiter and
// the single-instance lock.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// clientName tags every connection so CLIENT LIST shows which process owns it.
const clientName = "bybot"

// ClientConfig holds connection parameters for the Redis client. A zero
// Timeout keeps the go-redis defaults.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Timeout    time.Duration
}

// Client owns the go-redis connection pool shared by every store in this
// package.
type Client struct {
	rdb *redis.Client
}

// New dials Redis and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: clientName,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts)}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping reports whether Redis answers. It doubles as the health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.rdb.Options().Addr, err)
	}
	return nil
}

// PoolStats returns connection pool counters for diagnostics.
func (c *Client) PoolStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the driver to the stores in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
