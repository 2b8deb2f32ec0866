// Package redis owns the go-redis dependency. Adapters accept Cmdable and
// never import go-redis directly.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is a type alias for redis.Cmdable.
type Cmdable = redis.Cmdable

// Config holds the parameters needed to connect to a Redis instance.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dial, read and write individually.
	Timeout time.Duration
}

// Client wraps a go-redis client. RDB is the handle adapters use.
type Client struct {
	RDB *redis.Client
}

// NewClient creates a new Redis client configured from cfg. It does not
// connect; call Ping to fail fast at startup.
func NewClient(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	return &Client{RDB: rdb}
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}
