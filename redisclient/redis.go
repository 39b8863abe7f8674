package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortenerhq/shortener/config"
)

// Client wraps a go-redis client, the one the cache package reads
// directly rather than through an extra abstraction layer.
type Client struct {
	*redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if REDIS_URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{Client: redis.NewClient(opt)}, nil
}

func (c *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Client.Ping(ctx).Err()
}
