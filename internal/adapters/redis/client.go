package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"onboardr/internal/adapters/config"
	"onboardr/internal/cache"
	"onboardr/pkg/errors"
)

const scanBatch = 200

var _ cache.ExternalStore = (*Client)(nil)

// Client wraps the Redis client and serves as the cache's external tier
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr())
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing go-redis client
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Client returns the underlying Redis client
func (c *Client) Client() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get retrieves raw bytes; a missing key is not an error
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores raw bytes. go-redis switches to PX for sub-second TTLs so
// expiry keeps millisecond precision.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// MGet fetches several keys in one round trip
func (c *Client) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Del deletes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Keys lists keys under prefix using SCAN so large keyspaces do not block Redis
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)

	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
