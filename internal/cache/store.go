package cache

import (
	"context"
	"time"
)

// ExternalStore is an optional shared key-value tier (Redis in production).
// Keys passed to it are already namespaced by the Manager.
type ExternalStore interface {
	// Get returns found=false on a miss
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// MGet returns one slot per key, nil for misses
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Del(ctx context.Context, keys ...string) error
	// Keys lists every key starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
