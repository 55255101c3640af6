package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"onboardr/internal/adapters/config"
	"onboardr/pkg/errors"
)

// Client wraps ClickHouse connection
type Client struct {
	conn driver.Conn
}

// NewClient opens a connection and verifies it with a ping
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to clickhouse")
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to ping clickhouse")
	}

	return &Client{conn: conn}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Health checks ClickHouse connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.conn.Ping(ctx)
}
