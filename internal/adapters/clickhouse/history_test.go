package clickhouse

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/internal/adapters/config"
	"onboardr/internal/domain/defi"
)

func testConfig(t *testing.T) config.ClickHouseConfig {
	t.Helper()

	host := os.Getenv("TEST_CLICKHOUSE_HOST")
	if host == "" {
		t.Skip("TEST_CLICKHOUSE_HOST not set")
	}
	port := 9000
	if p := os.Getenv("TEST_CLICKHOUSE_PORT"); p != "" {
		v, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = v
	}
	db := os.Getenv("TEST_CLICKHOUSE_DB")
	if db == "" {
		db = "default"
	}
	return config.ClickHouseConfig{
		Host:     host,
		Port:     port,
		User:     "default",
		Password: os.Getenv("TEST_CLICKHOUSE_PASSWORD"),
		Database: db,
	}
}

func TestHistoryStore_InsertAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClient(ctx, testConfig(t))
	require.NoError(t, err)
	defer client.Close()

	store := NewHistoryStore(client.Conn(), HistoryOptions{MaxBatchSize: 10})
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, client.Conn().Exec(ctx, "TRUNCATE TABLE "+snapshotsTable))

	base := time.Now().Add(-30 * time.Minute).Truncate(time.Hour)
	for i, tvl := range []float64{100, 200, 400} {
		require.NoError(t, store.InsertSnapshot(ctx, defi.MarketSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			TVL:       tvl,
			Volume24h: tvl / 10,
			PoolCount: 3,
		}))
	}
	require.NoError(t, store.Flush(ctx))

	tvl, err := store.TVLHistory(ctx, base.Add(-time.Minute), time.Hour)
	require.NoError(t, err)
	require.Len(t, tvl, 1)
	assert.Equal(t, base.UnixMilli(), tvl[0].Timestamp)
	assert.InDelta(t, 233.33, tvl[0].Value, 0.01)

	volume, err := store.VolumeHistory(ctx, base.Add(-time.Minute), time.Hour)
	require.NoError(t, err)
	require.Len(t, volume, 1)
	assert.InDelta(t, 23.33, volume[0].Value, 0.01)

	empty, err := store.TVLHistory(ctx, time.Now().Add(time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
