package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"onboardr/internal/domain/defi"
	"onboardr/pkg/clickhouse"
	"onboardr/pkg/errors"
)

// Compile-time check
var _ defi.HistoryRepository = (*HistoryStore)(nil)

const snapshotsTable = "market_snapshots"

const createSnapshotsTable = `
	CREATE TABLE IF NOT EXISTS market_snapshots (
		timestamp   DateTime64(3),
		tvl         Float64,
		volume_24h  Float64,
		pool_count  UInt32,
		token_count UInt32,
		vault_count UInt32
	) ENGINE = MergeTree()
	ORDER BY timestamp
	TTL toDateTime(timestamp) + INTERVAL 90 DAY`

// HistoryStore persists market snapshots and serves bucketed TVL and
// volume history for the analytics agent.
type HistoryStore struct {
	conn   driver.Conn
	writer *clickhouse.BatchWriter[defi.MarketSnapshot]
}

// HistoryOptions tunes snapshot buffering
type HistoryOptions struct {
	MaxBatchSize int
	MaxAge       time.Duration
}

// NewHistoryStore creates a store. Snapshots stay buffered until the
// periodic flush started by Start or an explicit Flush.
func NewHistoryStore(conn driver.Conn, opts HistoryOptions) *HistoryStore {
	s := &HistoryStore{conn: conn}
	s.writer = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[defi.MarketSnapshot]{
		FlushFunc:    s.insertBatch,
		TableName:    snapshotsTable,
		MaxBatchSize: opts.MaxBatchSize,
		MaxAge:       opts.MaxAge,
	})
	return s
}

// Migrate creates the snapshots table
func (s *HistoryStore) Migrate(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createSnapshotsTable); err != nil {
		return errors.Wrap(err, "failed to create market_snapshots")
	}
	return nil
}

// Start begins periodic flushing
func (s *HistoryStore) Start(ctx context.Context) {
	s.writer.Start(ctx)
}

// Stop flushes buffered snapshots
func (s *HistoryStore) Stop(ctx context.Context) error {
	return s.writer.Stop(ctx)
}

// Flush writes buffered snapshots now
func (s *HistoryStore) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// InsertSnapshot buffers one snapshot
func (s *HistoryStore) InsertSnapshot(ctx context.Context, snapshot defi.MarketSnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	return s.writer.Add(ctx, snapshot)
}

func (s *HistoryStore) insertBatch(ctx context.Context, snapshots []defi.MarketSnapshot) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+snapshotsTable)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for i := range snapshots {
		if err := batch.AppendStruct(&snapshots[i]); err != nil {
			_ = batch.Abort()
			return errors.Wrap(err, "failed to append snapshot")
		}
	}

	if err := batch.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}
	return nil
}

// TVLHistory returns average TVL per bucket since the given time
func (s *HistoryStore) TVLHistory(ctx context.Context, since time.Time, bucket time.Duration) ([]defi.HistoryPoint, error) {
	return s.history(ctx, "tvl", since, bucket)
}

// VolumeHistory returns average 24h volume per bucket since the given time
func (s *HistoryStore) VolumeHistory(ctx context.Context, since time.Time, bucket time.Duration) ([]defi.HistoryPoint, error) {
	return s.history(ctx, "volume_24h", since, bucket)
}

type historyRow struct {
	Bucket int64   `ch:"bucket"`
	Value  float64 `ch:"value"`
}

// column is one of the fixed names above, never user input
func (s *HistoryStore) history(ctx context.Context, column string, since time.Time, bucket time.Duration) ([]defi.HistoryPoint, error) {
	seconds := int64(bucket / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	query := `
		SELECT
			toUnixTimestamp64Milli(toDateTime64(toStartOfInterval(timestamp, toIntervalSecond($1)), 3)) AS bucket,
			avg(` + column + `) AS value
		FROM ` + snapshotsTable + `
		WHERE timestamp >= $2
		GROUP BY bucket
		ORDER BY bucket`

	var rows []historyRow
	if err := s.conn.Select(ctx, &rows, query, seconds, since); err != nil {
		return nil, errors.Wrapf(err, "failed to query %s history", column)
	}

	points := make([]defi.HistoryPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, defi.HistoryPoint{Timestamp: r.Bucket, Value: r.Value})
	}
	return points, nil
}
