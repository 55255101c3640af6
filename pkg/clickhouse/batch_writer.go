package clickhouse

import (
	"context"
	"sync"
	"time"

	"onboardr/pkg/logger"
)

// FlushFunc performs the actual INSERT for one batch
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter buffers rows in memory and hands them to FlushFunc when the
// buffer fills up, on a timer, and on Stop.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	log       *logger.Logger

	maxBatchSize int
	maxAge       time.Duration
	table        string

	mu        sync.Mutex
	buffer    []T
	lastFlush time.Time
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		table:        cfg.TableName,
		lastFlush:    time.Now(),
		log:          logger.Get().With("component", "batch_writer", "table", cfg.TableName),
	}
}

// Start begins the background flush loop. The loop ends with a final
// flush when ctx is cancelled or Stop is called.
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.stopCh = make(chan struct{})
	stopCh := bw.stopCh
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx, stopCh)

	bw.log.Infow("BatchWriter started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers a row, flushing synchronously once the buffer is full
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	full := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered so far. A failed batch is dropped.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	start := time.Now()
	if err := bw.flushFunc(ctx, batch); err != nil {
		bw.log.Errorw("Failed to flush batch",
			"rows", len(batch),
			"duration", time.Since(start),
			"error", err,
		)
		return err
	}

	bw.log.Debugw("Flushed batch", "rows", len(batch), "duration", time.Since(start))
	return nil
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return
		case <-stopCh:
			bw.finalFlush()
			return
		case <-ticker.C:
			if err := bw.Flush(ctx); err != nil {
				bw.log.Warnw("Periodic flush failed", "error", err)
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.Flush(ctx); err != nil {
		bw.log.Warnw("Final flush failed", "error", err)
	}
}

// Stop flushes remaining rows and waits for the loop to exit or ctx to expire
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	close(bw.stopCh)
	bw.mu.Unlock()

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("BatchWriter stopped gracefully")
		return nil
	case <-ctx.Done():
		bw.log.Warn("BatchWriter stop timed out")
		return ctx.Err()
	}
}

// BatchWriterStats is a snapshot for monitoring
type BatchWriterStats struct {
	BufferSize   int
	LastFlushAge time.Duration
	MaxBatchSize int
	MaxAge       time.Duration
	Running      bool
}

// Stats returns current statistics
func (bw *BatchWriter[T]) Stats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		LastFlushAge: time.Since(bw.lastFlush),
		MaxBatchSize: bw.maxBatchSize,
		MaxAge:       bw.maxAge,
		Running:      bw.running,
	}
}
