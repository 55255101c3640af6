package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "onboardr/internal/adapters/clickhouse"
	"onboardr/internal/adapters/kafka"
	"onboardr/internal/api"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// Components are the parts Shutdown stops. Nil entries are skipped.
type Components struct {
	WG            *sync.WaitGroup
	HTTPServer    *api.Server
	Manager       *orchestration.Manager
	History       *chclient.HistoryStore
	KafkaProducer *kafka.Producer
	ClickHouse    *chclient.Client
	ErrorTracker  errors.Tracker
}

// Shutdown performs coordinated cleanup of all components in the correct order:
// 1. No new requests accepted
// 2. Agents stopped, relay disconnected, cache and Redis closed
// 3. Buffered snapshots flushed to ClickHouse
// 4. Background goroutines drained
// 5. Producer closed after the last event is published
// 6. Errors and logs flushed
// 7. ClickHouse connection last
func (l *Lifecycle) Shutdown(c Components, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/7] Stopping HTTP server...")
	if c.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := c.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	log.Info("[2/7] Stopping orchestration...")
	if c.Manager != nil {
		orchCtx, orchCancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		if err := c.Manager.Stop(orchCtx); err != nil {
			log.Errorw("Orchestration shutdown failed", "error", err)
		} else {
			log.Info("Orchestration stopped")
		}
		orchCancel()
	}

	log.Info("[3/7] Flushing market history...")
	if c.History != nil {
		if err := c.History.Stop(shutdownCtx); err != nil {
			log.Errorw("History flush failed", "error", err)
		}
	}

	log.Info("[4/7] Waiting for background goroutines...")
	if c.WG != nil {
		l.waitForGoroutines(c.WG, 5*time.Second, log)
	}

	log.Info("[5/7] Closing Kafka producer...")
	if c.KafkaProducer != nil {
		if err := c.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("Kafka producer closed")
		}
	}

	log.Info("[6/7] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)
	if err := logger.Sync(); err != nil {
		log.Debug("Log sync completed with warnings")
	}

	log.Info("[7/7] Closing ClickHouse...")
	if c.ClickHouse != nil {
		if err := c.ClickHouse.Close(); err != nil {
			log.Errorw("ClickHouse close failed", "error", err)
		}
	}

	log.Info("Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}
