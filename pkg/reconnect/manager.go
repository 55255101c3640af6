package reconnect

import (
	"context"
	"sync"
	"time"

	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// Manager tracks reconnection attempts for a single connection and computes
// the exponential delay before each one: base * 2^(attempt-1).
// Once MaxAttempts consecutive attempts have been made, it refuses further tries
// until RecordSuccess or Reset is called.
type Manager struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu              sync.Mutex
	attempts        int
	totalReconnects int

	logger *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	BaseDelay   time.Duration // Delay before the first attempt (e.g. 1s)
	MaxDelay    time.Duration // Upper bound for a single delay (0 = unbounded)
	MaxAttempts int           // Consecutive attempts before giving up
}

// NewManager creates a reconnect manager, filling zero values with defaults
func NewManager(config Config, log *logger.Logger) *Manager {
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Manager{
		baseDelay:   config.BaseDelay,
		maxDelay:    config.MaxDelay,
		maxAttempts: config.MaxAttempts,
		logger:      log,
	}
}

// Next reserves the next attempt and returns the delay to wait before it.
// ok is false once the attempt budget is exhausted.
func (m *Manager) Next() (delay time.Duration, attempt int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempts >= m.maxAttempts {
		return 0, m.attempts, false
	}

	m.attempts++
	return m.delayFor(m.attempts), m.attempts, true
}

func (m *Manager) delayFor(attempt int) time.Duration {
	delay := m.baseDelay << uint(attempt-1)
	if delay <= 0 || (m.maxDelay > 0 && delay > m.maxDelay) {
		return m.maxDelay
	}
	return delay
}

// RecordSuccess resets the attempt counter after a successful connection
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempts > 0 {
		m.logger.Infow("Reconnection successful, resetting backoff",
			"previous_attempts", m.attempts,
		)
		m.totalReconnects++
	}
	m.attempts = 0
}

// Reset clears the attempt counter without counting a reconnect
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
}

// Stats returns current reconnect statistics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Attempts:        m.attempts,
		MaxAttempts:     m.maxAttempts,
		TotalReconnects: m.totalReconnects,
		Exhausted:       m.attempts >= m.maxAttempts,
	}
}

// Stats contains reconnection statistics
type Stats struct {
	Attempts        int
	MaxAttempts     int
	TotalReconnects int
	Exhausted       bool
}

// Wait reserves the next attempt and sleeps for its delay.
// Returns ErrWSMaxReconnectAttempts when the budget is spent and ctx.Err() if cancelled.
func (m *Manager) Wait(ctx context.Context) (int, error) {
	delay, attempt, ok := m.Next()
	if !ok {
		return attempt, errors.Wrapf(errors.ErrWSMaxReconnectAttempts, "gave up after %d attempts", attempt)
	}

	m.logger.Infow("Waiting before reconnect attempt",
		"attempt", attempt,
		"max_attempts", m.maxAttempts,
		"delay", delay,
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return attempt, nil
	case <-ctx.Done():
		return attempt, ctx.Err()
	}
}
