package reconnect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{}, nil)

	assert.Equal(t, time.Second, m.baseDelay)
	assert.Equal(t, 5, m.maxAttempts)
	assert.Equal(t, time.Duration(0), m.maxDelay)
}

func TestManager_ExponentialDelays(t *testing.T) {
	m := NewManager(Config{BaseDelay: time.Second, MaxAttempts: 5}, logger.Nop())

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for i, want := range expected {
		delay, attempt, ok := m.Next()
		require.True(t, ok)
		assert.Equal(t, i+1, attempt)
		assert.Equal(t, want, delay)
	}

	_, attempt, ok := m.Next()
	assert.False(t, ok, "sixth attempt must be refused")
	assert.Equal(t, 5, attempt)
	assert.True(t, m.Stats().Exhausted)
}

func TestManager_MaxDelayCap(t *testing.T) {
	m := NewManager(Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second, MaxAttempts: 4}, logger.Nop())

	var delays []time.Duration
	for {
		d, _, ok := m.Next()
		if !ok {
			break
		}
		delays = append(delays, d)
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func TestManager_RecordSuccessResets(t *testing.T) {
	m := NewManager(Config{BaseDelay: time.Millisecond, MaxAttempts: 2}, logger.Nop())

	m.Next()
	m.Next()
	require.True(t, m.Stats().Exhausted)

	m.RecordSuccess()

	stats := m.Stats()
	assert.Equal(t, 0, stats.Attempts)
	assert.Equal(t, 1, stats.TotalReconnects)
	assert.False(t, stats.Exhausted)

	d, attempt, ok := m.Next()
	assert.True(t, ok)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, time.Millisecond, d)
}

func TestManager_ResetDoesNotCountReconnect(t *testing.T) {
	m := NewManager(Config{MaxAttempts: 3}, logger.Nop())
	m.Next()
	m.Reset()

	assert.Equal(t, 0, m.Stats().TotalReconnects)
	assert.Equal(t, 0, m.Stats().Attempts)
}

func TestManager_Wait(t *testing.T) {
	t.Run("waits and returns attempt", func(t *testing.T) {
		m := NewManager(Config{BaseDelay: 5 * time.Millisecond, MaxAttempts: 1}, logger.Nop())

		start := time.Now()
		attempt, err := m.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, attempt)
		assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	})

	t.Run("exhausted", func(t *testing.T) {
		m := NewManager(Config{BaseDelay: time.Millisecond, MaxAttempts: 1}, logger.Nop())
		_, err := m.Wait(context.Background())
		require.NoError(t, err)

		_, err = m.Wait(context.Background())
		assert.True(t, errors.Is(err, errors.ErrWSMaxReconnectAttempts))
	})

	t.Run("context cancelled", func(t *testing.T) {
		m := NewManager(Config{BaseDelay: time.Hour, MaxAttempts: 1}, logger.Nop())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
