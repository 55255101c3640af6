package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordAgentRun(t *testing.T) {
	c := NewCollector(true)

	c.RecordAgentRun("data-preload", true, 100*time.Millisecond)
	c.RecordAgentRun("data-preload", false, 300*time.Millisecond)
	c.RecordAgentRun("trading", true, 50*time.Millisecond)

	m, ok := c.AgentMetrics("data-preload")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.Runs)
	assert.Equal(t, int64(1), m.Successes)
	assert.Equal(t, int64(1), m.Failures)
	assert.Equal(t, int64(400), m.TotalDurationMs)
	assert.InDelta(t, 200.0, m.AverageDurationMs, 0.001)

	assert.Equal(t, int64(3), c.TotalRuns())

	_, ok = c.AgentMetrics("missing")
	assert.False(t, ok)
}

func TestCollector_TotalErrorsCountsOnlyAgentErrors(t *testing.T) {
	c := NewCollector(true)

	c.RecordAgentError("trading")
	c.RecordAgentError("trading")
	c.RecordAgentError("alerts")
	c.RecordAgentSuccess("alerts")
	c.RecordError("panic", errors.New("boom"))

	assert.Equal(t, int64(3), c.TotalErrors())
	assert.Equal(t, int64(1), c.Counter("error:panic"))
	assert.Equal(t, int64(1), c.Counter("agent:alerts:success"))
}

func TestCollector_Disabled(t *testing.T) {
	c := NewCollector(false)

	c.RecordAgentRun("trading", true, time.Second)
	c.RecordAgentError("trading")
	c.RecordError("panic", errors.New("boom"))

	assert.Equal(t, int64(0), c.TotalRuns())
	assert.Equal(t, int64(0), c.TotalErrors())
	assert.Empty(t, c.Snapshot())
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector(true)
	c.RecordAgentRun("trading", true, time.Second)
	c.RecordAgentError("trading")

	c.Reset()

	assert.Equal(t, int64(0), c.TotalRuns())
	assert.Equal(t, int64(0), c.TotalErrors())
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector(true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordAgentRun("analytics", true, time.Millisecond)
			c.RecordAgentError("analytics")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.TotalRuns())
	assert.Equal(t, int64(50), c.TotalErrors())
}

func TestStatusCollector_Collect(t *testing.T) {
	sc := NewStatusCollector(func() SystemStatus {
		return SystemStatus{
			Running: true,
			Agents: []AgentState{
				{ID: "data-preload", State: "idle", RunCount: 3},
				{ID: "alerts", State: "running", RunCount: 1, ErrorCount: 1},
			},
			CacheEntries:  7,
			UptimeSeconds: 12,
		}
	})

	// 4 scalar gauges + 3 series per agent
	assert.Equal(t, 10, testutil.CollectAndCount(sc))
}
