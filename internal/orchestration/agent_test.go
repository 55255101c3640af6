package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/internal/cache"
	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

func newTestContext() Context {
	return Context{
		Cache:   cache.New(cache.Options{Logger: logger.Nop()}),
		Metrics: metrics.NewCollector(true),
		Logger:  logger.Nop(),
	}
}

func testConfig(id string) AgentConfig {
	cfg := NewAgentConfig(id, id, TypeData, PriorityMedium)
	cfg.RetryAttempts = 0
	cfg.Timeout = time.Second
	cfg.RetryBaseDelay = 10 * time.Millisecond
	return cfg
}

func TestAgent_RunSuccessCachesResult(t *testing.T) {
	actx := newTestContext()
	agent := NewAgent(testConfig("prices"), actx, func(ctx context.Context) (interface{}, error) {
		return map[string]float64{"XLM": 0.12}, nil
	})

	var events []Event
	agent.Subscribe(func(ev Event) { events = append(events, ev) })

	res := agent.Run(context.Background())
	require.True(t, res.Success)
	assert.NoError(t, res.Err)

	var cached map[string]float64
	require.True(t, agent.CachedResult(context.Background(), &cached))
	assert.Equal(t, 0.12, cached["XLM"])

	st := agent.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, int64(1), st.RunCount)
	assert.Equal(t, int64(0), st.ErrorCount)
	require.NotNil(t, st.LastRun)

	m, ok := actx.Metrics.AgentMetrics("prices")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Successes)

	require.Len(t, events, 1)
	assert.Equal(t, EventSuccess, events[0].Type)
	assert.Equal(t, "prices", events[0].AgentID)
}

func TestAgent_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	agent := NewAgent(testConfig("slow"), newTestContext(), func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return "done", nil
	})

	first := make(chan Result, 1)
	go func() { first <- agent.Run(context.Background()) }()

	require.Eventually(t, func() bool { return agent.Status().State == StateRunning }, time.Second, time.Millisecond)

	second := agent.Run(context.Background())
	assert.False(t, second.Success)
	assert.True(t, errors.Is(second.Err, errors.ErrAgentRunning))

	close(release)
	res := <-first
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), calls.Load(), "rejected run must not execute")
	assert.Equal(t, StateIdle, agent.Status().State)
}

func TestAgent_RetriesWithBackoff(t *testing.T) {
	cfg := testConfig("flaky")
	cfg.RetryAttempts = 2
	cfg.RetryBaseDelay = 20 * time.Millisecond

	var calls atomic.Int32
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("upstream down")
	})

	var errorEvents atomic.Int32
	agent.Subscribe(func(ev Event) {
		if ev.Type == EventError {
			errorEvents.Add(1)
		}
	})

	start := time.Now()
	res := agent.Run(context.Background())
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.EqualError(t, res.Err, "upstream down")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(3), errorEvents.Load())
	// 20ms + 40ms of backoff
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)

	st := agent.Status()
	assert.Equal(t, int64(3), st.ErrorCount)
	assert.Equal(t, int64(3), st.RunCount)
	assert.Equal(t, StateIdle, st.State)

	// attempts are counted per Run, so a second Run retries again
	calls.Store(0)
	agent.Run(context.Background())
	assert.Equal(t, int32(3), calls.Load())
}

func TestAgent_RecoversAfterRetry(t *testing.T) {
	cfg := testConfig("eventual")
	cfg.RetryAttempts = 3

	var calls atomic.Int32
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		if calls.Add(1) < 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	res := agent.Run(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAgentConfig_RetryDelay(t *testing.T) {
	cfg := NewAgentConfig("x", "x", TypeData, PriorityLow)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.retryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestAgent_Timeout(t *testing.T) {
	cfg := testConfig("stuck")
	cfg.Timeout = 30 * time.Millisecond

	sawDeadline := make(chan bool, 1)
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		_, ok := ctx.Deadline()
		sawDeadline <- ok
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	res := agent.Run(context.Background())

	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, errors.ErrTimeout), "got %v", res.Err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, <-sawDeadline)
}

func TestAgent_TimeoutIgnoredByExecute(t *testing.T) {
	cfg := testConfig("deaf")
	cfg.Timeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		<-release
		return "late", nil
	})

	res := agent.Run(context.Background())
	assert.True(t, errors.Is(res.Err, errors.ErrTimeout))
}

func TestAgent_PanicIsAFailure(t *testing.T) {
	actx := newTestContext()
	agent := NewAgent(testConfig("buggy"), actx, func(ctx context.Context) (interface{}, error) {
		panic("nil map")
	})

	res := agent.Run(context.Background())
	require.False(t, res.Success)
	assert.Contains(t, res.Err.Error(), "panicked")
	assert.Equal(t, int64(1), actx.Metrics.Counter("error:panic"))
	assert.Equal(t, StateIdle, agent.Status().State)
}

func TestAgent_StartSchedulesUntilStopped(t *testing.T) {
	cfg := testConfig("ticker")
	cfg.Interval = 15 * time.Millisecond

	var calls atomic.Int32
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, nil
	})

	require.NoError(t, agent.Start(context.Background()))
	assert.GreaterOrEqual(t, calls.Load(), int32(1), "first run happens before Start returns")
	assert.NotNil(t, agent.Status().NextRun)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	agent.Stop()
	assert.Equal(t, StatePaused, agent.Status().State)
	assert.Nil(t, agent.Status().NextRun)

	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	// Stop is idempotent
	agent.Stop()
}

func TestAgent_StartCancelledByStop(t *testing.T) {
	cfg := testConfig("blocking")
	cfg.Interval = time.Hour
	cfg.Timeout = time.Minute

	entered := make(chan struct{})
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		_ = agent.Start(context.Background())
		close(done)
	}()

	<-entered
	agent.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, StatePaused, agent.Status().State)
	assert.Nil(t, agent.Status().NextRun)
}

func TestAgent_DisabledDoesNotRun(t *testing.T) {
	cfg := testConfig("off")
	cfg.Enabled = false

	var calls atomic.Int32
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, nil
	})

	require.NoError(t, agent.Start(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, agent.Wake())
}

func TestAgent_Wake(t *testing.T) {
	var calls atomic.Int32
	agent := NewAgent(testConfig("ondemand"), newTestContext(), func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, nil
	})

	assert.False(t, agent.Wake(), "not started")

	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()
	require.Equal(t, int32(1), calls.Load())

	assert.True(t, agent.Wake())
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAgent_UpdateConfig(t *testing.T) {
	cfg := testConfig("tunable")
	cfg.Interval = time.Hour

	var calls atomic.Int32
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		return nil, nil
	})

	name := "Tunable Agent"
	prio := PriorityCritical
	retries := 5
	agent.UpdateConfig(ConfigUpdate{Name: &name, Priority: &prio, RetryAttempts: &retries})

	got := agent.Config()
	assert.Equal(t, "Tunable Agent", got.Name)
	assert.Equal(t, PriorityCritical, got.Priority)
	assert.Equal(t, 5, got.RetryAttempts)
	assert.Equal(t, time.Hour, got.Interval)

	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()
	require.Equal(t, int32(1), calls.Load())

	interval := 10 * time.Millisecond
	agent.UpdateConfig(ConfigUpdate{Interval: &interval})

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, interval, agent.Config().Interval)
}

func TestAgent_RescheduleKeepsRunInFlight(t *testing.T) {
	cfg := testConfig("resched")
	cfg.Interval = time.Hour

	release := make(chan struct{})
	inFlight := make(chan struct{}, 1)
	var calls atomic.Int32
	agent := NewAgent(cfg, newTestContext(), func(ctx context.Context) (interface{}, error) {
		if calls.Add(1) != 2 {
			return nil, nil
		}
		inFlight <- struct{}{}
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	var errorEvents atomic.Int32
	agent.Subscribe(func(ev Event) {
		if ev.Type == EventError {
			errorEvents.Add(1)
		}
	})

	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()

	require.True(t, agent.Wake())
	select {
	case <-inFlight:
	case <-time.After(time.Second):
		t.Fatal("woken run never started")
	}

	updated := make(chan struct{})
	go func() {
		interval := time.Minute
		agent.UpdateConfig(ConfigUpdate{Interval: &interval})
		close(updated)
	}()

	time.Sleep(30 * time.Millisecond)
	close(release)

	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("UpdateConfig did not return")
	}

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), errorEvents.Load())
	assert.Equal(t, int64(0), agent.Status().ErrorCount)
	assert.Equal(t, time.Minute, agent.Config().Interval)
}

func TestAgent_ListenerPanicDoesNotBreakRun(t *testing.T) {
	actx := newTestContext()
	agent := NewAgent(testConfig("noisy"), actx, func(ctx context.Context) (interface{}, error) {
		return 1, nil
	})

	var mu sync.Mutex
	var got []EventType
	agent.Subscribe(func(ev Event) { panic("listener bug") })
	agent.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	res := agent.Run(context.Background())
	assert.True(t, res.Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventSuccess}, got)
	assert.Equal(t, int64(1), actx.Metrics.Counter("error:panic"))
}

func TestAgent_Unsubscribe(t *testing.T) {
	agent := NewAgent(testConfig("quiet"), newTestContext(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})

	var n atomic.Int32
	unsubscribe := agent.Subscribe(func(Event) { n.Add(1) })
	agent.Run(context.Background())
	unsubscribe()
	unsubscribe()
	agent.Run(context.Background())

	assert.Equal(t, int32(1), n.Load())
}
