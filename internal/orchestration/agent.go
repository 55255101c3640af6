package orchestration

import (
	"context"
	"sync"
	"time"

	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// Agent runs an ExecuteFunc on a schedule with single-flight protection,
// a per-attempt timeout and exponential retry backoff. Concrete agents embed it.
type Agent struct {
	actx    Context
	execute ExecuteFunc
	log     *logger.Logger
	events  *emitter

	mu         sync.Mutex
	cfg        AgentConfig
	state      State
	inFlight   bool
	lastRun    time.Time
	nextRun    time.Time
	runCount   int64
	errorCount int64
	stopped    bool

	// set between Start and Stop
	runCtx     context.Context
	runCancel  context.CancelFunc
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	wake       chan struct{}
}

// NewAgent creates an agent. Zero Timeout and retry delays fall back to defaults.
func NewAgent(cfg AgentConfig, actx Context, execute ExecuteFunc) *Agent {
	cfg = cfg.withDefaults()
	actx = actx.withDefaults()
	log := actx.Logger.With("agent", cfg.ID)

	return &Agent{
		actx:    actx,
		execute: execute,
		log:     log,
		events:  newEmitter(log, actx.Metrics),
		cfg:     cfg,
		state:   StateIdle,
		wake:    make(chan struct{}, 1),
	}
}

// ID returns the agent id
func (a *Agent) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.ID
}

// Config returns a copy of the current configuration
func (a *Agent) Config() AgentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Context returns the shared agent context
func (a *Agent) Context() Context {
	return a.actx
}

// Logger returns the agent-scoped logger
func (a *Agent) Logger() *logger.Logger {
	return a.log
}

// Subscribe registers a listener for this agent's events
func (a *Agent) Subscribe(l Listener) func() {
	return a.events.subscribe(l)
}

// Emit publishes an agent-specific event to subscribers
func (a *Agent) Emit(eventType EventType, data interface{}) {
	a.events.emit(Event{
		Type:      eventType,
		AgentID:   a.ID(),
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Start runs the agent once and then schedules it every Interval.
// A disabled agent only logs. Start blocks until the first run finishes.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if !a.cfg.Enabled {
		a.mu.Unlock()
		a.log.Infow("Agent is disabled, not starting")
		return nil
	}
	if a.runCtx != nil {
		a.mu.Unlock()
		return nil
	}
	a.runCtx, a.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := a.runCtx
	a.stopped = false
	if a.state == StatePaused {
		a.state = StateIdle
	}
	name := a.cfg.Name
	a.mu.Unlock()

	a.log.Infow("Starting agent", "name", name)

	// the first run follows the caller's ctx and is also cut short by Stop
	firstCtx, cancelFirst := context.WithCancel(ctx)
	stopFirst := context.AfterFunc(runCtx, cancelFirst)
	a.Run(firstCtx)
	stopFirst()
	cancelFirst()

	a.mu.Lock()
	defer a.mu.Unlock()
	if runCtx.Err() != nil {
		// stopped during the first run
		return nil
	}
	a.scheduleLocked(false)
	return nil
}

// scheduleLocked starts the scheduling goroutine; a.mu must be held
func (a *Agent) scheduleLocked(runFirst bool) {
	loopCtx, cancel := context.WithCancel(a.runCtx)
	done := make(chan struct{})
	a.loopCancel = cancel
	a.loopDone = done

	interval := a.cfg.Interval
	if interval > 0 {
		a.nextRun = time.Now().Add(interval)
	} else {
		a.nextRun = time.Time{}
	}

	go a.loop(loopCtx, a.runCtx, interval, runFirst, done)
}

// loop ends with loopCtx; the runs it starts use runCtx, so a reschedule
// never aborts a run in flight.
func (a *Agent) loop(loopCtx, runCtx context.Context, interval time.Duration, runFirst bool, done chan struct{}) {
	defer close(done)
	defer recoverPanic(a.log, a.actx.Metrics, "agent:"+a.ID())

	if runFirst {
		a.scheduledRun(runCtx)
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-tick:
			a.mu.Lock()
			a.nextRun = time.Now().Add(interval)
			a.mu.Unlock()
			a.scheduledRun(runCtx)
		case <-a.wake:
			a.scheduledRun(runCtx)
		}
	}
}

func (a *Agent) scheduledRun(ctx context.Context) {
	if !a.Config().Enabled {
		return
	}
	res := a.Run(ctx)
	if !res.Success && !errors.Is(res.Err, errors.ErrAgentRunning) && ctx.Err() == nil {
		a.log.Warnw("Scheduled run failed", "error", res.Err)
	}
}

// Wake asks a started, idle agent to run now in the background.
// It reports whether the request was accepted.
func (a *Agent) Wake() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loopCancel == nil || a.inFlight {
		return false
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop cancels scheduling and any in-flight run, then waits for the
// scheduling goroutine to exit. The agent ends up paused.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.runCancel != nil {
		a.runCancel()
	}
	done := a.loopDone
	a.runCtx, a.runCancel = nil, nil
	a.loopCancel, a.loopDone = nil, nil
	a.nextRun = time.Time{}
	a.stopped = true
	if !a.inFlight {
		a.state = StatePaused
	}
	name := a.cfg.Name
	a.mu.Unlock()

	if done != nil {
		<-done
	}

	a.log.Infow("Stopped agent", "name", name)
}

// Run executes the agent once, retrying failed attempts with backoff.
// A call made while another run is in flight fails immediately with ErrAgentRunning.
func (a *Agent) Run(ctx context.Context) Result {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		a.log.Warnw("Agent is already running")
		return Result{Err: errors.ErrAgentRunning, Timestamp: time.Now()}
	}
	a.inFlight = true
	cfg := a.cfg
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight = false
		if a.stopped {
			a.state = StatePaused
		} else {
			a.state = StateIdle
		}
		a.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		a.mu.Lock()
		a.state = StateRunning
		a.lastRun = start
		a.runCount++
		a.mu.Unlock()

		data, err := a.executeWithTimeout(ctx, cfg)
		duration := time.Since(start)

		if err == nil {
			a.actx.Metrics.RecordAgentRun(cfg.ID, true, duration)
			if data != nil {
				a.cacheResult(ctx, cfg, data)
			}
			a.events.emit(Event{Type: EventSuccess, AgentID: cfg.ID, Data: data, Timestamp: time.Now()})
			return Result{Success: true, Data: data, Timestamp: time.Now(), Duration: duration}
		}

		a.mu.Lock()
		a.errorCount++
		a.state = StateError
		a.mu.Unlock()

		a.log.Errorw("Agent execution failed",
			"name", cfg.Name,
			"attempt", attempt,
			"duration", duration,
			"error", err,
		)
		a.actx.Metrics.RecordAgentRun(cfg.ID, false, duration)
		a.events.emit(Event{Type: EventError, AgentID: cfg.ID, Err: err, Timestamp: time.Now()})

		if attempt > cfg.RetryAttempts || ctx.Err() != nil {
			return Result{Err: err, Timestamp: time.Now(), Duration: duration}
		}

		delay := cfg.retryDelay(attempt)
		metrics.AgentRetries.WithLabelValues(cfg.ID).Inc()
		a.log.Infow("Retrying agent",
			"attempt", attempt,
			"max_retries", cfg.RetryAttempts,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Result{Err: err, Timestamp: time.Now(), Duration: duration}
		}
	}
}

// executeWithTimeout races execute against cfg.Timeout. The deadline is
// passed to execute so well-behaved work aborts with it.
func (a *Agent) executeWithTimeout(ctx context.Context, cfg AgentConfig) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := errors.Newf("agent %s panicked: %v", cfg.ID, r)
				a.actx.Metrics.RecordError("panic", err)
				done <- outcome{err: err}
			}
		}()
		data, err := a.execute(ctx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(errors.ErrTimeout, "agent %s timed out after %s", cfg.Name, cfg.Timeout)
		}
		return nil, ctx.Err()
	}
}

func resultKey(id string) string {
	return "agent:" + id + ":result"
}

func (a *Agent) cacheResult(ctx context.Context, cfg AgentConfig, data interface{}) {
	if err := a.actx.Cache.Set(ctx, resultKey(cfg.ID), data, cfg.resultTTL()); err != nil {
		a.log.Warnw("Failed to cache agent result", "error", err)
	}
}

// CachedResult decodes the last successful result into dest
func (a *Agent) CachedResult(ctx context.Context, dest interface{}) bool {
	return a.actx.Cache.Get(ctx, resultKey(a.ID()), dest)
}

// Status returns a snapshot of the agent
func (a *Agent) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := AgentStatus{
		ID:         a.cfg.ID,
		Name:       a.cfg.Name,
		Type:       a.cfg.Type,
		Priority:   a.cfg.Priority,
		State:      a.state,
		Enabled:    a.cfg.Enabled,
		RunCount:   a.runCount,
		ErrorCount: a.errorCount,
	}
	if !a.lastRun.IsZero() {
		t := a.lastRun
		st.LastRun = &t
	}
	if !a.nextRun.IsZero() {
		t := a.nextRun
		st.NextRun = &t
	}
	return st
}

// UpdateConfig merges u into the configuration. Changing the interval of a
// scheduled agent restarts its schedule with an immediate run.
func (a *Agent) UpdateConfig(u ConfigUpdate) {
	a.mu.Lock()
	oldInterval := a.cfg.Interval
	u.apply(&a.cfg)
	reschedule := a.loopCancel != nil && a.cfg.Interval != oldInterval

	var done chan struct{}
	if reschedule {
		a.loopCancel()
		done = a.loopDone
		a.loopCancel, a.loopDone = nil, nil
	}
	a.mu.Unlock()

	if !reschedule {
		return
	}
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx == nil || a.runCtx.Err() != nil || a.loopCancel != nil {
		return
	}
	a.log.Infow("Interval changed, rescheduling", "interval", a.cfg.Interval)
	a.scheduleLocked(true)
}
