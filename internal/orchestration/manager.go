package orchestration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"onboardr/internal/cache"
	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

const (
	DataPreloadAgentID = "data-preload"
	TradingAgentID     = "trading"
	AnalyticsAgentID   = "analytics"
	AlertAgentID       = "alerts"

	DefaultMaxConcurrentAgents = 5

	sinkTimeout = 5 * time.Second
)

// Runner is what the manager schedules. *Agent satisfies it, so do the
// concrete agents embedding it.
type Runner interface {
	ID() string
	Config() AgentConfig
	Start(ctx context.Context) error
	Stop()
	Run(ctx context.Context) Result
	Status() AgentStatus
	Subscribe(l Listener) func()
}

// TradeSubmitter is implemented by the trading agent
type TradeSubmitter interface {
	SubmitTrade(raw json.RawMessage) (string, error)
}

// Relay is the real-time channel to UI clients
type Relay interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Broadcast(msgType string, payload interface{})
	SendToClient(clientID, msgType string, payload interface{})
	OnClientConnected(fn func(clientID string))
	OnClientMessage(fn func(clientID, msgType string, payload json.RawMessage))
}

// EventSink receives every relayed event (Kafka in production)
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// AgentFactory builds the agents on first Start
type AgentFactory func(actx Context) ([]Runner, error)

// Config configures the manager
type Config struct {
	MaxConcurrentAgents int
}

// Deps are the manager's collaborators. Relay, Sink and Agents may be nil.
type Deps struct {
	Cache   *cache.Manager
	Metrics *metrics.Collector
	Logger  *logger.Logger
	Relay   Relay
	Sink    EventSink
	Agents  AgentFactory
}

// Status is a point-in-time view of the whole system
type Status struct {
	Running      bool                   `json:"running"`
	Agents       map[string]AgentStatus `json:"agents"`
	ActiveAgents int                    `json:"activeAgents"`
	TotalRuns    int64                  `json:"totalRuns"`
	Errors       int64                  `json:"errors"`
	Uptime       time.Duration          `json:"-"`
	UptimeMs     int64                  `json:"uptime"`
	Connected    bool                   `json:"connected"`
}

// Manager coordinates the agents: startup order, the concurrency gate,
// event relay and client message routing.
type Manager struct {
	actx    Context
	log     *logger.Logger
	relay   Relay
	sink    EventSink
	factory AgentFactory
	events  *emitter
	gate    *semaphore.Weighted

	startedAt time.Time
	relayOnce sync.Once

	mu          sync.RWMutex
	running     bool
	agents      map[string]Runner
	order       []string
	unsubscribe map[string]func()
	active      map[string]struct{}
}

// NewManager creates a manager. Nothing starts until Start.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	actx := Context{Cache: deps.Cache, Metrics: deps.Metrics, Logger: deps.Logger}.withDefaults()
	log := actx.Logger.Component("orchestration")

	return &Manager{
		actx:        actx,
		log:         log,
		relay:       deps.Relay,
		sink:        deps.Sink,
		factory:     deps.Agents,
		events:      newEmitter(log, actx.Metrics),
		gate:        semaphore.NewWeighted(int64(cfg.MaxConcurrentAgents)),
		startedAt:   time.Now(),
		agents:      make(map[string]Runner),
		unsubscribe: make(map[string]func()),
		active:      make(map[string]struct{}),
	}
}

// Context returns the context handed to agents
func (m *Manager) Context() Context {
	return m.actx
}

// Subscribe registers a listener for every relayed event
func (m *Manager) Subscribe(l Listener) func() {
	return m.events.subscribe(l)
}

// IsRunning reports whether Start has completed without a matching Stop
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Start connects the relay, builds the agents if none are registered and
// starts them in priority order through the concurrency gate. It returns
// once every agent has finished its first run.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warn("Orchestration already running")
		return nil
	}
	m.running = true
	m.mu.Unlock()

	m.log.Info("Starting orchestration system...")

	if m.relay != nil {
		if err := m.relay.Connect(ctx); err != nil {
			// degraded: agents still run and fill the cache
			m.actx.Metrics.RecordError("websocket", err)
			m.log.Warnw("Relay connection failed, continuing without real-time updates", "error", err)
		}
		m.relayOnce.Do(m.setupRelayHandlers)
	}

	if err := m.initializeAgents(); err != nil {
		m.setRunning(false)
		m.log.Errorw("Failed to start orchestration", "error", err)
		return err
	}

	if err := m.startAgentsByPriority(ctx); err != nil {
		m.setRunning(false)
		m.log.Errorw("Failed to start orchestration", "error", err)
		return err
	}

	m.log.Info("Orchestration system started successfully")
	m.events.emit(Event{Type: EventStarted, Timestamp: time.Now()})
	return nil
}

func (m *Manager) setRunning(v bool) {
	m.mu.Lock()
	m.running = v
	m.mu.Unlock()
}

func (m *Manager) initializeAgents() error {
	m.mu.RLock()
	registered := len(m.agents)
	m.mu.RUnlock()

	if registered > 0 || m.factory == nil {
		return nil
	}

	runners, err := m.factory(m.actx)
	if err != nil {
		return errors.Wrap(err, "failed to build agents")
	}
	for _, r := range runners {
		m.RegisterAgent(r)
	}
	m.log.Infow("Initialized agents", "count", len(runners))
	return nil
}

// RegisterAgent adds or replaces an agent and relays its events
func (m *Manager) RegisterAgent(agent Runner) {
	id := agent.ID()
	unsub := agent.Subscribe(m.relayEvent)

	m.mu.Lock()
	if prev, ok := m.unsubscribe[id]; ok {
		prev()
	} else {
		m.order = append(m.order, id)
	}
	m.agents[id] = agent
	m.unsubscribe[id] = unsub
	m.mu.Unlock()

	m.log.Debugw("Registered agent", "agent", id, "name", agent.Config().Name)
}

// Agent returns a registered agent
func (m *Manager) Agent(id string) (Runner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok
}

// byPriority returns registered agents grouped in startup order
func (m *Manager) byPriority() []Runner {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ordered := make([]Runner, 0, len(m.order))
	for _, p := range priorityOrder {
		for _, id := range m.order {
			if a := m.agents[id]; a.Config().Priority == p {
				ordered = append(ordered, a)
			}
		}
	}
	return ordered
}

// startAgentsByPriority acquires a gate slot per agent in priority order.
// A slot is held until the agent's first run completes.
func (m *Manager) startAgentsByPriority(ctx context.Context) error {
	var g errgroup.Group

	for _, agent := range m.byPriority() {
		if err := m.gate.Acquire(ctx, 1); err != nil {
			_ = g.Wait()
			return errors.Wrap(err, "waiting for agent start slot")
		}

		agent := agent
		id := agent.ID()
		m.setActive(id, true)

		g.Go(func() error {
			defer m.gate.Release(1)
			defer m.setActive(id, false)
			defer recoverPanic(m.log, m.actx.Metrics, "start:"+id)

			if err := agent.Start(ctx); err != nil {
				m.log.Errorw("Agent failed to start", "agent", id, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func (m *Manager) setActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.active[id] = struct{}{}
	} else {
		delete(m.active, id)
	}
}

// relayEvent is subscribed to every registered agent
func (m *Manager) relayEvent(ev Event) {
	switch ev.Type {
	case EventSuccess:
		m.actx.Metrics.RecordAgentSuccess(ev.AgentID)
	case EventError:
		m.actx.Metrics.RecordAgentError(ev.AgentID)
	}

	if m.relay != nil {
		m.relay.Broadcast(string(ev.Type), ev.Payload())
	}

	if m.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := m.sink.Publish(ctx, ev); err != nil {
			m.log.Warnw("Failed to publish event", "type", ev.Type, "agent", ev.AgentID, "error", err)
		}
		cancel()
	}

	m.events.emit(ev)
}

// Stop stops every agent, disconnects the relay and closes the cache
func (m *Manager) Stop(ctx context.Context) error {
	m.log.Info("Stopping orchestration system...")

	m.mu.RLock()
	agents := make([]Runner, 0, len(m.order))
	for _, id := range m.order {
		agents = append(agents, m.agents[id])
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, a := range agents {
		a := a
		g.Go(func() error {
			a.Stop()
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, errors.Wrap(ctx.Err(), "stopping agents"))
	}

	if m.relay != nil {
		if err := m.relay.Disconnect(); err != nil {
			errs = append(errs, errors.Wrap(err, "disconnect relay"))
		}
	}
	if err := m.actx.Cache.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close cache"))
	}

	m.setRunning(false)
	m.log.Info("Orchestration system stopped")
	m.events.emit(Event{Type: EventStopped, Timestamp: time.Now()})

	if len(errs) > 0 {
		return &errors.MultiError{Errors: errs}
	}
	return nil
}

// RefreshData runs one agent now. An empty id refreshes the data preload agent.
func (m *Manager) RefreshData(ctx context.Context, agentID string) (Result, error) {
	if agentID == "" {
		agentID = DataPreloadAgentID
	}
	agent, ok := m.Agent(agentID)
	if !ok {
		return Result{}, errors.Wrapf(errors.ErrAgentNotFound, "agent %q", agentID)
	}
	return agent.Run(ctx), nil
}

// Status aggregates every agent status with run and error totals
func (m *Manager) Status() Status {
	m.mu.RLock()
	agents := make(map[string]AgentStatus, len(m.agents))
	for id, a := range m.agents {
		agents[id] = a.Status()
	}
	active := len(m.active)
	running := m.running
	m.mu.RUnlock()

	uptime := time.Since(m.startedAt)
	return Status{
		Running:      running,
		Agents:       agents,
		ActiveAgents: active,
		TotalRuns:    m.actx.Metrics.TotalRuns(),
		Errors:       m.actx.Metrics.TotalErrors(),
		Uptime:       uptime,
		UptimeMs:     uptime.Milliseconds(),
		Connected:    m.relay != nil && m.relay.IsConnected(),
	}
}

// MetricsStatus feeds the Prometheus status collector
func (m *Manager) MetricsStatus() metrics.SystemStatus {
	st := m.Status()
	out := metrics.SystemStatus{
		Running:            st.Running,
		CacheEntries:       m.actx.Cache.Len(),
		ExternalCache:      m.actx.Cache.HasExternal(),
		WebSocketConnected: st.Connected,
		UptimeSeconds:      st.Uptime.Seconds(),
	}
	for _, id := range m.agentIDs() {
		a, ok := st.Agents[id]
		if !ok {
			continue
		}
		out.Agents = append(out.Agents, metrics.AgentState{
			ID:         a.ID,
			State:      string(a.State),
			RunCount:   a.RunCount,
			ErrorCount: a.ErrorCount,
		})
	}
	return out
}

func (m *Manager) agentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}
