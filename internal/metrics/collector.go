package metrics

import (
	"strings"
	"sync"
	"time"

	"onboardr/pkg/logger"
)

// AgentMetrics aggregates run outcomes for one agent
type AgentMetrics struct {
	Runs              int64   `json:"runs"`
	Successes         int64   `json:"successes"`
	Failures          int64   `json:"failures"`
	TotalDurationMs   int64   `json:"total_duration_ms"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// Collector keeps in-memory counters and timers for agent runs and mirrors
// them into the Prometheus instruments. A disabled collector records nothing.
type Collector struct {
	enabled bool
	log     *logger.Logger

	mu       sync.RWMutex
	agents   map[string]*AgentMetrics
	counters map[string]int64
}

// NewCollector creates a metrics collector
func NewCollector(enabled bool) *Collector {
	return &Collector{
		enabled:  enabled,
		log:      logger.Get().Component("metrics"),
		agents:   make(map[string]*AgentMetrics),
		counters: make(map[string]int64),
	}
}

// Enabled reports whether recording is on
func (c *Collector) Enabled() bool {
	return c.enabled
}

// RecordAgentRun records one attempt's outcome and duration
func (c *Collector) RecordAgentRun(agentID string, success bool, duration time.Duration) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	m, ok := c.agents[agentID]
	if !ok {
		m = &AgentMetrics{}
		c.agents[agentID] = m
	}
	m.Runs++
	if success {
		m.Successes++
	} else {
		m.Failures++
	}
	m.TotalDurationMs += duration.Milliseconds()
	m.AverageDurationMs = float64(m.TotalDurationMs) / float64(m.Runs)
	c.mu.Unlock()

	RecordAgentExecution(agentID, duration, success)
}

// RecordAgentSuccess bumps the agent's success counter
func (c *Collector) RecordAgentSuccess(agentID string) {
	if !c.enabled {
		return
	}
	c.increment("agent:" + agentID + ":success")
}

// RecordAgentError bumps the agent's error counter
func (c *Collector) RecordAgentError(agentID string) {
	if !c.enabled {
		return
	}
	c.increment("agent:" + agentID + ":error")
}

// RecordError counts a process-level error by type (panic, websocket, ...)
func (c *Collector) RecordError(errType string, err error) {
	if !c.enabled {
		return
	}
	c.increment("error:" + errType)
	Errors.WithLabelValues(errType).Inc()
	c.log.Warnw("Recorded error", "type", errType, "error", err)
}

// TotalRuns sums runs across all agents
func (c *Collector) TotalRuns() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for _, m := range c.agents {
		total += m.Runs
	}
	return total
}

// TotalErrors sums the per-agent error counters
func (c *Collector) TotalErrors() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for key, v := range c.counters {
		if strings.HasSuffix(key, ":error") {
			total += v
		}
	}
	return total
}

// AgentMetrics returns a copy of one agent's aggregates
func (c *Collector) AgentMetrics(agentID string) (AgentMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.agents[agentID]
	if !ok {
		return AgentMetrics{}, false
	}
	return *m, true
}

// Counter returns the raw value of a named counter
func (c *Collector) Counter(key string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[key]
}

// Snapshot returns copies of all agent aggregates keyed by agent id
func (c *Collector) Snapshot() map[string]AgentMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]AgentMetrics, len(c.agents))
	for id, m := range c.agents {
		out[id] = *m
	}
	return out
}

// Reset clears all aggregates and counters
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.agents = make(map[string]*AgentMetrics)
	c.counters = make(map[string]int64)
}

func (c *Collector) increment(key string) {
	c.mu.Lock()
	c.counters[key]++
	c.mu.Unlock()
}
