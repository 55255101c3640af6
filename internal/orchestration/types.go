package orchestration

import (
	"context"
	"encoding/json"
	"time"

	"onboardr/internal/cache"
	"onboardr/internal/metrics"
	"onboardr/pkg/logger"
)

// AgentType classifies what an agent works on
type AgentType string

const (
	TypeData      AgentType = "data"
	TypeTrading   AgentType = "trading"
	TypeAnalytics AgentType = "analytics"
	TypePortfolio AgentType = "portfolio"
	TypeAlert     AgentType = "alert"
)

// Priority decides startup order
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityOrder is the order agents are started in
var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	for _, known := range priorityOrder {
		if p == known {
			return true
		}
	}
	return false
}

// State is an agent's lifecycle state
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateError   State = "error"
	StatePaused  State = "paused"
)

const (
	DefaultRetryAttempts  = 3
	DefaultTimeout        = 30 * time.Second
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second

	defaultResultTTL = time.Minute
)

// AgentConfig is an agent's identity and schedule.
// Interval 0 means the agent runs once on Start and then only on demand.
// RetryAttempts 0 disables retries.
type AgentConfig struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Type           AgentType     `json:"type"`
	Priority       Priority      `json:"priority"`
	Interval       time.Duration `json:"interval"`
	RetryAttempts  int           `json:"retryAttempts"`
	Timeout        time.Duration `json:"timeout"`
	Enabled        bool          `json:"enabled"`
	RetryBaseDelay time.Duration `json:"-"`
	RetryMaxDelay  time.Duration `json:"-"`
}

// NewAgentConfig returns a config with the default retry policy and timeout, enabled
func NewAgentConfig(id, name string, typ AgentType, priority Priority) AgentConfig {
	return AgentConfig{
		ID:             id,
		Name:           name,
		Type:           typ,
		Priority:       priority,
		RetryAttempts:  DefaultRetryAttempts,
		Timeout:        DefaultTimeout,
		Enabled:        true,
		RetryBaseDelay: DefaultRetryBaseDelay,
		RetryMaxDelay:  DefaultRetryMaxDelay,
	}
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if !c.Priority.Valid() {
		c.Priority = PriorityMedium
	}
	return c
}

// retryDelay is min(base * 2^(attempt-1), max)
func (c AgentConfig) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.RetryBaseDelay << uint(attempt-1)
	if delay <= 0 || delay > c.RetryMaxDelay {
		return c.RetryMaxDelay
	}
	return delay
}

// resultTTL is how long a successful result stays cached
func (c AgentConfig) resultTTL() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return defaultResultTTL
}

// ConfigUpdate is a partial AgentConfig; nil fields are left unchanged
type ConfigUpdate struct {
	Name          *string        `json:"name,omitempty"`
	Priority      *Priority      `json:"priority,omitempty"`
	Interval      *time.Duration `json:"interval,omitempty"`
	RetryAttempts *int           `json:"retryAttempts,omitempty"`
	Timeout       *time.Duration `json:"timeout,omitempty"`
	Enabled       *bool          `json:"enabled,omitempty"`
}

func (u ConfigUpdate) apply(c *AgentConfig) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Priority != nil && u.Priority.Valid() {
		c.Priority = *u.Priority
	}
	if u.Interval != nil && *u.Interval >= 0 {
		c.Interval = *u.Interval
	}
	if u.RetryAttempts != nil && *u.RetryAttempts >= 0 {
		c.RetryAttempts = *u.RetryAttempts
	}
	if u.Timeout != nil && *u.Timeout > 0 {
		c.Timeout = *u.Timeout
	}
	if u.Enabled != nil {
		c.Enabled = *u.Enabled
	}
}

// Context is shared by reference between the manager and every agent
type Context struct {
	Cache   *cache.Manager
	Metrics *metrics.Collector
	Logger  *logger.Logger
}

func (c Context) withDefaults() Context {
	if c.Logger == nil {
		c.Logger = logger.Get()
	}
	if c.Cache == nil {
		c.Cache = cache.New(cache.Options{Logger: c.Logger})
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewCollector(false)
	}
	return c
}

// ExecuteFunc is an agent's unit of work. ctx carries the agent timeout.
type ExecuteFunc func(ctx context.Context) (interface{}, error)

// AgentStatus is a read-only snapshot of an agent
type AgentStatus struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       AgentType  `json:"type"`
	Priority   Priority   `json:"priority"`
	State      State      `json:"status"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
	RunCount   int64      `json:"runCount"`
	ErrorCount int64      `json:"errorCount"`
}

// Result is the outcome of one Run
type Result struct {
	Success   bool
	Data      interface{}
	Err       error
	Timestamp time.Time
	Duration  time.Duration
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Success   bool        `json:"success"`
		Data      interface{} `json:"data,omitempty"`
		Error     string      `json:"error,omitempty"`
		Timestamp int64       `json:"timestamp"`
		Duration  int64       `json:"duration"`
	}{
		Success:   r.Success,
		Data:      r.Data,
		Timestamp: r.Timestamp.UnixMilli(),
		Duration:  r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
