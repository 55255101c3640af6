package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AgentState is a scrape-time view of one agent
type AgentState struct {
	ID         string
	State      string
	RunCount   int64
	ErrorCount int64
}

// SystemStatus is a scrape-time view of the orchestration layer
type SystemStatus struct {
	Running            bool
	Agents             []AgentState
	CacheEntries       int
	ExternalCache      bool
	WebSocketConnected bool
	UptimeSeconds      float64
}

// StatusCollector exports orchestration state at scrape time
type StatusCollector struct {
	source func() SystemStatus

	running       *prometheus.Desc
	agentState    *prometheus.Desc
	agentRuns     *prometheus.Desc
	agentErrors   *prometheus.Desc
	cacheEntries  *prometheus.Desc
	externalCache *prometheus.Desc
	uptime        *prometheus.Desc
}

// NewStatusCollector creates a collector reading from source on every scrape
func NewStatusCollector(source func() SystemStatus) *StatusCollector {
	return &StatusCollector{
		source: source,

		running: prometheus.NewDesc(
			"onboardr_orchestration_running",
			"1 when the orchestration manager is running",
			nil, nil,
		),
		agentState: prometheus.NewDesc(
			"onboardr_agent_state",
			"Current agent lifecycle state (1 for the active state)",
			[]string{"agent", "state"}, nil,
		),
		agentRuns: prometheus.NewDesc(
			"onboardr_agent_status_runs",
			"Run count reported by the agent status",
			[]string{"agent"}, nil,
		),
		agentErrors: prometheus.NewDesc(
			"onboardr_agent_status_errors",
			"Error count reported by the agent status",
			[]string{"agent"}, nil,
		),
		cacheEntries: prometheus.NewDesc(
			"onboardr_cache_memory_entries",
			"Number of entries in the in-memory cache tier",
			nil, nil,
		),
		externalCache: prometheus.NewDesc(
			"onboardr_cache_external_enabled",
			"1 when an external cache tier is configured",
			nil, nil,
		),
		uptime: prometheus.NewDesc(
			"onboardr_orchestration_uptime_seconds",
			"Seconds since the orchestration manager started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.agentState
	ch <- c.agentRuns
	ch <- c.agentErrors
	ch <- c.cacheEntries
	ch <- c.externalCache
	ch <- c.uptime
}

// Collect implements prometheus.Collector
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	status := c.source()

	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolToFloat(status.Running))
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(status.CacheEntries))
	ch <- prometheus.MustNewConstMetric(c.externalCache, prometheus.GaugeValue, boolToFloat(status.ExternalCache))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, status.UptimeSeconds)

	for _, a := range status.Agents {
		ch <- prometheus.MustNewConstMetric(c.agentState, prometheus.GaugeValue, 1, a.ID, a.State)
		ch <- prometheus.MustNewConstMetric(c.agentRuns, prometheus.CounterValue, float64(a.RunCount), a.ID)
		ch <- prometheus.MustNewConstMetric(c.agentErrors, prometheus.CounterValue, float64(a.ErrorCount), a.ID)
	}
}

// RegisterStatusCollector registers the collector with the default registry
func RegisterStatusCollector(collector *StatusCollector) error {
	return prometheus.Register(collector)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
