package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent metrics
	AgentRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_agent_runs_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent", "status"}, // status: success|error
	)

	AgentRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboardr_agent_run_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"agent"},
	)

	AgentLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onboardr_agent_last_run_timestamp",
			Help: "Unix timestamp of last agent execution",
		},
		[]string{"agent"},
	)

	AgentRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_agent_retries_total",
			Help: "Total number of agent retry attempts",
		},
		[]string{"agent"},
	)

	// Process-level error counters (panic, websocket, cache, ...)
	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_errors_total",
			Help: "Total number of recorded errors by type",
		},
		[]string{"type"},
	)

	// Cache metrics
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_cache_operations_total",
			Help: "Total cache operations by tier and outcome",
		},
		[]string{"tier", "operation", "result"}, // tier: memory|external, result: hit|miss|ok|error
	)

	// External API metrics (Soroswap, DeFindex, Horizon)
	ExternalAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_external_api_calls_total",
			Help: "Total number of upstream API calls",
		},
		[]string{"service", "endpoint", "status"},
	)

	ExternalAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboardr_external_api_latency_seconds",
			Help:    "Upstream API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"service", "endpoint"},
	)

	// Domain metrics
	TradesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_trades_processed_total",
			Help: "Total trades processed by the trading agent",
		},
		[]string{"status"}, // status: completed|failed
	)

	AlertsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_alerts_triggered_total",
			Help: "Total alerts triggered",
		},
		[]string{"type"},
	)

	// Transport metrics
	WebSocketConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboardr_websocket_connected",
			Help: "1 when the relay WebSocket is connected",
		},
	)

	WebSocketReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_websocket_reconnects_total",
			Help: "Total number of WebSocket reconnect attempts",
		},
		[]string{"status"}, // status: success|failed|exhausted
	)

	WebSocketMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_websocket_messages_total",
			Help: "Total WebSocket messages by direction",
		},
		[]string{"direction"}, // direction: sent|received|dropped
	)

	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_kafka_messages_total",
			Help: "Total Kafka messages produced",
		},
		[]string{"topic", "status"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboardr_http_requests_total",
			Help: "Total HTTP requests served",
		},
		[]string{"route", "code"},
	)
)

var registerOnce sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			AgentRuns,
			AgentRunDuration,
			AgentLastRun,
			AgentRetries,
			Errors,
			CacheOperations,
			ExternalAPICalls,
			ExternalAPILatency,
			TradesProcessed,
			AlertsTriggered,
			WebSocketConnected,
			WebSocketReconnects,
			WebSocketMessages,
			KafkaMessages,
			HTTPRequests,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordAgentExecution records a single agent attempt
func RecordAgentExecution(agent string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	AgentRuns.WithLabelValues(agent, status).Inc()
	AgentRunDuration.WithLabelValues(agent).Observe(duration.Seconds())
	AgentLastRun.WithLabelValues(agent).SetToCurrentTime()
}

// RecordExternalAPICall records an upstream API call
func RecordExternalAPICall(service, endpoint string, latency time.Duration, err error) {
	ExternalAPICalls.WithLabelValues(service, endpoint, statusLabel(err)).Inc()
	ExternalAPILatency.WithLabelValues(service, endpoint).Observe(latency.Seconds())
}

// RecordCacheOp records a cache tier operation
func RecordCacheOp(tier, operation, result string) {
	CacheOperations.WithLabelValues(tier, operation, result).Inc()
}

// RecordKafkaMessage records a produced event
func RecordKafkaMessage(topic string, err error) {
	KafkaMessages.WithLabelValues(topic, statusLabel(err)).Inc()
}

// SetWebSocketConnected flips the connection gauge
func SetWebSocketConnected(connected bool) {
	if connected {
		WebSocketConnected.Set(1)
		return
	}
	WebSocketConnected.Set(0)
}
