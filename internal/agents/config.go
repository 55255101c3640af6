package agents

import (
	"time"

	"onboardr/internal/adapters/config"
	"onboardr/internal/orchestration"
)

// DataPreloadConfig returns the default schedule of the data preload agent
func DataPreloadConfig() orchestration.AgentConfig {
	cfg := orchestration.NewAgentConfig(orchestration.DataPreloadAgentID, "Data Preload Agent",
		orchestration.TypeData, orchestration.PriorityCritical)
	cfg.Interval = 30 * time.Second
	cfg.RetryAttempts = 3
	cfg.Timeout = 15 * time.Second
	return cfg
}

// TradingConfig returns the default schedule of the trading agent
func TradingConfig() orchestration.AgentConfig {
	cfg := orchestration.NewAgentConfig(orchestration.TradingAgentID, "Trading Agent",
		orchestration.TypeTrading, orchestration.PriorityHigh)
	cfg.Interval = 5 * time.Second
	cfg.RetryAttempts = 2
	cfg.Timeout = 30 * time.Second
	return cfg
}

// AnalyticsConfig returns the default schedule of the analytics agent
func AnalyticsConfig() orchestration.AgentConfig {
	cfg := orchestration.NewAgentConfig(orchestration.AnalyticsAgentID, "Analytics Agent",
		orchestration.TypeAnalytics, orchestration.PriorityMedium)
	cfg.Interval = 60 * time.Second
	cfg.RetryAttempts = 2
	cfg.Timeout = 20 * time.Second
	return cfg
}

// AlertConfig returns the default schedule of the alert agent
func AlertConfig() orchestration.AgentConfig {
	cfg := orchestration.NewAgentConfig(orchestration.AlertAgentID, "Alert Agent",
		orchestration.TypeAlert, orchestration.PriorityHigh)
	cfg.Interval = 10 * time.Second
	cfg.RetryAttempts = 1
	cfg.Timeout = 10 * time.Second
	return cfg
}

// override applies the values that were set; nil retries keep the default
func override(cfg orchestration.AgentConfig, interval, timeout time.Duration, retries *int) orchestration.AgentConfig {
	if interval > 0 {
		cfg.Interval = interval
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if retries != nil && *retries >= 0 {
		cfg.RetryAttempts = *retries
	}
	return cfg
}

// configsFrom applies environment overrides to the defaults
func configsFrom(c config.AgentsConfig) (data, trading, analytics, alerts orchestration.AgentConfig) {
	data = override(DataPreloadConfig(), c.DataPreloadInterval, c.DataPreloadTimeout, c.DataPreloadRetries)
	trading = override(TradingConfig(), c.TradingInterval, c.TradingTimeout, c.TradingRetries)
	analytics = override(AnalyticsConfig(), c.AnalyticsInterval, c.AnalyticsTimeout, c.AnalyticsRetries)
	alerts = override(AlertConfig(), c.AlertsInterval, c.AlertsTimeout, c.AlertsRetries)
	return
}
