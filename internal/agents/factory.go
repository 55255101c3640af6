package agents

import (
	"github.com/shopspring/decimal"

	"onboardr/internal/adapters/config"
	"onboardr/internal/domain/defi"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
)

// FactoryDeps gathers the external sources the agents need
type FactoryDeps struct {
	Market  defi.MarketSource
	Router  defi.SwapRouter
	Vaults  defi.VaultSource
	Network defi.NetworkSource     // optional
	History defi.HistoryRepository // optional
	Config  config.AgentsConfig
}

// Set is the standard agent line-up. Callers keep it for typed access
// to the trading and alert agents.
type Set struct {
	DataPreload *DataPreloadAgent
	Trading     *TradingAgent
	Analytics   *AnalyticsAgent
	Alerts      *AlertAgent
}

// Runners returns the agents in registration order
func (s *Set) Runners() []orchestration.Runner {
	return []orchestration.Runner{s.DataPreload, s.Trading, s.Analytics, s.Alerts}
}

// Build creates the four standard agents sharing actx
func Build(actx orchestration.Context, deps FactoryDeps) (*Set, error) {
	if deps.Market == nil || deps.Router == nil || deps.Vaults == nil {
		return nil, errors.Wrap(errors.ErrConfig, "market, router and vault sources are required")
	}

	dataCfg, tradingCfg, analyticsCfg, alertCfg := configsFrom(deps.Config)

	return &Set{
		DataPreload: NewDataPreloadAgent(dataCfg, actx, DataPreloadDeps{
			Market:  deps.Market,
			Vaults:  deps.Vaults,
			History: deps.History,
		}),
		Trading: NewTradingAgent(tradingCfg, actx, TradingDeps{
			Router:          deps.Router,
			MaxPerTick:      deps.Config.TradingMaxPerTick,
			Retention:       deps.Config.TradingRetention,
			DefaultSlippage: decimal.NewFromFloat(deps.Config.TradingDefaultSlippage),
		}),
		Analytics: NewAnalyticsAgent(analyticsCfg, actx, AnalyticsDeps{
			History: deps.History,
			Network: deps.Network,
		}),
		Alerts: NewAlertAgent(alertCfg, actx),
	}, nil
}

// Factory hands the prebuilt agents to the manager on its first Start.
// It satisfies orchestration.AgentFactory as a method value.
func (s *Set) Factory(orchestration.Context) ([]orchestration.Runner, error) {
	return s.Runners(), nil
}
