package agents

import (
	"context"
	"sort"
	"time"

	"github.com/markcheno/go-talib"
	"golang.org/x/sync/errgroup"

	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
)

// Cache keys written by the analytics agent
const (
	KeySummary       = "analytics:summary"
	KeyTVLHistory    = "analytics:tvl:history"
	KeyVolumeHistory = "analytics:volume:history"
	KeyMovers        = "analytics:movers"
	KeyNetwork       = "analytics:network"
)

const (
	summaryTTL = 60 * time.Second
	historyTTL = 300 * time.Second
	moversTTL  = 60 * time.Second
	networkTTL = 30 * time.Second

	historyWindow = 24 * time.Hour
	historyBucket = time.Hour
	moversLimit   = 5
	tvlSMAPeriod  = 6
)

// Mover is a token's 24h price change in percent
type Mover struct {
	Token  string  `json:"token"`
	Change float64 `json:"change"`
}

// Movers holds the best and worst performing tokens
type Movers struct {
	Gainers []Mover `json:"gainers"`
	Losers  []Mover `json:"losers"`
}

// AnalyticsData is the composite cached under analytics:summary
type AnalyticsData struct {
	TVLHistory        []defi.HistoryPoint `json:"tvlHistory"`
	VolumeHistory     []defi.HistoryPoint `json:"volumeHistory"`
	TopGainers        []Mover             `json:"topGainers"`
	TopLosers         []Mover             `json:"topLosers"`
	TVLMovingAverage  float64             `json:"tvlMovingAverage"`
	GasPrice          float64             `json:"gasPrice"`
	TotalTransactions int64               `json:"totalTransactions"`
	LatestLedger      int64               `json:"latestLedger"`
	Timestamp         int64               `json:"timestamp"`
}

// AnalyticsDeps are the analytics agent's sources. Both may be nil.
type AnalyticsDeps struct {
	History defi.HistoryRepository
	Network defi.NetworkSource
}

// AnalyticsAgent aggregates history, price movers and network stats and
// fans them out into separately cached entries.
type AnalyticsAgent struct {
	*orchestration.Agent

	history defi.HistoryRepository
	network defi.NetworkSource
}

// NewAnalyticsAgent creates the agent
func NewAnalyticsAgent(cfg orchestration.AgentConfig, actx orchestration.Context, deps AnalyticsDeps) *AnalyticsAgent {
	a := &AnalyticsAgent{
		history: deps.History,
		network: deps.Network,
	}
	a.Agent = orchestration.NewAgent(cfg, actx, a.execute)
	return a
}

func (a *AnalyticsAgent) execute(ctx context.Context) (interface{}, error) {
	var (
		tvl, volume []defi.HistoryPoint
		movers      Movers
		network     defi.NetworkStats
	)

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tvl = a.tvlHistory(gctx, now)
		return nil
	})
	g.Go(func() error {
		volume = a.volumeHistory(gctx, now)
		return nil
	})
	g.Go(func() error {
		movers = a.priceMovers(gctx)
		return nil
	})
	g.Go(func() error {
		stats, err := a.networkStats(gctx)
		if err != nil {
			return err
		}
		network = stats
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := AnalyticsData{
		TVLHistory:        tvl,
		VolumeHistory:     volume,
		TopGainers:        movers.Gainers,
		TopLosers:         movers.Losers,
		TVLMovingAverage:  movingAverage(tvl, tvlSMAPeriod),
		GasPrice:          network.GasPrice,
		TotalTransactions: network.TotalTransactions,
		LatestLedger:      network.LatestLedger,
		Timestamp:         now.UnixMilli(),
	}

	a.fanOut(ctx, data, network)
	return data, nil
}

func (a *AnalyticsAgent) fanOut(ctx context.Context, data AnalyticsData, network defi.NetworkStats) {
	c := a.Context().Cache
	entries := []struct {
		key   string
		value interface{}
		ttl   time.Duration
	}{
		{KeySummary, data, summaryTTL},
		{KeyTVLHistory, data.TVLHistory, historyTTL},
		{KeyVolumeHistory, data.VolumeHistory, historyTTL},
		{KeyMovers, Movers{Gainers: data.TopGainers, Losers: data.TopLosers}, moversTTL},
		{KeyNetwork, network, networkTTL},
	}
	for _, e := range entries {
		if err := c.Set(ctx, e.key, e.value, e.ttl); err != nil {
			a.Logger().Warnw("Failed to cache analytics entry", "key", e.key, "error", err)
		}
	}
}

func (a *AnalyticsAgent) tvlHistory(ctx context.Context, now time.Time) []defi.HistoryPoint {
	if a.history != nil {
		points, err := a.history.TVLHistory(ctx, now.Add(-historyWindow), historyBucket)
		if err == nil && len(points) > 0 {
			return points
		}
		if err != nil {
			a.Logger().Warnw("TVL history unavailable, deriving from current totals", "error", err)
		}
	}

	c := a.Context().Cache
	pools, _ := cache.Value[[]defi.Pool](ctx, c, KeyPools)
	vaults, _ := cache.Value[[]defi.Vault](ctx, c, KeyVaults)
	return flatHistory(now, totalTVL(pools, vaults))
}

func (a *AnalyticsAgent) volumeHistory(ctx context.Context, now time.Time) []defi.HistoryPoint {
	if a.history != nil {
		points, err := a.history.VolumeHistory(ctx, now.Add(-historyWindow), historyBucket)
		if err == nil && len(points) > 0 {
			return points
		}
		if err != nil {
			a.Logger().Warnw("Volume history unavailable, deriving from current totals", "error", err)
		}
	}

	pools, _ := cache.Value[[]defi.Pool](ctx, a.Context().Cache, KeyPools)
	return flatHistory(now, totalVolume(pools))
}

// flatHistory spreads the current value over the hourly buckets of the window
func flatHistory(now time.Time, value float64) []defi.HistoryPoint {
	n := int(historyWindow / historyBucket)
	end := now.Truncate(historyBucket)
	points := make([]defi.HistoryPoint, 0, n)
	for i := n - 1; i >= 0; i-- {
		points = append(points, defi.HistoryPoint{
			Timestamp: end.Add(-time.Duration(i) * historyBucket).UnixMilli(),
			Value:     value,
		})
	}
	return points
}

func (a *AnalyticsAgent) priceMovers(ctx context.Context) Movers {
	tokens, _ := cache.Value[[]defi.Token](ctx, a.Context().Cache, KeyTokens)
	return rankMovers(tokens, moversLimit)
}

// rankMovers sorts by 24h change. Gainers are best first, losers worst first.
func rankMovers(tokens []defi.Token, limit int) Movers {
	all := make([]Mover, 0, len(tokens))
	for _, t := range tokens {
		all = append(all, Mover{Token: t.Symbol, Change: t.PriceChange24h})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Change > all[j].Change })

	n := len(all)
	if n > limit {
		n = limit
	}
	gainers := append([]Mover(nil), all[:n]...)
	losers := make([]Mover, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		losers = append(losers, all[i])
	}
	return Movers{Gainers: gainers, Losers: losers}
}

// networkStats falls back to the last cached stats when Horizon fails
func (a *AnalyticsAgent) networkStats(ctx context.Context) (defi.NetworkStats, error) {
	if a.network == nil {
		return defi.NetworkStats{}, nil
	}

	stats, err := a.network.NetworkStats(ctx)
	if err == nil {
		return *stats, nil
	}

	if cached, ok := cache.Value[defi.NetworkStats](ctx, a.Context().Cache, KeyNetwork); ok {
		a.Logger().Warnw("Network stats unavailable, using cached", "error", err)
		return cached, nil
	}
	return defi.NetworkStats{}, errors.Wrap(err, "fetch network stats")
}

// movingAverage is the simple moving average of the last period points
func movingAverage(points []defi.HistoryPoint, period int) float64 {
	if len(points) == 0 {
		return 0
	}
	if len(points) < period {
		period = len(points)
	}
	if period < 2 {
		return points[len(points)-1].Value
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	sma := talib.Sma(values, period)
	return sma[len(sma)-1]
}

// Metric decodes one analytics:<name> entry into dest
func (a *AnalyticsAgent) Metric(ctx context.Context, name string, dest interface{}) bool {
	return a.Context().Cache.Get(ctx, "analytics:"+name, dest)
}
