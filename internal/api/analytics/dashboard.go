package analytics

import (
	"context"
	"sort"
	"time"

	"onboardr/internal/agents"
	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// Timeframe selects the dashboard window
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

const (
	tokenPriceLimit = 5
	pairVolumeLimit = 4
	othersLabel     = "Others"
)

// ParseTimeframe validates the tf query value. Empty means 24h.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(s); tf {
	case "":
		return Timeframe24h, nil
	case Timeframe24h, Timeframe7d, Timeframe30d:
		return tf, nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidInput, "unknown timeframe %q", s)
	}
}

// Points is the number of chart points for the timeframe
func (tf Timeframe) Points() int {
	switch tf {
	case Timeframe7d:
		return 7
	case Timeframe30d:
		return 30
	default:
		return 24
	}
}

func (tf Timeframe) bucket() time.Duration {
	if tf == Timeframe24h {
		return time.Hour
	}
	return 24 * time.Hour
}

func (tf Timeframe) window() time.Duration {
	return time.Duration(tf.Points()) * tf.bucket()
}

func (tf Timeframe) label(t time.Time) string {
	switch tf {
	case Timeframe7d:
		return t.Format("Mon")
	case Timeframe30d:
		return t.Format("Jan 2")
	default:
		return t.Format("15:00")
	}
}

// ChartPoint is one bucket of a dashboard chart
type ChartPoint struct {
	Time      string  `json:"time"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// TokenPrice is a row of the token price table
type TokenPrice struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Volume24h float64 `json:"volume24h"`
	MarketCap float64 `json:"marketCap"`
}

// PairVolume is a slice of the pair volume breakdown
type PairVolume struct {
	Pair       string  `json:"pair"`
	Volume     float64 `json:"volume"`
	Percentage float64 `json:"percentage"`
}

// Dashboard is the payload of GET /api/analytics
type Dashboard struct {
	VolumeChart []ChartPoint `json:"volumeChart"`
	TVLChart    []ChartPoint `json:"tvlChart"`
	FeesChart   []ChartPoint `json:"feesChart"`
	TokenPrices []TokenPrice `json:"tokenPrices"`
	PairVolumes []PairVolume `json:"pairVolumes"`
	LastUpdated time.Time    `json:"lastUpdated"`
}

// Service builds dashboards from the snapshot history and the agent cache
type Service struct {
	cache   *cache.Manager
	history defi.HistoryRepository
	log     *logger.Logger
	now     func() time.Time
}

// NewService creates the dashboard service. history may be nil.
func NewService(c *cache.Manager, history defi.HistoryRepository, log *logger.Logger) *Service {
	return &Service{
		cache:   c,
		history: history,
		log:     log.Component("analytics_api"),
		now:     time.Now,
	}
}

// Dashboard assembles the charts and tables for one timeframe
func (s *Service) Dashboard(ctx context.Context, tf Timeframe) (Dashboard, error) {
	now := s.now()

	current, hasMetrics := cache.Value[defi.MarketMetrics](ctx, s.cache, agents.KeyMetrics)

	var volumeHistory, tvlHistory historyFunc
	if s.history != nil {
		volumeHistory = s.history.VolumeHistory
		tvlHistory = s.history.TVLHistory
	}
	volume := s.series(ctx, tf, now, volumeHistory, agents.KeyVolumeHistory, current.Volume24h)
	tvl := s.series(ctx, tf, now, tvlHistory, agents.KeyTVLHistory, current.TVL)

	if err := ctx.Err(); err != nil {
		return Dashboard{}, err
	}

	pools, _ := cache.Value[[]defi.Pool](ctx, s.cache, agents.KeyPools)
	tokens, _ := cache.Value[[]defi.Token](ctx, s.cache, agents.KeyTokens)
	pairs, _ := cache.Value[[]defi.PairStat](ctx, s.cache, agents.KeyTopPairs)

	d := Dashboard{
		VolumeChart: volume,
		TVLChart:    tvl,
		FeesChart:   fees(volume, feeRate(pools)),
		TokenPrices: tokenPrices(tokens, tokenPriceLimit),
		PairVolumes: pairVolumes(pairs, current.Volume24h, pairVolumeLimit),
		LastUpdated: now.UTC(),
	}
	if hasMetrics && current.Timestamp > 0 {
		d.LastUpdated = time.UnixMilli(current.Timestamp).UTC()
	}
	return d, nil
}

type historyFunc func(ctx context.Context, since time.Time, bucket time.Duration) ([]defi.HistoryPoint, error)

// series prefers the snapshot history, then the analytics agent's cached
// 24h series, then a flat line at the current value
func (s *Service) series(
	ctx context.Context,
	tf Timeframe,
	now time.Time,
	history historyFunc,
	cachedKey string,
	current float64,
) []ChartPoint {
	if history != nil {
		points, err := history(ctx, now.Add(-tf.window()), tf.bucket())
		if err != nil {
			s.log.Warnw("History query failed, using cached series", "timeframe", tf, "error", err)
		} else if len(points) > 0 {
			return toChart(tf, points)
		}
	}

	if tf == Timeframe24h {
		if points, ok := cache.Value[[]defi.HistoryPoint](ctx, s.cache, cachedKey); ok && len(points) > 0 {
			return toChart(tf, points)
		}
	}

	return flat(tf, now, current)
}

func toChart(tf Timeframe, points []defi.HistoryPoint) []ChartPoint {
	if n := tf.Points(); len(points) > n {
		points = points[len(points)-n:]
	}
	out := make([]ChartPoint, len(points))
	for i, p := range points {
		out[i] = ChartPoint{
			Time:      tf.label(time.UnixMilli(p.Timestamp).UTC()),
			Timestamp: p.Timestamp,
			Value:     p.Value,
		}
	}
	return out
}

func flat(tf Timeframe, now time.Time, value float64) []ChartPoint {
	n := tf.Points()
	bucket := tf.bucket()
	end := now.UTC().Truncate(bucket)

	out := make([]ChartPoint, n)
	for i := range out {
		t := end.Add(-time.Duration(n-1-i) * bucket)
		out[i] = ChartPoint{Time: tf.label(t), Timestamp: t.UnixMilli(), Value: value}
	}
	return out
}

// feeRate is the protocol-wide fees to volume ratio
func feeRate(pools []defi.Pool) float64 {
	var fees, volume float64
	for _, p := range pools {
		fees += p.Fees24h
		volume += p.Volume24h
	}
	if volume == 0 {
		return 0
	}
	return fees / volume
}

func fees(volume []ChartPoint, rate float64) []ChartPoint {
	out := make([]ChartPoint, len(volume))
	for i, p := range volume {
		p.Value *= rate
		out[i] = p
	}
	return out
}

func tokenPrices(tokens []defi.Token, limit int) []TokenPrice {
	sorted := append([]defi.Token(nil), tokens...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Volume24h > sorted[j].Volume24h
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]TokenPrice, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, TokenPrice{
			Symbol:    t.Symbol,
			Name:      t.Name,
			Price:     t.Price,
			Change24h: t.PriceChange24h,
			Volume24h: t.Volume24h,
			MarketCap: t.MarketCap,
		})
	}
	return out
}

// pairVolumes splits total volume into the leading pairs plus Others.
// total falls back to the sum of the listed pairs.
func pairVolumes(pairs []defi.PairStat, total float64, limit int) []PairVolume {
	var listed float64
	for _, p := range pairs {
		listed += p.Volume24h
	}
	if total < listed {
		total = listed
	}
	if total <= 0 {
		return []PairVolume{}
	}

	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	out := make([]PairVolume, 0, len(pairs)+1)
	var shown float64
	for _, p := range pairs {
		shown += p.Volume24h
		out = append(out, PairVolume{
			Pair:       p.Pair,
			Volume:     p.Volume24h,
			Percentage: p.Volume24h / total * 100,
		})
	}
	if rest := total - shown; rest > 0 {
		out = append(out, PairVolume{
			Pair:       othersLabel,
			Volume:     rest,
			Percentage: rest / total * 100,
		})
	}
	return out
}
