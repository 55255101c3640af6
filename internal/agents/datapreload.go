package agents

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
)

// Cache keys written by the data preload agent
const (
	KeyPools    = "data:pools"
	KeyTokens   = "data:tokens"
	KeyVaults   = "data:vaults"
	KeyMetrics  = "data:metrics"
	KeyTopPairs = "data:topPairs"
)

const (
	listingsTTL = 60 * time.Second
	metricsTTL  = 30 * time.Second

	topPairsLimit = 10

	defaultFetchAttempts  = 3
	defaultFetchBaseDelay = time.Second
)

// PreloadedData is one complete market refresh
type PreloadedData struct {
	Pools     []defi.Pool            `json:"pools"`
	Tokens    []defi.Token           `json:"tokens"`
	Vaults    []defi.Vault           `json:"vaults"`
	Protocol  *defi.ProtocolSnapshot `json:"protocol,omitempty"`
	TVL       float64                `json:"tvl"`
	Volume24h float64                `json:"volume24h"`
	TopPairs  []defi.PairStat        `json:"topPairs"`
	Timestamp int64                  `json:"timestamp"`
}

// DataPreloadDeps are the sources the preload agent reads
type DataPreloadDeps struct {
	Market  defi.MarketSource
	Vaults  defi.VaultSource
	History defi.HistoryRepository // optional

	// per-source retry of pool and token listings, waiting base*(i+1) between attempts
	FetchAttempts  int
	FetchBaseDelay time.Duration
}

// DataPreloadAgent fetches pools, tokens and vaults in parallel and caches
// every facet under its own key.
type DataPreloadAgent struct {
	*orchestration.Agent

	market  defi.MarketSource
	vaults  defi.VaultSource
	history defi.HistoryRepository

	fetchAttempts  int
	fetchBaseDelay time.Duration

	subMu       sync.Mutex
	subscribers map[int]func(PreloadedData)
	nextSub     int
}

// NewDataPreloadAgent creates the agent
func NewDataPreloadAgent(cfg orchestration.AgentConfig, actx orchestration.Context, deps DataPreloadDeps) *DataPreloadAgent {
	if deps.FetchAttempts <= 0 {
		deps.FetchAttempts = defaultFetchAttempts
	}
	if deps.FetchBaseDelay <= 0 {
		deps.FetchBaseDelay = defaultFetchBaseDelay
	}

	a := &DataPreloadAgent{
		market:         deps.Market,
		vaults:         deps.Vaults,
		history:        deps.History,
		fetchAttempts:  deps.FetchAttempts,
		fetchBaseDelay: deps.FetchBaseDelay,
		subscribers:    make(map[int]func(PreloadedData)),
	}
	a.Agent = orchestration.NewAgent(cfg, actx, a.execute)
	return a
}

func (a *DataPreloadAgent) execute(ctx context.Context) (interface{}, error) {
	log := a.Logger()
	log.Debugw("Starting data preload")

	data, err := a.fetch(ctx)
	if err != nil {
		log.Errorw("Data preload failed", "error", err)

		var cached PreloadedData
		if a.CachedResult(context.WithoutCancel(ctx), &cached) {
			log.Infow("Returning cached data due to fetch failure", "cached_at", cached.Timestamp)
			return cached, nil
		}
		return nil, err
	}

	a.notify(data)
	a.cacheFacets(ctx, data)
	a.recordSnapshot(ctx, data)

	log.Infow("Data preload completed",
		"pools", len(data.Pools),
		"tokens", len(data.Tokens),
		"vaults", len(data.Vaults),
		"tvl", humanize.Commaf(data.TVL),
		"volume_24h", humanize.Commaf(data.Volume24h),
	)
	return data, nil
}

func (a *DataPreloadAgent) fetch(ctx context.Context) (PreloadedData, error) {
	var data PreloadedData

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pools, err := fetchWithRetry(gctx, a.fetchAttempts, a.fetchBaseDelay, a.market.Pools)
		if err != nil {
			return errors.Wrap(err, "fetch pools")
		}
		data.Pools = pools
		return nil
	})
	g.Go(func() error {
		tokens, err := fetchWithRetry(gctx, a.fetchAttempts, a.fetchBaseDelay, a.market.Tokens)
		if err != nil {
			return errors.Wrap(err, "fetch tokens")
		}
		data.Tokens = tokens
		return nil
	})
	g.Go(func() error {
		vaults, err := a.vaults.VaultMetrics(gctx)
		if err != nil {
			return errors.Wrap(err, "fetch vault metrics")
		}
		data.Vaults = vaults
		return nil
	})
	g.Go(func() error {
		snapshot, err := a.vaults.ProtocolSnapshot(gctx)
		if err != nil {
			return errors.Wrap(err, "fetch protocol snapshot")
		}
		data.Protocol = snapshot
		return nil
	})
	if err := g.Wait(); err != nil {
		return PreloadedData{}, err
	}

	data.TVL = totalTVL(data.Pools, data.Vaults)
	data.Volume24h = totalVolume(data.Pools)
	data.TopPairs = topPairs(data.Pools, topPairsLimit)
	data.Timestamp = time.Now().UnixMilli()
	return data, nil
}

// fetchWithRetry retries errors with linear backoff. An empty listing is
// retried immediately and, if it stays empty, returned as is.
func fetchWithRetry[T any](ctx context.Context, attempts int, base time.Duration, fetch func(context.Context) ([]T, error)) ([]T, error) {
	for i := 0; i < attempts; i++ {
		items, err := fetch(ctx)
		if err == nil {
			if len(items) > 0 {
				return items, nil
			}
			continue
		}
		if i == attempts-1 {
			return nil, err
		}

		timer := time.NewTimer(base * time.Duration(i+1))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return []T{}, nil
}

func totalTVL(pools []defi.Pool, vaults []defi.Vault) float64 {
	sum := decimal.Zero
	for _, p := range pools {
		sum = sum.Add(decimal.NewFromFloat(p.TVL))
	}
	for _, v := range vaults {
		sum = sum.Add(decimal.NewFromFloat(v.TVL))
	}
	return sum.InexactFloat64()
}

func totalVolume(pools []defi.Pool) float64 {
	sum := decimal.Zero
	for _, p := range pools {
		sum = sum.Add(decimal.NewFromFloat(p.Volume24h))
	}
	return sum.InexactFloat64()
}

// topPairs sorts pools by 24h volume, descending, in place
func topPairs(pools []defi.Pool, limit int) []defi.PairStat {
	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].Volume24h > pools[j].Volume24h
	})

	n := len(pools)
	if n > limit {
		n = limit
	}
	pairs := make([]defi.PairStat, 0, n)
	for _, p := range pools[:n] {
		pairs = append(pairs, defi.PairStat{
			Pair:      p.Pair,
			Volume24h: p.Volume24h,
			TVL:       p.TVL,
			APR:       p.APR,
			Fees24h:   p.Fees24h,
		})
	}
	return pairs
}

func (a *DataPreloadAgent) cacheFacets(ctx context.Context, data PreloadedData) {
	c := a.Context().Cache
	log := a.Logger()

	if err := c.SetMany(ctx, map[string]interface{}{
		KeyPools:  data.Pools,
		KeyTokens: data.Tokens,
		KeyVaults: data.Vaults,
	}, listingsTTL); err != nil {
		log.Warnw("Failed to cache listings", "error", err)
	}

	if err := c.SetMany(ctx, map[string]interface{}{
		KeyMetrics: defi.MarketMetrics{
			TVL:       data.TVL,
			Volume24h: data.Volume24h,
			Timestamp: data.Timestamp,
		},
		KeyTopPairs: data.TopPairs,
	}, metricsTTL); err != nil {
		log.Warnw("Failed to cache market metrics", "error", err)
	}
}

func (a *DataPreloadAgent) recordSnapshot(ctx context.Context, data PreloadedData) {
	if a.history == nil {
		return
	}
	err := a.history.InsertSnapshot(ctx, defi.MarketSnapshot{
		Timestamp:  time.UnixMilli(data.Timestamp),
		TVL:        data.TVL,
		Volume24h:  data.Volume24h,
		PoolCount:  uint32(len(data.Pools)),
		TokenCount: uint32(len(data.Tokens)),
		VaultCount: uint32(len(data.Vaults)),
	})
	if err != nil {
		a.Logger().Warnw("Failed to record market snapshot", "error", err)
	}
}

// OnData registers a callback for every fresh preload. The returned func unsubscribes.
func (a *DataPreloadAgent) OnData(fn func(PreloadedData)) func() {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subscribers[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subscribers, id)
		a.subMu.Unlock()
	}
}

func (a *DataPreloadAgent) notify(data PreloadedData) {
	a.subMu.Lock()
	ids := make([]int, 0, len(a.subscribers))
	for id := range a.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(PreloadedData), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, a.subscribers[id])
	}
	a.subMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.Logger().Errorw("Subscriber notification failed", "panic", r)
				}
			}()
			fn(data)
		}()
	}
}

// CachedPools returns the cached pool listing
func (a *DataPreloadAgent) CachedPools(ctx context.Context) []defi.Pool {
	pools, _ := cache.Value[[]defi.Pool](ctx, a.Context().Cache, KeyPools)
	return pools
}

// CachedTokens returns the cached token listing
func (a *DataPreloadAgent) CachedTokens(ctx context.Context) []defi.Token {
	tokens, _ := cache.Value[[]defi.Token](ctx, a.Context().Cache, KeyTokens)
	return tokens
}

// CachedVaults returns the cached vault listing
func (a *DataPreloadAgent) CachedVaults(ctx context.Context) []defi.Vault {
	vaults, _ := cache.Value[[]defi.Vault](ctx, a.Context().Cache, KeyVaults)
	return vaults
}

// CachedMetrics returns the cached aggregate metrics
func (a *DataPreloadAgent) CachedMetrics(ctx context.Context) (defi.MarketMetrics, bool) {
	return cache.Value[defi.MarketMetrics](ctx, a.Context().Cache, KeyMetrics)
}
