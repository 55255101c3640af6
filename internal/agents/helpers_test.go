package agents

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/internal/metrics"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

func newTestContext() orchestration.Context {
	return orchestration.Context{
		Cache:   cache.New(cache.Options{Logger: logger.Nop()}),
		Metrics: metrics.NewCollector(true),
		Logger:  logger.Nop(),
	}
}

// quick returns cfg with no agent-level retries and a short timeout
func quick(cfg orchestration.AgentConfig) orchestration.AgentConfig {
	cfg.RetryAttempts = 0
	cfg.Timeout = 2 * time.Second
	cfg.RetryBaseDelay = 10 * time.Millisecond
	return cfg
}

type fakeMarket struct {
	mu         sync.Mutex
	pools      []defi.Pool
	tokens     []defi.Token
	poolErrs   []error // consumed one per call before succeeding
	tokenErr   error
	poolCalls  int
	tokenCalls int
}

func (f *fakeMarket) Pools(ctx context.Context) ([]defi.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolCalls++
	if len(f.poolErrs) > 0 {
		err := f.poolErrs[0]
		f.poolErrs = f.poolErrs[1:]
		return nil, err
	}
	return append([]defi.Pool(nil), f.pools...), nil
}

func (f *fakeMarket) Tokens(ctx context.Context) ([]defi.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return append([]defi.Token(nil), f.tokens...), nil
}

func (f *fakeMarket) fail(err error) {
	f.mu.Lock()
	f.tokenErr = err
	f.mu.Unlock()
}

type fakeVaults struct {
	vaults []defi.Vault
	err    error
}

func (f *fakeVaults) VaultMetrics(ctx context.Context) ([]defi.Vault, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vaults, nil
}

func (f *fakeVaults) ProtocolSnapshot(ctx context.Context) (*defi.ProtocolSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &defi.ProtocolSnapshot{VaultCount: len(f.vaults), Timestamp: time.Now().UnixMilli()}, nil
}

type fakeRouter struct {
	mu       sync.Mutex
	quoted   []string // trade tokens in the order quotes were asked for
	swapped  []string
	swapErrs map[string]error

	// a quote for a gated token signals reached, then waits for its gate
	gates   map[string]chan struct{}
	reached chan string
}

func (f *fakeRouter) Quote(ctx context.Context, req defi.QuoteRequest) (*defi.Quote, error) {
	f.mu.Lock()
	f.quoted = append(f.quoted, req.TokenIn)
	gate := f.gates[req.TokenIn]
	f.mu.Unlock()
	if gate != nil {
		f.reached <- req.TokenIn
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &defi.Quote{
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountIn.Mul(decimal.NewFromInt(2)),
	}, nil
}

func (f *fakeRouter) Swap(ctx context.Context, req defi.SwapRequest) (*defi.SwapResult, error) {
	f.mu.Lock()
	f.swapped = append(f.swapped, req.TokenIn)
	err := f.swapErrs[req.TokenIn]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &defi.SwapResult{
		TxHash:    "tx-" + req.TokenIn,
		Status:    "success",
		AmountOut: req.AmountIn.Mul(decimal.NewFromInt(2)),
	}, nil
}

func (f *fakeRouter) quotes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.quoted...)
}

func (f *fakeRouter) swaps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.swapped...)
}

type fakeNetwork struct {
	stats *defi.NetworkStats
	err   error
}

func (f *fakeNetwork) NetworkStats(ctx context.Context) (*defi.NetworkStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

type fakeHistory struct {
	mu        sync.Mutex
	snapshots []defi.MarketSnapshot
	tvl       []defi.HistoryPoint
	volume    []defi.HistoryPoint
	err       error
}

func (f *fakeHistory) InsertSnapshot(ctx context.Context, s defi.MarketSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, s)
	return nil
}

func (f *fakeHistory) TVLHistory(ctx context.Context, since time.Time, bucket time.Duration) ([]defi.HistoryPoint, error) {
	return f.tvl, f.err
}

func (f *fakeHistory) VolumeHistory(ctx context.Context, since time.Time, bucket time.Duration) ([]defi.HistoryPoint, error) {
	return f.volume, f.err
}

var errUpstream = errors.New("upstream unavailable")
