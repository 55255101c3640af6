package horizon

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"onboardr/internal/adapters/config"
	"onboardr/internal/adapters/restclient"
	"onboardr/internal/domain/defi"
	"onboardr/pkg/errors"
)

const stroopsPerLumen = 10_000_000

var _ defi.NetworkSource = (*Client)(nil)

// Client reads network statistics from a Stellar Horizon server
type Client struct {
	rest *restclient.Client
}

// NewClient creates a Horizon client
func NewClient(cfg config.HorizonConfig, opts ...restclient.Option) *Client {
	return &Client{
		rest: restclient.New("horizon", cfg.BaseURL, cfg.Timeout, opts...),
	}
}

// Horizon encodes most fee_stats numbers as strings
type feeStats struct {
	LastLedger          string `json:"last_ledger"`
	LastLedgerBaseFee   string `json:"last_ledger_base_fee"`
	LedgerCapacityUsage string `json:"ledger_capacity_usage"`
	FeeCharged          struct {
		P90 string `json:"p90"`
	} `json:"fee_charged"`
}

type ledgerPage struct {
	Embedded struct {
		Records []ledger `json:"records"`
	} `json:"_embedded"`
}

type ledger struct {
	Sequence                   int64     `json:"sequence"`
	ClosedAt                   time.Time `json:"closed_at"`
	SuccessfulTransactionCount int64     `json:"successful_transaction_count"`
	FailedTransactionCount     int64     `json:"failed_transaction_count"`
	OperationCount             int64     `json:"operation_count"`
}

// NetworkStats combines fee statistics with the latest closed ledger
func (c *Client) NetworkStats(ctx context.Context) (*defi.NetworkStats, error) {
	var (
		fees feeStats
		page ledgerPage
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.rest.Get(gctx, "/fee_stats", &fees)
	})
	group.Go(func() error {
		return c.rest.Get(gctx, "/ledgers?order=desc&limit=1", &page)
	})
	if err := group.Wait(); err != nil {
		return nil, errors.Wrap(err, "fetch horizon network stats")
	}

	baseFee := parseInt(fees.LastLedgerBaseFee)
	stats := &defi.NetworkStats{
		GasPrice:       float64(baseFee) / stroopsPerLumen,
		BaseFeeStroops: baseFee,
		FeeP90Stroops:  parseInt(fees.FeeCharged.P90),
		CapacityUsage:  parseFloat(fees.LedgerCapacityUsage),
		LatestLedger:   parseInt(fees.LastLedger),
	}

	if len(page.Embedded.Records) > 0 {
		l := page.Embedded.Records[0]
		stats.LatestLedger = l.Sequence
		stats.TotalTransactions = l.SuccessfulTransactionCount + l.FailedTransactionCount
		stats.TotalOperations = l.OperationCount
		stats.LedgerClosedAt = l.ClosedAt
	}

	return stats, nil
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
