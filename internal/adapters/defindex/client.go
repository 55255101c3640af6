package defindex

import (
	"context"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"onboardr/internal/adapters/config"
	"onboardr/internal/adapters/restclient"
	"onboardr/internal/domain/defi"
	"onboardr/pkg/errors"
)

var _ defi.VaultSource = (*Client)(nil)

// Client talks to the DeFindex vault API
type Client struct {
	rest    *restclient.Client
	network string
	now     func() time.Time
}

// NewClient creates a DeFindex client
func NewClient(cfg config.DeFindexConfig, opts ...restclient.Option) *Client {
	if cfg.APIKey != "" {
		opts = append([]restclient.Option{restclient.WithHeader("Authorization", "Bearer "+cfg.APIKey)}, opts...)
	}

	return &Client{
		rest:    restclient.New("defindex", cfg.BaseURL, cfg.Timeout, opts...),
		network: cfg.Network,
		now:     time.Now,
	}
}

// VaultMetrics lists vaults with their headline metrics
func (c *Client) VaultMetrics(ctx context.Context) ([]defi.Vault, error) {
	path := "/vaults"
	if c.network != "" {
		path += "?" + url.Values{"network": {c.network}}.Encode()
	}

	var vaults []defi.Vault
	if err := c.rest.Get(ctx, path, &vaults); err != nil {
		return nil, errors.Wrap(err, "fetch defindex vaults")
	}
	return vaults, nil
}

// ProtocolSnapshot aggregates the vault list into protocol totals
func (c *Client) ProtocolSnapshot(ctx context.Context) (*defi.ProtocolSnapshot, error) {
	vaults, err := c.VaultMetrics(ctx)
	if err != nil {
		return nil, err
	}
	return Snapshot(vaults, c.now()), nil
}

// Snapshot sums TVL and volume and averages APY across vaults
func Snapshot(vaults []defi.Vault, at time.Time) *defi.ProtocolSnapshot {
	tvl := decimal.Zero
	volume := decimal.Zero
	apy := decimal.Zero

	for _, v := range vaults {
		tvl = tvl.Add(decimal.NewFromFloat(v.TVL))
		volume = volume.Add(decimal.NewFromFloat(v.Volume24h))
		apy = apy.Add(decimal.NewFromFloat(v.APY))
	}

	avg := decimal.Zero
	if len(vaults) > 0 {
		avg = apy.Div(decimal.NewFromInt(int64(len(vaults))))
	}

	return &defi.ProtocolSnapshot{
		TotalTVL:       tvl.InexactFloat64(),
		TotalVolume24h: volume.InexactFloat64(),
		AverageAPY:     avg.Round(4).InexactFloat64(),
		VaultCount:     len(vaults),
		Timestamp:      at.UnixMilli(),
	}
}
