package soroswap

import (
	"context"
	"net/url"

	"github.com/shopspring/decimal"

	"onboardr/internal/adapters/config"
	"onboardr/internal/adapters/restclient"
	"onboardr/internal/domain/defi"
	"onboardr/pkg/errors"
)

var (
	_ defi.MarketSource = (*Client)(nil)
	_ defi.SwapRouter   = (*Client)(nil)
)

// Client talks to the Soroswap REST API
type Client struct {
	rest    *restclient.Client
	network string
}

// NewClient creates a Soroswap API client
func NewClient(cfg config.SoroswapConfig, opts ...restclient.Option) *Client {
	opts = append([]restclient.Option{
		restclient.WithHeader("Authorization", bearer(cfg.APIKey)),
	}, opts...)

	return &Client{
		rest:    restclient.New("soroswap", cfg.BaseURL, cfg.Timeout, opts...),
		network: cfg.Network,
	}
}

func bearer(key string) string {
	if key == "" {
		return ""
	}
	return "Bearer " + key
}

type apiToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

type apiPool struct {
	ID        string   `json:"id"`
	Token0    apiToken `json:"token0"`
	Token1    apiToken `json:"token1"`
	Reserve0  string   `json:"reserve0"`
	Reserve1  string   `json:"reserve1"`
	Fee       float64  `json:"fee"`
	Volume24h float64  `json:"volume24h"`
	Volume7d  float64  `json:"volume7d"`
	Fees24h   float64  `json:"fees24h"`
	TVLUSD    float64  `json:"tvlUSD"`
	APR       float64  `json:"apr"`
}

func (c *Client) query() string {
	if c.network == "" {
		return ""
	}
	return "?" + url.Values{"network": {c.network}}.Encode()
}

// Pools lists all pools, flattened into the pair-oriented shape the agents use
func (c *Client) Pools(ctx context.Context) ([]defi.Pool, error) {
	var raw []apiPool
	if err := c.rest.Get(ctx, "/pools"+c.query(), &raw); err != nil {
		return nil, errors.Wrap(err, "fetch soroswap pools")
	}

	pools := make([]defi.Pool, 0, len(raw))
	for _, p := range raw {
		pools = append(pools, defi.Pool{
			ID:        p.ID,
			Pair:      p.Token0.Symbol + "/" + p.Token1.Symbol,
			Token0:    p.Token0.Symbol,
			Token1:    p.Token1.Symbol,
			TVL:       p.TVLUSD,
			Volume24h: p.Volume24h,
			Volume7d:  p.Volume7d,
			Fees24h:   p.Fees24h,
			APR:       p.APR,
		})
	}
	return pools, nil
}

// Tokens lists all tokens known to Soroswap
func (c *Client) Tokens(ctx context.Context) ([]defi.Token, error) {
	var tokens []defi.Token
	if err := c.rest.Get(ctx, "/tokens"+c.query(), &tokens); err != nil {
		return nil, errors.Wrap(err, "fetch soroswap tokens")
	}
	return tokens, nil
}

type swapBody struct {
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	AmountIn          decimal.Decimal `json:"amountIn"`
	UserAddress       string          `json:"userAddress,omitempty"`
	SlippageTolerance decimal.Decimal `json:"slippageTolerance"`
}

// Quote asks the router for a swap quote
func (c *Client) Quote(ctx context.Context, req defi.QuoteRequest) (*defi.Quote, error) {
	body := swapBody{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		SlippageTolerance: req.Slippage,
	}

	var quote defi.Quote
	if err := c.rest.Post(ctx, "/quote"+c.query(), body, &quote); err != nil {
		return nil, errors.Wrapf(err, "quote %s->%s", req.TokenIn, req.TokenOut)
	}
	if quote.TokenIn == "" {
		quote.TokenIn = req.TokenIn
	}
	if quote.TokenOut == "" {
		quote.TokenOut = req.TokenOut
	}
	return &quote, nil
}

// Swap executes a swap through the router
func (c *Client) Swap(ctx context.Context, req defi.SwapRequest) (*defi.SwapResult, error) {
	body := swapBody{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		UserAddress:       req.UserAddress,
		SlippageTolerance: req.Slippage,
	}

	var result defi.SwapResult
	if err := c.rest.Post(ctx, "/swap"+c.query(), body, &result); err != nil {
		return nil, errors.Wrapf(err, "swap %s->%s", req.TokenIn, req.TokenOut)
	}
	return &result, nil
}
