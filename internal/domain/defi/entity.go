package defi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool is a Soroswap liquidity pool as consumed by the orchestration layer
type Pool struct {
	ID        string  `json:"id"`
	Pair      string  `json:"pair"` // e.g. XLM/USDC
	Token0    string  `json:"token0"`
	Token1    string  `json:"token1"`
	TVL       float64 `json:"tvl"`
	Volume24h float64 `json:"volume24h"`
	Volume7d  float64 `json:"volume7d"`
	Fees24h   float64 `json:"fees24h"`
	APR       float64 `json:"apr"`
}

// Token is a listed asset with optional market data
type Token struct {
	Address        string  `json:"address"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Decimals       int     `json:"decimals"`
	LogoURI        string  `json:"logoURI,omitempty"`
	Price          float64 `json:"price,omitempty"`
	PriceChange24h float64 `json:"priceChange24h,omitempty"`
	Volume24h      float64 `json:"volume24h,omitempty"`
	MarketCap      float64 `json:"marketCap,omitempty"`
}

// Allocation is one token's share of a vault
type Allocation struct {
	Token      string  `json:"token"`
	Percentage float64 `json:"percentage"`
}

// Vault is a DeFindex vault with its headline metrics
type Vault struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Symbol         string       `json:"symbol"`
	TVL            float64      `json:"tvl"`
	APY            float64      `json:"apy"`
	Volume24h      float64      `json:"volume24h"`
	PriceChange24h float64      `json:"priceChange24h"`
	Risk           string       `json:"risk"` // low|medium|high
	Composition    []Allocation `json:"composition,omitempty"`
}

// ProtocolSnapshot aggregates a protocol's vaults
type ProtocolSnapshot struct {
	TotalTVL       float64 `json:"totalTvl"`
	TotalVolume24h float64 `json:"totalVolume24h"`
	AverageAPY     float64 `json:"averageApy"`
	VaultCount     int     `json:"vaultCount"`
	Timestamp      int64   `json:"timestamp"`
}

// MarketMetrics is the aggregate cached under data:metrics
type MarketMetrics struct {
	TVL       float64 `json:"tvl"`
	Volume24h float64 `json:"volume24h"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

// PairStat is one entry of the top pairs ranking
type PairStat struct {
	Pair      string  `json:"pair"`
	Volume24h float64 `json:"volume24h"`
	TVL       float64 `json:"tvl"`
	APR       float64 `json:"apr"`
	Fees24h   float64 `json:"fees24h"`
}

// QuoteRequest asks the router for a swap quote
type QuoteRequest struct {
	TokenIn  string          `json:"tokenIn"`
	TokenOut string          `json:"tokenOut"`
	AmountIn decimal.Decimal `json:"amountIn"`
	Slippage decimal.Decimal `json:"slippageTolerance"`
}

// Quote is the router's answer to a QuoteRequest
type Quote struct {
	TokenIn     string          `json:"tokenIn"`
	TokenOut    string          `json:"tokenOut"`
	AmountIn    decimal.Decimal `json:"amountIn"`
	AmountOut   decimal.Decimal `json:"amountOut"`
	PriceImpact float64         `json:"priceImpact"`
	Route       []string        `json:"route,omitempty"`
}

// SwapRequest executes a swap on behalf of a user
type SwapRequest struct {
	TokenIn     string          `json:"tokenIn"`
	TokenOut    string          `json:"tokenOut"`
	AmountIn    decimal.Decimal `json:"amountIn"`
	UserAddress string          `json:"userAddress"`
	Slippage    decimal.Decimal `json:"slippageTolerance"`
}

// SwapResult is the router's answer to a SwapRequest
type SwapResult struct {
	TxHash    string          `json:"txHash"`
	Status    string          `json:"status"`
	AmountOut decimal.Decimal `json:"amountOut"`
	XDR       string          `json:"xdr,omitempty"` // unsigned transaction when signing is client-side
}

// NetworkStats summarizes Stellar network conditions
type NetworkStats struct {
	GasPrice          float64   `json:"gasPrice"` // base fee in XLM
	BaseFeeStroops    int64     `json:"baseFeeStroops"`
	FeeP90Stroops     int64     `json:"feeP90Stroops"`
	CapacityUsage     float64   `json:"capacityUsage"`
	LatestLedger      int64     `json:"latestLedger"`
	TotalTransactions int64     `json:"totalTransactions"` // in the latest ledger
	TotalOperations   int64     `json:"totalOperations"`
	LedgerClosedAt    time.Time `json:"ledgerClosedAt"`
}

// HistoryPoint is one bucket of TVL/volume history
type HistoryPoint struct {
	Timestamp int64   `json:"timestamp"` // unix millis
	Value     float64 `json:"value"`
}

// MarketSnapshot is persisted on every successful preload
type MarketSnapshot struct {
	Timestamp  time.Time `ch:"timestamp"`
	TVL        float64   `ch:"tvl"`
	Volume24h  float64   `ch:"volume_24h"`
	PoolCount  uint32    `ch:"pool_count"`
	TokenCount uint32    `ch:"token_count"`
	VaultCount uint32    `ch:"vault_count"`
}
