package defi

import (
	"context"
	"time"
)

// MarketSource provides pool and token listings (Soroswap)
type MarketSource interface {
	Pools(ctx context.Context) ([]Pool, error)
	Tokens(ctx context.Context) ([]Token, error)
}

// SwapRouter quotes and executes swaps (Soroswap router)
type SwapRouter interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// VaultSource provides vault metrics (DeFindex)
type VaultSource interface {
	VaultMetrics(ctx context.Context) ([]Vault, error)
	ProtocolSnapshot(ctx context.Context) (*ProtocolSnapshot, error)
}

// NetworkSource provides network statistics (Horizon)
type NetworkSource interface {
	NetworkStats(ctx context.Context) (*NetworkStats, error)
}

// HistoryRepository persists market snapshots and serves bucketed history (ClickHouse)
type HistoryRepository interface {
	InsertSnapshot(ctx context.Context, snapshot MarketSnapshot) error
	TVLHistory(ctx context.Context, since time.Time, bucket time.Duration) ([]HistoryPoint, error)
	VolumeHistory(ctx context.Context, since time.Time, bucket time.Duration) ([]HistoryPoint, error)
}
