// Package fetcher pulls LP position state from the Krystal indexer,
// candle price history from a spot exchange, and pool prices from an
// Ethereum RPC endpoint.
package fetcher

import (
	"context"
	"time"

	"lp-pnl/internal/engine"
	"lp-pnl/internal/pricing"
)

// Position status filters accepted by the indexer.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// PositionSource retrieves LP position snapshots for a set of wallets.
type PositionSource interface {
	FetchPositions(ctx context.Context, status string) ([]engine.PositionSnapshot, error)
}

// EventSource retrieves the liquidity transaction history of one position.
type EventSource interface {
	FetchEvents(ctx context.Context, snap engine.PositionSnapshot) ([]engine.PositionEvent, error)
}

// PriceHistorySource retrieves historical USD price points for a symbol.
type PriceHistorySource interface {
	FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]pricing.Point, error)
}

// PoolPriceFetcher reads the current pool price on chain.
type PoolPriceFetcher interface {
	FetchPoolPrice(ctx context.Context, poolAddress string, decimals0, decimals1 int32) (float64, uint64, error)
}
