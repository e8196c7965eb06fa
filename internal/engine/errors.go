package engine

import (
	"errors"

	"lp-pnl/internal/liquidity"
)

var (
	// ErrInvalidRange reports an unusable price range or an unsolvable
	// liquidity equation.
	ErrInvalidRange = liquidity.ErrInvalidRange

	// ErrMissingPrice reports that no price could be resolved for a
	// symbol/timestamp pair.
	ErrMissingPrice = errors.New("engine: missing price")

	// ErrNonPositiveQuantity reports a zero or negative price/quantity
	// where a positive value is required.
	ErrNonPositiveQuantity = errors.New("engine: non-positive quantity")

	// ErrNoDeposits reports an event stream with zero deposit inflow,
	// leaving no cost basis to compute against.
	ErrNoDeposits = errors.New("engine: no deposits in event stream")

	// ErrSkippedSymbol reports a position whose token is on the
	// configured exclusion list.
	ErrSkippedSymbol = errors.New("engine: symbol excluded")
)

// IsSkippable reports whether err is a per-position data-quality failure:
// the position is skipped and logged, the batch continues.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrMissingPrice) ||
		errors.Is(err, ErrNonPositiveQuantity) ||
		errors.Is(err, ErrNoDeposits) ||
		errors.Is(err, ErrSkippedSymbol)
}
