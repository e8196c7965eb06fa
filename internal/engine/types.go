// Package engine reconstructs profit-and-loss for concentrated-liquidity
// positions from indexer snapshots and event streams, and aggregates the
// per-position results into per-pool reports with a 50/50 hold benchmark.
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionKey identifies the (chain, pool, account) bucket results are
// aggregated under.
type PositionKey struct {
	Chain   string
	Pool    string
	Account string
}

// PositionSnapshot is the read-only indexer view of one position: a
// point-in-time view for open positions, a full lifecycle for closed ones.
// Token amounts are already decimal-scaled; USD totals are the indexer's
// own accounting and are treated as ground truth.
type PositionSnapshot struct {
	Key     PositionKey
	TokenID string

	TokenASymbol   string
	TokenBSymbol   string
	TokenAAddress  string
	TokenBAddress  string
	TokenADecimals int32
	TokenBDecimals int32

	// Position price range and the indexer's pool price, quoted as
	// tokenA/tokenB.
	MinPrice  float64
	MaxPrice  float64
	PoolPrice float64

	// Current (open) or at-close (closed) USD token prices.
	TokenAPrice decimal.Decimal
	TokenBPrice decimal.Decimal

	TokenAProvided decimal.Decimal
	TokenBProvided decimal.Decimal
	TokenACurrent  decimal.Decimal
	TokenBCurrent  decimal.Decimal

	TokenAFeePending  decimal.Decimal
	TokenBFeePending  decimal.Decimal
	TokenAFeesClaimed decimal.Decimal
	TokenBFeesClaimed decimal.Decimal

	InitialValue       decimal.Decimal
	CurrentValue       decimal.Decimal
	TotalDepositValue  decimal.Decimal
	TotalWithdrawValue decimal.Decimal

	CreatedAt time.Time
	ClosedAt  time.Time
	Status    string
}

// EventKind tags a position event variant.
type EventKind int

const (
	EventDeposit EventKind = iota
	EventWithdrawal
	EventFeeClaim
)

func (k EventKind) String() string {
	switch k {
	case EventDeposit:
		return "deposit"
	case EventWithdrawal:
		return "withdrawal"
	case EventFeeClaim:
		return "fee_claim"
	default:
		return "unknown"
	}
}

// PositionEvent is one deposit, withdrawal or fee claim in a position's
// history. Amounts are raw (pre-decimal-scaling); ValueXUSD/ValueYUSD are
// the per-leg USD values at event time. Seq is the arrival index used as
// the tiebreak when timestamps collide, so the fold order is deterministic.
type PositionEvent struct {
	Kind      EventKind
	Timestamp time.Time
	Seq       int

	AmountXRaw decimal.Decimal
	AmountYRaw decimal.Decimal
	DecimalsX  int32
	DecimalsY  int32

	ValueXUSD decimal.Decimal
	ValueYUSD decimal.Decimal

	// USD price of the quote token (token Y) at event time, used to
	// rebase the event value into quote-token units.
	QuotePriceUSD decimal.Decimal
}

// AmountX returns the decimal-scaled token-X amount.
func (e PositionEvent) AmountX() decimal.Decimal {
	return e.AmountXRaw.Shift(-e.DecimalsX)
}

// AmountY returns the decimal-scaled token-Y amount.
func (e PositionEvent) AmountY() decimal.Decimal {
	return e.AmountYRaw.Shift(-e.DecimalsY)
}

// ValueUSD is the total USD value of the event.
func (e PositionEvent) ValueUSD() decimal.Decimal {
	return e.ValueXUSD.Add(e.ValueYUSD)
}

// EventPosition bundles a position's ordered event history with the state
// needed to value what is still in the pool.
type EventPosition struct {
	Key          PositionKey
	TokenID      string
	TokenXSymbol string
	TokenYSymbol string

	Events []PositionEvent

	// Present value of the still-open position and the current USD price
	// of the quote token.
	CurrentValueUSD decimal.Decimal
	QuotePriceUSD   decimal.Decimal
}

// PnLResult is the terminal per-position output. Snapshot-based
// reconstructions fill the realized (closed) or unrealized (open) side;
// the event-sourced reconstruction fills all fields including the
// capital/fee decomposition.
type PnLResult struct {
	Key     PositionKey
	TokenID string

	TokenASymbol string
	TokenBSymbol string

	CreatedAt time.Time

	QuantityA0   decimal.Decimal
	QuantityB0   decimal.Decimal
	InitialValue decimal.Decimal
	CurrentValue decimal.Decimal

	TokenAPriceNow decimal.Decimal
	TokenBPriceNow decimal.Decimal

	TotalDeposit    decimal.Decimal
	TotalWithdrawal decimal.Decimal
	CapitalDeposits decimal.Decimal
	ReinvestedFees  decimal.Decimal
	TotalFeeReward  decimal.Decimal

	RealizedUSD   decimal.Decimal
	UnrealizedUSD decimal.Decimal
	NetUSD        decimal.Decimal

	RealizedQuote   decimal.Decimal
	UnrealizedQuote decimal.Decimal
	NetQuote        decimal.Decimal
}

// PriceSource resolves a symbol's USD price by nearest-timestamp match.
// The second return reports whether any price was found.
type PriceSource interface {
	Price(symbol string, at time.Time) (decimal.Decimal, bool)
}
