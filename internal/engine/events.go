package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// valuation converts an event-time USD amount into the fold's unit of
// account. The USD fold is the identity; the quote-token fold rebases at
// the event's quote price.
type valuation func(e PositionEvent, usd decimal.Decimal) (decimal.Decimal, error)

func usdValuation(_ PositionEvent, usd decimal.Decimal) (decimal.Decimal, error) {
	return usd, nil
}

func quoteValuation(e PositionEvent, usd decimal.Decimal) (decimal.Decimal, error) {
	if e.QuotePriceUSD.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: quote price at event %s", ErrMissingPrice, e.Timestamp)
	}
	return usd.Div(e.QuotePriceUSD), nil
}

// foldState is the per-position accumulator for one pass over the event
// stream. It is created empty, never shared, and discarded once the
// terminal PnL values are read off it.
type foldState struct {
	claimedX   decimal.Decimal
	claimedY   decimal.Decimal
	availableX decimal.Decimal
	availableY decimal.Decimal

	capitalDeposits decimal.Decimal
	totalDeposit    decimal.Decimal
	totalFeeReward  decimal.Decimal
	totalWithdrawal decimal.Decimal
}

// runFold replays the time-ordered events once, splitting every deposit
// into new capital and reinvested fee income.
//
// Fee claims grow both the cumulative and the available (spendable for
// reinvestment) claimed balances. A deposit leg is considered reinvested
// in proportion min(available/deposited, 1) per token; the consumed
// amounts are deducted from the available balances and floored at zero so
// rounding drift can never make reinvestment exceed what was claimed.
func runFold(events []PositionEvent, value valuation) (foldState, error) {
	var st foldState

	for _, e := range events {
		switch e.Kind {
		case EventFeeClaim:
			st.claimedX = st.claimedX.Add(e.AmountX())
			st.claimedY = st.claimedY.Add(e.AmountY())
			st.availableX = st.availableX.Add(e.AmountX())
			st.availableY = st.availableY.Add(e.AmountY())

			v, err := value(e, e.ValueUSD())
			if err != nil {
				return foldState{}, err
			}
			st.totalFeeReward = st.totalFeeReward.Add(v)

		case EventDeposit:
			depX := e.AmountX()
			depY := e.AmountY()
			ratioX := reinvestRatio(st.availableX, depX)
			ratioY := reinvestRatio(st.availableY, depY)

			vx, err := value(e, e.ValueXUSD)
			if err != nil {
				return foldState{}, err
			}
			vy, err := value(e, e.ValueYUSD)
			if err != nil {
				return foldState{}, err
			}

			reinvested := vx.Mul(ratioX).Add(vy.Mul(ratioY))
			total := vx.Add(vy)
			st.capitalDeposits = st.capitalDeposits.Add(total.Sub(reinvested))
			st.totalDeposit = st.totalDeposit.Add(total)

			st.availableX = floorZero(st.availableX.Sub(depX.Mul(ratioX)))
			st.availableY = floorZero(st.availableY.Sub(depY.Mul(ratioY)))

		case EventWithdrawal:
			v, err := value(e, e.ValueUSD())
			if err != nil {
				return foldState{}, err
			}
			st.totalWithdrawal = st.totalWithdrawal.Add(v)
		}
	}

	return st, nil
}

// reinvestRatio is the fraction of a deposit leg funded from previously
// claimed fees, always within [0, 1].
func reinvestRatio(available, deposited decimal.Decimal) decimal.Decimal {
	if deposited.Sign() <= 0 || available.Sign() <= 0 {
		return decimal.Decimal{}
	}
	r := available.Div(deposited)
	if r.GreaterThan(one) {
		return one
	}
	return r
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Decimal{}
	}
	return d
}

// foldPnL derives the terminal PnL figures from a completed fold.
type foldPnL struct {
	realized   decimal.Decimal
	unrealized decimal.Decimal
	net        decimal.Decimal
}

func (st foldState) pnl(currentValue decimal.Decimal) foldPnL {
	reinvestedFees := st.totalDeposit.Sub(st.capitalDeposits)
	totalInflows := st.capitalDeposits.Add(st.totalFeeReward).Add(reinvestedFees)

	// Cap withdrawals at the modeled inflows; stale or incomplete event
	// capture must not push realized PnL past what the model explains.
	withdrawalRatio := decimal.Decimal{}
	if totalInflows.Sign() > 0 {
		withdrawalRatio = st.totalWithdrawal.Div(totalInflows)
		if withdrawalRatio.GreaterThan(one) {
			withdrawalRatio = one
		}
	}

	withdrawnCapital := st.capitalDeposits.Mul(withdrawalRatio)
	remainingCapital := st.capitalDeposits.Sub(withdrawnCapital)

	return foldPnL{
		realized:   st.totalWithdrawal.Sub(withdrawnCapital),
		unrealized: currentValue.Sub(remainingCapital),
		net:        currentValue.Add(st.totalWithdrawal).Sub(st.capitalDeposits),
	}
}

// quotePnLFold reruns the fold in quote-token units. An event stream
// that cannot be priced in the quote token (single-sided legs without a
// quote price are routine for out-of-range positions) yields zero quote
// figures; the USD result stands on its own.
func quotePnLFold(events []PositionEvent, p EventPosition) foldPnL {
	quote, err := runFold(events, quoteValuation)
	if err != nil {
		return foldPnL{}
	}

	currentQuote := decimal.Decimal{}
	switch {
	case p.CurrentValueUSD.Sign() == 0:
		// Fully withdrawn; no present value to rebase.
	case p.QuotePriceUSD.Sign() > 0:
		currentQuote = p.CurrentValueUSD.Div(p.QuotePriceUSD)
	default:
		return foldPnL{}
	}

	return quote.pnl(currentQuote)
}

// ReconstructEvents apportions a position's deposits into new capital and
// reinvested fees by replaying its chronological event stream, then
// reports realized, unrealized and net PnL in USD and quote-token units.
func ReconstructEvents(p EventPosition) (PnLResult, error) {
	if len(p.Events) == 0 {
		return PnLResult{}, fmt.Errorf("%w: position %s has no events", ErrNoDeposits, p.TokenID)
	}

	events := make([]PositionEvent, len(p.Events))
	copy(events, p.Events)
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Seq < events[j].Seq
	})

	usd, err := runFold(events, usdValuation)
	if err != nil {
		return PnLResult{}, err
	}
	if usd.totalDeposit.Sign() == 0 {
		return PnLResult{}, fmt.Errorf("%w: position %s", ErrNoDeposits, p.TokenID)
	}

	usdPnL := usd.pnl(p.CurrentValueUSD)
	quotePnL := quotePnLFold(events, p)

	return PnLResult{
		Key:             p.Key,
		TokenID:         p.TokenID,
		TokenASymbol:    p.TokenXSymbol,
		TokenBSymbol:    p.TokenYSymbol,
		CreatedAt:       events[0].Timestamp,
		CurrentValue:    p.CurrentValueUSD,
		TotalDeposit:    usd.totalDeposit,
		TotalWithdrawal: usd.totalWithdrawal,
		CapitalDeposits: usd.capitalDeposits,
		ReinvestedFees:  usd.totalDeposit.Sub(usd.capitalDeposits),
		TotalFeeReward:  usd.totalFeeReward,
		RealizedUSD:     usdPnL.realized,
		UnrealizedUSD:   usdPnL.unrealized,
		NetUSD:          usdPnL.net,
		RealizedQuote:   quotePnL.realized,
		UnrealizedQuote: quotePnL.unrealized,
		NetQuote:        quotePnL.net,
	}, nil
}
