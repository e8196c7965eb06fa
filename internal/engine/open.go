package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// ReconstructOpen produces the unrealized PnL for a still-open position
// from its current snapshot alone.
//
// Entry prices are not observed; they are inferred from the initial value
// under a strict 50/50 split (pA0 = (initial/2)/QA0, likewise for B). Fees
// pending and already claimed are valued at current prices and added back,
// since the indexer's current value excludes them.
func ReconstructOpen(snap PositionSnapshot) (PnLResult, error) {
	pa1 := snap.TokenAPrice
	pb1 := snap.TokenBPrice
	if pa1.Sign() <= 0 || pb1.Sign() <= 0 {
		return PnLResult{}, fmt.Errorf("%w: current prices for %s/%s", ErrNonPositiveQuantity, snap.TokenASymbol, snap.TokenBSymbol)
	}

	qa0 := snap.TokenAProvided
	qb0 := snap.TokenBProvided
	qa1 := snap.TokenACurrent
	qb1 := snap.TokenBCurrent
	for _, q := range []decimal.Decimal{qa0, qb0, qa1, qb1} {
		if q.Sign() < 0 {
			return PnLResult{}, fmt.Errorf("%w: negative token quantity on open position %s", ErrNonPositiveQuantity, snap.TokenID)
		}
	}

	if qa0.Sign() == 0 || qb0.Sign() == 0 {
		return PnLResult{}, fmt.Errorf("%w: zero provided quantity, cannot infer entry price", ErrNonPositiveQuantity)
	}

	initial := snap.InitialValue
	current := snap.CurrentValue

	half := initial.Div(two)
	pa0 := half.Div(qa0)
	pb0 := half.Div(qb0)
	if pa0.Sign() <= 0 || pb0.Sign() <= 0 {
		return PnLResult{}, fmt.Errorf("%w: inferred entry prices", ErrNonPositiveQuantity)
	}

	feeA := snap.TokenAFeePending.Add(snap.TokenAFeesClaimed)
	feeB := snap.TokenBFeePending.Add(snap.TokenBFeesClaimed)

	pnlUSD := current.Add(feeA.Mul(pa1)).Add(feeB.Mul(pb1)).Sub(initial)

	pOpen := pa0.Div(pb0)
	pNow := pa1.Div(pb1)
	val0 := qa0.Mul(pOpen).Add(qb0)
	val1 := qa1.Mul(pNow).Add(qb1).Add(feeA.Mul(pNow)).Add(feeB)
	pnlQuote := val1.Sub(val0)

	return PnLResult{
		Key:             snap.Key,
		TokenID:         snap.TokenID,
		TokenASymbol:    snap.TokenASymbol,
		TokenBSymbol:    snap.TokenBSymbol,
		CreatedAt:       snap.CreatedAt,
		QuantityA0:      qa0,
		QuantityB0:      qb0,
		InitialValue:    initial,
		CurrentValue:    current,
		TokenAPriceNow:  pa1,
		TokenBPriceNow:  pb1,
		TotalFeeReward:  feeA.Mul(pa1).Add(feeB.Mul(pb1)),
		UnrealizedUSD:   pnlUSD,
		NetUSD:          pnlUSD,
		UnrealizedQuote: pnlQuote,
		NetQuote:        pnlQuote,
	}, nil
}
