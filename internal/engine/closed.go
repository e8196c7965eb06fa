package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lp-pnl/internal/liquidity"
)

// ReconstructClosed produces the PnL for one fully-closed position.
//
// Entry prices are looked up from the price source at the position's open
// time; exit prices come from the snapshot. The initial deposit is split
// 50/50 by value to obtain entry quantities, the liquidity constant is
// derived from them, and the recorded withdrawal value is decomposed into
// exit quantities at the closing price ratio. USD PnL uses the indexer's
// recorded deposit/withdraw totals; quote PnL re-values both legs in
// token-B units.
func ReconstructClosed(snap PositionSnapshot, prices PriceSource) (PnLResult, error) {
	if snap.MinPrice >= snap.MaxPrice {
		return PnLResult{}, fmt.Errorf("%w: minPrice %g >= maxPrice %g", ErrInvalidRange, snap.MinPrice, snap.MaxPrice)
	}

	pa0, ok := prices.Price(snap.TokenASymbol, snap.CreatedAt)
	if !ok {
		return PnLResult{}, fmt.Errorf("%w: %s at %s", ErrMissingPrice, snap.TokenASymbol, snap.CreatedAt)
	}
	pb0, ok := prices.Price(snap.TokenBSymbol, snap.CreatedAt)
	if !ok {
		return PnLResult{}, fmt.Errorf("%w: %s at %s", ErrMissingPrice, snap.TokenBSymbol, snap.CreatedAt)
	}

	pa1 := snap.TokenAPrice
	pb1 := snap.TokenBPrice

	for _, p := range []decimal.Decimal{pa0, pb0, pa1, pb1, snap.TotalDepositValue, snap.TotalWithdrawValue} {
		if p.Sign() <= 0 {
			return PnLResult{}, fmt.Errorf("%w: closed position %s/%s requires positive prices and totals",
				ErrNonPositiveQuantity, snap.TokenASymbol, snap.TokenBSymbol)
		}
	}

	dep := snap.TotalDepositValue.InexactFloat64()
	w := snap.TotalWithdrawValue.InexactFloat64()
	fpA0 := pa0.InexactFloat64()
	fpB0 := pb0.InexactFloat64()
	fpA1 := pa1.InexactFloat64()
	fpB1 := pb1.InexactFloat64()

	qa0 := (dep / 2) / fpA0
	qb0 := (dep / 2) / fpB0

	l, err := liquidity.Compute(qa0, qb0, snap.MinPrice, snap.MaxPrice)
	if err != nil {
		return PnLResult{}, err
	}

	pOpen := fpA0 / fpB0
	pClose := fpA1 / fpB1

	qa1, qb1, err := liquidity.DecomposeWithdrawal(w, fpA1, fpB1, pClose, l, snap.MinPrice, snap.MaxPrice)
	if err != nil {
		return PnLResult{}, err
	}

	pnlUSD := snap.TotalWithdrawValue.Sub(snap.TotalDepositValue)

	val0 := qa0*pOpen + qb0
	val1 := qa1*pClose + qb1
	pnlQuote := decimal.NewFromFloat(val1 - val0)

	return PnLResult{
		Key:             snap.Key,
		TokenID:         snap.TokenID,
		TokenASymbol:    snap.TokenASymbol,
		TokenBSymbol:    snap.TokenBSymbol,
		CreatedAt:       snap.CreatedAt,
		QuantityA0:      decimal.NewFromFloat(qa0),
		QuantityB0:      decimal.NewFromFloat(qb0),
		InitialValue:    snap.TotalDepositValue,
		TokenAPriceNow:  pa1,
		TokenBPriceNow:  pb1,
		TotalDeposit:    snap.TotalDepositValue,
		TotalWithdrawal: snap.TotalWithdrawValue,
		RealizedUSD:     pnlUSD,
		NetUSD:          pnlUSD,
		RealizedQuote:   pnlQuote,
		NetQuote:        pnlQuote,
	}, nil
}
