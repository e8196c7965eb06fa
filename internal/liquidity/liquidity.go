// Package liquidity implements the constant-liquidity curve math for
// Uniswap-V3-style positions: deriving the liquidity constant L from
// deposited amounts and a price range, and splitting a withdrawal value
// back into token quantities at a given price.
package liquidity

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRange reports a price range or deposit for which the
// liquidity equation has no positive solution.
var ErrInvalidRange = errors.New("liquidity: invalid price range")

// epsA is the threshold below which the quadratic coefficient is treated
// as zero and the linear fallback applies.
const epsA = 1e-12

// Compute derives the liquidity constant L for a position that deposited
// x0 of the base token and y0 of the quote token into the range
// [pMin, pMax]. Prices are quoted as base/quote.
//
// With alpha = sqrt(pMin) and beta = 1/sqrt(pMax) the invariant reduces to
// A·L² + B·L + C = 0 where A = alpha·beta − 1, B = x0·alpha + y0·beta and
// C = x0·y0. The positive root is returned.
func Compute(x0, y0, pMin, pMax float64) (float64, error) {
	if x0 < 0 || y0 < 0 {
		return 0, fmt.Errorf("%w: negative deposit amounts (x0=%g y0=%g)", ErrInvalidRange, x0, y0)
	}
	if pMin <= 0 || pMax <= 0 || pMin >= pMax {
		return 0, fmt.Errorf("%w: require 0 < pMin < pMax, got [%g, %g]", ErrInvalidRange, pMin, pMax)
	}

	alpha := math.Sqrt(pMin)
	beta := 1 / math.Sqrt(pMax)

	a := alpha*beta - 1
	b := x0*alpha + y0*beta
	c := x0 * y0

	if math.Abs(a) < epsA {
		// Degenerate quadratic: the range collapsed numerically.
		if b == 0 {
			return 0, fmt.Errorf("%w: degenerate equation with zero linear term", ErrInvalidRange)
		}
		l := -c / b
		if l <= 0 {
			return 0, fmt.Errorf("%w: no positive liquidity root", ErrInvalidRange)
		}
		return l, nil
	}

	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, fmt.Errorf("%w: no real liquidity root", ErrInvalidRange)
	}

	sqrtDisc := math.Sqrt(disc)
	l := math.Max((-b+sqrtDisc)/(2*a), (-b-sqrtDisc)/(2*a))
	if l <= 0 {
		return 0, fmt.Errorf("%w: no positive liquidity root", ErrInvalidRange)
	}
	return l, nil
}

// DecomposeWithdrawal splits a withdrawal worth w (USD) into token
// quantities (qtyA, qtyB), given the tokens' USD prices pa and pb, the
// current base/quote price, the liquidity constant l and the position
// range. Outside the range the position holds a single asset.
func DecomposeWithdrawal(w, pa, pb, price, l, pMin, pMax float64) (float64, float64, error) {
	if pa <= 0 || pb <= 0 {
		return 0, 0, fmt.Errorf("%w: non-positive token price (pa=%g pb=%g)", ErrInvalidRange, pa, pb)
	}
	if pMin <= 0 || pMax <= 0 || pMin >= pMax {
		return 0, 0, fmt.Errorf("%w: require 0 < pMin < pMax, got [%g, %g]", ErrInvalidRange, pMin, pMax)
	}

	switch {
	case price <= pMin:
		// Price at or below the range: the pool converted everything to A.
		return w / pa, 0, nil
	case price >= pMax:
		// Price at or above the range: everything is B.
		return 0, w / pb, nil
	}

	sqrtMin := math.Sqrt(pMin)
	invSqrtMax := 1 / math.Sqrt(pMax)

	den := pa + pb*price
	if den == 0 {
		return 0, 0, fmt.Errorf("%w: degenerate price denominator", ErrInvalidRange)
	}

	x := (w - pb*(price*l*invSqrtMax-l*sqrtMin)) / den
	y := price*(x+l*invSqrtMax) - l*sqrtMin
	return x, y, nil
}
