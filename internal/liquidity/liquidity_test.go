package liquidity

import (
	"errors"
	"math"
	"testing"
)

func relDiff(a, b float64) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	return math.Abs(a-b) / math.Max(math.Abs(a), math.Abs(b))
}

// holdings returns the on-curve token amounts for liquidity l at price p.
func holdings(l, p, pMin, pMax float64) (float64, float64) {
	x := l * (1/math.Sqrt(p) - 1/math.Sqrt(pMax))
	y := l * (math.Sqrt(p) - math.Sqrt(pMin))
	return x, y
}

func TestComputeReferenceValue(t *testing.T) {
	// Symmetric range around 1: alpha = beta, A = -0.2, disc = 4e6.
	l, err := Compute(1000, 1000, 0.8, 1.25)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	alpha := math.Sqrt(0.8)
	want := (2000*alpha + 2000) / 0.4 // closed form of the positive root
	if relDiff(l, want) > 1e-9 {
		t.Fatalf("L = %g, want %g", l, want)
	}
}

func TestComputeRejectsBadRange(t *testing.T) {
	cases := []struct {
		name               string
		x0, y0, pMin, pMax float64
	}{
		{"inverted range", 10, 10, 2.0, 1.0},
		{"zero pMin", 10, 10, 0, 1.0},
		{"negative amount", -1, 10, 0.5, 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Compute(tc.x0, tc.y0, tc.pMin, tc.pMax); !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

func TestDecomposeWithdrawalInRange(t *testing.T) {
	l, err := Compute(1000, 1000, 0.8, 1.25)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// Half the position value at price 1 with both tokens worth $1 must
	// come out as an even split.
	x, y, err := DecomposeWithdrawal(500, 1, 1, 1.0, l, 0.8, 1.25)
	if err != nil {
		t.Fatalf("DecomposeWithdrawal: %v", err)
	}
	if relDiff(x, 250) > 1e-9 || relDiff(y, 250) > 1e-9 {
		t.Fatalf("got (%g, %g), want (250, 250)", x, y)
	}
}

func TestDecomposeWithdrawalSingleAssetRegimes(t *testing.T) {
	l, err := Compute(1000, 1000, 0.8, 1.25)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	x, y, err := DecomposeWithdrawal(400, 2, 1, 0.7, l, 0.8, 1.25)
	if err != nil {
		t.Fatalf("below range: %v", err)
	}
	if relDiff(x, 200) > 1e-12 || y != 0 {
		t.Fatalf("below range: got (%g, %g), want (200, 0)", x, y)
	}

	x, y, err = DecomposeWithdrawal(400, 2, 1, 1.3, l, 0.8, 1.25)
	if err != nil {
		t.Fatalf("above range: %v", err)
	}
	if x != 0 || relDiff(y, 400) > 1e-12 {
		t.Fatalf("above range: got (%g, %g), want (0, 400)", x, y)
	}
}

func TestRoundTripReproducesLiquidity(t *testing.T) {
	cases := []struct {
		x0, y0, pMin, pMax, price float64
	}{
		{1000, 1000, 0.8, 1.25, 1.0},
		{500, 2500, 0.5, 4.0, 1.7},
		{12.5, 900, 0.01, 0.09, 0.04},
		{3, 3, 0.9, 1.1, 1.02},
	}

	for _, tc := range cases {
		l, err := Compute(tc.x0, tc.y0, tc.pMin, tc.pMax)
		if err != nil {
			t.Fatalf("Compute(%+v): %v", tc, err)
		}

		// Withdraw the full position value at the given in-range price
		// (token B is the unit of account, so pa = price, pb = 1). The
		// resulting quantities must re-derive the same L.
		xp, yp := holdings(l, tc.price, tc.pMin, tc.pMax)
		w := xp*tc.price + yp

		x, y, err := DecomposeWithdrawal(w, tc.price, 1, tc.price, l, tc.pMin, tc.pMax)
		if err != nil {
			t.Fatalf("DecomposeWithdrawal(%+v): %v", tc, err)
		}

		l2, err := Compute(x, y, tc.pMin, tc.pMax)
		if err != nil {
			t.Fatalf("Compute round-trip(%+v): %v", tc, err)
		}
		if relDiff(l, l2) > 1e-6 {
			t.Fatalf("round trip drifted: L=%g L'=%g (case %+v)", l, l2, tc)
		}
	}
}

func TestBoundaryContinuity(t *testing.T) {
	const pMin, pMax = 0.8, 1.25
	l, err := Compute(1000, 1000, pMin, pMax)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// Just inside the lower bound a full-value withdrawal converges to
	// the 100%-token-A closed form.
	price := pMin * (1 + 1e-9)
	xp, yp := holdings(l, price, pMin, pMax)
	w := xp*price + yp
	x, y, err := DecomposeWithdrawal(w, price, 1, price, l, pMin, pMax)
	if err != nil {
		t.Fatalf("near pMin: %v", err)
	}
	if relDiff(x, w/price) > 1e-6 {
		t.Fatalf("near pMin: x=%g, want ~%g", x, w/price)
	}
	if math.Abs(y) > w*1e-6 {
		t.Fatalf("near pMin: y=%g, want ~0", y)
	}

	// Just inside the upper bound it converges to 100% token B.
	price = pMax * (1 - 1e-9)
	xp, yp = holdings(l, price, pMin, pMax)
	w = xp*price + yp
	x, y, err = DecomposeWithdrawal(w, price, 1, price, l, pMin, pMax)
	if err != nil {
		t.Fatalf("near pMax: %v", err)
	}
	if relDiff(y, w) > 1e-6 {
		t.Fatalf("near pMax: y=%g, want ~%g", y, w)
	}
	if math.Abs(x*price) > w*1e-6 {
		t.Fatalf("near pMax: x=%g, want ~0", x)
	}
}
