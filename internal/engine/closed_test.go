package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubPrices map[string]decimal.Decimal

func (s stubPrices) Price(symbol string, _ time.Time) (decimal.Decimal, bool) {
	v, ok := s[symbol]
	return v, ok
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func closedFixture() PositionSnapshot {
	return PositionSnapshot{
		Key:                PositionKey{Chain: "base", Pool: "0xpool", Account: "0xme"},
		TokenID:            "42",
		TokenASymbol:       "WETH",
		TokenBSymbol:       "USDC",
		MinPrice:           0.8,
		MaxPrice:           1.25,
		TokenAPrice:        dec("1"),
		TokenBPrice:        dec("1"),
		TotalDepositValue:  dec("2000"),
		TotalWithdrawValue: dec("2100"),
		CreatedAt:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestReconstructClosed(t *testing.T) {
	prices := stubPrices{"WETH": dec("1"), "USDC": dec("1")}

	res, err := ReconstructClosed(closedFixture(), prices)
	if err != nil {
		t.Fatalf("ReconstructClosed: %v", err)
	}

	if !res.RealizedUSD.Equal(dec("100")) {
		t.Fatalf("realized USD = %s, want 100", res.RealizedUSD)
	}
	if !res.NetUSD.Equal(res.RealizedUSD) {
		t.Fatalf("net should equal realized for a closed position")
	}
	if res.UnrealizedUSD.Sign() != 0 {
		t.Fatalf("closed position must have zero unrealized PnL, got %s", res.UnrealizedUSD)
	}

	// Entry split is 50/50 by value at unit prices.
	if !res.QuantityA0.Equal(dec("1000")) || !res.QuantityB0.Equal(dec("1000")) {
		t.Fatalf("entry quantities = (%s, %s), want (1000, 1000)", res.QuantityA0, res.QuantityB0)
	}

	// At an unchanged price ratio the quote PnL matches the USD PnL.
	diff := res.RealizedQuote.Sub(dec("100")).Abs()
	if diff.GreaterThan(dec("0.000001")) {
		t.Fatalf("realized quote = %s, want ~100", res.RealizedQuote)
	}
}

func TestReconstructClosedMissingEntryPrice(t *testing.T) {
	prices := stubPrices{"WETH": dec("1")} // no USDC

	_, err := ReconstructClosed(closedFixture(), prices)
	if !errors.Is(err, ErrMissingPrice) {
		t.Fatalf("expected ErrMissingPrice, got %v", err)
	}
}

func TestReconstructClosedRejectsBadInputs(t *testing.T) {
	prices := stubPrices{"WETH": dec("1"), "USDC": dec("1")}

	snap := closedFixture()
	snap.MinPrice = 1.25
	snap.MaxPrice = 0.8
	if _, err := ReconstructClosed(snap, prices); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("inverted range: expected ErrInvalidRange, got %v", err)
	}

	snap = closedFixture()
	snap.TotalWithdrawValue = decimal.Decimal{}
	if _, err := ReconstructClosed(snap, prices); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Fatalf("zero withdraw: expected ErrNonPositiveQuantity, got %v", err)
	}

	snap = closedFixture()
	snap.TokenAPrice = dec("-1")
	if _, err := ReconstructClosed(snap, prices); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Fatalf("negative exit price: expected ErrNonPositiveQuantity, got %v", err)
	}
}

func TestReconstructClosedOutOfRangeExit(t *testing.T) {
	// Exit below the range: the withdrawal must come out 100% token A.
	prices := stubPrices{"WETH": dec("1"), "USDC": dec("1")}
	snap := closedFixture()
	snap.TokenAPrice = dec("0.7") // pClose = 0.7 <= pMin
	snap.TokenBPrice = dec("1")

	res, err := ReconstructClosed(snap, prices)
	if err != nil {
		t.Fatalf("ReconstructClosed: %v", err)
	}
	if !res.RealizedUSD.Equal(dec("100")) {
		t.Fatalf("realized USD = %s, want 100 (uses recorded totals)", res.RealizedUSD)
	}
	// Quote PnL reflects holding 3000 WETH at ratio 0.7 vs entry value 2000.
	want := 2100.0/0.7*0.7 - 2000.0
	got, _ := res.RealizedQuote.Float64()
	if got-want > 1e-6 || want-got > 1e-6 {
		t.Fatalf("realized quote = %v, want %v", got, want)
	}
}
