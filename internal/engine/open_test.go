package engine

import (
	"errors"
	"testing"
	"time"
)

func openFixture() PositionSnapshot {
	return PositionSnapshot{
		Key:               PositionKey{Chain: "arbitrum", Pool: "0xpool", Account: "0xme"},
		TokenID:           "7",
		TokenASymbol:      "ARB",
		TokenBSymbol:      "USDT",
		TokenAPrice:       dec("1.1"),
		TokenBPrice:       dec("1"),
		TokenAProvided:    dec("1000"),
		TokenBProvided:    dec("1000"),
		TokenACurrent:     dec("900"),
		TokenBCurrent:     dec("1100"),
		TokenAFeePending:  dec("10"),
		TokenBFeePending:  dec("5"),
		TokenAFeesClaimed: dec("0"),
		TokenBFeesClaimed: dec("5"),
		InitialValue:      dec("2000"),
		CurrentValue:      dec("2050"),
		CreatedAt:         time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Status:            "OPEN",
	}
}

func TestReconstructOpen(t *testing.T) {
	res, err := ReconstructOpen(openFixture())
	if err != nil {
		t.Fatalf("ReconstructOpen: %v", err)
	}

	// 2050 + 10*1.1 + 10*1 - 2000
	if !res.UnrealizedUSD.Equal(dec("71")) {
		t.Fatalf("unrealized USD = %s, want 71", res.UnrealizedUSD)
	}
	if !res.NetUSD.Equal(res.UnrealizedUSD) {
		t.Fatalf("net should equal unrealized for an open position")
	}
	if res.RealizedUSD.Sign() != 0 {
		t.Fatalf("open position must have zero realized PnL, got %s", res.RealizedUSD)
	}

	// val0 = 1000*1 + 1000; val1 = 900*1.1 + 1100 + 10*1.1 + 10
	if !res.UnrealizedQuote.Equal(dec("111")) {
		t.Fatalf("unrealized quote = %s, want 111", res.UnrealizedQuote)
	}
}

func TestReconstructOpenRejectsBadInputs(t *testing.T) {
	snap := openFixture()
	snap.TokenBPrice = dec("0")
	if _, err := ReconstructOpen(snap); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Fatalf("zero price: expected ErrNonPositiveQuantity, got %v", err)
	}

	snap = openFixture()
	snap.TokenACurrent = dec("-1")
	if _, err := ReconstructOpen(snap); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Fatalf("negative quantity: expected ErrNonPositiveQuantity, got %v", err)
	}

	// Zero provided quantity makes the inferred entry price undefined.
	snap = openFixture()
	snap.TokenAProvided = dec("0")
	if _, err := ReconstructOpen(snap); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Fatalf("zero provided: expected ErrNonPositiveQuantity, got %v", err)
	}
}
