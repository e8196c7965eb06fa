package engine

import (
	"testing"
	"time"
)

func TestAggregateSumsAndFirstSeen(t *testing.T) {
	key := PositionKey{Chain: "base", Pool: "0xpool", Account: "0xme"}
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.AddDate(0, 1, 0)

	results := []PnLResult{
		{
			Key: key, TokenASymbol: "WETH", TokenBSymbol: "USDC",
			CreatedAt: late, QuantityA0: dec("5"), QuantityB0: dec("5"),
			InitialValue: dec("500"), NetUSD: dec("10"), NetQuote: dec("1"),
		},
		{
			Key: key, TokenASymbol: "WETH", TokenBSymbol: "USDC",
			CreatedAt: early, QuantityA0: dec("1"), QuantityB0: dec("2"),
			InitialValue: dec("100"), NetUSD: dec("-4"), NetQuote: dec("2"),
		},
	}

	aggs := Aggregate(results)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}
	agg := aggs[0]

	if !agg.NetUSD.Equal(dec("6")) {
		t.Fatalf("net USD = %s, want 6", agg.NetUSD)
	}
	if !agg.NetQuote.Equal(dec("3")) {
		t.Fatalf("net quote = %s, want 3", agg.NetQuote)
	}
	if agg.Positions != 2 {
		t.Fatalf("positions = %d, want 2", agg.Positions)
	}

	// Descriptive fields come from the earliest position.
	if !agg.EarliestCreated.Equal(early) {
		t.Fatalf("earliest = %s, want %s", agg.EarliestCreated, early)
	}
	if !agg.QuantityA0.Equal(dec("1")) || !agg.QuantityB0.Equal(dec("2")) {
		t.Fatalf("entry quantities = (%s, %s), want (1, 2)", agg.QuantityA0, agg.QuantityB0)
	}
	if !agg.InitialDepositValue.Equal(dec("100")) {
		t.Fatalf("initial deposit = %s, want 100", agg.InitialDepositValue)
	}
}

func TestAggregateSeparatesKeys(t *testing.T) {
	results := []PnLResult{
		{Key: PositionKey{Chain: "base", Pool: "a", Account: "x"}, NetUSD: dec("1")},
		{Key: PositionKey{Chain: "base", Pool: "b", Account: "x"}, NetUSD: dec("2")},
		{Key: PositionKey{Chain: "arbitrum", Pool: "a", Account: "x"}, NetUSD: dec("3")},
	}

	aggs := Aggregate(results)
	if len(aggs) != 3 {
		t.Fatalf("expected 3 aggregates, got %d", len(aggs))
	}
	// Sorted by chain, pool, account.
	if aggs[0].Key.Chain != "arbitrum" {
		t.Fatalf("expected arbitrum first, got %+v", aggs[0].Key)
	}
}

func TestMergeWithBenchmark(t *testing.T) {
	key := PositionKey{Chain: "base", Pool: "0xpool", Account: "0xme"}
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	open := []PoolAggregate{{
		Key:          key,
		TokenASymbol: "WETH", TokenBSymbol: "USDC",
		NetUSD: dec("120"), NetQuote: dec("0.05"),
		TokenAPriceNow: dec("2"), TokenBPriceNow: dec("1"),
		CurrentValue: dec("2500"),
	}}
	closed := []PoolAggregate{{
		Key:             key,
		TokenASymbol:    "WETH", TokenBSymbol: "USDC",
		EarliestCreated: created,
		QuantityA0:      dec("1000"), QuantityB0: dec("1000"),
		InitialDepositValue: dec("2000"),
		NetUSD:              dec("-20"), NetQuote: dec("0.01"),
		Positions:           1,
	}}

	reports := MergeWithBenchmark(open, closed)
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	r := reports[0]

	if !r.LPPnLUSD.Equal(dec("100")) {
		t.Fatalf("lp pnl = %s, want 100", r.LPPnLUSD)
	}
	if !r.LPPnLQuote.Equal(dec("0.06")) {
		t.Fatalf("lp quote pnl = %s, want 0.06", r.LPPnLQuote)
	}

	// Hold: 1000*2 + 1000*1 = 3000 against a 2000 initial deposit.
	if !r.HoldValueUSD.Equal(dec("3000")) {
		t.Fatalf("hold value = %s, want 3000", r.HoldValueUSD)
	}
	if !r.HoldPnLUSD.Equal(dec("1000")) {
		t.Fatalf("hold pnl = %s, want 1000", r.HoldPnLUSD)
	}
	if !r.DeltaVsHoldUSD.Equal(dec("-900")) {
		t.Fatalf("delta vs hold = %s, want -900", r.DeltaVsHoldUSD)
	}
	if !r.EarliestCreated.Equal(created) {
		t.Fatalf("earliest = %s, want closed side's %s", r.EarliestCreated, created)
	}
}

func TestMergeOuterUnion(t *testing.T) {
	openOnly := PositionKey{Chain: "base", Pool: "open", Account: "x"}
	closedOnly := PositionKey{Chain: "base", Pool: "closed", Account: "x"}

	open := []PoolAggregate{{
		Key: openOnly, NetUSD: dec("10"),
		QuantityA0: dec("1"), QuantityB0: dec("1"),
		InitialDepositValue: dec("2"),
		TokenAPriceNow:      dec("1"), TokenBPriceNow: dec("1"),
	}}
	closed := []PoolAggregate{{
		Key: closedOnly, NetUSD: dec("-5"), Positions: 1,
		QuantityA0: dec("3"), QuantityB0: dec("3"),
		InitialDepositValue: dec("6"),
		TokenAPriceNow:      dec("2"), TokenBPriceNow: dec("1"),
	}}

	reports := MergeWithBenchmark(open, closed)
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}

	for _, r := range reports {
		switch r.Key {
		case openOnly:
			if !r.LPPnLUSD.Equal(dec("10")) || r.ClosedPnLUSD.Sign() != 0 {
				t.Fatalf("open-only report wrong: %+v", r)
			}
			if r.BenchmarkAtClose {
				t.Fatal("open-only benchmark must use current prices")
			}
		case closedOnly:
			if !r.LPPnLUSD.Equal(dec("-5")) || r.OpenPnLUSD.Sign() != 0 {
				t.Fatalf("closed-only report wrong: %+v", r)
			}
			// Prices fall back to the closed side's exit prices, and the
			// report says so.
			if !r.HoldValueUSD.Equal(dec("9")) {
				t.Fatalf("closed-only hold value = %s, want 9", r.HoldValueUSD)
			}
			if !r.BenchmarkAtClose {
				t.Fatal("closed-only benchmark must be flagged as at-close")
			}
		default:
			t.Fatalf("unexpected key %+v", r.Key)
		}
	}
}
