package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lp-pnl/internal/config"
	"lp-pnl/internal/engine"
	"lp-pnl/internal/fetcher"
	"lp-pnl/internal/pricing"
	"lp-pnl/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig(skip ...string) *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			QuoteSymbol: "USDC",
			SkipSymbols: skip,
			Workers:     2,
		},
		Prices: config.PricesConfig{Lookback: 90 * 24 * time.Hour},
	}
}

type stubPositions struct {
	open   []engine.PositionSnapshot
	closed []engine.PositionSnapshot
}

func (s stubPositions) FetchPositions(_ context.Context, status string) ([]engine.PositionSnapshot, error) {
	if status == fetcher.StatusOpen {
		return s.open, nil
	}
	return s.closed, nil
}

type stubHistory map[string]decimal.Decimal

func (s stubHistory) FetchHistory(_ context.Context, symbol string, from, _ time.Time) ([]pricing.Point, error) {
	price, ok := s[symbol]
	if !ok {
		return nil, nil
	}
	return []pricing.Point{{Symbol: symbol, Timestamp: from, Price: price}}, nil
}

type stubEvents map[string][]engine.PositionEvent

func (s stubEvents) FetchEvents(_ context.Context, snap engine.PositionSnapshot) ([]engine.PositionEvent, error) {
	return s[snap.TokenID], nil
}

type memStore struct {
	points  []pricing.Point
	runTS   time.Time
	reports []engine.PoolReport
	stats   []storage.AccountStats
}

func (m *memStore) UpsertPricePoints(_ context.Context, points []pricing.Point) error {
	m.points = append(m.points, points...)
	return nil
}

func (m *memStore) UpsertPoolReports(_ context.Context, runTS time.Time, reports []engine.PoolReport) error {
	m.runTS = runTS
	m.reports = reports
	return nil
}

func (m *memStore) UpsertAccountStats(_ context.Context, stats storage.AccountStats) error {
	m.stats = append(m.stats, stats)
	return nil
}

func openSnapshot() engine.PositionSnapshot {
	return engine.PositionSnapshot{
		Key:            engine.PositionKey{Chain: "base", Pool: "0xpool", Account: "0xme"},
		TokenID:        "9",
		TokenASymbol:   "WETH",
		TokenBSymbol:   "USDC",
		TokenAPrice:    dec("2000"),
		TokenBPrice:    dec("1"),
		TokenAProvided: dec("1"),
		TokenBProvided: dec("2000"),
		TokenACurrent:  dec("0.9"),
		TokenBCurrent:  dec("2100"),
		InitialValue:   dec("4000"),
		CurrentValue:   dec("3900"),
		CreatedAt:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:         "OPEN",
	}
}

func closedSnapshot() engine.PositionSnapshot {
	return engine.PositionSnapshot{
		Key:                engine.PositionKey{Chain: "base", Pool: "0xpool", Account: "0xme"},
		TokenID:            "3",
		TokenASymbol:       "WETH",
		TokenBSymbol:       "USDC",
		MinPrice:           1000,
		MaxPrice:           4000,
		TokenAPrice:        dec("2500"),
		TokenBPrice:        dec("1"),
		TotalDepositValue:  dec("2000"),
		TotalWithdrawValue: dec("2150"),
		CreatedAt:          time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		ClosedAt:           time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
		Status:             "CLOSED",
	}
}

func TestRunBatchMergesOpenAndClosed(t *testing.T) {
	store := &memStore{}
	svc := New(testConfig(), nil,
		stubPositions{open: []engine.PositionSnapshot{openSnapshot()}, closed: []engine.PositionSnapshot{closedSnapshot()}},
		nil,
		stubHistory{"WETH": dec("2000"), "USDC": dec("1")},
		nil,
		store,
		zerolog.Nop(),
	)

	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	result, err := svc.RunBatch(context.Background(), now)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if result.OpenPositions != 1 || result.ClosedPositions != 1 || result.Skipped != 0 {
		t.Fatalf("counts = %d open, %d closed, %d skipped", result.OpenPositions, result.ClosedPositions, result.Skipped)
	}
	if len(result.Reports) != 1 {
		t.Fatalf("expected 1 merged pool report, got %d", len(result.Reports))
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 per-position results, got %d", len(result.Results))
	}

	r := result.Reports[0]
	// Closed leg realized 2150-2000; both legs land in the same pool.
	if !r.ClosedPnLUSD.Equal(dec("150")) {
		t.Fatalf("closed pnl = %s, want 150", r.ClosedPnLUSD)
	}
	if !r.LPPnLUSD.Equal(r.OpenPnLUSD.Add(r.ClosedPnLUSD)) {
		t.Fatalf("lp pnl %s != open %s + closed %s", r.LPPnLUSD, r.OpenPnLUSD, r.ClosedPnLUSD)
	}

	if !store.runTS.Equal(now) || len(store.reports) != 1 {
		t.Fatalf("store did not receive the run's reports")
	}
	if len(store.points) == 0 {
		t.Fatal("store did not receive price points")
	}
	if len(store.stats) != 1 || store.stats[0].Account != "0xme" {
		t.Fatalf("account stats = %+v", store.stats)
	}
	if store.stats[0].Positions != 1 {
		t.Fatalf("open position count = %d, want 1", store.stats[0].Positions)
	}
}

func TestRunBatchSkipsExcludedSymbols(t *testing.T) {
	svc := New(testConfig("weth"), nil,
		stubPositions{open: []engine.PositionSnapshot{openSnapshot()}},
		nil, nil, nil, nil,
		zerolog.Nop(),
	)

	result, err := svc.RunBatch(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", result.Skipped)
	}
	if len(result.Reports) != 0 {
		t.Fatalf("excluded position must not produce a report, got %d", len(result.Reports))
	}
}

func TestRunBatchSkipsMissingPrices(t *testing.T) {
	// No history source: the closed position cannot resolve entry prices
	// and is skipped, not fatal.
	svc := New(testConfig(), nil,
		stubPositions{closed: []engine.PositionSnapshot{closedSnapshot()}},
		nil, nil, nil, nil,
		zerolog.Nop(),
	)

	result, err := svc.RunBatch(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if result.Skipped != 1 || result.ClosedPositions != 0 {
		t.Fatalf("skipped = %d, closed = %d", result.Skipped, result.ClosedPositions)
	}
}

func TestRunBatchPrefersEventReconstruction(t *testing.T) {
	snap := openSnapshot()
	deposit := engine.PositionEvent{
		Kind:          engine.EventDeposit,
		Timestamp:     snap.CreatedAt,
		ValueYUSD:     dec("1000"),
		AmountYRaw:    dec("1000"),
		QuotePriceUSD: dec("1"),
	}

	svc := New(testConfig(), nil,
		stubPositions{open: []engine.PositionSnapshot{snap}},
		stubEvents{"9": {deposit}},
		nil, nil, nil,
		zerolog.Nop(),
	)

	result, err := svc.RunBatch(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(result.Reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(result.Reports))
	}

	// Event cost basis: 3900 current against 1000 deposited. The
	// snapshot-only estimate (3900 - 4000 = -100) would differ.
	if !result.Reports[0].OpenPnLUSD.Equal(dec("2900")) {
		t.Fatalf("open pnl = %s, want 2900 from event cost basis", result.Reports[0].OpenPnLUSD)
	}
}

func TestRunBatchBackfillsEventQuotePrice(t *testing.T) {
	// A single-sided transaction arrives without a quote-token leg; the
	// snapshot's quote price must fill in so the quote fold still runs.
	snap := openSnapshot()
	deposit := engine.PositionEvent{
		Kind:       engine.EventDeposit,
		Timestamp:  snap.CreatedAt,
		ValueYUSD:  dec("1000"),
		AmountYRaw: dec("1000"),
	}

	svc := New(testConfig(), nil,
		stubPositions{open: []engine.PositionSnapshot{snap}},
		stubEvents{"9": {deposit}},
		nil, nil, nil,
		zerolog.Nop(),
	)

	result, err := svc.RunBatch(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(result.Reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(result.Reports))
	}
	if !result.Reports[0].OpenPnLUSD.Equal(dec("2900")) {
		t.Fatalf("open pnl = %s, want 2900 from event cost basis", result.Reports[0].OpenPnLUSD)
	}
	// Quote price 1 throughout: the rebased fold matches the USD one.
	if !result.Reports[0].OpenPnLQuote.Equal(dec("2900")) {
		t.Fatalf("open pnl quote = %s, want 2900 via backfilled quote price", result.Reports[0].OpenPnLQuote)
	}
}

func TestRunBatchRequiresPositionSource(t *testing.T) {
	svc := New(testConfig(), nil, nil, nil, nil, nil, nil, zerolog.Nop())
	if _, err := svc.RunBatch(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("missing position source must fail the batch")
	}
}
