// Package service orchestrates one reconstruction batch: fetch positions,
// resolve price history, run the per-position reconstructions, aggregate,
// benchmark and persist.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"lp-pnl/internal/config"
	"lp-pnl/internal/engine"
	"lp-pnl/internal/fetcher"
	"lp-pnl/internal/pricing"
	"lp-pnl/internal/scheduler"
	"lp-pnl/internal/storage"
)

// BatchStore is the persistence surface a batch needs. It may be nil, in
// which case results are computed but not stored.
type BatchStore interface {
	UpsertPricePoints(ctx context.Context, points []pricing.Point) error
	UpsertPoolReports(ctx context.Context, runTS time.Time, reports []engine.PoolReport) error
	UpsertAccountStats(ctx context.Context, stats storage.AccountStats) error
}

// BatchResult is the outcome of one reconstruction batch. Results holds
// the per-position detail behind the per-pool Reports.
type BatchResult struct {
	RunTS   time.Time
	Reports []engine.PoolReport
	Results []engine.PnLResult
	Stats   []storage.AccountStats

	OpenPositions   int
	ClosedPositions int
	Skipped         int
}

// Service runs reconstruction batches, on demand or on a schedule.
type Service struct {
	scheduler  *scheduler.Scheduler
	positions  fetcher.PositionSource
	events     fetcher.EventSource
	history    fetcher.PriceHistorySource
	poolPrices fetcher.PoolPriceFetcher
	store      BatchStore
	logger     zerolog.Logger

	quoteSymbol string
	skip        map[string]bool
	symbolMap   map[string]string
	workers     int
	lookback    time.Duration
}

// New constructs the batch service. events, history, poolPrices and
// store are optional; positions is required.
func New(cfg *config.Config, sched *scheduler.Scheduler, positions fetcher.PositionSource, events fetcher.EventSource, history fetcher.PriceHistorySource, poolPrices fetcher.PoolPriceFetcher, store BatchStore, logger zerolog.Logger) *Service {
	skip := make(map[string]bool, len(cfg.Engine.SkipSymbols))
	for _, sym := range cfg.Engine.SkipSymbols {
		skip[strings.ToUpper(sym)] = true
	}

	workers := cfg.Engine.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Service{
		scheduler:   sched,
		positions:   positions,
		events:      events,
		history:     history,
		poolPrices:  poolPrices,
		store:       store,
		logger:      logger.With().Str("component", "service").Logger(),
		quoteSymbol: strings.ToUpper(cfg.Engine.QuoteSymbol),
		skip:        skip,
		symbolMap:   cfg.Engine.SymbolMap,
		workers:     workers,
		lookback:    cfg.Prices.Lookback,
	}
}

// Run begins the aligned batch loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket executes one scheduled batch.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	result, err := s.RunBatch(ctx, bucket)
	if err != nil {
		return err
	}
	s.logger.Info().
		Time("run_ts", result.RunTS).
		Int("pools", len(result.Reports)).
		Int("open", result.OpenPositions).
		Int("closed", result.ClosedPositions).
		Int("skipped", result.Skipped).
		Msg("batch complete")
	return nil
}

// RunBatch fetches all positions, reconstructs their PnL and merges the
// per-pool aggregates with the 50/50 hold benchmark. Positions with
// data-quality failures are skipped and logged; the batch itself fails
// only when a required collaborator is unavailable.
func (s *Service) RunBatch(ctx context.Context, now time.Time) (BatchResult, error) {
	if s.positions == nil {
		return BatchResult{}, fmt.Errorf("position source not configured")
	}

	closedSnaps, err := s.positions.FetchPositions(ctx, fetcher.StatusClosed)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fetch closed positions: %w", err)
	}
	openSnaps, err := s.positions.FetchPositions(ctx, fetcher.StatusOpen)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fetch open positions: %w", err)
	}

	s.crossCheckPoolPrices(ctx, openSnaps)

	book, points := s.buildPriceBook(ctx, closedSnaps, now)

	var skipped atomic.Int64

	closedResults, err := s.reconstructClosed(ctx, closedSnaps, book, &skipped)
	if err != nil {
		return BatchResult{}, err
	}
	openResults, err := s.reconstructOpen(ctx, openSnaps, book, now, &skipped)
	if err != nil {
		return BatchResult{}, err
	}

	reports := engine.MergeWithBenchmark(engine.Aggregate(openResults), engine.Aggregate(closedResults))
	stats := accountStats(now, openSnaps, closedSnaps)

	result := BatchResult{
		RunTS:           now,
		Reports:         reports,
		Results:         append(openResults, closedResults...),
		Stats:           stats,
		OpenPositions:   len(openResults),
		ClosedPositions: len(closedResults),
		Skipped:         int(skipped.Load()),
	}

	if s.store != nil {
		if len(points) > 0 {
			if err := s.store.UpsertPricePoints(ctx, points); err != nil {
				s.logger.Error().Err(err).Msg("failed to persist price points")
			}
		}
		if err := s.store.UpsertPoolReports(ctx, now, reports); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist pool reports")
		}
		for _, st := range stats {
			if err := s.store.UpsertAccountStats(ctx, st); err != nil {
				s.logger.Error().Err(err).Str("account", st.Account).Msg("failed to persist account stats")
			}
		}
	}

	return result, nil
}

// crossCheckPoolPrices reads each open pool's price on chain and logs it
// next to the indexer's figure. Diagnostic only; failures never affect
// the batch.
func (s *Service) crossCheckPoolPrices(ctx context.Context, snaps []engine.PositionSnapshot) {
	if s.poolPrices == nil {
		return
	}

	seen := make(map[string]bool)
	for _, snap := range snaps {
		if snap.Key.Pool == "" || seen[snap.Key.Pool] {
			continue
		}
		seen[snap.Key.Pool] = true

		price, block, err := s.poolPrices.FetchPoolPrice(ctx, snap.Key.Pool, snap.TokenADecimals, snap.TokenBDecimals)
		if err != nil {
			s.logger.Warn().Err(err).Str("pool", snap.Key.Pool).Msg("onchain pool price unavailable")
			continue
		}
		s.logger.Info().
			Str("pool", snap.Key.Pool).
			Float64("onchain_price", price).
			Float64("indexer_price", snap.PoolPrice).
			Uint64("block", block).
			Msg("pool price cross-check")
	}
}

// buildPriceBook downloads entry-price history for every symbol the
// closed reconstruction will look up. A symbol whose download fails is
// left out; its positions are later skipped on the missing price.
func (s *Service) buildPriceBook(ctx context.Context, closed []engine.PositionSnapshot, now time.Time) (*pricing.Book, []pricing.Point) {
	book := pricing.NewBook(s.symbolMap)
	if s.history == nil || len(closed) == 0 {
		return book, nil
	}

	needed := make(map[string]bool)
	for _, snap := range closed {
		needed[book.MapSymbol(snap.TokenASymbol)] = true
		needed[book.MapSymbol(snap.TokenBSymbol)] = true
	}
	symbols := make([]string, 0, len(needed))
	for sym := range needed {
		if sym != "" {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	from := now.Add(-s.lookback)
	var all []pricing.Point
	for _, sym := range symbols {
		points, err := s.history.FetchHistory(ctx, sym, from, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", sym).Msg("price history unavailable")
			continue
		}
		for _, p := range points {
			book.Add(p)
		}
		all = append(all, points...)
	}
	return book, all
}

func (s *Service) reconstructClosed(ctx context.Context, snaps []engine.PositionSnapshot, book *pricing.Book, skipped *atomic.Int64) ([]engine.PnLResult, error) {
	results := make([]*engine.PnLResult, len(snaps))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, snap := range snaps {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.checkSymbols(snap); err != nil {
				s.skipPosition(snap, err, skipped)
				return nil
			}
			res, err := engine.ReconstructClosed(snap, book)
			if err != nil {
				if engine.IsSkippable(err) {
					s.skipPosition(snap, err, skipped)
					return nil
				}
				return err
			}
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(results), nil
}

// reconstructOpen prefers the event-sourced cost-basis reconstruction
// when the position's transaction history is available, falling back to
// the snapshot-only estimate otherwise.
func (s *Service) reconstructOpen(ctx context.Context, snaps []engine.PositionSnapshot, book *pricing.Book, now time.Time, skipped *atomic.Int64) ([]engine.PnLResult, error) {
	results := make([]*engine.PnLResult, len(snaps))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, snap := range snaps {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.checkSymbols(snap); err != nil {
				s.skipPosition(snap, err, skipped)
				return nil
			}

			if res, ok := s.tryEventReconstruction(ctx, snap, book, now); ok {
				results[i] = res
				return nil
			}

			res, err := engine.ReconstructOpen(snap)
			if err != nil {
				if engine.IsSkippable(err) {
					s.skipPosition(snap, err, skipped)
					return nil
				}
				return err
			}
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(results), nil
}

func (s *Service) tryEventReconstruction(ctx context.Context, snap engine.PositionSnapshot, book *pricing.Book, now time.Time) (*engine.PnLResult, bool) {
	if s.events == nil {
		return nil, false
	}

	events, err := s.events.FetchEvents(ctx, snap)
	if err != nil {
		s.logger.Warn().Err(err).Str("token_id", snap.TokenID).Msg("transaction history unavailable, using snapshot estimate")
		return nil, false
	}
	if len(events) == 0 {
		return nil, false
	}

	quotePrice := snap.TokenBPrice
	if quotePrice.Sign() <= 0 {
		if p, ok := book.Price(s.quoteSymbol, now); ok {
			quotePrice = p
		}
	}

	// Single-sided transactions arrive without a quote-token leg; fall
	// back to the snapshot's quote price so those events still rebase.
	if quotePrice.Sign() > 0 {
		for i := range events {
			if events[i].QuotePriceUSD.Sign() <= 0 {
				events[i].QuotePriceUSD = quotePrice
			}
		}
	}

	pos := engine.EventPosition{
		Key:             snap.Key,
		TokenID:         snap.TokenID,
		TokenXSymbol:    snap.TokenASymbol,
		TokenYSymbol:    snap.TokenBSymbol,
		Events:          events,
		CurrentValueUSD: snap.CurrentValue,
		QuotePriceUSD:   quotePrice,
	}

	res, err := engine.ReconstructEvents(pos)
	if err != nil {
		s.logger.Debug().Err(err).Str("token_id", snap.TokenID).Msg("event reconstruction failed, using snapshot estimate")
		return nil, false
	}

	// The event stream has no notion of entry quantities or current
	// prices; overlay them from the snapshot for the hold benchmark.
	res.QuantityA0 = snap.TokenAProvided
	res.QuantityB0 = snap.TokenBProvided
	res.InitialValue = snap.InitialValue
	res.TokenAPriceNow = snap.TokenAPrice
	res.TokenBPriceNow = snap.TokenBPrice
	if !snap.CreatedAt.IsZero() {
		res.CreatedAt = snap.CreatedAt
	}
	return &res, true
}

func (s *Service) checkSymbols(snap engine.PositionSnapshot) error {
	for _, sym := range []string{snap.TokenASymbol, snap.TokenBSymbol} {
		if s.skip[strings.ToUpper(sym)] {
			return fmt.Errorf("%w: %s", engine.ErrSkippedSymbol, sym)
		}
	}
	return nil
}

func (s *Service) skipPosition(snap engine.PositionSnapshot, err error, skipped *atomic.Int64) {
	skipped.Add(1)
	s.logger.Warn().Err(err).
		Str("chain", snap.Key.Chain).
		Str("pool", snap.Key.Pool).
		Str("token_id", snap.TokenID).
		Str("pair", snap.TokenASymbol+"/"+snap.TokenBSymbol).
		Msg("position skipped")
}

func compact(results []*engine.PnLResult) []engine.PnLResult {
	out := make([]engine.PnLResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// accountStats rolls the raw snapshots up to per-account totals for the
// balance history table.
func accountStats(runTS time.Time, open, closed []engine.PositionSnapshot) []storage.AccountStats {
	byAccount := make(map[string]*storage.AccountStats)
	get := func(account string) *storage.AccountStats {
		st, ok := byAccount[account]
		if !ok {
			st = &storage.AccountStats{RunTS: runTS, Account: account}
			byAccount[account] = st
		}
		return st
	}

	for _, snap := range open {
		st := get(snap.Key.Account)
		st.CurrentValue = st.CurrentValue.Add(snap.CurrentValue)
		st.TotalDeposit = st.TotalDeposit.Add(snap.TotalDepositValue)
		st.TotalWithdraw = st.TotalWithdraw.Add(snap.TotalWithdrawValue)
		st.TotalFees = st.TotalFees.Add(feeValue(snap))
		st.Positions++
	}
	for _, snap := range closed {
		st := get(snap.Key.Account)
		st.TotalDeposit = st.TotalDeposit.Add(snap.TotalDepositValue)
		st.TotalWithdraw = st.TotalWithdraw.Add(snap.TotalWithdrawValue)
		st.TotalFees = st.TotalFees.Add(feeValue(snap))
	}

	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	out := make([]storage.AccountStats, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, *byAccount[account])
	}
	return out
}

func feeValue(snap engine.PositionSnapshot) decimal.Decimal {
	feeA := snap.TokenAFeePending.Add(snap.TokenAFeesClaimed)
	feeB := snap.TokenBFeePending.Add(snap.TokenBFeesClaimed)
	return feeA.Mul(snap.TokenAPrice).Add(feeB.Mul(snap.TokenBPrice))
}
