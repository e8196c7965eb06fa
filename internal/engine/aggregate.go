package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PoolAggregate rolls one reconstruction variant's per-position results
// up to the (chain, pool, account) level. PnL fields are summed;
// descriptive fields are taken from the earliest position seen.
type PoolAggregate struct {
	Key PositionKey

	TokenASymbol string
	TokenBSymbol string

	EarliestCreated     time.Time
	QuantityA0          decimal.Decimal
	QuantityB0          decimal.Decimal
	InitialDepositValue decimal.Decimal
	CurrentValue        decimal.Decimal

	TokenAPriceNow decimal.Decimal
	TokenBPriceNow decimal.Decimal

	RealizedUSD   decimal.Decimal
	UnrealizedUSD decimal.Decimal
	NetUSD        decimal.Decimal

	RealizedQuote   decimal.Decimal
	UnrealizedQuote decimal.Decimal
	NetQuote        decimal.Decimal

	Positions int
}

// Aggregate groups per-position results by (chain, pool, account).
// Results are ordered by creation time before grouping, so first-seen
// descriptive fields belong to the earliest position of each pool. The
// output is sorted by key for deterministic downstream processing.
func Aggregate(results []PnLResult) []PoolAggregate {
	ordered := make([]PnLResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	byKey := make(map[PositionKey]*PoolAggregate)
	for _, r := range ordered {
		agg, ok := byKey[r.Key]
		if !ok {
			agg = &PoolAggregate{
				Key:                 r.Key,
				TokenASymbol:        r.TokenASymbol,
				TokenBSymbol:        r.TokenBSymbol,
				EarliestCreated:     r.CreatedAt,
				QuantityA0:          r.QuantityA0,
				QuantityB0:          r.QuantityB0,
				InitialDepositValue: r.InitialValue,
				TokenAPriceNow:      r.TokenAPriceNow,
				TokenBPriceNow:      r.TokenBPriceNow,
			}
			byKey[r.Key] = agg
		}

		agg.CurrentValue = agg.CurrentValue.Add(r.CurrentValue)
		agg.RealizedUSD = agg.RealizedUSD.Add(r.RealizedUSD)
		agg.UnrealizedUSD = agg.UnrealizedUSD.Add(r.UnrealizedUSD)
		agg.NetUSD = agg.NetUSD.Add(r.NetUSD)
		agg.RealizedQuote = agg.RealizedQuote.Add(r.RealizedQuote)
		agg.UnrealizedQuote = agg.UnrealizedQuote.Add(r.UnrealizedQuote)
		agg.NetQuote = agg.NetQuote.Add(r.NetQuote)
		agg.Positions++
	}

	out := make([]PoolAggregate, 0, len(byKey))
	for _, agg := range byKey {
		out = append(out, *agg)
	}
	sortAggregates(out)
	return out
}

func sortAggregates(aggs []PoolAggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		a, b := aggs[i].Key, aggs[j].Key
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		if a.Pool != b.Pool {
			return a.Pool < b.Pool
		}
		return a.Account < b.Account
	})
}

// PoolReport is the merged open+closed view of one pool with the 50/50
// hold benchmark applied.
type PoolReport struct {
	Key PositionKey

	TokenASymbol string
	TokenBSymbol string

	EarliestCreated     time.Time
	QuantityA0          decimal.Decimal
	QuantityB0          decimal.Decimal
	InitialDepositValue decimal.Decimal
	CurrentValue        decimal.Decimal

	OpenPnLUSD   decimal.Decimal
	ClosedPnLUSD decimal.Decimal
	LPPnLUSD     decimal.Decimal

	OpenPnLQuote   decimal.Decimal
	ClosedPnLQuote decimal.Decimal
	LPPnLQuote     decimal.Decimal

	HoldValueUSD   decimal.Decimal
	HoldPnLUSD     decimal.Decimal
	DeltaVsHoldUSD decimal.Decimal

	// BenchmarkAtClose marks a pool whose hold benchmark is valued at
	// close-time prices because no open position supplied current ones.
	BenchmarkAtClose bool
}

// MergeWithBenchmark unions open and closed pool aggregates on
// (chain, pool, account); a side missing for a key contributes zero PnL.
// The benchmark values the earliest position's 50/50 entry quantities at
// today's prices and compares LP PnL against that hypothetical hold.
//
// Entry quantities and initial value are preferred from the closed side
// (the earliest full lifecycle); current prices from the open side.
func MergeWithBenchmark(open, closed []PoolAggregate) []PoolReport {
	closedByKey := make(map[PositionKey]PoolAggregate, len(closed))
	for _, agg := range closed {
		closedByKey[agg.Key] = agg
	}

	seen := make(map[PositionKey]bool, len(open))
	reports := make([]PoolReport, 0, len(open)+len(closed))

	for _, o := range open {
		seen[o.Key] = true
		c := closedByKey[o.Key]
		reports = append(reports, buildReport(o, c, true, c.Positions > 0))
	}
	for _, c := range closed {
		if seen[c.Key] {
			continue
		}
		reports = append(reports, buildReport(PoolAggregate{Key: c.Key}, c, false, true))
	}

	sort.Slice(reports, func(i, j int) bool {
		a, b := reports[i].Key, reports[j].Key
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		if a.Pool != b.Pool {
			return a.Pool < b.Pool
		}
		return a.Account < b.Account
	})
	return reports
}

func buildReport(open, closed PoolAggregate, hasOpen, hasClosed bool) PoolReport {
	r := PoolReport{Key: open.Key}
	if !hasOpen {
		r.Key = closed.Key
	}

	r.TokenASymbol = firstNonEmpty(open.TokenASymbol, closed.TokenASymbol)
	r.TokenBSymbol = firstNonEmpty(open.TokenBSymbol, closed.TokenBSymbol)
	r.CurrentValue = open.CurrentValue

	// The closed side, when present, carries the pool's first lifecycle:
	// its entry quantities define the hold benchmark.
	if hasClosed {
		r.EarliestCreated = closed.EarliestCreated
		r.QuantityA0 = closed.QuantityA0
		r.QuantityB0 = closed.QuantityB0
		r.InitialDepositValue = closed.InitialDepositValue
	} else {
		r.EarliestCreated = open.EarliestCreated
		r.QuantityA0 = open.QuantityA0
		r.QuantityB0 = open.QuantityB0
		r.InitialDepositValue = open.InitialDepositValue
	}

	if hasOpen {
		r.OpenPnLUSD = open.NetUSD
		r.OpenPnLQuote = open.NetQuote
	}
	if hasClosed {
		r.ClosedPnLUSD = closed.NetUSD
		r.ClosedPnLQuote = closed.NetQuote
	}
	r.LPPnLUSD = r.OpenPnLUSD.Add(r.ClosedPnLUSD)
	r.LPPnLQuote = r.OpenPnLQuote.Add(r.ClosedPnLQuote)

	paNow := open.TokenAPriceNow
	pbNow := open.TokenBPriceNow
	if paNow.Sign() <= 0 || pbNow.Sign() <= 0 {
		paNow = closed.TokenAPriceNow
		pbNow = closed.TokenBPriceNow
		r.BenchmarkAtClose = hasClosed
	}

	r.HoldValueUSD = r.QuantityA0.Mul(paNow).Add(r.QuantityB0.Mul(pbNow))
	r.HoldPnLUSD = r.HoldValueUSD.Sub(r.InitialDepositValue)
	r.DeltaVsHoldUSD = r.LPPnLUSD.Sub(r.HoldPnLUSD)
	return r
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
