package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"lp-pnl/internal/engine"
)

// Report runs one reconstruction batch immediately and prints the
// per-pool results. Results are persisted when a database is configured.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(nil, store)

	now := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	result, err := svc.RunBatch(ctx, now)
	if err != nil {
		return err
	}
	if len(result.Reports) == 0 {
		fmt.Fprintln(os.Stdout, "no positions found")
		return nil
	}

	renderReportTable(os.Stdout, result.Reports, opts.Quote)

	if opts.CSVPath != "" {
		if err := writePositionsCSV(opts.CSVPath, result.Results); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("positions", len(result.Results)).Msg("wrote position detail")
	}

	var totalLP, totalHold decimal.Decimal
	for _, r := range result.Reports {
		totalLP = totalLP.Add(r.LPPnLUSD)
		totalHold = totalHold.Add(r.HoldPnLUSD)
	}
	fmt.Fprintf(os.Stdout,
		"\n%d pools (%d open, %d closed, %d skipped)  LP PnL %s USD  hold PnL %s USD  delta %s USD\n",
		len(result.Reports),
		result.OpenPositions,
		result.ClosedPositions,
		result.Skipped,
		formatDecimal(totalLP, 2),
		formatDecimal(totalHold, 2),
		formatDecimal(totalLP.Sub(totalHold), 2),
	)
	return nil
}

func renderReportTable(out *os.File, reports []engine.PoolReport, quote bool) {
	table := tablewriter.NewWriter(out)
	header := []any{"Chain", "Pool", "Account", "Pair", "First Deposit", "Initial", "Current", "Open PnL", "Closed PnL", "LP PnL"}
	if quote {
		header = append(header, "LP PnL (quote)")
	}
	header = append(header, "Hold PnL", "vs Hold", "Benchmark")
	table.Header(header...)

	for _, r := range reports {
		firstDeposit := ""
		if !r.EarliestCreated.IsZero() {
			firstDeposit = r.EarliestCreated.UTC().Format("2006-01-02")
		}
		row := []any{
			r.Key.Chain,
			shortAddress(r.Key.Pool),
			shortAddress(r.Key.Account),
			r.TokenASymbol + "/" + r.TokenBSymbol,
			firstDeposit,
			formatDecimal(r.InitialDepositValue, 2),
			formatDecimal(r.CurrentValue, 2),
			formatDecimal(r.OpenPnLUSD, 2),
			formatDecimal(r.ClosedPnLUSD, 2),
			formatDecimal(r.LPPnLUSD, 2),
		}
		if quote {
			row = append(row, formatDecimal(r.LPPnLQuote, 4))
		}
		row = append(row, formatDecimal(r.HoldPnLUSD, 2), formatDecimal(r.DeltaVsHoldUSD, 2), benchmarkLabel(r.BenchmarkAtClose))
		table.Append(row...)
	}

	table.Render()
}

// writePositionsCSV dumps the per-position detail behind the pool table,
// including the realized/unrealized/net decomposition.
func writePositionsCSV(path string, results []engine.PnLResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"chain", "pool", "account", "token_id", "token_a", "token_b",
		"created_at", "qty_a0", "qty_b0", "initial_value", "current_value",
		"total_deposit", "total_withdrawal", "capital_deposits",
		"reinvested_fees", "total_fee_reward",
		"realized_usd", "unrealized_usd", "net_usd",
		"realized_quote", "unrealized_quote", "net_quote",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			r.Key.Chain,
			r.Key.Pool,
			r.Key.Account,
			r.TokenID,
			r.TokenASymbol,
			r.TokenBSymbol,
			created,
			r.QuantityA0.String(),
			r.QuantityB0.String(),
			r.InitialValue.String(),
			r.CurrentValue.String(),
			r.TotalDeposit.String(),
			r.TotalWithdrawal.String(),
			r.CapitalDeposits.String(),
			r.ReinvestedFees.String(),
			r.TotalFeeReward.String(),
			r.RealizedUSD.String(),
			r.UnrealizedUSD.String(),
			r.NetUSD.String(),
			r.RealizedQuote.String(),
			r.UnrealizedQuote.String(),
			r.NetQuote.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// benchmarkLabel distinguishes hold benchmarks priced with current
// prices from closed-only pools valued at their close-time prices.
func benchmarkLabel(atClose bool) string {
	if atClose {
		return "at close"
	}
	return "live"
}

// shortAddress compacts a 0x address for terminal output.
func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
