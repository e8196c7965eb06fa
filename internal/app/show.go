package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints the latest run's pool reports, and optionally the most
// recent per-account totals.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show reports")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rows, err := store.ListRecentReports(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no reports found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run (UTC)\tChain\tPool\tAccount\tPair\tCurrent\tOpen PnL\tClosed PnL\tLP PnL\tHold PnL\tvs Hold\tBenchmark")

	for _, row := range rows {
		r := row.Report
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.RunTS.UTC().Format(time.RFC3339),
			r.Key.Chain,
			shortAddress(r.Key.Pool),
			shortAddress(r.Key.Account),
			sanitizeInline(r.TokenASymbol+"/"+r.TokenBSymbol),
			formatDecimal(r.CurrentValue, 2),
			formatDecimal(r.OpenPnLUSD, 2),
			formatDecimal(r.ClosedPnLUSD, 2),
			formatDecimal(r.LPPnLUSD, 2),
			formatDecimal(r.HoldPnLUSD, 2),
			formatDecimal(r.DeltaVsHoldUSD, 2),
			benchmarkLabel(r.BenchmarkAtClose),
		)
	}
	writer.Flush()

	if !opts.Stats {
		return nil
	}

	stats, err := store.ListRecentAccountStats(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run (UTC)\tAccount\tCurrent\tDeposits\tWithdrawals\tFees\tOpen Positions")
	for _, st := range stats {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			st.RunTS.UTC().Format(time.RFC3339),
			shortAddress(st.Account),
			formatDecimal(st.CurrentValue, 2),
			formatDecimal(st.TotalDeposit, 2),
			formatDecimal(st.TotalWithdraw, 2),
			formatDecimal(st.TotalFees, 2),
			st.Positions,
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
