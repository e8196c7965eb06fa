package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"lp-pnl/internal/storage"
)

// Export renders historical pool reports as CSV and/or a PNG chart of
// LP PnL against the hold benchmark.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxRows) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListReportsBetween(ctx, from, to, opts.MaxRows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no reports found for export window")
		return nil
	}

	downsampled := downsampleRows(rows, opts.MaxRows)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting reports")

	if opts.CSVPath != "" {
		if err := writeReportsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeReportsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRows(rows []storage.ReportRow, max int) []storage.ReportRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]storage.ReportRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeReportsCSV(path string, rows []storage.ReportRow) error {
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
		"run_ts", "chain", "pool", "account", "token_a", "token_b",
		"earliest_created", "qty_a0", "qty_b0", "initial_value", "current_value",
		"open_pnl_usd", "closed_pnl_usd", "lp_pnl_usd",
		"open_pnl_quote", "closed_pnl_quote", "lp_pnl_quote",
		"hold_value_usd", "hold_pnl_usd", "delta_vs_hold_usd", "bench_at_close",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		r := row.Report
		earliest := ""
		if !r.EarliestCreated.IsZero() {
			earliest = r.EarliestCreated.UTC().Format(time.RFC3339)
		}
		record := []string{
			row.RunTS.UTC().Format(time.RFC3339),
			r.Key.Chain,
			r.Key.Pool,
			r.Key.Account,
			r.TokenASymbol,
			r.TokenBSymbol,
			earliest,
			r.QuantityA0.String(),
			r.QuantityB0.String(),
			r.InitialDepositValue.String(),
			r.CurrentValue.String(),
			r.OpenPnLUSD.String(),
			r.ClosedPnLUSD.String(),
			r.LPPnLUSD.String(),
			r.OpenPnLQuote.String(),
			r.ClosedPnLQuote.String(),
			r.LPPnLQuote.String(),
			r.HoldValueUSD.String(),
			r.HoldPnLUSD.String(),
			r.DeltaVsHoldUSD.String(),
			strconv.FormatBool(r.BenchmarkAtClose),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeReportsPNG charts the portfolio's LP PnL and hold-benchmark PnL
// per run, summed across pools.
func writeReportsPNG(path string, rows []storage.ReportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type runTotal struct {
		lp   decimal.Decimal
		hold decimal.Decimal
	}
	byRun := make(map[time.Time]*runTotal)
	for _, row := range rows {
		ts := row.RunTS.UTC()
		total, ok := byRun[ts]
		if !ok {
			total = &runTotal{}
			byRun[ts] = total
		}
		total.lp = total.lp.Add(row.Report.LPPnLUSD)
		total.hold = total.hold.Add(row.Report.HoldPnLUSD)
	}
	if len(byRun) < 2 {
		return errors.New("need at least two runs to chart")
	}

	x := make([]time.Time, 0, len(byRun))
	for ts := range byRun {
		x = append(x, ts)
	}
	sort.Slice(x, func(i, j int) bool { return x[i].Before(x[j]) })

	lp := make([]float64, len(x))
	hold := make([]float64, len(x))
	delta := make([]float64, len(x))
	for i, ts := range x {
		lp[i] = byRun[ts].lp.InexactFloat64()
		hold[i] = byRun[ts].hold.InexactFloat64()
		delta[i] = lp[i] - hold[i]
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "PnL (USD)",
			ValueFormatter: usdFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "LP minus hold (USD)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "LP PnL",
				XValues: x,
				YValues: lp,
			},
			chart.TimeSeries{
				Name:    "Hold PnL",
				XValues: x,
				YValues: hold,
			},
			chart.TimeSeries{
				Name:    "Delta",
				XValues: x,
				YValues: delta,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
