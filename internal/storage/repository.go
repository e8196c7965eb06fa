package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"lp-pnl/internal/engine"
	"lp-pnl/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createPricePointsSQL = `CREATE TABLE IF NOT EXISTS price_points (
        symbol     TEXT        NOT NULL,
        bucket_ts  TIMESTAMPTZ NOT NULL,
        price      NUMERIC     NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (symbol, bucket_ts)
    );`

	createPoolReportsSQL = `CREATE TABLE IF NOT EXISTS pool_reports (
        run_ts            TIMESTAMPTZ NOT NULL,
        chain             TEXT        NOT NULL,
        pool              TEXT        NOT NULL,
        account           TEXT        NOT NULL,
        token_a           TEXT        NOT NULL,
        token_b           TEXT        NOT NULL,
        earliest_created  TIMESTAMPTZ,
        qty_a0            NUMERIC     NOT NULL,
        qty_b0            NUMERIC     NOT NULL,
        initial_value     NUMERIC     NOT NULL,
        current_value     NUMERIC     NOT NULL,
        open_pnl_usd      NUMERIC     NOT NULL,
        closed_pnl_usd    NUMERIC     NOT NULL,
        lp_pnl_usd        NUMERIC     NOT NULL,
        open_pnl_quote    NUMERIC     NOT NULL,
        closed_pnl_quote  NUMERIC     NOT NULL,
        lp_pnl_quote      NUMERIC     NOT NULL,
        hold_value_usd    NUMERIC     NOT NULL,
        hold_pnl_usd      NUMERIC     NOT NULL,
        delta_vs_hold_usd NUMERIC     NOT NULL,
        bench_at_close    BOOLEAN     NOT NULL DEFAULT FALSE,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (run_ts, chain, pool, account)
    );`

	createAccountStatsSQL = `CREATE TABLE IF NOT EXISTS account_stats (
        run_ts         TIMESTAMPTZ NOT NULL,
        account        TEXT        NOT NULL,
        current_value  NUMERIC     NOT NULL,
        total_deposit  NUMERIC     NOT NULL,
        total_withdraw NUMERIC     NOT NULL,
        total_fees     NUMERIC     NOT NULL,
        positions      INTEGER     NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (run_ts, account)
    );`

	upsertPricePointSQL = `INSERT INTO price_points (symbol, bucket_ts, price)
    VALUES ($1,$2,$3)
    ON CONFLICT (symbol, bucket_ts) DO UPDATE
    SET price = EXCLUDED.price;`

	listPricePointsSQL = `SELECT symbol, bucket_ts, price
    FROM price_points
    WHERE symbol = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	upsertPoolReportSQL = `INSERT INTO pool_reports (
        run_ts, chain, pool, account, token_a, token_b,
        earliest_created, qty_a0, qty_b0, initial_value, current_value,
        open_pnl_usd, closed_pnl_usd, lp_pnl_usd,
        open_pnl_quote, closed_pnl_quote, lp_pnl_quote,
        hold_value_usd, hold_pnl_usd, delta_vs_hold_usd, bench_at_close
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
    )
    ON CONFLICT (run_ts, chain, pool, account) DO UPDATE
    SET
        token_a           = EXCLUDED.token_a,
        token_b           = EXCLUDED.token_b,
        earliest_created  = EXCLUDED.earliest_created,
        qty_a0            = EXCLUDED.qty_a0,
        qty_b0            = EXCLUDED.qty_b0,
        initial_value     = EXCLUDED.initial_value,
        current_value     = EXCLUDED.current_value,
        open_pnl_usd      = EXCLUDED.open_pnl_usd,
        closed_pnl_usd    = EXCLUDED.closed_pnl_usd,
        lp_pnl_usd        = EXCLUDED.lp_pnl_usd,
        open_pnl_quote    = EXCLUDED.open_pnl_quote,
        closed_pnl_quote  = EXCLUDED.closed_pnl_quote,
        lp_pnl_quote      = EXCLUDED.lp_pnl_quote,
        hold_value_usd    = EXCLUDED.hold_value_usd,
        hold_pnl_usd      = EXCLUDED.hold_pnl_usd,
        delta_vs_hold_usd = EXCLUDED.delta_vs_hold_usd,
        bench_at_close    = EXCLUDED.bench_at_close;`

	reportColumnsSQL = `run_ts, chain, pool, account, token_a, token_b,
        earliest_created, qty_a0, qty_b0, initial_value, current_value,
        open_pnl_usd, closed_pnl_usd, lp_pnl_usd,
        open_pnl_quote, closed_pnl_quote, lp_pnl_quote,
        hold_value_usd, hold_pnl_usd, delta_vs_hold_usd, bench_at_close, created_at`

	listRecentReportsSQL = `SELECT ` + reportColumnsSQL + `
    FROM pool_reports
    WHERE run_ts = (SELECT MAX(run_ts) FROM pool_reports)
    ORDER BY chain, pool, account
    LIMIT $1;`

	listReportsBetweenSQL = `SELECT ` + reportColumnsSQL + `
    FROM pool_reports
    WHERE run_ts >= $1
      AND run_ts < $2
    ORDER BY run_ts, chain, pool, account
    LIMIT $3;`

	countReportsSQL = `SELECT COUNT(*) FROM pool_reports;`

	insertAccountStatsSQL = `INSERT INTO account_stats (
        run_ts, account, current_value, total_deposit, total_withdraw, total_fees, positions
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (run_ts, account) DO UPDATE
    SET current_value  = EXCLUDED.current_value,
        total_deposit  = EXCLUDED.total_deposit,
        total_withdraw = EXCLUDED.total_withdraw,
        total_fees     = EXCLUDED.total_fees,
        positions      = EXCLUDED.positions;`

	listAccountStatsSQL = `SELECT
        run_ts, account, current_value, total_deposit, total_withdraw, total_fees, positions, created_at
    FROM account_stats
    ORDER BY run_ts DESC
    LIMIT $1;`
)

// PriceStore defines operations for price history persistence.
type PriceStore interface {
	UpsertPricePoints(ctx context.Context, points []pricing.Point) error
	ListPricePoints(ctx context.Context, symbol string, from, to time.Time) ([]pricing.Point, error)
}

// ReportStore defines operations for pool report persistence.
type ReportStore interface {
	UpsertPoolReports(ctx context.Context, runTS time.Time, reports []engine.PoolReport) error
	ListRecentReports(ctx context.Context, limit int) ([]ReportRow, error)
	ListReportsBetween(ctx context.Context, from, to time.Time, limit int) ([]ReportRow, error)
	CountReports(ctx context.Context) (int64, error)
}

// StatsStore defines operations for account balance history.
type StatsStore interface {
	UpsertAccountStats(ctx context.Context, stats AccountStats) error
	ListRecentAccountStats(ctx context.Context, limit int) ([]AccountStats, error)
}

// Store aggregates access to price points, pool reports and account stats.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the required tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createPricePointsSQL, createPoolReportsSQL, createAccountStatsSQL} {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}

// UpsertPricePoints persists a batch of price points.
func (s *Store) UpsertPricePoints(ctx context.Context, points []pricing.Point) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(upsertPricePointSQL, p.Symbol, p.Timestamp, p.Price.String())
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range points {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert price point: %w", execErr)
		}
	}
	return nil
}

// ListPricePoints lists stored points for one symbol within a time window.
func (s *Store) ListPricePoints(ctx context.Context, symbol string, from, to time.Time) ([]pricing.Point, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]pricing.Point, 0)
	for rows.Next() {
		var (
			p        pricing.Point
			priceStr string
		)
		if err := rows.Scan(&p.Symbol, &p.Timestamp, &priceStr); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		p.Price = price
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// UpsertPoolReports persists one run's per-pool reports.
func (s *Store) UpsertPoolReports(ctx context.Context, runTS time.Time, reports []engine.PoolReport) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range reports {
		var earliest interface{}
		if !r.EarliestCreated.IsZero() {
			earliest = r.EarliestCreated
		}
		batch.Queue(upsertPoolReportSQL,
			runTS,
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
			r.BenchmarkAtClose,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range reports {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert pool report: %w", execErr)
		}
	}
	return nil
}

// ListRecentReports lists the latest run's reports.
func (s *Store) ListRecentReports(ctx context.Context, limit int) ([]ReportRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReportsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reports: %w", queryErr)
	}
	defer rows.Close()

	return collectReportRows(rows, limit)
}

// ListReportsBetween lists reports from runs within a time window.
func (s *Store) ListReportsBetween(ctx context.Context, from, to time.Time, limit int) ([]ReportRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReportsBetweenSQL, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list reports between: %w", queryErr)
	}
	defer rows.Close()

	return collectReportRows(rows, limit)
}

// CountReports counts stored report rows.
func (s *Store) CountReports(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReportsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count reports: %w", scanErr)
	}
	return count, nil
}

// UpsertAccountStats persists one run's account totals.
func (s *Store) UpsertAccountStats(ctx context.Context, stats AccountStats) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertAccountStatsSQL,
		stats.RunTS,
		stats.Account,
		stats.CurrentValue.String(),
		stats.TotalDeposit.String(),
		stats.TotalWithdraw.String(),
		stats.TotalFees.String(),
		stats.Positions,
	)
	if execErr != nil {
		return fmt.Errorf("upsert account stats: %w", execErr)
	}
	return nil
}

// ListRecentAccountStats lists the most recent account totals.
func (s *Store) ListRecentAccountStats(ctx context.Context, limit int) ([]AccountStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAccountStatsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list account stats: %w", queryErr)
	}
	defer rows.Close()

	stats := make([]AccountStats, 0, limit)
	for rows.Next() {
		var (
			st       AccountStats
			valueStr string
			depStr   string
			withStr  string
			feesStr  string
		)
		if err := rows.Scan(
			&st.RunTS,
			&st.Account,
			&valueStr,
			&depStr,
			&withStr,
			&feesStr,
			&st.Positions,
			&st.CreatedAt,
		); err != nil {
			return nil, err
		}
		if st.CurrentValue, err = parseNumeric("current_value", valueStr); err != nil {
			return nil, err
		}
		if st.TotalDeposit, err = parseNumeric("total_deposit", depStr); err != nil {
			return nil, err
		}
		if st.TotalWithdraw, err = parseNumeric("total_withdraw", withStr); err != nil {
			return nil, err
		}
		if st.TotalFees, err = parseNumeric("total_fees", feesStr); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stats, nil
}

func collectReportRows(rows pgx.Rows, limit int) ([]ReportRow, error) {
	out := make([]ReportRow, 0, limit)
	for rows.Next() {
		row, scanErr := scanReportRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanReportRow(rows pgx.Rows) (ReportRow, error) {
	var (
		row      ReportRow
		earliest *time.Time
		numerics [13]string
	)

	if err := rows.Scan(
		&row.RunTS,
		&row.Report.Key.Chain,
		&row.Report.Key.Pool,
		&row.Report.Key.Account,
		&row.Report.TokenASymbol,
		&row.Report.TokenBSymbol,
		&earliest,
		&numerics[0],
		&numerics[1],
		&numerics[2],
		&numerics[3],
		&numerics[4],
		&numerics[5],
		&numerics[6],
		&numerics[7],
		&numerics[8],
		&numerics[9],
		&numerics[10],
		&numerics[11],
		&numerics[12],
		&row.Report.BenchmarkAtClose,
		&row.CreatedAt,
	); err != nil {
		return ReportRow{}, err
	}

	if earliest != nil {
		row.Report.EarliestCreated = *earliest
	}

	fields := []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"qty_a0", &row.Report.QuantityA0},
		{"qty_b0", &row.Report.QuantityB0},
		{"initial_value", &row.Report.InitialDepositValue},
		{"current_value", &row.Report.CurrentValue},
		{"open_pnl_usd", &row.Report.OpenPnLUSD},
		{"closed_pnl_usd", &row.Report.ClosedPnLUSD},
		{"lp_pnl_usd", &row.Report.LPPnLUSD},
		{"open_pnl_quote", &row.Report.OpenPnLQuote},
		{"closed_pnl_quote", &row.Report.ClosedPnLQuote},
		{"lp_pnl_quote", &row.Report.LPPnLQuote},
		{"hold_value_usd", &row.Report.HoldValueUSD},
		{"hold_pnl_usd", &row.Report.HoldPnLUSD},
		{"delta_vs_hold_usd", &row.Report.DeltaVsHoldUSD},
	}
	for i, f := range fields {
		value, err := parseNumeric(f.name, numerics[i])
		if err != nil {
			return ReportRow{}, err
		}
		*f.dst = value
	}

	return row, nil
}

func parseNumeric(field, value string) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return parsed, nil
}
