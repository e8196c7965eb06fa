package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"lp-pnl/internal/engine"
)

// ReportRow is one persisted per-pool report from a batch run.
type ReportRow struct {
	RunTS     time.Time
	Report    engine.PoolReport
	CreatedAt time.Time
}

// AccountStats captures per-run account totals for balance history.
type AccountStats struct {
	RunTS         time.Time
	Account       string
	CurrentValue  decimal.Decimal
	TotalDeposit  decimal.Decimal
	TotalWithdraw decimal.Decimal
	TotalFees     decimal.Decimal
	Positions     int
	CreatedAt     time.Time
}
