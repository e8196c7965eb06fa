// Package app aggregates configuration and shared dependencies for the
// CLI commands.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lp-pnl/internal/config"
	"lp-pnl/internal/fetcher"
	"lp-pnl/internal/scheduler"
	"lp-pnl/internal/service"
	"lp-pnl/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newKrystal() *fetcher.Krystal {
	return fetcher.NewKrystal(fetcher.KrystalOptions{
		BaseURL:           a.Config.Krystal.BaseURL,
		Addresses:         a.Config.Krystal.Addresses,
		ChainIDs:          a.Config.Krystal.ChainIDs,
		PageSize:          a.Config.Krystal.PageSize,
		Timeout:           a.Config.Krystal.RequestTimeout,
		UserAgent:         a.Config.Krystal.UserAgent,
		RequestsPerSecond: a.Config.Krystal.RequestsPerSecond,
		Burst:             a.Config.Krystal.Burst,
		MaxRetries:        a.Config.Krystal.MaxRetries,
	}, a.Logger)
}

func (a *App) newCandles() *fetcher.Candles {
	return fetcher.NewCandles(fetcher.CandleOptions{
		BaseURL:           a.Config.Prices.BaseURL,
		QuoteSuffix:       a.Config.Prices.QuoteSuffix,
		Granularity:       a.Config.Prices.Granularity,
		Interval:          a.Config.Prices.Interval,
		PageLimit:         a.Config.Prices.PageLimit,
		Timeout:           a.Config.Prices.RequestTimeout,
		RequestsPerSecond: a.Config.Prices.RequestsPerSecond,
		Burst:             a.Config.Prices.Burst,
		MaxRetries:        a.Config.Prices.MaxRetries,
	}, a.Logger)
}

func (a *App) newOnchain() fetcher.PoolPriceFetcher {
	if a.Config.Ethereum.RPCURL == "" {
		return nil
	}
	return fetcher.NewOnchain(fetcher.OnchainOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(sched *scheduler.Scheduler, store *storage.Store) *service.Service {
	krystal := a.newKrystal()

	var batchStore service.BatchStore
	if store != nil {
		batchStore = store
	}

	return service.New(a.Config, sched, krystal, krystal, a.newCandles(), a.newOnchain(), batchStore, a.Logger)
}

// Run executes the long-running batch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(sched, store)

	a.Logger.Info().Msg("starting pnl batch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("pnl batch service stopped")
	return nil
}

// ReportOptions configure the one-shot report command.
type ReportOptions struct {
	Quote   bool
	CSVPath string
}

// ExportOptions hold parameters for exporting historical reports.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxRows int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Stats bool
}
