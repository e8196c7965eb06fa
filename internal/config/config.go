package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lp-pnl/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Krystal   KrystalConfig   `mapstructure:"krystal"`
	Prices    PricesConfig    `mapstructure:"prices"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs batch cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// KrystalConfig captures indexer connectivity.
type KrystalConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Addresses         []string      `mapstructure:"addresses"`
	ChainIDs          []string      `mapstructure:"chain_ids"`
	PageSize          int           `mapstructure:"page_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        uint          `mapstructure:"max_retries"`
}

// PricesConfig covers candle price history access.
type PricesConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	QuoteSuffix       string        `mapstructure:"quote_suffix"`
	Granularity       string        `mapstructure:"granularity"`
	Interval          time.Duration `mapstructure:"interval"`
	PageLimit         int           `mapstructure:"page_limit"`
	Lookback          time.Duration `mapstructure:"lookback"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        uint          `mapstructure:"max_retries"`
}

// EthereumConfig covers optional on-chain pool price access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EngineConfig tunes the reconstruction batch.
type EngineConfig struct {
	QuoteSymbol string            `mapstructure:"quote_symbol"`
	SkipSymbols []string          `mapstructure:"skip_symbols"`
	SymbolMap   map[string]string `mapstructure:"symbol_map"`
	Workers     int               `mapstructure:"workers"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows   int    `mapstructure:"max_rows"`
	OutputDir string `mapstructure:"output_dir"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LPPNL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lp-pnl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("krystal.base_url", "https://api.krystal.app/all/v1")
	v.SetDefault("krystal.page_size", 100)
	v.SetDefault("krystal.request_timeout", "15s")
	v.SetDefault("krystal.user_agent", "lp-pnl/1.0")
	v.SetDefault("krystal.requests_per_second", 4.0)
	v.SetDefault("krystal.burst", 1)
	v.SetDefault("krystal.max_retries", 4)

	v.SetDefault("prices.base_url", "https://api.bitget.com")
	v.SetDefault("prices.quote_suffix", "USDT")
	v.SetDefault("prices.granularity", "15min")
	v.SetDefault("prices.interval", "15m")
	v.SetDefault("prices.page_limit", 200)
	v.SetDefault("prices.lookback", "2160h")
	v.SetDefault("prices.request_timeout", "15s")
	v.SetDefault("prices.requests_per_second", 10.0)
	v.SetDefault("prices.burst", 1)
	v.SetDefault("prices.max_retries", 4)

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("engine.quote_symbol", "USDC")
	v.SetDefault("engine.skip_symbols", []string{})
	v.SetDefault("engine.workers", 8)

	v.SetDefault("export.max_rows", 100000)
	v.SetDefault("export.output_dir", ".")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Krystal.PageSize <= 0 {
		return fmt.Errorf("krystal.page_size must be greater than zero")
	}
	if c.Prices.Lookback <= 0 {
		return fmt.Errorf("prices.lookback must be greater than zero")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be greater than zero")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
