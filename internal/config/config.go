// Package config loads the application configuration from YAML with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/grid"
	"orb-grid-lab/internal/logging"
	"orb-grid-lab/internal/simulator"
)

// Config is the top-level configuration for the backtesting lab.
type Config struct {
	Stocks   []string       `yaml:"stocks"`
	Backtest Backtest       `yaml:"backtest"`
	Account  Account        `yaml:"account"`
	Grid     Grid           `yaml:"grid"`
	Storage  Storage        `yaml:"storage"`
	Metrics  Metrics        `yaml:"metrics"`
	Logging  logging.Config `yaml:"logging"`
}

// Backtest controls the run itself.
type Backtest struct {
	StartDate   string `yaml:"start_date"` // inclusive, YYYY-MM-DD, empty = unbounded
	EndDate     string `yaml:"end_date"`
	Workers     int    `yaml:"workers"` // 0 = GOMAXPROCS
	StoreTrades bool   `yaml:"store_trades"`
	Notes       string `yaml:"notes"`
}

// Account holds capital and cost assumptions for the simulator.
type Account struct {
	Capital         float64 `yaml:"capital"`
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade"`
	BrokerageRate   float64 `yaml:"brokerage_rate"`
	STTRate         float64 `yaml:"stt_rate"`
	VolumeFactor    float64 `yaml:"volume_factor"`
}

// Grid selects which slice of the parameter space to sweep. Empty
// filter lists mean the full default range for that dimension.
type Grid struct {
	Quick bool `yaml:"quick"` // small validation grid instead of the full sweep

	TrailingStopPct float64 `yaml:"trailing_stop_pct"`
	ATRMultiplier   float64 `yaml:"atr_multiplier"`
	ATRPeriod       int     `yaml:"atr_period"`

	ORMinutes          []int     `yaml:"or_minutes"`
	TargetMultipliers  []float64 `yaml:"target_multipliers"`
	StopLossTypes      []string  `yaml:"stop_loss_types"`
	Directions         []string  `yaml:"directions"`
	ExitTimes          []string  `yaml:"exit_times"`
	ORFilters          []float64 `yaml:"or_filters"`
	EntryConfirmations []string  `yaml:"entry_confirmations"`
}

// Storage selects the persistence backend and its endpoints.
type Storage struct {
	// Backend is "memory" or "postgres". The postgres backend reads
	// candles from ClickHouse when a DSN is set, falling back to the
	// SQLite candle file otherwise.
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
	Migrate       bool   `yaml:"migrate"` // apply schema migrations on startup
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Account: Account{
			Capital:         100000,
			MaxRiskPerTrade: 1000,
			BrokerageRate:   0.0001,
			STTRate:         0.00025,
			VolumeFactor:    1.5,
		},
		Grid: Grid{
			TrailingStopPct: 0.5,
			ATRMultiplier:   1.5,
			ATRPeriod:       14,
		},
		Storage: Storage{
			Backend:    "memory",
			SQLitePath: "data/candles.db",
		},
		Metrics: Metrics{Addr: ":9091"},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the YAML configuration file at the given path on top of
// the defaults, then applies environment variable overrides. An empty
// path loads defaults and overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORB_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("ORB_CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("ORB_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ORB_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("ORB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.Workers = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// SimConfig converts the account section to the simulator configuration.
func (c *Config) SimConfig() simulator.Config {
	return simulator.Config{
		Capital:         c.Account.Capital,
		MaxRiskPerTrade: c.Account.MaxRiskPerTrade,
		BrokerageRate:   c.Account.BrokerageRate,
		STTRate:         c.Account.STTRate,
		VolumeFactor:    c.Account.VolumeFactor,
	}
}

// GridConstants converts the grid section to the generator constants.
func (c *Config) GridConstants() grid.Constants {
	return grid.Constants{
		TrailingStopPct: c.Grid.TrailingStopPct,
		ATRMultiplier:   c.Grid.ATRMultiplier,
		ATRPeriod:       c.Grid.ATRPeriod,
	}
}

// GridFilter converts the grid filter lists to typed dimension filters.
func (c *Config) GridFilter() grid.Filter {
	f := grid.Filter{
		ORMinutes:         c.Grid.ORMinutes,
		TargetMultipliers: c.Grid.TargetMultipliers,
		ExitTimes:         c.Grid.ExitTimes,
		ORFilters:         c.Grid.ORFilters,
	}
	for _, s := range c.Grid.StopLossTypes {
		f.StopLossTypes = append(f.StopLossTypes, domain.StopLossType(s))
	}
	for _, s := range c.Grid.Directions {
		f.Directions = append(f.Directions, domain.TradeDirection(s))
	}
	for _, s := range c.Grid.EntryConfirmations {
		f.EntryConfirmations = append(f.EntryConfirmations, domain.EntryConfirmation(s))
	}
	return f
}

// HasFilter reports whether any grid dimension is pinned.
func (c *Config) HasFilter() bool {
	g := c.Grid
	return len(g.ORMinutes) > 0 || len(g.TargetMultipliers) > 0 ||
		len(g.StopLossTypes) > 0 || len(g.Directions) > 0 ||
		len(g.ExitTimes) > 0 || len(g.ORFilters) > 0 ||
		len(g.EntryConfirmations) > 0
}

// Snapshot serializes the configuration for storage on a run record.
func (c *Config) Snapshot() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}
