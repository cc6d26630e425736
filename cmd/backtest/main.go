package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"orb-grid-lab/internal/config"
	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/grid"
	"orb-grid-lab/internal/logging"
	"orb-grid-lab/internal/observability"
	"orb-grid-lab/internal/orchestrator"
	"orb-grid-lab/internal/storage"
	chstore "orb-grid-lab/internal/storage/clickhouse"
	"orb-grid-lab/internal/storage/memory"
	"orb-grid-lab/internal/storage/migrations"
	pgstore "orb-grid-lab/internal/storage/postgres"
	sqlstore "orb-grid-lab/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	stocksFlag := flag.String("stocks", "", "Comma-separated instrument codes (overrides config)")
	startDate := flag.String("start-date", "", "Inclusive start date YYYY-MM-DD (overrides config)")
	endDate := flag.String("end-date", "", "Inclusive end date YYYY-MM-DD (overrides config)")
	workers := flag.Int("workers", 0, "Worker count, 0 = GOMAXPROCS (overrides config)")
	quick := flag.Bool("quick", false, "Run the reduced validation grid")
	storeTrades := flag.Bool("store-trades", false, "Persist individual trades alongside metrics")
	resumeID := flag.Int64("resume", 0, "Resume an interrupted run by ID")
	statusID := flag.Int64("status", 0, "Print run progress and exit (-1 = latest run)")
	migrate := flag.Bool("migrate", false, "Apply schema migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, *stocksFlag, *startDate, *endDate, *workers, *quick, *storeTrades, *migrate)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn().Str("signal", sig.String()).Msg("shutting down, run will be marked interrupted")
		cancel()
	}()

	candles, results, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage setup failed")
	}
	defer closeStores()

	if *statusID != 0 {
		printStatus(ctx, results, *statusID)
		return
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	params := buildGrid(cfg)
	logger.Info().Int("combos", len(params)).Int("full_grid", grid.FullGridSize()).Msg("parameter grid generated")

	orch := orchestrator.New(orchestrator.Options{
		CandleStore:    candles,
		ResultStore:    results,
		SimConfig:      cfg.SimConfig(),
		Workers:        cfg.Backtest.Workers,
		StoreTrades:    cfg.Backtest.StoreTrades,
		StartDate:      cfg.Backtest.StartDate,
		EndDate:        cfg.Backtest.EndDate,
		ConfigSnapshot: cfg.Snapshot(),
		Notes:          cfg.Backtest.Notes,
		Logger:         logger,
	})

	var summary *orchestrator.Summary
	if *resumeID > 0 {
		summary, err = orch.Resume(ctx, *resumeID, params)
	} else {
		if len(cfg.Stocks) == 0 {
			logger.Fatal().Msg("no stocks configured, set stocks in the config file or pass --stocks")
		}
		summary, err = orch.Execute(ctx, cfg.Stocks, params)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("run failed")
	}

	printSummary(summary)
	if summary.Status == domain.RunStatusInterrupted {
		fmt.Printf("\nResume with: backtest --resume %d\n", summary.RunID)
		os.Exit(130)
	}
}

func applyFlagOverrides(cfg *config.Config, stocks, startDate, endDate string, workers int, quick, storeTrades, migrate bool) {
	if stocks != "" {
		cfg.Stocks = cfg.Stocks[:0]
		for _, s := range strings.Split(stocks, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Stocks = append(cfg.Stocks, strings.ToUpper(s))
			}
		}
	}
	if startDate != "" {
		cfg.Backtest.StartDate = startDate
	}
	if endDate != "" {
		cfg.Backtest.EndDate = endDate
	}
	if workers > 0 {
		cfg.Backtest.Workers = workers
	}
	if quick {
		cfg.Grid.Quick = true
	}
	if storeTrades {
		cfg.Backtest.StoreTrades = true
	}
	if migrate {
		cfg.Storage.Migrate = true
	}
}

// buildGrid generates the parameter combinations the run will sweep.
func buildGrid(cfg *config.Config) []domain.StrategyParams {
	space := grid.New(cfg.GridConstants())
	switch {
	case cfg.Grid.Quick:
		return space.GenerateQuick()
	case cfg.HasFilter():
		return space.GenerateFiltered(cfg.GridFilter())
	default:
		return space.GenerateAll()
	}
}

// buildStores wires the configured persistence backend.
func buildStores(ctx context.Context, cfg *config.Config) (storage.CandleStore, storage.ResultStore, func(), error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return memory.NewCandleStore(), memory.NewResultStore(), func() {}, nil

	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, nil, nil, fmt.Errorf("postgres backend requires storage.postgres_dsn")
		}
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if cfg.Storage.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		results := pgstore.NewResultStore(pool)

		candles, closeCandles, err := buildCandleStore(ctx, cfg)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return candles, results, func() {
			closeCandles()
			pool.Close()
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// buildCandleStore prefers ClickHouse, falling back to a local SQLite
// candle file.
func buildCandleStore(ctx context.Context, cfg *config.Config) (storage.CandleStore, func(), error) {
	if cfg.Storage.ClickhouseDSN != "" {
		var conn *chstore.Conn
		var err error
		if cfg.Storage.Migrate {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		return chstore.NewCandleStore(conn), func() { conn.Close() }, nil
	}

	if cfg.Storage.SQLitePath != "" {
		store, err := sqlstore.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite candles: %w", err)
		}
		return store, func() { store.Close() }, nil
	}

	return nil, nil, fmt.Errorf("postgres backend requires storage.clickhouse_dsn or storage.sqlite_path for candles")
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	logger.Info().Str("addr", addr).Msg("serving Prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

// printStatus prints a run's progress and exits. statusID -1 selects
// the most recent run.
func printStatus(ctx context.Context, results storage.ResultStore, statusID int64) {
	var run *domain.Run
	var err error
	if statusID < 0 {
		run, err = results.LatestRun(ctx)
	} else {
		run, err = results.GetRun(ctx, statusID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading run: %v\n", err)
		os.Exit(1)
	}

	progress, err := results.ProgressByRun(ctx, run.RunID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading progress: %v\n", err)
		os.Exit(1)
	}

	counts := map[string]int{}
	for _, p := range progress {
		counts[p.Status]++
	}

	fmt.Printf("Run #%d  status=%s\n", run.RunID, run.Status)
	fmt.Printf("  Date range:   %s to %s\n", run.StartDate, run.EndDate)
	fmt.Printf("  Grid:         %d combos x %d stocks = %d simulations\n",
		run.TotalParamCombos, run.TotalStocks, run.TotalSimulations)
	fmt.Printf("  Progress:     %d combos done, %d stocks done\n", run.CombosCompleted, run.StocksCompleted)
	fmt.Printf("  Stocks:       %d pending, %d in progress, %d completed, %d failed\n",
		counts[domain.StockStatusPending], counts[domain.StockStatusInProgress],
		counts[domain.StockStatusCompleted], counts[domain.StockStatusFailed])
	fmt.Printf("  Elapsed:      %.1fs\n", run.ElapsedSeconds)
}

func printSummary(s *orchestrator.Summary) {
	fmt.Printf("\nRun #%d finished: %s\n", s.RunID, s.Status)
	fmt.Printf("  Stocks:      %d completed, %d failed, %d skipped\n",
		s.StocksCompleted, s.StocksFailed, s.StocksSkipped)
	fmt.Printf("  Simulations: %d\n", s.CombosTested)
	fmt.Printf("  Trades:      %d\n", s.TotalTrades)
	fmt.Printf("  Elapsed:     %.1fs\n", s.ElapsedSeconds)
}
