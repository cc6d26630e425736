package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orb-grid-lab/internal/config"
	"orb-grid-lab/internal/ingestion"
	"orb-grid-lab/internal/logging"
	chstore "orb-grid-lab/internal/storage/clickhouse"
	"orb-grid-lab/internal/storage/migrations"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	dir := flag.String("dir", "", "Directory of candle CSV files, one per instrument")
	file := flag.String("file", "", "Single candle CSV file to import")
	migrate := flag.Bool("migrate", false, "Apply ClickHouse migrations before importing")
	flag.Parse()

	if (*dir == "") == (*file == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --dir or --file is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage.ClickhouseDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: storage.clickhouse_dsn is required for ingestion")
		os.Exit(1)
	}

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
		<-sigCh
		cancel()
	}()

	var conn *chstore.Conn
	if *migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("clickhouse connection failed")
	}
	defer conn.Close()

	importer := ingestion.NewImporter(chstore.NewCandleStore(conn), logger)

	if *file != "" {
		code, n, err := importer.ImportFile(ctx, *file)
		if err != nil {
			logger.Fatal().Err(err).Msg("import failed")
		}
		fmt.Printf("Imported %d candles for %s\n", n, code)
		return
	}

	total, err := importer.ImportDir(ctx, *dir)
	if err != nil {
		logger.Fatal().Err(err).Msg("import failed")
	}
	fmt.Printf("Imported %d candles from %s\n", total, *dir)
}
