package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"orb-grid-lab/internal/config"
	"orb-grid-lab/internal/observability"
	"orb-grid-lab/internal/ranker"
	"orb-grid-lab/internal/reporting"
	"orb-grid-lab/internal/storage"
	"orb-grid-lab/internal/storage/memory"
	pgstore "orb-grid-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	runID := flag.Int64("run", 0, "Run ID to report on (0 = latest run)")
	metric := flag.String("metric", ranker.DefaultStrategyMetric, "Ranking metric for strategies and pairs")
	topN := flag.Int("top", 10, "Number of entries per section")
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	stdout := flag.Bool("stdout", false, "Print the markdown report instead of writing files")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	results, closeStore, err := buildResultStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to storage: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	id := *runID
	if id == 0 {
		run, err := results.LatestRun(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding latest run: %v\n", err)
			os.Exit(1)
		}
		id = run.RunID
	}

	gen := reporting.NewGenerator(results, *metric, *topN)
	report, err := gen.Generate(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}
	observability.RecordReportGenerated()

	md := reporting.RenderMarkdown(report)
	if *stdout {
		fmt.Print(md)
		return
	}

	if err := writeFiles(*outputDir, id, md, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		os.Exit(1)
	}
}

func writeFiles(dir string, runID int64, md string, report *reporting.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	files := []struct {
		name    string
		content string
	}{
		{fmt.Sprintf("REPORT_RUN_%d.md", runID), md},
		{fmt.Sprintf("TOP_STRATEGIES_RUN_%d.csv", runID), reporting.RenderStrategiesCSV(report.TopStrategies)},
		{fmt.Sprintf("BEST_PAIRS_RUN_%d.csv", runID), reporting.RenderPairsCSV(report.BestPairs)},
	}

	fmt.Printf("Report for run #%d generated:\n", runID)
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return err
		}
		fmt.Printf("  - %s\n", path)
	}
	return nil
}

// buildResultStore connects the configured result backend. The report
// tool never needs candle data.
func buildResultStore(ctx context.Context, cfg *config.Config) (storage.ResultStore, func(), error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return memory.NewResultStore(), func() {}, nil
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres backend requires storage.postgres_dsn")
		}
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return pgstore.NewResultStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
