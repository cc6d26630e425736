// Package reporting renders run results as markdown and CSV.
package reporting

import (
	"context"
	"fmt"
	"time"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/ranker"
	"orb-grid-lab/internal/storage"
)

// Generator produces reports from stored run results.
type Generator struct {
	store  storage.ResultStore
	ranker *ranker.Ranker

	metric string
	topN   int
	now    func() time.Time // injectable clock for deterministic output
}

// NewGenerator creates a report generator. metric orders the strategy
// and pair rankings; an empty metric means composite score. topN <= 0
// defaults to 10 entries per section.
func NewGenerator(store storage.ResultStore, metric string, topN int) *Generator {
	if metric == "" {
		metric = ranker.DefaultStrategyMetric
	}
	if topN <= 0 {
		topN = 10
	}
	return &Generator{
		store:  store,
		ranker: ranker.New(store),
		metric: metric,
		topN:   topN,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a complete report for one run.
func (g *Generator) Generate(ctx context.Context, runID int64) (*Report, error) {
	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}

	strategies, err := g.ranker.TopStrategies(ctx, runID, g.metric, g.topN)
	if err != nil {
		return nil, err
	}

	stocks, err := g.ranker.TopStocks(ctx, runID, ranker.DefaultStockMetric, g.topN, "")
	if err != nil {
		return nil, err
	}

	pairs, err := g.ranker.BestPairs(ctx, runID, g.metric, g.topN)
	if err != nil {
		return nil, err
	}

	sensitivity, err := g.ranker.ParameterSensitivity(ctx, runID)
	if err != nil {
		return nil, err
	}

	progress, err := g.store.ProgressByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, p := range progress {
		if p.Status == domain.StockStatusFailed {
			failed = append(failed, p.StockCode)
		}
	}

	return &Report{
		GeneratedAt:   g.now(),
		Run:           run,
		RankMetric:    g.metric,
		TopStrategies: strategies,
		TopStocks:     stocks,
		BestPairs:     pairs,
		Sensitivity:   sensitivity,
		FailedStocks:  failed,
	}, nil
}
