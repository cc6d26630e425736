package reporting

import (
	"time"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/ranker"
	"orb-grid-lab/internal/storage"
)

// Report is the rendered summary of one grid-search run.
type Report struct {
	GeneratedAt time.Time
	Run         *domain.Run

	RankMetric string // metric the strategy and pair rankings used

	TopStrategies []*ranker.StrategyRanking
	TopStocks     []*ranker.StockRanking
	BestPairs     []*storage.ResultRow
	Sensitivity   []*ranker.SensitivityRow

	// Instruments that produced no data in the run's date range.
	FailedStocks []string
}
