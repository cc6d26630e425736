package storage

import (
	"context"

	"orb-grid-lab/internal/domain"
)

// ResultRow is one stored metrics row: the parameter combination joined
// with the statistics of simulating it on one instrument.
type ResultRow struct {
	RunID     int64
	ParamID   string
	StockCode string
	Params    domain.StrategyParams
	Metrics   domain.MetricsRecord
}

// TradeRow is one stored simulated trade, keyed back to the parameter
// combination that produced it.
type TradeRow struct {
	RunID   int64
	ParamID string
	Trade   domain.Trade
}

// CandleStore provides read access to minute OHLCV history.
type CandleStore interface {
	// GetCandles retrieves session candles for one instrument, ordered by
	// timestamp ASC. startDate and endDate are inclusive 'YYYY-MM-DD'
	// bounds; an empty string leaves that side unbounded. Returns
	// ErrDataUnavailable when no candles match.
	GetCandles(ctx context.Context, stockCode, startDate, endDate string) ([]domain.Candle, error)
}

// ResultStore provides access to run, parameter, metrics, trade and
// progress storage. Metrics and trades are append-only; runs and
// per-stock progress carry mutable counters and a terminal status.
type ResultStore interface {
	// CreateRun inserts a new run and a pending progress row per stock.
	// Returns the assigned run ID.
	CreateRun(ctx context.Context, run *domain.Run, stocks []string) (int64, error)

	// GetRun retrieves a run by ID. Returns ErrNotFound if not exists.
	GetRun(ctx context.Context, runID int64) (*domain.Run, error)

	// LatestRun retrieves the most recently created run. Returns
	// ErrNotFound when no runs exist.
	LatestRun(ctx context.Context) (*domain.Run, error)

	// UpdateRunProgress updates the run's live counters.
	UpdateRunProgress(ctx context.Context, runID int64, combosCompleted, stocksCompleted int, elapsedSeconds float64) error

	// FinishRun records the terminal status (completed or interrupted),
	// the completion timestamp and the total elapsed time.
	FinishRun(ctx context.Context, runID int64, status string, elapsedSeconds float64) error

	// UpsertParams stores parameter definitions keyed by param_id.
	// Existing definitions are left untouched, so re-running a grid that
	// overlaps a previous one is harmless.
	UpsertParams(ctx context.Context, params []domain.StrategyParams) error

	// GetParams retrieves one parameter definition. Returns ErrNotFound
	// if not exists.
	GetParams(ctx context.Context, paramID string) (*domain.StrategyParams, error)

	// MarkStockInProgress moves a stock's progress row to in_progress.
	MarkStockInProgress(ctx context.Context, runID int64, stockCode string) error

	// MarkStockFailed moves a stock's progress row to failed. Used when
	// the instrument has no candle data in the run's date range.
	MarkStockFailed(ctx context.Context, runID int64, stockCode string) error

	// CommitStockResults atomically persists all metrics rows (and
	// optionally trades) for one instrument and marks its progress row
	// completed. Either everything for the stock lands or nothing does.
	// Returns ErrDuplicateResult if any metrics key already exists.
	CommitStockResults(ctx context.Context, runID int64, stockCode string, rows []*ResultRow, trades []*TradeRow, elapsedSeconds float64) error

	// CompletedStocks returns the codes of stocks already completed in a
	// run, sorted ascending. Resume logic skips these.
	CompletedStocks(ctx context.Context, runID int64) ([]string, error)

	// ProgressByRun retrieves all per-stock progress rows for a run,
	// ordered by stock code.
	ProgressByRun(ctx context.Context, runID int64) ([]*domain.StockProgress, error)

	// ResultsByRun retrieves every metrics row of a run joined with its
	// parameter definition, ordered by (param_id, stock_code).
	ResultsByRun(ctx context.Context, runID int64) ([]*ResultRow, error)

	// TradesByKey retrieves the stored trades for one (run, param, stock)
	// key, ordered by trade date.
	TradesByKey(ctx context.Context, runID int64, paramID, stockCode string) ([]*domain.Trade, error)
}
