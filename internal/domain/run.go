package domain

import "time"

// Run status codes.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusInterrupted = "interrupted"
)

// Run is one grid-search execution. Append-only after creation except
// for the progress counters and the terminal status/timestamp.
type Run struct {
	RunID          int64
	CreatedAt      time.Time
	CompletedAt    *time.Time
	Status         string
	ConfigSnapshot string // JSON of the configuration that produced the run

	TotalStocks      int
	TotalParamCombos int
	TotalSimulations int // stocks × combos

	CombosCompleted int
	StocksCompleted int
	ElapsedSeconds  float64

	Workers     int
	StoreTrades bool
	StartDate   string
	EndDate     string
	Notes       string
}

// Per-stock progress status codes.
const (
	StockStatusPending    = "pending"
	StockStatusInProgress = "in_progress"
	StockStatusCompleted  = "completed"
	StockStatusFailed     = "failed" // no data available for the stock
)

// StockProgress tracks one instrument inside a run. Status moves
// monotonically pending → in_progress → completed/failed; resume logic
// re-runs anything not completed.
type StockProgress struct {
	RunID            int64
	StockCode        string
	Status           string
	CombosTested     int
	TotalTradesFound int
	ElapsedSeconds   float64
	CompletedAt      *time.Time
}
