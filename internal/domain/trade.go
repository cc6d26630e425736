package domain

import "time"

// Trade direction codes.
const (
	Long  = "LONG"
	Short = "SHORT"
)

// Exit reason codes.
const (
	ExitReasonTarget   = "target"
	ExitReasonStopLoss = "stop_loss"
	ExitReasonTimeExit = "time_exit"
)

// Trade represents one simulated intraday position. At most one Trade
// exists per (instrument, day) per parameter combination. Never mutated
// after construction.
type Trade struct {
	StockCode string
	Date      string // trading day 'YYYY-MM-DD'
	Direction string // LONG or SHORT

	EntryTime  string // 'YYYY-MM-DD HH:MM:SS'
	EntryPrice float64
	ExitTime   string
	ExitPrice  float64
	Quantity   int

	StopLossInitial float64
	StopLossFinal   float64 // differs from initial only for trailing stops
	TargetPrice     float64 // 0 when no target
	ORHigh          float64
	ORLow           float64
	ExitReason      string

	GrossPnL   float64
	Costs      float64 // brokerage + transaction tax
	NetPnL     float64
	RiskAmount float64 // stop distance × quantity
	RMultiple  float64 // net P&L / risk amount
}

// HoldingMinutes returns the position's holding duration in minutes.
// Returns 0 when either timestamp fails to parse.
func (t *Trade) HoldingMinutes() float64 {
	entry, err := time.Parse(TimeLayout, t.EntryTime)
	if err != nil {
		return 0
	}
	exit, err := time.Parse(TimeLayout, t.ExitTime)
	if err != nil {
		return 0
	}
	return exit.Sub(entry).Minutes()
}
