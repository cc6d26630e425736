package domain

// Sentinel values used in MetricsRecord instead of NaN/Inf, so records
// are storable and comparable without numeric faults.
const (
	// ProfitFactorCap replaces an undefined (no losers) or runaway
	// profit factor. Stored values never exceed it.
	ProfitFactorCap = 999.99

	// SortinoCap replaces an undefined Sortino (no losing days,
	// positive mean return).
	SortinoCap = 999.99

	// EmptyCompositeScore marks a record computed from zero trades so
	// it ranks below every populated record.
	EmptyCompositeScore = -999999
)

// Composite score weights. The blend and its normalization bounds are
// fixed for a run so scores are comparable within it: net P&L and
// expectancy are scaled by capital, profit factor is capped at 10,
// drawdown percentage is inverted and clamped to [0, 1].
const (
	WeightNetPnL       = 0.25
	WeightSharpe       = 0.20
	WeightProfitFactor = 0.15
	WeightWinRate      = 0.15
	WeightDrawdown     = 0.15
	WeightExpectancy   = 0.10
)

// MetricsRecord aggregates one (run, instrument, parameter) simulation
// into performance statistics. Exactly one record exists per triple.
type MetricsRecord struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	TotalPnL       float64 // gross
	NetPnL         float64 // after costs
	AvgPnLPerTrade float64
	AvgWinner      float64
	AvgLoser       float64

	ProfitFactor         float64
	MaxDrawdown          float64 // absolute, currency units
	MaxDrawdownPct       float64 // fraction of capital
	MaxConsecutiveLosses int

	SharpeRatio  float64 // annualized
	SortinoRatio float64 // annualized, downside only
	Expectancy   float64
	AvgRMultiple float64
	CalmarRatio  float64

	BestTrade         float64
	WorstTrade        float64
	AvgHoldingMinutes float64

	CompositeScore float64
}
