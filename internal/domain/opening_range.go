package domain

// OpeningRange holds the high/low established during the first N minutes
// of one trading session, plus derived values the simulator needs.
// Computed once per (instrument, day, OR duration) and read-only after.
type OpeningRange struct {
	High      float64
	Low       float64
	AvgVolume float64 // mean candle volume inside the OR window
	WidthPct  float64 // (high-low) as % of the range midpoint
}
