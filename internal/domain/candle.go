package domain

import "time"

// Session boundaries for NSE equities. Candles outside this window
// (pre-market auction, post-close prints) are never loaded.
const (
	SessionOpen  = "09:15:00"
	SessionClose = "15:29:00"
)

// DateLayout is the canonical trading-day key format.
const DateLayout = "2006-01-02"

// TimeLayout is the canonical intraday timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// Candle represents one minute of OHLCV data for a single instrument.
// Immutable once loaded.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// DateKey returns the trading-day key ('YYYY-MM-DD') for this candle.
func (c Candle) DateKey() string {
	return c.Timestamp.Format(DateLayout)
}

// TimeOfDay returns the intraday time as 'HH:MM:SS'.
func (c Candle) TimeOfDay() string {
	return c.Timestamp.Format("15:04:05")
}
