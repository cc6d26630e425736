// Package marketdata loads minute candles for one instrument and
// precomputes the derived series the simulator needs. A StockData is
// built once per instrument and shared read-only across every parameter
// combination, so opening ranges are computed per OR duration rather
// than per combination.
package marketdata

import (
	"context"
	"fmt"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/storage"
)

// Default lookback windows for the derived series.
const (
	DefaultATRPeriod      = 14
	DefaultVolumeLookback = 14
)

// StockData holds everything precomputed for a single instrument.
// Read-only after Load returns; concurrent simulations share one
// instance without locking.
type StockData struct {
	StockCode   string
	TradingDays []string // sorted 'YYYY-MM-DD' keys
	Days        map[string][]domain.Candle

	// OpeningRanges is keyed by OR duration, then trading day. Days
	// with fewer than two candles in the OR window are absent.
	OpeningRanges map[int]map[string]domain.OpeningRange

	// DailyATR is Wilder-smoothed ATR over daily bars derived from the
	// minute data. Empty when the history is shorter than period+1 days.
	DailyATR map[string]float64

	// VolumeBaseline is the average minute volume over the preceding
	// lookback sessions. Zero for the first trading day; callers fall
	// back to the day's own opening-range average volume.
	VolumeBaseline map[string]float64

	// PrevClose maps each trading day to the previous session's close.
	// The first trading day is absent.
	PrevClose map[string]float64
}

// ORFor looks up the precomputed opening range for a duration and day.
func (d *StockData) ORFor(orMinutes int, date string) (domain.OpeningRange, bool) {
	byDay, ok := d.OpeningRanges[orMinutes]
	if !ok {
		return domain.OpeningRange{}, false
	}
	or, ok := byDay[date]
	return or, ok
}

// Loader builds StockData from a candle store.
type Loader struct {
	store          storage.CandleStore
	atrPeriod      int
	volumeLookback int
}

// NewLoader creates a Loader. Non-positive lookbacks fall back to the
// defaults.
func NewLoader(store storage.CandleStore, atrPeriod, volumeLookback int) *Loader {
	if atrPeriod <= 0 {
		atrPeriod = DefaultATRPeriod
	}
	if volumeLookback <= 0 {
		volumeLookback = DefaultVolumeLookback
	}
	return &Loader{store: store, atrPeriod: atrPeriod, volumeLookback: volumeLookback}
}

// LoadStock loads candles for one instrument and precomputes opening
// ranges for every requested OR duration, the daily ATR series, the
// rolling volume baseline and previous-day closes. Returns
// storage.ErrDataUnavailable when the range holds no candles.
func (l *Loader) LoadStock(ctx context.Context, stockCode, startDate, endDate string, orDurations []int) (*StockData, error) {
	candles, err := l.store.GetCandles(ctx, stockCode, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", stockCode, err)
	}

	data := &StockData{
		StockCode:      stockCode,
		Days:           make(map[string][]domain.Candle),
		OpeningRanges:  make(map[int]map[string]domain.OpeningRange),
		DailyATR:       make(map[string]float64),
		VolumeBaseline: make(map[string]float64),
		PrevClose:      make(map[string]float64),
	}

	for _, c := range candles {
		day := c.DateKey()
		if _, seen := data.Days[day]; !seen {
			data.TradingDays = append(data.TradingDays, day)
		}
		data.Days[day] = append(data.Days[day], c)
	}
	// Store order is timestamp ASC, so TradingDays is already sorted.

	for _, om := range orDurations {
		data.OpeningRanges[om] = computeOpeningRanges(data.Days, om)
	}
	data.DailyATR = computeDailyATR(data.Days, data.TradingDays, l.atrPeriod)
	data.VolumeBaseline = computeVolumeBaseline(data.Days, data.TradingDays, l.volumeLookback)

	for i := 1; i < len(data.TradingDays); i++ {
		prev := data.Days[data.TradingDays[i-1]]
		data.PrevClose[data.TradingDays[i]] = prev[len(prev)-1].Close
	}

	return data, nil
}

// orEndTime returns the time-of-day of the last candle inside an OR
// window. A 15-minute window starting 09:15 covers candles 09:15
// through 09:29.
func orEndTime(orMinutes int) string {
	total := 9*60 + 15 + orMinutes - 1
	return fmt.Sprintf("%02d:%02d:00", total/60, total%60)
}

// computeOpeningRanges derives the OR high/low, average window volume
// and width percentage per trading day. Days with fewer than two
// candles inside the window are skipped.
func computeOpeningRanges(days map[string][]domain.Candle, orMinutes int) map[string]domain.OpeningRange {
	end := orEndTime(orMinutes)

	result := make(map[string]domain.OpeningRange, len(days))
	for day, candles := range days {
		var (
			high, low, volSum float64
			count             int
		)
		for _, c := range candles {
			if c.TimeOfDay() > end {
				break
			}
			if count == 0 {
				high, low = c.High, c.Low
			} else {
				if c.High > high {
					high = c.High
				}
				if c.Low < low {
					low = c.Low
				}
			}
			volSum += c.Volume
			count++
		}
		if count < 2 {
			continue
		}

		or := domain.OpeningRange{
			High:      high,
			Low:       low,
			AvgVolume: volSum / float64(count),
		}
		if midpoint := (high + low) / 2; midpoint > 0 {
			or.WidthPct = (high - low) / midpoint * 100
		}
		result[day] = or
	}
	return result
}

// computeDailyATR builds daily bars from the minute data and applies
// Wilder's smoothing. The first period days carry a simple running
// average so ATR-based stops are usable early in the history. Histories
// shorter than period+1 days yield no ATR at all.
func computeDailyATR(days map[string][]domain.Candle, tradingDays []string, period int) map[string]float64 {
	result := make(map[string]float64)
	if len(tradingDays) < period+1 {
		return result
	}

	highs := make([]float64, len(tradingDays))
	lows := make([]float64, len(tradingDays))
	closes := make([]float64, len(tradingDays))
	for i, day := range tradingDays {
		candles := days[day]
		high, low := candles[0].High, candles[0].Low
		for _, c := range candles[1:] {
			if c.High > high {
				high = c.High
			}
			if c.Low < low {
				low = c.Low
			}
		}
		highs[i] = high
		lows[i] = low
		closes[i] = candles[len(candles)-1].Close
	}

	trs := make([]float64, len(tradingDays))
	for i := range tradingDays {
		if i == 0 {
			trs[i] = highs[i] - lows[i]
			continue
		}
		tr := highs[i] - lows[i]
		if d := abs(highs[i] - closes[i-1]); d > tr {
			tr = d
		}
		if d := abs(lows[i] - closes[i-1]); d > tr {
			tr = d
		}
		trs[i] = tr
	}

	// Simple running average until the window fills.
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += trs[i]
		result[tradingDays[i]] = sum / float64(i+1)
	}

	atr := sum / float64(period)
	for i := period; i < len(tradingDays); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
		result[tradingDays[i]] = atr
	}
	return result
}

// computeVolumeBaseline averages minute volume over the preceding
// lookback sessions for each trading day. The first day has no prior
// sessions and stays at zero.
func computeVolumeBaseline(days map[string][]domain.Candle, tradingDays []string, lookback int) map[string]float64 {
	result := make(map[string]float64, len(tradingDays))

	for i := 1; i < len(tradingDays); i++ {
		start := i - lookback
		if start < 0 {
			start = 0
		}

		var volSum float64
		var count int
		for _, day := range tradingDays[start:i] {
			for _, c := range days[day] {
				volSum += c.Volume
				count++
			}
		}
		if count > 0 {
			result[tradingDays[i]] = volSum / float64(count)
		}
	}
	return result
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
