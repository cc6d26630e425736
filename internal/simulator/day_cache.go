// Package simulator replays one instrument's daily candles under one
// parameter combination, producing at most one trade per trading day.
package simulator

import (
	"fmt"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/marketdata"
)

// DayCache holds one trading day's post-opening-range candles as flat
// arrays, plus the first candle index where each entry signal type
// fires. Built once per (instrument, or_minutes, exit_time) and shared
// by every parameter combination in that group.
type DayCache struct {
	Date    string
	Highs   []float64
	Lows    []float64
	Closes  []float64
	Volumes []float64
	Times   []string // 'YYYY-MM-DD HH:MM:SS'

	// First signal indices, -1 when the signal never fires.
	FirstLongImmediate  int
	FirstShortImmediate int
	FirstLongClose      int
	FirstShortClose     int
	FirstLongVolume     int
	FirstShortVolume    int
}

// postORStart returns the time-of-day of the first candle after the
// opening-range window. A 15-minute window starting 09:15 ends with the
// 09:29 candle, so post-OR trading starts at 09:30.
func postORStart(orMinutes int) string {
	total := 9*60 + 15 + orMinutes
	return fmt.Sprintf("%02d:%02d:00", total/60, total%60)
}

// BuildDayCaches builds a DayCache per trading day for one OR duration
// and exit time. Days without a precomputed opening range or without
// any candle between the OR close and the exit time are skipped.
// volumeFactor scales the volume baseline for volume-confirmed entries;
// days without a rolling baseline fall back to the day's own
// opening-range average volume.
func BuildDayCaches(data *marketdata.StockData, orMinutes int, exitTime string, volumeFactor float64) []*DayCache {
	orData, ok := data.OpeningRanges[orMinutes]
	if !ok {
		return nil
	}

	start := postORStart(orMinutes)
	end := exitTime + ":00"

	var caches []*DayCache
	for _, day := range data.TradingDays {
		or, ok := orData[day]
		if !ok {
			continue
		}

		dc := &DayCache{Date: day}
		for _, c := range data.Days[day] {
			tod := c.TimeOfDay()
			if tod < start || tod > end {
				continue
			}
			dc.Highs = append(dc.Highs, c.High)
			dc.Lows = append(dc.Lows, c.Low)
			dc.Closes = append(dc.Closes, c.Close)
			dc.Volumes = append(dc.Volumes, c.Volume)
			dc.Times = append(dc.Times, c.Timestamp.Format(domain.TimeLayout))
		}
		if len(dc.Highs) == 0 {
			continue
		}

		volBase := data.VolumeBaseline[day]
		if volBase == 0 {
			volBase = or.AvgVolume
		}

		dc.FirstLongImmediate = firstIndex(dc.Highs, func(v float64) bool { return v > or.High })
		dc.FirstShortImmediate = firstIndex(dc.Lows, func(v float64) bool { return v < or.Low })
		dc.FirstLongClose = firstIndex(dc.Closes, func(v float64) bool { return v > or.High })
		dc.FirstShortClose = firstIndex(dc.Closes, func(v float64) bool { return v < or.Low })

		dc.FirstLongVolume = -1
		dc.FirstShortVolume = -1
		if volBase > 0 {
			threshold := volumeFactor * volBase
			for i := range dc.Closes {
				if dc.Closes[i] > or.High && dc.Volumes[i] > threshold {
					dc.FirstLongVolume = i
					break
				}
			}
			for i := range dc.Closes {
				if dc.Closes[i] < or.Low && dc.Volumes[i] > threshold {
					dc.FirstShortVolume = i
					break
				}
			}
		}

		caches = append(caches, dc)
	}
	return caches
}

func firstIndex(values []float64, match func(float64) bool) int {
	for i, v := range values {
		if match(v) {
			return i
		}
	}
	return -1
}
