package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/storage"
	"orb-grid-lab/internal/storage/memory"
)

func candle(day, hhmm string, open, high, low, close, volume float64) domain.Candle {
	ts, _ := time.Parse(domain.TimeLayout, day+" "+hhmm+":00")
	return domain.Candle{Timestamp: ts, Open: open, High: high, Low: low, Close: close, Volume: volume}
}

// flatDay builds n one-minute candles from 09:15 with identical prices.
func flatDay(day string, n int, price, volume float64) []domain.Candle {
	base, _ := time.Parse(domain.TimeLayout, day+" 09:15:00")
	candles := make([]domain.Candle, n)
	for i := range candles {
		candles[i] = domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price, Low: price, Close: price,
			Volume: volume,
		}
	}
	return candles
}

func TestLoadStock_GroupsAndSortsDays(t *testing.T) {
	store := memory.NewCandleStore()
	store.AddCandles("RELIANCE", flatDay("2024-01-03", 3, 101, 1000))
	store.AddCandles("RELIANCE", flatDay("2024-01-02", 3, 100, 1000))

	loader := NewLoader(store, 0, 0)
	data, err := loader.LoadStock(context.Background(), "RELIANCE", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, data.TradingDays)
	assert.Len(t, data.Days["2024-01-02"], 3)
	assert.Equal(t, 100.0, data.PrevClose["2024-01-03"])
	_, hasFirst := data.PrevClose["2024-01-02"]
	assert.False(t, hasFirst)
}

func TestLoadStock_DataUnavailable(t *testing.T) {
	loader := NewLoader(memory.NewCandleStore(), 0, 0)

	_, err := loader.LoadStock(context.Background(), "UNKNOWN", "", "", nil)
	assert.ErrorIs(t, err, storage.ErrDataUnavailable)
}

func TestOpeningRanges_WindowBoundary(t *testing.T) {
	store := memory.NewCandleStore()
	day := "2024-01-02"
	store.AddCandles("TCS", []domain.Candle{
		candle(day, "09:15", 100, 102, 99, 101, 500),
		candle(day, "09:16", 101, 104, 100, 103, 700),
		// 15-minute window covers 09:15 through 09:29.
		candle(day, "09:29", 103, 105, 102, 104, 900),
		candle(day, "09:30", 104, 120, 104, 119, 2000),
	})

	loader := NewLoader(store, 0, 0)
	data, err := loader.LoadStock(context.Background(), "TCS", "", "", []int{15})
	require.NoError(t, err)

	or, ok := data.ORFor(15, day)
	require.True(t, ok)
	assert.Equal(t, 105.0, or.High) // the 09:30 spike is outside the window
	assert.Equal(t, 99.0, or.Low)
	assert.InDelta(t, 700.0, or.AvgVolume, 1e-9)
	// Width as percent of midpoint: (105-99)/102*100.
	assert.InDelta(t, 5.88235, or.WidthPct, 1e-4)
}

func TestOpeningRanges_TooFewCandlesSkipsDay(t *testing.T) {
	store := memory.NewCandleStore()
	store.AddCandles("TCS", []domain.Candle{
		candle("2024-01-02", "09:15", 100, 101, 99, 100, 500),
		// Only one candle inside a 5-minute window before trading resumes late.
		candle("2024-01-02", "10:30", 100, 101, 99, 100, 500),
	})

	loader := NewLoader(store, 0, 0)
	data, err := loader.LoadStock(context.Background(), "TCS", "", "", []int{5})
	require.NoError(t, err)

	_, ok := data.ORFor(5, "2024-01-02")
	assert.False(t, ok)
}

func TestDailyATR_WilderSmoothing(t *testing.T) {
	store := memory.NewCandleStore()
	// Three days with known daily bars.
	store.AddCandles("INFY", []domain.Candle{
		candle("2024-01-02", "09:15", 105, 110, 100, 102, 100),
		candle("2024-01-02", "09:16", 102, 106, 101, 105, 100), // day: H110 L100 C105, TR 10
		candle("2024-01-03", "09:15", 106, 112, 104, 108, 100),
		candle("2024-01-03", "09:16", 108, 111, 105, 110, 100), // day: H112 L104 C110, TR max(8,7,1)=8
		candle("2024-01-04", "09:15", 111, 120, 110, 113, 100),
		candle("2024-01-04", "09:16", 113, 118, 111, 115, 100), // day: H120 L110 C115, TR max(10,10,0)=10
	})

	loader := NewLoader(store, 2, 0)
	data, err := loader.LoadStock(context.Background(), "INFY", "", "", nil)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, data.DailyATR["2024-01-02"], 1e-9)       // running avg of first TR
	assert.InDelta(t, 9.0, data.DailyATR["2024-01-03"], 1e-9)        // (10+8)/2
	assert.InDelta(t, 9.5, data.DailyATR["2024-01-04"], 1e-9)        // (9*1+10)/2
}

func TestDailyATR_ShortHistoryEmpty(t *testing.T) {
	store := memory.NewCandleStore()
	store.AddCandles("INFY", flatDay("2024-01-02", 2, 100, 100))

	loader := NewLoader(store, 14, 0)
	data, err := loader.LoadStock(context.Background(), "INFY", "", "", nil)
	require.NoError(t, err)

	assert.Empty(t, data.DailyATR)
}

func TestVolumeBaseline_RollingAverage(t *testing.T) {
	store := memory.NewCandleStore()
	store.AddCandles("SBIN", flatDay("2024-01-02", 2, 100, 1000))
	store.AddCandles("SBIN", flatDay("2024-01-03", 2, 100, 2000))
	store.AddCandles("SBIN", flatDay("2024-01-04", 2, 100, 4000))

	loader := NewLoader(store, 0, 2)
	data, err := loader.LoadStock(context.Background(), "SBIN", "", "", nil)
	require.NoError(t, err)

	// First day has no prior sessions.
	assert.Zero(t, data.VolumeBaseline["2024-01-02"])
	assert.InDelta(t, 1000.0, data.VolumeBaseline["2024-01-03"], 1e-9)
	assert.InDelta(t, 1500.0, data.VolumeBaseline["2024-01-04"], 1e-9)
}
