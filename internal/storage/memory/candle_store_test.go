package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/storage"
)

func minuteCandle(day string, hhmm string, close float64) domain.Candle {
	ts, _ := time.Parse(domain.TimeLayout, day+" "+hhmm+":00")
	return domain.Candle{
		Timestamp: ts,
		Open:      close,
		High:      close + 0.5,
		Low:       close - 0.5,
		Close:     close,
		Volume:    1000,
	}
}

func TestCandleStore_GetCandles_OrderedAndBounded(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	// Seed out of order across two days.
	store.AddCandles("RELIANCE", []domain.Candle{
		minuteCandle("2024-01-02", "09:16", 101),
		minuteCandle("2024-01-02", "09:15", 100),
		minuteCandle("2024-01-03", "09:15", 105),
	})

	all, err := store.GetCandles(ctx, "RELIANCE", "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 100.0, all[0].Close)
	assert.Equal(t, 101.0, all[1].Close)

	day1, err := store.GetCandles(ctx, "RELIANCE", "2024-01-02", "2024-01-02")
	require.NoError(t, err)
	assert.Len(t, day1, 2)
}

func TestCandleStore_GetCandles_NoData(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore()

	_, err := store.GetCandles(ctx, "UNKNOWN", "", "")
	assert.ErrorIs(t, err, storage.ErrDataUnavailable)

	store.AddCandles("TCS", []domain.Candle{minuteCandle("2024-01-02", "09:15", 100)})
	_, err = store.GetCandles(ctx, "TCS", "2024-02-01", "2024-02-28")
	assert.ErrorIs(t, err, storage.ErrDataUnavailable)
}
