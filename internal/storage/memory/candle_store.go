package memory

import (
	"context"
	"sort"
	"sync"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
// Used by tests and by simulations over synthetic data.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string][]domain.Candle // keyed by stock_code, sorted by timestamp
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string][]domain.Candle),
	}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// AddCandles seeds candles for an instrument. Candles are kept sorted by
// timestamp across calls.
func (s *CandleStore) AddCandles(stockCode string, candles []domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(s.data[stockCode], candles...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	s.data[stockCode] = merged
}

// GetCandles retrieves session candles for one instrument, ordered by
// timestamp ASC. Returns ErrDataUnavailable when no candles match.
func (s *CandleStore) GetCandles(_ context.Context, stockCode, startDate, endDate string) ([]domain.Candle, error) {
	if stockCode == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Candle
	for _, c := range s.data[stockCode] {
		day := c.DateKey()
		if startDate != "" && day < startDate {
			continue
		}
		if endDate != "" && day > endDate {
			continue
		}
		result = append(result, c)
	}

	if len(result) == 0 {
		return nil, storage.ErrDataUnavailable
	}
	return result, nil
}
