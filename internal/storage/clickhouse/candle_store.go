package clickhouse

import (
	"context"
	"fmt"
	"time"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse. Minute
// bars live in ohlc_minute, ordered by (stock_code, ts).
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertCandles appends minute bars for an instrument using a prepared
// batch. The table is a ReplacingMergeTree keyed by (stock_code, ts),
// so re-ingesting a day deduplicates on merge.
func (s *CandleStore) InsertCandles(ctx context.Context, stockCode string, candles []domain.Candle) error {
	if stockCode == "" {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ohlc_minute (stock_code, ts, open, high, low, close, volume)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(stockCode, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetCandles retrieves session candles for one instrument, ordered by
// timestamp ASC. Candles outside the trading session are dropped.
// Returns ErrDataUnavailable when no candles match.
func (s *CandleStore) GetCandles(ctx context.Context, stockCode, startDate, endDate string) ([]domain.Candle, error) {
	if stockCode == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ts, open, high, low, close, volume
		FROM ohlc_minute
		WHERE stock_code = ?
	`
	args := []any{stockCode}

	if startDate != "" {
		query += " AND toDate(ts) >= toDate(?)"
		args = append(args, startDate)
	}
	if endDate != "" {
		query += " AND toDate(ts) <= toDate(?)"
		args = append(args, endDate)
	}
	query += " ORDER BY ts ASC"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var ts time.Time
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Timestamp = ts

		tod := c.TimeOfDay()
		if tod < domain.SessionOpen || tod > domain.SessionClose {
			continue
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	if len(candles) == 0 {
		return nil, storage.ErrDataUnavailable
	}
	return candles, nil
}
