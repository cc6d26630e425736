// Package sqlite reads minute OHLCV history from the file-local SQLite
// database produced by the data download tooling.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/storage"
)

// CandleStore implements storage.CandleStore over a SQLite file. The
// ohlc_data table is keyed UNIQUE(stock_code, datetime) with datetime
// stored as 'YYYY-MM-DD HH:MM:SS' text.
type CandleStore struct {
	db *sql.DB
}

// Open opens the SQLite database at path in read-only friendly mode.
func Open(path string) (*CandleStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &CandleStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *CandleStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// GetCandles retrieves session candles for one instrument, ordered by
// timestamp ASC. Zero-volume candles are dropped as pre-market noise.
// Returns ErrDataUnavailable when no candles match.
func (s *CandleStore) GetCandles(ctx context.Context, stockCode, startDate, endDate string) ([]domain.Candle, error) {
	if stockCode == "" {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT datetime, open, high, low, close, volume
		FROM ohlc_data
		WHERE stock_code = ?
		  AND time(datetime) >= ?
		  AND time(datetime) <= ?
		  AND volume > 0
	`
	args := []any{stockCode, domain.SessionOpen, domain.SessionClose}

	if startDate != "" {
		query += " AND datetime >= ?"
		args = append(args, startDate+" 00:00:00")
	}
	if endDate != "" {
		query += " AND datetime <= ?"
		args = append(args, endDate+" 23:59:59")
	}
	query += " ORDER BY datetime ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var dt string
		if err := rows.Scan(&dt, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		ts, err := time.Parse(domain.TimeLayout, dt)
		if err != nil {
			return nil, fmt.Errorf("parse candle timestamp %q: %w", dt, err)
		}
		c.Timestamp = ts
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
