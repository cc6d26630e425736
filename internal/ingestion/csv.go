// Package ingestion loads minute OHLCV candles from CSV exports into a
// candle store, normalizing them on the way in.
package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"orb-grid-lab/internal/domain"
)

// csvColumns is the required header of a candle export.
var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// ParseCandles reads candle rows from a CSV export. Timestamps use the
// canonical '2006-01-02 15:04:05' layout. Rows with inconsistent OHLC
// bounds are rejected with the offending line number.
func ParseCandles(r io.Reader) ([]domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var candles []domain.Candle
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line++

		c, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}

	return candles, nil
}

func checkHeader(header []string) error {
	if len(header) != len(csvColumns) {
		return fmt.Errorf("expected %d columns, got %d", len(csvColumns), len(header))
	}
	for i, want := range csvColumns {
		if strings.ToLower(strings.TrimSpace(header[i])) != want {
			return fmt.Errorf("column %d: expected %q, got %q", i+1, want, header[i])
		}
	}
	return nil
}

func parseRow(record []string) (domain.Candle, error) {
	ts, err := time.Parse(domain.TimeLayout, strings.TrimSpace(record[0]))
	if err != nil {
		return domain.Candle{}, fmt.Errorf("timestamp: %w", err)
	}

	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("%s: %w", csvColumns[i+1], err)
		}
		vals[i] = v
	}

	c := domain.Candle{
		Timestamp: ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}
	if err := validate(c); err != nil {
		return domain.Candle{}, err
	}
	return c, nil
}

func validate(c domain.Candle) error {
	if c.High < c.Low {
		return fmt.Errorf("high %g below low %g", c.High, c.Low)
	}
	if c.Open > c.High || c.Open < c.Low {
		return fmt.Errorf("open %g outside [%g, %g]", c.Open, c.Low, c.High)
	}
	if c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("close %g outside [%g, %g]", c.Close, c.Low, c.High)
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume %g", c.Volume)
	}
	return nil
}

// Normalize orders candles by timestamp, drops duplicate timestamps
// (first occurrence wins) and discards rows outside the trading
// session. Returns the surviving candles.
func Normalize(candles []domain.Candle) []domain.Candle {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	out := candles[:0]
	var last string
	for _, c := range candles {
		tod := c.TimeOfDay()
		if tod < domain.SessionOpen || tod > domain.SessionClose {
			continue
		}
		key := c.Timestamp.Format(domain.TimeLayout)
		if key == last {
			continue
		}
		last = key
		out = append(out, c)
	}
	return out
}
