package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"orb-grid-lab/internal/domain"
)

// CandleWriter persists normalized candles for one instrument.
type CandleWriter interface {
	InsertCandles(ctx context.Context, stockCode string, candles []domain.Candle) error
}

// Importer loads candle CSV files into a candle store. One file per
// instrument; the instrument code is the file name without extension.
type Importer struct {
	writer CandleWriter
	log    zerolog.Logger
}

// NewImporter creates an Importer.
func NewImporter(writer CandleWriter, logger zerolog.Logger) *Importer {
	return &Importer{writer: writer, log: logger}
}

// ImportFile parses, normalizes and stores one CSV export. Returns the
// instrument code and the number of candles stored.
func (im *Importer) ImportFile(ctx context.Context, path string) (string, int, error) {
	stockCode := StockCodeFromPath(path)
	if stockCode == "" {
		return "", 0, fmt.Errorf("cannot derive instrument code from %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return stockCode, 0, err
	}
	defer f.Close()

	candles, err := ParseCandles(f)
	if err != nil {
		return stockCode, 0, fmt.Errorf("parse %s: %w", path, err)
	}

	parsed := len(candles)
	candles = Normalize(candles)
	if len(candles) == 0 {
		return stockCode, 0, fmt.Errorf("%s: no session candles after normalization", path)
	}

	if err := im.writer.InsertCandles(ctx, stockCode, candles); err != nil {
		return stockCode, 0, fmt.Errorf("store %s: %w", stockCode, err)
	}

	im.log.Info().
		Str("stock", stockCode).
		Int("parsed", parsed).
		Int("stored", len(candles)).
		Msg("candles imported")

	return stockCode, len(candles), nil
}

// ImportDir imports every .csv file in a directory. Returns the total
// number of candles stored across all files.
func (im *Importer) ImportDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	total := 0
	imported := 0
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		_, n, err := im.ImportFile(ctx, filepath.Join(dir, e.Name()))
		if err != nil {
			return total, err
		}
		total += n
		imported++
	}

	if imported == 0 {
		return 0, fmt.Errorf("no .csv files in %s", dir)
	}
	return total, nil
}

// StockCodeFromPath derives the instrument code from a CSV file path:
// base name without extension, upper-cased.
func StockCodeFromPath(path string) string {
	base := filepath.Base(path)
	code := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToUpper(strings.TrimSpace(code))
}
