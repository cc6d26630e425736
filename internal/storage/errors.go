package storage

import "errors"

// Storage errors for the result and candle stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateResult is returned when a metrics row already exists
	// for a (run_id, param_id, stock_code) key. Metrics are written at
	// most once per key; a duplicate signals an orchestration bug and is
	// never silently overwritten.
	ErrDuplicateResult = errors.New("duplicate result: metrics row already exists for key")

	// ErrDataUnavailable is returned when no candles exist for an
	// instrument in the requested date range.
	ErrDataUnavailable = errors.New("no candle data available")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
