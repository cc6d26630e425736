package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/idhash"
	"orb-grid-lab/internal/storage"
)

type resultKey struct {
	runID     int64
	paramID   string
	stockCode string
}

type progressKey struct {
	runID     int64
	stockCode string
}

// ResultStore is an in-memory implementation of storage.ResultStore.
type ResultStore struct {
	mu        sync.RWMutex
	nextRunID int64
	runs      map[int64]*domain.Run
	params    map[string]domain.StrategyParams
	metrics   map[resultKey]*storage.ResultRow
	trades    map[resultKey][]domain.Trade
	progress  map[progressKey]*domain.StockProgress
}

// NewResultStore creates a new in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		nextRunID: 1,
		runs:      make(map[int64]*domain.Run),
		params:    make(map[string]domain.StrategyParams),
		metrics:   make(map[resultKey]*storage.ResultRow),
		trades:    make(map[resultKey][]domain.Trade),
		progress:  make(map[progressKey]*domain.StockProgress),
	}
}

// Compile-time interface check.
var _ storage.ResultStore = (*ResultStore)(nil)

// CreateRun inserts a new run and a pending progress row per stock.
func (s *ResultStore) CreateRun(_ context.Context, run *domain.Run, stocks []string) (int64, error) {
	if run == nil {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextRunID
	s.nextRunID++

	stored := *run
	stored.RunID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.Status == "" {
		stored.Status = domain.RunStatusRunning
	}
	s.runs[id] = &stored

	for _, code := range stocks {
		s.progress[progressKey{runID: id, stockCode: code}] = &domain.StockProgress{
			RunID:     id,
			StockCode: code,
			Status:    domain.StockStatusPending,
		}
	}

	return id, nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ResultStore) GetRun(_ context.Context, runID int64) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *run
	return &copy, nil
}

// LatestRun retrieves the most recently created run.
func (s *ResultStore) LatestRun(_ context.Context) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Run
	for _, run := range s.runs {
		if latest == nil || run.RunID > latest.RunID {
			latest = run
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	copy := *latest
	return &copy, nil
}

// UpdateRunProgress updates the run's live counters.
func (s *ResultStore) UpdateRunProgress(_ context.Context, runID int64, combosCompleted, stocksCompleted int, elapsedSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}
	run.CombosCompleted = combosCompleted
	run.StocksCompleted = stocksCompleted
	run.ElapsedSeconds = elapsedSeconds
	return nil
}

// FinishRun records the terminal status and completion timestamp.
func (s *ResultStore) FinishRun(_ context.Context, runID int64, status string, elapsedSeconds float64) error {
	if status != domain.RunStatusCompleted && status != domain.RunStatusInterrupted {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	run.ElapsedSeconds = elapsedSeconds
	return nil
}

// UpsertParams stores parameter definitions, leaving existing ones untouched.
func (s *ResultStore) UpsertParams(_ context.Context, params []domain.StrategyParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range params {
		id := idhash.ComputeParamID(p)
		if _, exists := s.params[id]; !exists {
			s.params[id] = p
		}
	}
	return nil
}

// GetParams retrieves one parameter definition.
func (s *ResultStore) GetParams(_ context.Context, id string) (*domain.StrategyParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.params[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := p
	return &copy, nil
}

// MarkStockInProgress moves a stock's progress row to in_progress.
func (s *ResultStore) MarkStockInProgress(_ context.Context, runID int64, stockCode string) error {
	return s.setStockStatus(runID, stockCode, domain.StockStatusInProgress)
}

// MarkStockFailed moves a stock's progress row to failed.
func (s *ResultStore) MarkStockFailed(_ context.Context, runID int64, stockCode string) error {
	return s.setStockStatus(runID, stockCode, domain.StockStatusFailed)
}

func (s *ResultStore) setStockStatus(runID int64, stockCode, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.progress[progressKey{runID: runID, stockCode: stockCode}]
	if !exists {
		return storage.ErrNotFound
	}
	p.Status = status
	return nil
}

// CommitStockResults atomically persists all metrics rows (and trades)
// for one instrument and marks its progress row completed.
func (s *ResultStore) CommitStockResults(_ context.Context, runID int64, stockCode string, rows []*storage.ResultRow, trades []*storage.TradeRow, elapsedSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prog, exists := s.progress[progressKey{runID: runID, stockCode: stockCode}]
	if !exists {
		return storage.ErrNotFound
	}

	// First pass: duplicate detection, existing and intra-batch.
	batchKeys := make(map[resultKey]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.ParamID == "" {
			return storage.ErrInvalidInput
		}
		k := resultKey{runID: runID, paramID: r.ParamID, stockCode: stockCode}
		if _, dup := s.metrics[k]; dup {
			return storage.ErrDuplicateResult
		}
		if _, dup := batchKeys[k]; dup {
			return storage.ErrDuplicateResult
		}
		batchKeys[k] = struct{}{}
	}

	// Second pass: insert everything.
	totalTrades := 0
	for _, r := range rows {
		k := resultKey{runID: runID, paramID: r.ParamID, stockCode: stockCode}
		copy := *r
		copy.RunID = runID
		copy.StockCode = stockCode
		s.metrics[k] = &copy
		totalTrades += r.Metrics.TotalTrades
	}
	for _, t := range trades {
		if t == nil || t.ParamID == "" {
			return storage.ErrInvalidInput
		}
		k := resultKey{runID: runID, paramID: t.ParamID, stockCode: stockCode}
		s.trades[k] = append(s.trades[k], t.Trade)
	}

	now := time.Now()
	prog.Status = domain.StockStatusCompleted
	prog.CombosTested = len(rows)
	prog.TotalTradesFound = totalTrades
	prog.ElapsedSeconds = elapsedSeconds
	prog.CompletedAt = &now
	return nil
}

// CompletedStocks returns the codes of stocks already completed in a run.
func (s *ResultStore) CompletedStocks(_ context.Context, runID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var codes []string
	for k, p := range s.progress {
		if k.runID == runID && p.Status == domain.StockStatusCompleted {
			codes = append(codes, k.stockCode)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// ProgressByRun retrieves all per-stock progress rows for a run.
func (s *ResultStore) ProgressByRun(_ context.Context, runID int64) ([]*domain.StockProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StockProgress
	for k, p := range s.progress {
		if k.runID == runID {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StockCode < result[j].StockCode
	})
	return result, nil
}

// ResultsByRun retrieves every metrics row of a run joined with its
// parameter definition, ordered by (param_id, stock_code).
func (s *ResultStore) ResultsByRun(_ context.Context, runID int64) ([]*storage.ResultRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.ResultRow
	for k, r := range s.metrics {
		if k.runID != runID {
			continue
		}
		copy := *r
		if p, exists := s.params[k.paramID]; exists {
			copy.Params = p
		}
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ParamID != result[j].ParamID {
			return result[i].ParamID < result[j].ParamID
		}
		return result[i].StockCode < result[j].StockCode
	})
	return result, nil
}

// TradesByKey retrieves the stored trades for one (run, param, stock) key.
func (s *ResultStore) TradesByKey(_ context.Context, runID int64, paramID, stockCode string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.trades[resultKey{runID: runID, paramID: paramID, stockCode: stockCode}]
	result := make([]*domain.Trade, 0, len(stored))
	for _, t := range stored {
		copy := t
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}
