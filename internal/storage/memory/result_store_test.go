package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/idhash"
	"orb-grid-lab/internal/storage"
)

func testParams() domain.StrategyParams {
	return domain.StrategyParams{
		ORMinutes:         15,
		TargetMultiplier:  2.0,
		StopLossType:      domain.StopLossFixed,
		TradeDirection:    domain.DirectionBoth,
		ExitTime:          "15:14",
		EntryConfirmation: domain.EntryImmediate,
		TrailingStopPct:   0.5,
		ATRMultiplier:     1.5,
		ATRPeriod:         14,
	}
}

func testRun() *domain.Run {
	return &domain.Run{
		Status:           domain.RunStatusRunning,
		TotalStocks:      2,
		TotalParamCombos: 1,
		TotalSimulations: 2,
		Workers:          2,
	}
}

func TestResultStore_CreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()

	id, err := store.CreateRun(ctx, testRun(), []string{"RELIANCE", "TCS"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Equal(t, 2, run.TotalStocks)
	assert.False(t, run.CreatedAt.IsZero())

	progress, err := store.ProgressByRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, "RELIANCE", progress[0].StockCode)
	assert.Equal(t, domain.StockStatusPending, progress[0].Status)

	_, err = store.GetRun(ctx, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResultStore_LatestRun(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()

	_, err := store.LatestRun(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.CreateRun(ctx, testRun(), nil)
	require.NoError(t, err)
	second, err := store.CreateRun(ctx, testRun(), nil)
	require.NoError(t, err)

	latest, err := store.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latest.RunID)
}

func TestResultStore_FinishRun(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()

	id, err := store.CreateRun(ctx, testRun(), nil)
	require.NoError(t, err)

	require.NoError(t, store.FinishRun(ctx, id, domain.RunStatusCompleted, 12.5))

	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, 12.5, run.ElapsedSeconds)

	assert.ErrorIs(t, store.FinishRun(ctx, id, "bogus", 0), storage.ErrInvalidInput)
}

func TestResultStore_UpsertParams_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()

	p := testParams()
	id := idhash.ComputeParamID(p)

	require.NoError(t, store.UpsertParams(ctx, []domain.StrategyParams{p}))
	require.NoError(t, store.UpsertParams(ctx, []domain.StrategyParams{p}))

	got, err := store.GetParams(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	_, err = store.GetParams(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResultStore_CommitStockResults(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()

	id, err := store.CreateRun(ctx, testRun(), []string{"RELIANCE"})
	require.NoError(t, err)

	p := testParams()
	paramID := idhash.ComputeParamID(p)
	require.NoError(t, store.UpsertParams(ctx, []domain.StrategyParams{p}))
	require.NoError(t, store.MarkStockInProgress(ctx, id, "RELIANCE"))

	rows := []*storage.ResultRow{{
		ParamID: paramID,
		Metrics: domain.MetricsRecord{TotalTrades: 3, NetPnL: 150.0, CompositeScore: 0.4},
	}}
	trades := []*storage.TradeRow{{
		ParamID: paramID,
		Trade:   domain.Trade{StockCode: "RELIANCE", Date: "2024-01-02", Direction: domain.Long, NetPnL: 50},
	}}

	require.NoError(t, store.CommitStockResults(ctx, id, "RELIANCE", rows, trades, 1.5))

	results, err := store.ResultsByRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].RunID)
	assert.Equal(t, "RELIANCE", results[0].StockCode)
	assert.Equal(t, p, results[0].Params) // joined from the definition table
	assert.Equal(t, 3, results[0].Metrics.TotalTrades)

	stored, err := store.TradesByKey(ctx, id, paramID, "RELIANCE")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 50.0, stored[0].NetPnL)

	completed, err := store.CompletedStocks(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"RELIANCE"}, completed)

	progress, err := store.ProgressByRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, domain.StockStatusCompleted, progress[0].Status)
	assert.Equal(t, 1, progress[0].CombosTested)
	assert.Equal(t, 3, progress[0].TotalTradesFound)
	require.NotNil(t, progress[0].CompletedAt)
}

func TestResultStore_CommitStockResults_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()

	id, err := store.CreateRun(ctx, testRun(), []string{"RELIANCE"})
	require.NoError(t, err)

	paramID := idhash.ComputeParamID(testParams())
	rows := []*storage.ResultRow{{ParamID: paramID, Metrics: domain.MetricsRecord{TotalTrades: 1}}}

	require.NoError(t, store.CommitStockResults(ctx, id, "RELIANCE", rows, nil, 0))

	// Same key again is rejected, never overwritten.
	err = store.CommitStockResults(ctx, id, "RELIANCE", rows, nil, 0)
	assert.ErrorIs(t, err, storage.ErrDuplicateResult)

	// Intra-batch duplicate is rejected before anything lands.
	dup := []*storage.ResultRow{
		{ParamID: "other", Metrics: domain.MetricsRecord{}},
		{ParamID: "other", Metrics: domain.MetricsRecord{}},
	}
	err = store.CommitStockResults(ctx, id, "RELIANCE", dup, nil, 0)
	assert.ErrorIs(t, err, storage.ErrDuplicateResult)

	results, err := store.ResultsByRun(ctx, id)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestResultStore_MarkStockFailed(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore()

	id, err := store.CreateRun(ctx, testRun(), []string{"NODATA"})
	require.NoError(t, err)

	require.NoError(t, store.MarkStockFailed(ctx, id, "NODATA"))

	progress, err := store.ProgressByRun(ctx, id)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, domain.StockStatusFailed, progress[0].Status)

	completed, err := store.CompletedStocks(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, completed)

	assert.ErrorIs(t, store.MarkStockFailed(ctx, id, "UNKNOWN"), storage.ErrNotFound)
}
