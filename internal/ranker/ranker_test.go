package ranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/idhash"
	"orb-grid-lab/internal/storage"
	"orb-grid-lab/internal/storage/memory"
)

func testParams(orMinutes int, target float64) domain.StrategyParams {
	return domain.StrategyParams{
		ORMinutes:         orMinutes,
		TargetMultiplier:  target,
		StopLossType:      domain.StopLossFixed,
		TradeDirection:    domain.DirectionBoth,
		ExitTime:          "15:14",
		EntryConfirmation: domain.EntryImmediate,
		TrailingStopPct:   0.5,
		ATRMultiplier:     1.5,
		ATRPeriod:         14,
	}
}

type rowSpec struct {
	params  domain.StrategyParams
	metrics domain.MetricsRecord
}

// seed creates a run and commits the given rows per stock.
func seed(t *testing.T, rowsByStock map[string][]rowSpec) (*memory.ResultStore, int64) {
	t.Helper()
	store := memory.NewResultStore()
	ctx := context.Background()

	stocks := make([]string, 0, len(rowsByStock))
	for s := range rowsByStock {
		stocks = append(stocks, s)
	}

	runID, err := store.CreateRun(ctx, &domain.Run{Status: domain.RunStatusRunning}, stocks)
	require.NoError(t, err)

	for stockCode, specs := range rowsByStock {
		rows := make([]*storage.ResultRow, len(specs))
		for i, spec := range specs {
			rows[i] = &storage.ResultRow{
				RunID:     runID,
				ParamID:   idhash.ComputeParamID(spec.params),
				StockCode: stockCode,
				Params:    spec.params,
				Metrics:   spec.metrics,
			}
		}
		require.NoError(t, store.CommitStockResults(ctx, runID, stockCode, rows, nil, 0))
	}
	return store, runID
}

func TestTopStrategies_AveragesAcrossStocks(t *testing.T) {
	p1 := testParams(15, 0)
	p2 := testParams(30, 0)

	store, runID := seed(t, map[string][]rowSpec{
		"AAA": {
			{p1, domain.MetricsRecord{NetPnL: 100, CompositeScore: 1.0, TotalTrades: 5}},
			{p2, domain.MetricsRecord{NetPnL: 400, CompositeScore: 0.5, TotalTrades: 3}},
		},
		"BBB": {
			{p1, domain.MetricsRecord{NetPnL: 300, CompositeScore: 3.0, TotalTrades: 5}},
			{p2, domain.MetricsRecord{NetPnL: 600, CompositeScore: 0.5, TotalTrades: 3}},
		},
	})

	r := New(store)

	byPnL, err := r.TopStrategies(context.Background(), runID, "net_pnl", 0)
	require.NoError(t, err)
	require.Len(t, byPnL, 2)
	assert.Equal(t, idhash.ComputeParamID(p2), byPnL[0].ParamID)
	assert.InDelta(t, 500.0, byPnL[0].AvgMetric, 1e-9)
	assert.Equal(t, 2, byPnL[0].NumStocks)
	assert.Equal(t, 6, byPnL[0].TotalTrades)
	assert.InDelta(t, 200.0, byPnL[1].AvgNetPnL, 1e-9)
	assert.InDelta(t, 2.0, byPnL[1].AvgComposite, 1e-9)

	byScore, err := r.TopStrategies(context.Background(), runID, "composite_score", 0)
	require.NoError(t, err)
	assert.Equal(t, idhash.ComputeParamID(p1), byScore[0].ParamID)
}

func TestTopStrategies_LimitAndUnknownMetric(t *testing.T) {
	store, runID := seed(t, map[string][]rowSpec{
		"AAA": {
			{testParams(15, 0), domain.MetricsRecord{NetPnL: 100}},
			{testParams(30, 0), domain.MetricsRecord{NetPnL: 200}},
		},
	})

	r := New(store)

	top, err := r.TopStrategies(context.Background(), runID, "net_pnl", 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	_, err = r.TopStrategies(context.Background(), runID, "bogus", 1)
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestTopStocks_WithAndWithoutParamFilter(t *testing.T) {
	p1 := testParams(15, 0)
	p2 := testParams(30, 0)

	store, runID := seed(t, map[string][]rowSpec{
		"AAA": {
			{p1, domain.MetricsRecord{NetPnL: 100}},
			{p2, domain.MetricsRecord{NetPnL: 900}},
		},
		"BBB": {
			{p1, domain.MetricsRecord{NetPnL: 400}},
			{p2, domain.MetricsRecord{NetPnL: 200}},
		},
	})

	r := New(store)

	all, err := r.TopStocks(context.Background(), runID, "net_pnl", 0, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	// AAA averages 500, BBB averages 300.
	assert.Equal(t, "AAA", all[0].StockCode)
	assert.InDelta(t, 500.0, all[0].AvgMetric, 1e-9)
	assert.Equal(t, 2, all[0].NumStrategies)

	filtered, err := r.TopStocks(context.Background(), runID, "net_pnl", 0, idhash.ComputeParamID(p1))
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "BBB", filtered[0].StockCode)
	assert.InDelta(t, 400.0, filtered[0].AvgMetric, 1e-9)
	assert.Equal(t, 1, filtered[0].NumStrategies)
}

func TestBestPairs_TotalOrderTieBreak(t *testing.T) {
	p := testParams(15, 0)

	// All rows tie on the query metric; the fallback chain must give a
	// single deterministic order.
	store, runID := seed(t, map[string][]rowSpec{
		"CCC": {{p, domain.MetricsRecord{WinRate: 0.5, CompositeScore: 1.0, NetPnL: 500, MaxDrawdown: 100}}},
		"BBB": {{p, domain.MetricsRecord{WinRate: 0.5, CompositeScore: 1.0, NetPnL: 500, MaxDrawdown: 50}}},
		"AAA": {{p, domain.MetricsRecord{WinRate: 0.5, CompositeScore: 2.0, NetPnL: 100, MaxDrawdown: 300}}},
		"DDD": {{p, domain.MetricsRecord{WinRate: 0.5, CompositeScore: 1.0, NetPnL: 900, MaxDrawdown: 300}}},
	})

	pairs, err := New(store).BestPairs(context.Background(), runID, "win_rate", 0)
	require.NoError(t, err)
	require.Len(t, pairs, 4)

	// Composite desc, then net P&L desc, then drawdown asc.
	assert.Equal(t, "AAA", pairs[0].StockCode)
	assert.Equal(t, "DDD", pairs[1].StockCode)
	assert.Equal(t, "BBB", pairs[2].StockCode)
	assert.Equal(t, "CCC", pairs[3].StockCode)
}

func TestParameterSensitivity_VarianceAndSpread(t *testing.T) {
	store, runID := seed(t, map[string][]rowSpec{
		"AAA": {
			{testParams(15, 0), domain.MetricsRecord{NetPnL: 100}},
			{testParams(15, 2), domain.MetricsRecord{NetPnL: 200}},
			{testParams(30, 0), domain.MetricsRecord{NetPnL: 300}},
			{testParams(30, 2), domain.MetricsRecord{NetPnL: 500}},
		},
	})

	rows, err := New(store).ParameterSensitivity(context.Background(), runID)
	require.NoError(t, err)

	// Only or_minutes and target_multiplier vary in this run.
	require.Len(t, rows, 2)

	// or_minutes: means 150 vs 400, spread 250, sample variance 31250.
	or := rows[0]
	assert.Equal(t, "or_minutes", or.Column)
	assert.InDelta(t, 250.0, or.Spread, 1e-9)
	assert.InDelta(t, 31250.0, or.Variance, 1e-9)
	assert.Equal(t, "30", or.BestValue)
	assert.InDelta(t, 400.0, or.BestAvgPnL, 1e-9)
	assert.Equal(t, "15", or.WorstValue)
	assert.InDelta(t, 150.0, or.WorstAvgPnL, 1e-9)
	assert.Equal(t, 2, or.NumValues)

	// target_multiplier: means 200 vs 350.
	target := rows[1]
	assert.Equal(t, "target_multiplier", target.Column)
	assert.InDelta(t, 150.0, target.Spread, 1e-9)
	assert.Equal(t, "2", target.BestValue)
	assert.Equal(t, "0", target.WorstValue)
}

func TestParameterBreakdown_SortedByComposite(t *testing.T) {
	store, runID := seed(t, map[string][]rowSpec{
		"AAA": {
			{testParams(15, 0), domain.MetricsRecord{NetPnL: 100, CompositeScore: 1.0, TotalTrades: 4}},
			{testParams(15, 2), domain.MetricsRecord{NetPnL: 200, CompositeScore: 1.0, TotalTrades: 6}},
			{testParams(30, 0), domain.MetricsRecord{NetPnL: 300, CompositeScore: 2.0, TotalTrades: 2}},
			{testParams(30, 2), domain.MetricsRecord{NetPnL: 500, CompositeScore: 2.0, TotalTrades: 2}},
		},
	})

	r := New(store)

	rows, err := r.ParameterBreakdown(context.Background(), runID, "or_minutes")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "30", rows[0].Value)
	assert.InDelta(t, 400.0, rows[0].NetPnL, 1e-9)
	assert.InDelta(t, 2.0, rows[0].CompositeScore, 1e-9)
	assert.InDelta(t, 2.0, rows[0].TotalTrades, 1e-9)
	assert.Equal(t, 2, rows[0].NumRows)

	assert.Equal(t, "15", rows[1].Value)
	assert.InDelta(t, 150.0, rows[1].NetPnL, 1e-9)
	assert.InDelta(t, 5.0, rows[1].TotalTrades, 1e-9)

	_, err = r.ParameterBreakdown(context.Background(), runID, "bogus")
	assert.ErrorIs(t, err, ErrUnknownDimension)
}

func TestTopStrategies_Top1MatchesManualCompositeFormula(t *testing.T) {
	const capital = 100000.0

	components := []struct {
		params     domain.StrategyParams
		net, shrp  float64
		pf, wr     float64
		ddPct, exp float64
	}{
		{testParams(15, 0), 5000, 1.2, 2.5, 0.55, 0.08, 400},
		{testParams(30, 0), 9000, 0.4, 1.8, 0.55, 0.30, 150},
		{testParams(45, 0), 2000, 2.0, 12.0, 0.70, 0.02, 600},
	}

	specs := make([]rowSpec, len(components))
	manual := make([]float64, len(components))
	for i, c := range components {
		pf := c.pf
		if pf > 10 {
			pf = 10
		}
		manual[i] = domain.WeightNetPnL*(c.net/capital) +
			domain.WeightSharpe*c.shrp +
			domain.WeightProfitFactor*(pf/10) +
			domain.WeightWinRate*c.wr +
			domain.WeightDrawdown*(1-c.ddPct) +
			domain.WeightExpectancy*(c.exp/(capital*0.01))

		specs[i] = rowSpec{c.params, domain.MetricsRecord{
			NetPnL:         c.net,
			SharpeRatio:    c.shrp,
			ProfitFactor:   c.pf,
			WinRate:        c.wr,
			MaxDrawdownPct: c.ddPct,
			Expectancy:     c.exp,
			CompositeScore: manual[i],
		}}
	}

	store, runID := seed(t, map[string][]rowSpec{"AAA": specs})

	top, err := New(store).TopStrategies(context.Background(), runID, "composite_score", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)

	bestIdx := 0
	for i, score := range manual {
		if score > manual[bestIdx] {
			bestIdx = i
		}
	}
	assert.Equal(t, idhash.ComputeParamID(components[bestIdx].params), top[0].ParamID)
	assert.InDelta(t, manual[bestIdx], top[0].AvgComposite, 1e-9)
}
