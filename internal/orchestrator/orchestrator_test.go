package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/grid"
	"orb-grid-lab/internal/simulator"
	"orb-grid-lab/internal/storage/memory"
)

// trendDay builds a steadily rising session so every OR duration gets a
// long breakout shortly after its window closes.
func trendDay(day string) []domain.Candle {
	base, _ := time.Parse(domain.TimeLayout, day+" 09:15:00")
	candles := make([]domain.Candle, 45)
	for i := range candles {
		open := 100 + 0.5*float64(i)
		candles[i] = domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      open,
			High:      open + 0.5,
			Low:       open - 0.2,
			Close:     open + 0.4,
			Volume:    1000,
		}
	}
	return candles
}

func quickGrid(t *testing.T) []domain.StrategyParams {
	t.Helper()
	params := grid.New(grid.DefaultConstants()).GenerateQuick()
	require.NoError(t, grid.VerifyUniqueIDs(params))
	return params
}

func newFixture(storeTrades bool) (*Orchestrator, *memory.CandleStore, *memory.ResultStore) {
	candles := memory.NewCandleStore()
	results := memory.NewResultStore()
	o := New(Options{
		CandleStore: candles,
		ResultStore: results,
		SimConfig:   simulator.DefaultConfig(),
		Workers:     2,
		StoreTrades: storeTrades,
		Logger:      zerolog.Nop(),
	})
	return o, candles, results
}

func TestExecute_FullRun(t *testing.T) {
	o, candles, results := newFixture(false)
	candles.AddCandles("AAA", trendDay("2024-01-02"))
	candles.AddCandles("BBB", trendDay("2024-01-02"))
	// CCC has no data and must be marked failed, not abort the run.

	params := quickGrid(t)
	ctx := context.Background()

	summary, err := o.Execute(ctx, []string{"AAA", "BBB", "CCC"}, params)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.StocksCompleted)
	assert.Equal(t, 1, summary.StocksFailed)
	assert.Equal(t, 2*len(params), summary.CombosTested)
	assert.Equal(t, 2*len(params), summary.TotalTrades) // one trade per combo per stock

	run, err := results.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.TotalStocks)
	assert.Equal(t, len(params), run.TotalParamCombos)
	assert.Equal(t, 2*len(params), run.CombosCompleted)
	assert.Equal(t, 2, run.StocksCompleted)
	require.NotNil(t, run.CompletedAt)

	rows, err := results.ResultsByRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 2*len(params))
	for _, row := range rows {
		assert.Equal(t, 1, row.Metrics.TotalTrades)
	}

	progress, err := results.ProgressByRun(ctx, summary.RunID)
	require.NoError(t, err)
	statuses := map[string]string{}
	for _, p := range progress {
		statuses[p.StockCode] = p.Status
	}
	assert.Equal(t, domain.StockStatusCompleted, statuses["AAA"])
	assert.Equal(t, domain.StockStatusCompleted, statuses["BBB"])
	assert.Equal(t, domain.StockStatusFailed, statuses["CCC"])
}

func TestExecute_RejectsIDCollision(t *testing.T) {
	o, _, _ := newFixture(false)

	params := quickGrid(t)
	params = append(params, params[0]) // same tuple twice

	_, err := o.Execute(context.Background(), []string{"AAA"}, params)
	assert.ErrorIs(t, err, grid.ErrIDCollision)
}

func TestExecute_StoreTrades(t *testing.T) {
	o, candles, results := newFixture(true)
	candles.AddCandles("AAA", trendDay("2024-01-02"))

	params := quickGrid(t)
	summary, err := o.Execute(context.Background(), []string{"AAA"}, params)
	require.NoError(t, err)

	rows, err := results.ResultsByRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	trades, err := results.TradesByKey(context.Background(), summary.RunID, rows[0].ParamID, "AAA")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAA", trades[0].StockCode)
	assert.Equal(t, "2024-01-02", trades[0].Date)
}

func TestResume_SkipsCompletedStocks(t *testing.T) {
	o, candles, results := newFixture(false)
	candles.AddCandles("AAA", trendDay("2024-01-02"))
	candles.AddCandles("BBB", trendDay("2024-01-02"))

	params := quickGrid(t)
	ctx := context.Background()

	first, err := o.Execute(ctx, []string{"AAA", "BBB", "CCC"}, params)
	require.NoError(t, err)
	require.Equal(t, 2, first.StocksCompleted)

	// Failed stocks are retried on resume; completed ones are not
	// resimulated, so no duplicate rows can appear.
	resumed, err := o.Resume(ctx, first.RunID, params)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, resumed.Status)
	assert.Equal(t, 2, resumed.StocksSkipped)
	assert.Equal(t, 0, resumed.StocksCompleted)
	assert.Equal(t, 1, resumed.StocksFailed)

	rows, err := results.ResultsByRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 2*len(params))
}

func TestResume_GridMismatch(t *testing.T) {
	o, candles, _ := newFixture(false)
	candles.AddCandles("AAA", trendDay("2024-01-02"))

	params := quickGrid(t)
	summary, err := o.Execute(context.Background(), []string{"AAA"}, params)
	require.NoError(t, err)

	_, err = o.Resume(context.Background(), summary.RunID, params[:1])
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestResume_UnknownRun(t *testing.T) {
	o, _, _ := newFixture(false)

	_, err := o.Resume(context.Background(), 999, quickGrid(t))
	assert.Error(t, err)
}

func TestInterruptThenResume_MatchesCleanRun(t *testing.T) {
	params := quickGrid(t)

	// Clean reference run.
	ref, refCandles, refResults := newFixture(false)
	refCandles.AddCandles("AAA", trendDay("2024-01-02"))
	refCandles.AddCandles("BBB", trendDay("2024-01-02"))
	refSummary, err := ref.Execute(context.Background(), []string{"AAA", "BBB"}, params)
	require.NoError(t, err)
	refRows, err := refResults.ResultsByRun(context.Background(), refSummary.RunID)
	require.NoError(t, err)

	// Interrupted run: the context is already cancelled, so no stock
	// gets processed and the run lands in interrupted state.
	o, candles, results := newFixture(false)
	candles.AddCandles("AAA", trendDay("2024-01-02"))
	candles.AddCandles("BBB", trendDay("2024-01-02"))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	interrupted, err := o.Execute(cancelled, []string{"AAA", "BBB"}, params)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInterrupted, interrupted.Status)

	run, err := results.GetRun(context.Background(), interrupted.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInterrupted, run.Status)

	// Resuming finishes the remaining stocks and the final result set
	// matches the uninterrupted reference run row for row.
	resumed, err := o.Resume(context.Background(), interrupted.RunID, params)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, resumed.Status)

	rows, err := results.ResultsByRun(context.Background(), interrupted.RunID)
	require.NoError(t, err)
	require.Len(t, rows, len(refRows))
	for i := range rows {
		assert.Equal(t, refRows[i].ParamID, rows[i].ParamID)
		assert.Equal(t, refRows[i].StockCode, rows[i].StockCode)
		assert.Equal(t, refRows[i].Metrics, rows[i].Metrics)
	}
}
