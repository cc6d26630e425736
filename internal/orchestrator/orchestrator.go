// Package orchestrator drives a grid-search run: it fans instruments
// out to workers, sweeps every parameter combination over each one and
// persists per-stock results through a single writer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/grid"
	"orb-grid-lab/internal/idhash"
	"orb-grid-lab/internal/marketdata"
	"orb-grid-lab/internal/metrics"
	"orb-grid-lab/internal/observability"
	"orb-grid-lab/internal/simulator"
	"orb-grid-lab/internal/storage"
)

// ErrGridMismatch reports a resume attempt whose regenerated grid does
// not match the combination count recorded on the original run.
var ErrGridMismatch = errors.New("parameter grid does not match the run being resumed")

// Options configures an Orchestrator.
type Options struct {
	CandleStore storage.CandleStore
	ResultStore storage.ResultStore

	SimConfig   simulator.Config
	Workers     int // defaults to GOMAXPROCS
	StoreTrades bool

	// Inclusive date bounds for candle loading, 'YYYY-MM-DD'. Empty
	// means unbounded on that side.
	StartDate string
	EndDate   string

	ConfigSnapshot string // JSON of the configuration, stored on the run
	Notes          string

	Logger zerolog.Logger
}

// Orchestrator coordinates one run end to end. Safe to reuse across
// runs but not concurrently.
type Orchestrator struct {
	candles storage.CandleStore
	results storage.ResultStore

	cfg  simulator.Config
	sim  *simulator.Simulator
	calc *metrics.Calculator

	workers     int
	storeTrades bool
	startDate   string
	endDate     string
	snapshot    string
	notes       string

	log zerolog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Orchestrator{
		candles:     opts.CandleStore,
		results:     opts.ResultStore,
		cfg:         opts.SimConfig,
		sim:         simulator.New(opts.SimConfig),
		calc:        metrics.NewCalculator(opts.SimConfig.Capital),
		workers:     workers,
		storeTrades: opts.StoreTrades,
		startDate:   opts.StartDate,
		endDate:     opts.EndDate,
		snapshot:    opts.ConfigSnapshot,
		notes:       opts.Notes,
		log:         opts.Logger,
	}
}

// Summary reports what a run (or resumed run segment) accomplished.
type Summary struct {
	RunID           int64
	Status          string
	StocksCompleted int
	StocksFailed    int
	StocksSkipped   int // already completed before a resume
	CombosTested    int
	TotalTrades     int
	ElapsedSeconds  float64
}

// Execute creates a new run over the given instruments and parameter
// grid and processes every instrument.
func (o *Orchestrator) Execute(ctx context.Context, stocks []string, params []domain.StrategyParams) (*Summary, error) {
	if err := grid.VerifyUniqueIDs(params); err != nil {
		return nil, err
	}

	run := &domain.Run{
		Status:           domain.RunStatusRunning,
		ConfigSnapshot:   o.snapshot,
		TotalStocks:      len(stocks),
		TotalParamCombos: len(params),
		TotalSimulations: len(stocks) * len(params),
		Workers:          o.workers,
		StoreTrades:      o.storeTrades,
		StartDate:        o.startDate,
		EndDate:          o.endDate,
		Notes:            o.notes,
	}
	runID, err := o.results.CreateRun(ctx, run, stocks)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.log.Info().
		Int64("run_id", runID).
		Int("stocks", len(stocks)).
		Int("combos", len(params)).
		Int("workers", o.workers).
		Msg("run created")

	return o.process(ctx, runID, stocks, params, 0, 0)
}

// Resume continues a run, reprocessing every instrument that has not
// completed. The caller must regenerate the same parameter grid the run
// was created with; a combination count mismatch is rejected.
func (o *Orchestrator) Resume(ctx context.Context, runID int64, params []domain.StrategyParams) (*Summary, error) {
	if err := grid.VerifyUniqueIDs(params); err != nil {
		return nil, err
	}

	run, err := o.results.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}
	if run.TotalParamCombos != len(params) {
		return nil, fmt.Errorf("%w: run has %d combos, grid has %d",
			ErrGridMismatch, run.TotalParamCombos, len(params))
	}

	progress, err := o.results.ProgressByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load progress for run %d: %w", runID, err)
	}

	var pending []string
	skipped := 0
	for _, p := range progress {
		if p.Status == domain.StockStatusCompleted {
			skipped++
			continue
		}
		pending = append(pending, p.StockCode)
	}

	o.log.Info().
		Int64("run_id", runID).
		Int("pending", len(pending)).
		Int("already_completed", skipped).
		Msg("resuming run")

	if len(pending) == 0 {
		elapsed := run.ElapsedSeconds
		if err := o.results.FinishRun(ctx, runID, domain.RunStatusCompleted, elapsed); err != nil {
			return nil, fmt.Errorf("finish run: %w", err)
		}
		return &Summary{RunID: runID, Status: domain.RunStatusCompleted, StocksSkipped: skipped}, nil
	}

	summary, err := o.process(ctx, runID, pending, params, run.StocksCompleted, run.CombosCompleted)
	if summary != nil {
		summary.StocksSkipped = skipped
	}
	return summary, err
}

// stockResult carries one worker's output to the persister.
type stockResult struct {
	stockCode string
	failed    bool // no data for the instrument
	rows      []*storage.ResultRow
	trades    []*storage.TradeRow
	elapsed   float64
	err       error
}

func (o *Orchestrator) process(ctx context.Context, runID int64, stocks []string, params []domain.StrategyParams, stocksDone, combosDone int) (*Summary, error) {
	start := time.Now()

	if err := o.results.UpsertParams(ctx, params); err != nil {
		return nil, fmt.Errorf("upsert params: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := make(chan string)
	out := make(chan stockResult)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stockCode := range feed {
				res := o.processStock(ctx, runID, stockCode, params)
				select {
				case out <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(feed)
		for _, s := range stocks {
			select {
			case feed <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	summary := &Summary{RunID: runID}

	for res := range out {
		if res.err != nil {
			cancel()
			// Cancellation is an interruption, not a failure: drain the
			// workers and let the run land in interrupted state.
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				continue
			}
			return nil, fmt.Errorf("stock %s: %w", res.stockCode, res.err)
		}
		if res.failed {
			summary.StocksFailed++
			observability.RecordStockProcessed("failed", res.elapsed)
			continue
		}

		if err := o.results.CommitStockResults(ctx, runID, res.stockCode, res.rows, res.trades, res.elapsed); err != nil {
			cancel()
			return nil, fmt.Errorf("commit results for %s: %w", res.stockCode, err)
		}

		summary.StocksCompleted++
		summary.CombosTested += len(res.rows)
		stockTrades := 0
		for _, row := range res.rows {
			stockTrades += row.Metrics.TotalTrades
		}
		summary.TotalTrades += stockTrades
		combosDone += len(res.rows)
		stocksDone++
		observability.RecordStockProcessed("completed", res.elapsed)
		observability.RecordSimulations(len(res.rows), stockTrades)

		elapsed := time.Since(start).Seconds()
		if err := o.results.UpdateRunProgress(ctx, runID, combosDone, stocksDone, elapsed); err != nil {
			o.log.Warn().Err(err).Int64("run_id", runID).Msg("progress update failed")
		}

		o.log.Info().
			Str("stock", res.stockCode).
			Int("combos", len(res.rows)).
			Float64("elapsed_s", res.elapsed).
			Msg("stock committed")
	}

	summary.ElapsedSeconds = time.Since(start).Seconds()

	status := domain.RunStatusCompleted
	if ctx.Err() != nil {
		status = domain.RunStatusInterrupted
	}
	summary.Status = status

	// Finish against the parent-independent background context so an
	// interrupted run still records its terminal status.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()
	if err := o.results.FinishRun(finishCtx, runID, status, summary.ElapsedSeconds); err != nil {
		return summary, fmt.Errorf("finish run: %w", err)
	}
	observability.RecordRun(status, summary.ElapsedSeconds)

	o.log.Info().
		Int64("run_id", runID).
		Str("status", status).
		Int("stocks_completed", summary.StocksCompleted).
		Int("stocks_failed", summary.StocksFailed).
		Float64("elapsed_s", summary.ElapsedSeconds).
		Msg("run finished")

	return summary, nil
}

// processStock sweeps the full grid over one instrument. Combinations
// sharing an (or_minutes, exit_time) pair reuse one set of day caches.
func (o *Orchestrator) processStock(ctx context.Context, runID int64, stockCode string, params []domain.StrategyParams) stockResult {
	stockStart := time.Now()

	if err := o.results.MarkStockInProgress(ctx, runID, stockCode); err != nil {
		return stockResult{stockCode: stockCode, err: err}
	}

	atrPeriod := 0
	for _, p := range params {
		if p.ATRPeriod > atrPeriod {
			atrPeriod = p.ATRPeriod
		}
	}

	loader := marketdata.NewLoader(o.candles, atrPeriod, 0)
	data, err := loader.LoadStock(ctx, stockCode, o.startDate, o.endDate, grid.UniqueORMinutes(params))
	if err != nil {
		if errors.Is(err, storage.ErrDataUnavailable) {
			o.log.Warn().Str("stock", stockCode).Msg("no candle data, marking failed")
			if markErr := o.results.MarkStockFailed(ctx, runID, stockCode); markErr != nil {
				return stockResult{stockCode: stockCode, err: markErr}
			}
			return stockResult{stockCode: stockCode, failed: true}
		}
		return stockResult{stockCode: stockCode, err: err}
	}

	keys, groups := grid.GroupByORAndExit(params)

	rows := make([]*storage.ResultRow, 0, len(params))
	var trades []*storage.TradeRow

	for _, key := range keys {
		if ctx.Err() != nil {
			return stockResult{stockCode: stockCode, err: ctx.Err()}
		}

		caches := simulator.BuildDayCaches(data, key.ORMinutes, key.ExitTime, o.cfg.VolumeFactor)
		observability.RecordDayCaches(len(caches))
		for _, p := range groups[key] {
			simTrades := o.sim.RunWithCaches(data, p, caches)
			rec := o.calc.Compute(simTrades)

			paramID := idhash.ComputeParamID(p)
			rows = append(rows, &storage.ResultRow{
				RunID:     runID,
				ParamID:   paramID,
				StockCode: stockCode,
				Params:    p,
				Metrics:   *rec,
			})

			if o.storeTrades {
				for i := range simTrades {
					trades = append(trades, &storage.TradeRow{
						RunID:   runID,
						ParamID: paramID,
						Trade:   simTrades[i],
					})
				}
			}
		}
	}

	return stockResult{
		stockCode: stockCode,
		rows:      rows,
		trades:    trades,
		elapsed:   time.Since(stockStart).Seconds(),
	}
}
