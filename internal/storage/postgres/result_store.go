package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/idhash"
	"orb-grid-lab/internal/storage"
)

// ResultStore implements storage.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *Pool
}

// NewResultStore creates a new ResultStore.
func NewResultStore(pool *Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ResultStore = (*ResultStore)(nil)

const runColumns = `
	run_id, created_at, completed_at, status, config_snapshot,
	total_stocks, total_param_combos, total_simulations,
	combos_completed, stocks_completed, elapsed_seconds,
	workers, store_trades, start_date, end_date, notes
`

// CreateRun inserts a new run and a pending progress row per stock.
func (s *ResultStore) CreateRun(ctx context.Context, run *domain.Run, stocks []string) (int64, error) {
	if run == nil {
		return 0, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	status := run.Status
	if status == "" {
		status = domain.RunStatusRunning
	}

	var runID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO backtest_runs (
			status, config_snapshot,
			total_stocks, total_param_combos, total_simulations,
			workers, store_trades, start_date, end_date, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING run_id
	`,
		status, run.ConfigSnapshot,
		run.TotalStocks, run.TotalParamCombos, run.TotalSimulations,
		run.Workers, run.StoreTrades, run.StartDate, run.EndDate, run.Notes,
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	for _, code := range stocks {
		_, err := tx.Exec(ctx, `
			INSERT INTO backtest_progress (run_id, stock_code, status)
			VALUES ($1, $2, $3)
		`, runID, code, domain.StockStatusPending)
		if err != nil {
			return 0, fmt.Errorf("insert progress row for %s: %w", code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return runID, nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ResultStore) GetRun(ctx context.Context, runID int64) (*domain.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM backtest_runs WHERE run_id = $1`, runID)

	run, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRun retrieves the most recently created run.
func (s *ResultStore) LatestRun(ctx context.Context) (*domain.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM backtest_runs ORDER BY run_id DESC LIMIT 1`)

	run, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return run, nil
}

// UpdateRunProgress updates the run's live counters.
func (s *ResultStore) UpdateRunProgress(ctx context.Context, runID int64, combosCompleted, stocksCompleted int, elapsedSeconds float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backtest_runs
		SET combos_completed = $2, stocks_completed = $3, elapsed_seconds = $4
		WHERE run_id = $1
	`, runID, combosCompleted, stocksCompleted, elapsedSeconds)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FinishRun records the terminal status and completion timestamp.
func (s *ResultStore) FinishRun(ctx context.Context, runID int64, status string, elapsedSeconds float64) error {
	if status != domain.RunStatusCompleted && status != domain.RunStatusInterrupted {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE backtest_runs
		SET status = $2, completed_at = now(), elapsed_seconds = $3
		WHERE run_id = $1
	`, runID, status, elapsedSeconds)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertParams stores parameter definitions keyed by param_id. Existing
// definitions are left untouched.
func (s *ResultStore) UpsertParams(ctx context.Context, params []domain.StrategyParams) error {
	if len(params) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO backtest_params (
			param_id, or_minutes, target_multiplier, stop_loss_type,
			trade_direction, exit_time, max_or_filter_pct, entry_confirmation,
			trailing_stop_pct, atr_multiplier, atr_period, params_json
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (param_id) DO NOTHING
	`

	for _, p := range params {
		jsonStr, err := p.CanonicalJSON()
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, query,
			idhash.ComputeParamID(p), p.ORMinutes, p.TargetMultiplier, string(p.StopLossType),
			string(p.TradeDirection), p.ExitTime, p.MaxORFilterPct, string(p.EntryConfirmation),
			p.TrailingStopPct, p.ATRMultiplier, p.ATRPeriod, jsonStr,
		)
		if err != nil {
			return fmt.Errorf("upsert param definition: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetParams retrieves one parameter definition. Returns ErrNotFound if
// not exists.
func (s *ResultStore) GetParams(ctx context.Context, paramID string) (*domain.StrategyParams, error) {
	var p domain.StrategyParams
	var slType, direction, confirmation string

	err := s.pool.QueryRow(ctx, `
		SELECT or_minutes, target_multiplier, stop_loss_type, trade_direction,
		       exit_time, max_or_filter_pct, entry_confirmation,
		       trailing_stop_pct, atr_multiplier, atr_period
		FROM backtest_params
		WHERE param_id = $1
	`, paramID).Scan(
		&p.ORMinutes, &p.TargetMultiplier, &slType, &direction,
		&p.ExitTime, &p.MaxORFilterPct, &confirmation,
		&p.TrailingStopPct, &p.ATRMultiplier, &p.ATRPeriod,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get param definition: %w", err)
	}

	p.StopLossType = domain.StopLossType(slType)
	p.TradeDirection = domain.TradeDirection(direction)
	p.EntryConfirmation = domain.EntryConfirmation(confirmation)
	return &p, nil
}

// MarkStockInProgress moves a stock's progress row to in_progress.
func (s *ResultStore) MarkStockInProgress(ctx context.Context, runID int64, stockCode string) error {
	return s.setStockStatus(ctx, runID, stockCode, domain.StockStatusInProgress)
}

// MarkStockFailed moves a stock's progress row to failed.
func (s *ResultStore) MarkStockFailed(ctx context.Context, runID int64, stockCode string) error {
	return s.setStockStatus(ctx, runID, stockCode, domain.StockStatusFailed)
}

func (s *ResultStore) setStockStatus(ctx context.Context, runID int64, stockCode, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE backtest_progress SET status = $3
		WHERE run_id = $1 AND stock_code = $2
	`, runID, stockCode, status)
	if err != nil {
		return fmt.Errorf("set stock status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CommitStockResults atomically persists all metrics rows (and trades)
// for one instrument and marks its progress row completed. Returns
// ErrDuplicateResult if any metrics key already exists.
func (s *ResultStore) CommitStockResults(ctx context.Context, runID int64, stockCode string, rows []*storage.ResultRow, trades []*storage.TradeRow, elapsedSeconds float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	metricsQuery := `
		INSERT INTO backtest_metrics (
			run_id, param_id, stock_code,
			total_trades, winning_trades, losing_trades, win_rate,
			total_pnl, net_pnl, avg_pnl_per_trade, avg_winner, avg_loser,
			profit_factor, max_drawdown, max_drawdown_pct, max_consecutive_losses,
			sharpe_ratio, sortino_ratio, expectancy, avg_r_multiple, calmar_ratio,
			best_trade, worst_trade, avg_holding_minutes, composite_score
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23, $24, $25
		)
	`

	totalTrades := 0
	for _, r := range rows {
		if r == nil || r.ParamID == "" {
			return storage.ErrInvalidInput
		}
		m := r.Metrics
		_, err := tx.Exec(ctx, metricsQuery,
			runID, r.ParamID, stockCode,
			m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate,
			m.TotalPnL, m.NetPnL, m.AvgPnLPerTrade, m.AvgWinner, m.AvgLoser,
			m.ProfitFactor, m.MaxDrawdown, m.MaxDrawdownPct, m.MaxConsecutiveLosses,
			m.SharpeRatio, m.SortinoRatio, m.Expectancy, m.AvgRMultiple, m.CalmarRatio,
			m.BestTrade, m.WorstTrade, m.AvgHoldingMinutes, m.CompositeScore,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateResult
			}
			return fmt.Errorf("insert metrics row: %w", err)
		}
		totalTrades += m.TotalTrades
	}

	tradesQuery := `
		INSERT INTO backtest_trades (
			run_id, param_id, stock_code, trade_date, direction,
			entry_time, entry_price, exit_time, exit_price, quantity,
			stop_loss_initial, stop_loss_final, target_price, or_high, or_low,
			exit_reason, gross_pnl, costs, net_pnl, risk_amount, r_multiple
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21
		)
	`

	for _, tr := range trades {
		if tr == nil || tr.ParamID == "" {
			return storage.ErrInvalidInput
		}
		t := tr.Trade
		_, err := tx.Exec(ctx, tradesQuery,
			runID, tr.ParamID, stockCode, t.Date, t.Direction,
			t.EntryTime, t.EntryPrice, t.ExitTime, t.ExitPrice, t.Quantity,
			t.StopLossInitial, t.StopLossFinal, t.TargetPrice, t.ORHigh, t.ORLow,
			t.ExitReason, t.GrossPnL, t.Costs, t.NetPnL, t.RiskAmount, t.RMultiple,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateResult
			}
			return fmt.Errorf("insert trade row: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE backtest_progress
		SET status = $3, combos_tested = $4, total_trades_found = $5,
		    elapsed_seconds = $6, completed_at = now()
		WHERE run_id = $1 AND stock_code = $2
	`, runID, stockCode, domain.StockStatusCompleted, len(rows), totalTrades, elapsedSeconds)
	if err != nil {
		return fmt.Errorf("mark stock completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CompletedStocks returns the codes of stocks already completed in a
// run, sorted ascending.
func (s *ResultStore) CompletedStocks(ctx context.Context, runID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stock_code FROM backtest_progress
		WHERE run_id = $1 AND status = $2
		ORDER BY stock_code ASC
	`, runID, domain.StockStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("query completed stocks: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan stock code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock codes: %w", err)
	}
	return codes, nil
}

// ProgressByRun retrieves all per-stock progress rows for a run.
func (s *ResultStore) ProgressByRun(ctx context.Context, runID int64) ([]*domain.StockProgress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, stock_code, status, combos_tested,
		       total_trades_found, elapsed_seconds, completed_at
		FROM backtest_progress
		WHERE run_id = $1
		ORDER BY stock_code ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	var result []*domain.StockProgress
	for rows.Next() {
		var p domain.StockProgress
		err := rows.Scan(
			&p.RunID, &p.StockCode, &p.Status, &p.CombosTested,
			&p.TotalTradesFound, &p.ElapsedSeconds, &p.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress rows: %w", err)
	}
	return result, nil
}

// ResultsByRun retrieves every metrics row of a run joined with its
// parameter definition, ordered by (param_id, stock_code).
func (s *ResultStore) ResultsByRun(ctx context.Context, runID int64) ([]*storage.ResultRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			m.run_id, m.param_id, m.stock_code,
			p.or_minutes, p.target_multiplier, p.stop_loss_type, p.trade_direction,
			p.exit_time, p.max_or_filter_pct, p.entry_confirmation,
			p.trailing_stop_pct, p.atr_multiplier, p.atr_period,
			m.total_trades, m.winning_trades, m.losing_trades, m.win_rate,
			m.total_pnl, m.net_pnl, m.avg_pnl_per_trade, m.avg_winner, m.avg_loser,
			m.profit_factor, m.max_drawdown, m.max_drawdown_pct, m.max_consecutive_losses,
			m.sharpe_ratio, m.sortino_ratio, m.expectancy, m.avg_r_multiple, m.calmar_ratio,
			m.best_trade, m.worst_trade, m.avg_holding_minutes, m.composite_score
		FROM backtest_metrics m
		JOIN backtest_params p ON p.param_id = m.param_id
		WHERE m.run_id = $1
		ORDER BY m.param_id ASC, m.stock_code ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	return scanResultRows(rows)
}

// TradesByKey retrieves the stored trades for one (run, param, stock)
// key, ordered by trade date.
func (s *ResultStore) TradesByKey(ctx context.Context, runID int64, paramID, stockCode string) ([]*domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stock_code, trade_date, direction,
		       entry_time, entry_price, exit_time, exit_price, quantity,
		       stop_loss_initial, stop_loss_final, target_price, or_high, or_low,
		       exit_reason, gross_pnl, costs, net_pnl, risk_amount, r_multiple
		FROM backtest_trades
		WHERE run_id = $1 AND param_id = $2 AND stock_code = $3
		ORDER BY trade_date ASC
	`, runID, paramID, stockCode)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		err := rows.Scan(
			&t.StockCode, &t.Date, &t.Direction,
			&t.EntryTime, &t.EntryPrice, &t.ExitTime, &t.ExitPrice, &t.Quantity,
			&t.StopLossInitial, &t.StopLossFinal, &t.TargetPrice, &t.ORHigh, &t.ORLow,
			&t.ExitReason, &t.GrossPnL, &t.Costs, &t.NetPnL, &t.RiskAmount, &t.RMultiple,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return result, nil
}

// scanRun scans a single row into a Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var r domain.Run
	err := row.Scan(
		&r.RunID, &r.CreatedAt, &r.CompletedAt, &r.Status, &r.ConfigSnapshot,
		&r.TotalStocks, &r.TotalParamCombos, &r.TotalSimulations,
		&r.CombosCompleted, &r.StocksCompleted, &r.ElapsedSeconds,
		&r.Workers, &r.StoreTrades, &r.StartDate, &r.EndDate, &r.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// scanResultRows scans joined metrics+params rows.
func scanResultRows(rows pgx.Rows) ([]*storage.ResultRow, error) {
	var result []*storage.ResultRow

	for rows.Next() {
		var r storage.ResultRow
		var slType, direction, confirmation string

		err := rows.Scan(
			&r.RunID, &r.ParamID, &r.StockCode,
			&r.Params.ORMinutes, &r.Params.TargetMultiplier, &slType, &direction,
			&r.Params.ExitTime, &r.Params.MaxORFilterPct, &confirmation,
			&r.Params.TrailingStopPct, &r.Params.ATRMultiplier, &r.Params.ATRPeriod,
			&r.Metrics.TotalTrades, &r.Metrics.WinningTrades, &r.Metrics.LosingTrades, &r.Metrics.WinRate,
			&r.Metrics.TotalPnL, &r.Metrics.NetPnL, &r.Metrics.AvgPnLPerTrade, &r.Metrics.AvgWinner, &r.Metrics.AvgLoser,
			&r.Metrics.ProfitFactor, &r.Metrics.MaxDrawdown, &r.Metrics.MaxDrawdownPct, &r.Metrics.MaxConsecutiveLosses,
			&r.Metrics.SharpeRatio, &r.Metrics.SortinoRatio, &r.Metrics.Expectancy, &r.Metrics.AvgRMultiple, &r.Metrics.CalmarRatio,
			&r.Metrics.BestTrade, &r.Metrics.WorstTrade, &r.Metrics.AvgHoldingMinutes, &r.Metrics.CompositeScore,
		)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}

		r.Params.StopLossType = domain.StopLossType(slType)
		r.Params.TradeDirection = domain.TradeDirection(direction)
		r.Params.EntryConfirmation = domain.EntryConfirmation(confirmation)
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return result, nil
}
