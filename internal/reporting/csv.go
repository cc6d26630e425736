package reporting

import (
	"fmt"
	"strings"

	"orb-grid-lab/internal/ranker"
	"orb-grid-lab/internal/storage"
)

// RenderStrategiesCSV renders strategy rankings as a CSV string.
func RenderStrategiesCSV(strategies []*ranker.StrategyRanking) string {
	var sb strings.Builder

	sb.WriteString("param_id,or_minutes,target_multiplier,stop_loss_type,trade_direction,exit_time,")
	sb.WriteString("max_or_filter_pct,entry_confirmation,num_stocks,avg_metric,avg_net_pnl,")
	sb.WriteString("avg_win_rate,avg_profit_factor,avg_sharpe,avg_composite,total_trades\n")

	for _, s := range strategies {
		sb.WriteString(fmt.Sprintf("%s,%d,%g,%s,%s,%s,%g,%s,%d,%.6f,%.2f,%.6f,%.4f,%.4f,%.6f,%d\n",
			s.ParamID,
			s.Params.ORMinutes,
			s.Params.TargetMultiplier,
			s.Params.StopLossType,
			s.Params.TradeDirection,
			s.Params.ExitTime,
			s.Params.MaxORFilterPct,
			s.Params.EntryConfirmation,
			s.NumStocks,
			s.AvgMetric,
			s.AvgNetPnL,
			s.AvgWinRate,
			s.AvgProfitFactor,
			s.AvgSharpe,
			s.AvgComposite,
			s.TotalTrades,
		))
	}

	return sb.String()
}

// RenderPairsCSV renders (stock, strategy) result rows as a CSV string.
func RenderPairsCSV(rows []*storage.ResultRow) string {
	var sb strings.Builder

	sb.WriteString("stock_code,param_id,or_minutes,target_multiplier,stop_loss_type,trade_direction,")
	sb.WriteString("exit_time,max_or_filter_pct,entry_confirmation,total_trades,win_rate,net_pnl,")
	sb.WriteString("profit_factor,sharpe_ratio,max_drawdown,expectancy,composite_score\n")

	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%g,%s,%s,%s,%g,%s,%d,%.4f,%.2f,%.2f,%.4f,%.2f,%.2f,%.4f\n",
			r.StockCode,
			r.ParamID,
			r.Params.ORMinutes,
			r.Params.TargetMultiplier,
			r.Params.StopLossType,
			r.Params.TradeDirection,
			r.Params.ExitTime,
			r.Params.MaxORFilterPct,
			r.Params.EntryConfirmation,
			r.Metrics.TotalTrades,
			r.Metrics.WinRate,
			r.Metrics.NetPnL,
			r.Metrics.ProfitFactor,
			r.Metrics.SharpeRatio,
			r.Metrics.MaxDrawdown,
			r.Metrics.Expectancy,
			r.Metrics.CompositeScore,
		))
	}

	return sb.String()
}
