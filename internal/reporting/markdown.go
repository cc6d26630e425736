package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Backtest Report — Run #%d\n\n", r.Run.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Run Summary
	sb.WriteString("## Run Summary\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Status | %s |\n", r.Run.Status))
	sb.WriteString(fmt.Sprintf("| Date Range | %s to %s |\n", orNA(r.Run.StartDate), orNA(r.Run.EndDate)))
	sb.WriteString(fmt.Sprintf("| Stocks | %d |\n", r.Run.TotalStocks))
	sb.WriteString(fmt.Sprintf("| Param Combos | %d |\n", r.Run.TotalParamCombos))
	sb.WriteString(fmt.Sprintf("| Simulations | %d |\n", r.Run.TotalSimulations))
	sb.WriteString(fmt.Sprintf("| Completed | %d combos / %d stocks |\n", r.Run.CombosCompleted, r.Run.StocksCompleted))
	sb.WriteString(fmt.Sprintf("| Elapsed | %.1fs (%.1f min) |\n", r.Run.ElapsedSeconds, r.Run.ElapsedSeconds/60))
	sb.WriteString("\n")

	// Top Strategies
	sb.WriteString(fmt.Sprintf("## Top Strategies by %s (averaged across stocks)\n\n", r.RankMetric))
	if len(r.TopStrategies) > 0 {
		sb.WriteString("| # | Score | OR | Stop | Target | Direction | Exit | Filter | Confirm | Avg P&L | Win Rate | PF | Sharpe | Stocks |\n")
		sb.WriteString("|---|-------|----|------|--------|-----------|------|--------|---------|---------|----------|----|--------|--------|\n")
		for i, s := range r.TopStrategies {
			target := "none"
			if s.Params.TargetMultiplier > 0 {
				target = fmt.Sprintf("%gR", s.Params.TargetMultiplier)
			}
			filter := "none"
			if s.Params.MaxORFilterPct > 0 {
				filter = fmt.Sprintf("<%g%%", s.Params.MaxORFilterPct)
			}
			sb.WriteString(fmt.Sprintf("| %d | %.4f | %dm | %s | %s | %s | %s | %s | %s | %.2f | %.2f%% | %.2f | %.2f | %d |\n",
				i+1, s.AvgMetric, s.Params.ORMinutes, s.Params.StopLossType, target,
				s.Params.TradeDirection, s.Params.ExitTime, filter, s.Params.EntryConfirmation,
				s.AvgNetPnL, s.AvgWinRate*100, s.AvgProfitFactor, s.AvgSharpe, s.NumStocks))
		}
	} else {
		sb.WriteString("No results found.\n")
	}
	sb.WriteString("\n")

	// Top Stocks
	sb.WriteString("## Top Stocks by net P&L (averaged across strategies)\n\n")
	if len(r.TopStocks) > 0 {
		sb.WriteString("| # | Stock | Avg P&L | Win Rate | Composite | Strategies |\n")
		sb.WriteString("|---|-------|---------|----------|-----------|------------|\n")
		for i, s := range r.TopStocks {
			sb.WriteString(fmt.Sprintf("| %d | %s | %.2f | %.2f%% | %.4f | %d |\n",
				i+1, s.StockCode, s.AvgNetPnL, s.AvgWinRate*100, s.AvgComposite, s.NumStrategies))
		}
	} else {
		sb.WriteString("No results found.\n")
	}
	sb.WriteString("\n")

	// Best Pairs
	sb.WriteString("## Best (Stock, Strategy) Pairs\n\n")
	if len(r.BestPairs) > 0 {
		sb.WriteString("| # | Stock | Strategy | Net P&L | Win Rate | Max DD | Trades | Score |\n")
		sb.WriteString("|---|-------|----------|---------|----------|--------|--------|-------|\n")
		for i, p := range r.BestPairs {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %.2f | %.2f%% | %.2f | %d | %.4f |\n",
				i+1, p.StockCode, p.Params.ShortDescription(), p.Metrics.NetPnL,
				p.Metrics.WinRate*100, p.Metrics.MaxDrawdown, p.Metrics.TotalTrades,
				p.Metrics.CompositeScore))
		}
	} else {
		sb.WriteString("No results found.\n")
	}
	sb.WriteString("\n")

	// Parameter Sensitivity
	sb.WriteString("## Parameter Sensitivity\n\n")
	if len(r.Sensitivity) > 0 {
		sb.WriteString("| Parameter | Spread | Best Value | Best Avg P&L | Worst Value | Worst Avg P&L |\n")
		sb.WriteString("|-----------|--------|------------|--------------|-------------|---------------|\n")
		for _, row := range r.Sensitivity {
			sb.WriteString(fmt.Sprintf("| %s | %.2f | %s | %.2f | %s | %.2f |\n",
				row.Label, row.Spread, row.BestValue, row.BestAvgPnL,
				row.WorstValue, row.WorstAvgPnL))
		}
	} else {
		sb.WriteString("No sensitivity data.\n")
	}
	sb.WriteString("\n")

	// Failed stocks appear so missing instruments are never silent.
	if len(r.FailedStocks) > 0 {
		sb.WriteString("## Stocks Without Data\n\n")
		for _, s := range r.FailedStocks {
			sb.WriteString(fmt.Sprintf("- %s\n", s))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
