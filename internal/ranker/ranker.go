// Package ranker answers read-side questions over a run's persisted
// metrics: which parameter combinations performed best, on which
// instruments, and which grid dimensions actually matter.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/storage"
)

// ErrUnknownMetric reports a metric name with no extractor.
var ErrUnknownMetric = errors.New("unknown metric")

// ErrUnknownDimension reports a parameter dimension with no extractor.
var ErrUnknownDimension = errors.New("unknown parameter dimension")

// DefaultStrategyMetric orders strategy rankings when none is given.
const DefaultStrategyMetric = "composite_score"

// DefaultStockMetric orders stock rankings when none is given.
const DefaultStockMetric = "net_pnl"

// Ranker runs analytical queries against stored run results. All
// queries are deterministic for the same stored data.
type Ranker struct {
	store storage.ResultStore
}

// New creates a Ranker over a result store.
func New(store storage.ResultStore) *Ranker {
	return &Ranker{store: store}
}

// metricExtractors maps query metric names to record fields.
var metricExtractors = map[string]func(m *domain.MetricsRecord) float64{
	"composite_score":  func(m *domain.MetricsRecord) float64 { return m.CompositeScore },
	"net_pnl":          func(m *domain.MetricsRecord) float64 { return m.NetPnL },
	"total_pnl":        func(m *domain.MetricsRecord) float64 { return m.TotalPnL },
	"win_rate":         func(m *domain.MetricsRecord) float64 { return m.WinRate },
	"profit_factor":    func(m *domain.MetricsRecord) float64 { return m.ProfitFactor },
	"sharpe_ratio":     func(m *domain.MetricsRecord) float64 { return m.SharpeRatio },
	"sortino_ratio":    func(m *domain.MetricsRecord) float64 { return m.SortinoRatio },
	"calmar_ratio":     func(m *domain.MetricsRecord) float64 { return m.CalmarRatio },
	"expectancy":       func(m *domain.MetricsRecord) float64 { return m.Expectancy },
	"avg_r_multiple":   func(m *domain.MetricsRecord) float64 { return m.AvgRMultiple },
	"max_drawdown":     func(m *domain.MetricsRecord) float64 { return m.MaxDrawdown },
	"max_drawdown_pct": func(m *domain.MetricsRecord) float64 { return m.MaxDrawdownPct },
	"total_trades":     func(m *domain.MetricsRecord) float64 { return float64(m.TotalTrades) },
}

// SupportedMetrics returns the queryable metric names, sorted.
func SupportedMetrics() []string {
	names := make([]string, 0, len(metricExtractors))
	for name := range metricExtractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StrategyRanking is one parameter combination averaged across every
// instrument it was simulated on.
type StrategyRanking struct {
	ParamID string
	Params  domain.StrategyParams

	NumStocks int
	AvgMetric float64 // the metric the query ranked by

	AvgNetPnL       float64
	AvgWinRate      float64
	AvgProfitFactor float64
	AvgSharpe       float64
	AvgDrawdown     float64
	AvgComposite    float64
	TotalTrades     int
}

// TopStrategies ranks parameter combinations by a metric averaged
// across all stocks. limit <= 0 returns every combination.
func (r *Ranker) TopStrategies(ctx context.Context, runID int64, metric string, limit int) ([]*StrategyRanking, error) {
	extract, ok := metricExtractors[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	rows, err := r.store.ResultsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	byParam := make(map[string]*StrategyRanking)
	var order []string
	for _, row := range rows {
		s, ok := byParam[row.ParamID]
		if !ok {
			s = &StrategyRanking{ParamID: row.ParamID, Params: row.Params}
			byParam[row.ParamID] = s
			order = append(order, row.ParamID)
		}
		s.NumStocks++
		s.AvgMetric += extract(&row.Metrics)
		s.AvgNetPnL += row.Metrics.NetPnL
		s.AvgWinRate += row.Metrics.WinRate
		s.AvgProfitFactor += row.Metrics.ProfitFactor
		s.AvgSharpe += row.Metrics.SharpeRatio
		s.AvgDrawdown += row.Metrics.MaxDrawdown
		s.AvgComposite += row.Metrics.CompositeScore
		s.TotalTrades += row.Metrics.TotalTrades
	}

	out := make([]*StrategyRanking, 0, len(byParam))
	for _, id := range order {
		s := byParam[id]
		n := float64(s.NumStocks)
		s.AvgMetric /= n
		s.AvgNetPnL /= n
		s.AvgWinRate /= n
		s.AvgProfitFactor /= n
		s.AvgSharpe /= n
		s.AvgDrawdown /= n
		s.AvgComposite /= n
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AvgMetric != b.AvgMetric {
			return a.AvgMetric > b.AvgMetric
		}
		if a.AvgComposite != b.AvgComposite {
			return a.AvgComposite > b.AvgComposite
		}
		if a.AvgNetPnL != b.AvgNetPnL {
			return a.AvgNetPnL > b.AvgNetPnL
		}
		if a.AvgDrawdown != b.AvgDrawdown {
			return a.AvgDrawdown < b.AvgDrawdown
		}
		return a.ParamID < b.ParamID
	})

	return truncate(out, limit), nil
}

// StockRanking is one instrument averaged across the parameter
// combinations simulated on it.
type StockRanking struct {
	StockCode string

	NumStrategies int
	AvgMetric     float64

	AvgNetPnL    float64
	AvgWinRate   float64
	AvgDrawdown  float64
	AvgComposite float64
}

// TopStocks ranks instruments by a metric averaged across parameter
// combinations. A non-empty paramID restricts the ranking to that one
// combination. limit <= 0 returns every instrument.
func (r *Ranker) TopStocks(ctx context.Context, runID int64, metric string, limit int, paramID string) ([]*StockRanking, error) {
	extract, ok := metricExtractors[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	rows, err := r.store.ResultsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	byStock := make(map[string]*StockRanking)
	var order []string
	for _, row := range rows {
		if paramID != "" && row.ParamID != paramID {
			continue
		}
		s, ok := byStock[row.StockCode]
		if !ok {
			s = &StockRanking{StockCode: row.StockCode}
			byStock[row.StockCode] = s
			order = append(order, row.StockCode)
		}
		s.NumStrategies++
		s.AvgMetric += extract(&row.Metrics)
		s.AvgNetPnL += row.Metrics.NetPnL
		s.AvgWinRate += row.Metrics.WinRate
		s.AvgDrawdown += row.Metrics.MaxDrawdown
		s.AvgComposite += row.Metrics.CompositeScore
	}

	out := make([]*StockRanking, 0, len(byStock))
	for _, code := range order {
		s := byStock[code]
		n := float64(s.NumStrategies)
		s.AvgMetric /= n
		s.AvgNetPnL /= n
		s.AvgWinRate /= n
		s.AvgDrawdown /= n
		s.AvgComposite /= n
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AvgMetric != b.AvgMetric {
			return a.AvgMetric > b.AvgMetric
		}
		if a.AvgComposite != b.AvgComposite {
			return a.AvgComposite > b.AvgComposite
		}
		if a.AvgNetPnL != b.AvgNetPnL {
			return a.AvgNetPnL > b.AvgNetPnL
		}
		if a.AvgDrawdown != b.AvgDrawdown {
			return a.AvgDrawdown < b.AvgDrawdown
		}
		return a.StockCode < b.StockCode
	})

	return truncate(out, limit), nil
}

// BestPairs returns the top (instrument, parameter) rows of a run by a
// metric. Ties resolve by composite score desc, net P&L desc, drawdown
// asc, then stock code and param ID asc, so the order is total.
func (r *Ranker) BestPairs(ctx context.Context, runID int64, metric string, limit int) ([]*storage.ResultRow, error) {
	extract, ok := metricExtractors[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	rows, err := r.store.ResultsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	sorted := make([]*storage.ResultRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		av, bv := extract(&a.Metrics), extract(&b.Metrics)
		if av != bv {
			return av > bv
		}
		if a.Metrics.CompositeScore != b.Metrics.CompositeScore {
			return a.Metrics.CompositeScore > b.Metrics.CompositeScore
		}
		if a.Metrics.NetPnL != b.Metrics.NetPnL {
			return a.Metrics.NetPnL > b.Metrics.NetPnL
		}
		if a.Metrics.MaxDrawdown != b.Metrics.MaxDrawdown {
			return a.Metrics.MaxDrawdown < b.Metrics.MaxDrawdown
		}
		if a.StockCode != b.StockCode {
			return a.StockCode < b.StockCode
		}
		return a.ParamID < b.ParamID
	})

	return truncate(sorted, limit), nil
}

// Dimension is one sweepable axis of the parameter grid.
type Dimension struct {
	Column string
	Label  string
	value  func(p domain.StrategyParams) string
}

// Dimensions returns the analyzable grid axes in canonical order.
func Dimensions() []Dimension {
	return []Dimension{
		{"or_minutes", "OR Duration (min)", func(p domain.StrategyParams) string { return strconv.Itoa(p.ORMinutes) }},
		{"target_multiplier", "Target R:R", func(p domain.StrategyParams) string { return formatFloat(p.TargetMultiplier) }},
		{"stop_loss_type", "Stop Loss Type", func(p domain.StrategyParams) string { return string(p.StopLossType) }},
		{"trade_direction", "Trade Direction", func(p domain.StrategyParams) string { return string(p.TradeDirection) }},
		{"exit_time", "Exit Time", func(p domain.StrategyParams) string { return p.ExitTime }},
		{"max_or_filter_pct", "OR Size Filter (%)", func(p domain.StrategyParams) string { return formatFloat(p.MaxORFilterPct) }},
		{"entry_confirmation", "Entry Confirmation", func(p domain.StrategyParams) string { return string(p.EntryConfirmation) }},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// SensitivityRow measures how much one grid dimension moves average net
// P&L when everything else is averaged out.
type SensitivityRow struct {
	Column string
	Label  string

	Variance float64 // sample variance of the per-value mean net P&L
	Spread   float64 // best mean minus worst mean

	BestValue   string
	BestAvgPnL  float64
	WorstValue  string
	WorstAvgPnL float64
	NumValues   int
}

// ParameterSensitivity computes, per grid dimension, the variance of
// mean net P&L across that dimension's values. Dimensions with fewer
// than two distinct values in the run are omitted. Rows come back
// sorted by spread descending.
func (r *Ranker) ParameterSensitivity(ctx context.Context, runID int64) ([]*SensitivityRow, error) {
	rows, err := r.store.ResultsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var out []*SensitivityRow
	for _, dim := range Dimensions() {
		sums := make(map[string]float64)
		counts := make(map[string]int)
		for _, row := range rows {
			v := dim.value(row.Params)
			sums[v] += row.Metrics.NetPnL
			counts[v]++
		}
		if len(sums) < 2 {
			continue
		}

		values := make([]string, 0, len(sums))
		for v := range sums {
			values = append(values, v)
		}
		sort.Strings(values)

		means := make([]float64, len(values))
		for i, v := range values {
			means[i] = sums[v] / float64(counts[v])
		}

		best, worst := 0, 0
		total := 0.0
		for i, m := range means {
			total += m
			if m > means[best] {
				best = i
			}
			if m < means[worst] {
				worst = i
			}
		}

		mean := total / float64(len(means))
		variance := 0.0
		for _, m := range means {
			diff := m - mean
			variance += diff * diff
		}
		variance /= float64(len(means) - 1)

		out = append(out, &SensitivityRow{
			Column:      dim.Column,
			Label:       dim.Label,
			Variance:    round2(variance),
			Spread:      round2(means[best] - means[worst]),
			BestValue:   values[best],
			BestAvgPnL:  round2(means[best]),
			WorstValue:  values[worst],
			WorstAvgPnL: round2(means[worst]),
			NumValues:   len(values),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Spread != out[j].Spread {
			return out[i].Spread > out[j].Spread
		}
		return out[i].Column < out[j].Column
	})

	return out, nil
}

// BreakdownRow is the mean performance of one value of one dimension
// across all other parameters and stocks.
type BreakdownRow struct {
	Value string

	NetPnL         float64
	WinRate        float64
	ProfitFactor   float64
	SharpeRatio    float64
	MaxDrawdownPct float64
	TotalTrades    float64
	Expectancy     float64
	CompositeScore float64
	NumRows        int
}

// ParameterBreakdown details a single dimension's impact, one row per
// value, sorted by mean composite score descending.
func (r *Ranker) ParameterBreakdown(ctx context.Context, runID int64, column string) ([]*BreakdownRow, error) {
	var dim *Dimension
	for _, d := range Dimensions() {
		if d.Column == column {
			d := d
			dim = &d
			break
		}
	}
	if dim == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, column)
	}

	rows, err := r.store.ResultsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	byValue := make(map[string]*BreakdownRow)
	var order []string
	for _, row := range rows {
		v := dim.value(row.Params)
		b, ok := byValue[v]
		if !ok {
			b = &BreakdownRow{Value: v}
			byValue[v] = b
			order = append(order, v)
		}
		b.NumRows++
		b.NetPnL += row.Metrics.NetPnL
		b.WinRate += row.Metrics.WinRate
		b.ProfitFactor += row.Metrics.ProfitFactor
		b.SharpeRatio += row.Metrics.SharpeRatio
		b.MaxDrawdownPct += row.Metrics.MaxDrawdownPct
		b.TotalTrades += float64(row.Metrics.TotalTrades)
		b.Expectancy += row.Metrics.Expectancy
		b.CompositeScore += row.Metrics.CompositeScore
	}

	out := make([]*BreakdownRow, 0, len(byValue))
	for _, v := range order {
		b := byValue[v]
		n := float64(b.NumRows)
		b.NetPnL = round4(b.NetPnL / n)
		b.WinRate = round4(b.WinRate / n)
		b.ProfitFactor = round4(b.ProfitFactor / n)
		b.SharpeRatio = round4(b.SharpeRatio / n)
		b.MaxDrawdownPct = round4(b.MaxDrawdownPct / n)
		b.TotalTrades = round4(b.TotalTrades / n)
		b.Expectancy = round4(b.Expectancy / n)
		b.CompositeScore = round4(b.CompositeScore / n)
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CompositeScore != out[j].CompositeScore {
			return out[i].CompositeScore > out[j].CompositeScore
		}
		return out[i].Value < out[j].Value
	})

	return out, nil
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
