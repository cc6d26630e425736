// Package metrics turns a trade sequence into the performance record
// used for ranking parameter combinations.
package metrics

import (
	"math"
	"time"

	"orb-grid-lab/internal/domain"
)

// TradingDaysPerYear annualizes daily-return ratios.
const TradingDaysPerYear = 252

// Calculator computes a MetricsRecord from a chronological trade list.
// Capital anchors the equity curve and scales the composite score.
type Calculator struct {
	Capital float64
}

// NewCalculator returns a Calculator for the given account size.
func NewCalculator(capital float64) *Calculator {
	return &Calculator{Capital: capital}
}

// Compute calculates every metric from the trades of one (instrument,
// parameter) simulation. Trades must be in chronological order.
//
// Edge cases: zero trades yields a zeroed record with
// CompositeScore = EmptyCompositeScore; zero losing trades caps the
// profit factor at ProfitFactorCap; no losing days with a positive mean
// return caps Sortino at SortinoCap.
func (c *Calculator) Compute(trades []domain.Trade) *domain.MetricsRecord {
	n := len(trades)
	if n == 0 {
		return &domain.MetricsRecord{CompositeScore: domain.EmptyCompositeScore}
	}

	pnls := make([]float64, n)
	var totalPnL, netPnL, sumR, sumHolding float64
	for i := range trades {
		pnls[i] = trades[i].NetPnL
		totalPnL += trades[i].GrossPnL
		netPnL += trades[i].NetPnL
		sumR += trades[i].RMultiple
		sumHolding += trades[i].HoldingMinutes()
	}

	var winners, losers int
	var grossProfits, grossLosses float64
	for _, p := range pnls {
		if p > 0 {
			winners++
			grossProfits += p
		} else {
			losers++
			grossLosses += -p
		}
	}

	winRate := float64(winners) / float64(n)
	lossRate := float64(losers) / float64(n)

	var avgWinner, avgLoser float64
	if winners > 0 {
		avgWinner = grossProfits / float64(winners)
	}
	if losers > 0 {
		avgLoser = -grossLosses / float64(losers)
	}

	profitFactor := 0.0
	switch {
	case grossLosses > 0:
		profitFactor = grossProfits / grossLosses
	case grossProfits > 0:
		profitFactor = domain.ProfitFactorCap
	}

	maxDD, maxDDPct := c.computeDrawdown(pnls)
	dailyReturns := c.dailyReturns(trades)
	sharpe := computeSharpe(dailyReturns)
	sortino := computeSortino(dailyReturns)
	expectancy := avgWinner*winRate - math.Abs(avgLoser)*lossRate
	calmar := computeCalmar(trades, netPnL, maxDD)

	best, worst := pnls[0], pnls[0]
	for _, p := range pnls[1:] {
		best = math.Max(best, p)
		worst = math.Min(worst, p)
	}

	composite := c.compositeScore(netPnL, sharpe, profitFactor, winRate, maxDDPct, expectancy)

	return &domain.MetricsRecord{
		TotalTrades:   n,
		WinningTrades: winners,
		LosingTrades:  losers,
		WinRate:       round4(winRate),

		TotalPnL:       round2(totalPnL),
		NetPnL:         round2(netPnL),
		AvgPnLPerTrade: round2(netPnL / float64(n)),
		AvgWinner:      round2(avgWinner),
		AvgLoser:       round2(avgLoser),

		ProfitFactor:         round2(math.Min(profitFactor, domain.ProfitFactorCap)),
		MaxDrawdown:          round2(maxDD),
		MaxDrawdownPct:       round4(maxDDPct),
		MaxConsecutiveLosses: computeMaxConsecutiveLosses(pnls),

		SharpeRatio:  round4(sharpe),
		SortinoRatio: round4(sortino),
		Expectancy:   round2(expectancy),
		AvgRMultiple: round4(sumR / float64(n)),
		CalmarRatio:  round4(calmar),

		BestTrade:         round2(best),
		WorstTrade:        round2(worst),
		AvgHoldingMinutes: round1(sumHolding / float64(n)),

		CompositeScore: round4(composite),
	}
}

// computeDrawdown walks the equity curve starting from capital and
// returns the worst peak-to-trough fall, absolute and as a fraction of
// capital.
func (c *Calculator) computeDrawdown(pnls []float64) (float64, float64) {
	equity := c.Capital
	peak := equity
	maxDD := 0.0

	for _, p := range pnls {
		equity += p
		peak = math.Max(peak, equity)
		maxDD = math.Max(maxDD, peak-equity)
	}

	if c.Capital <= 0 {
		return maxDD, 0
	}
	return maxDD, maxDD / c.Capital
}

// dailyReturns sums net P&L per trading day and divides by capital.
// Order follows the first appearance of each date.
func (c *Calculator) dailyReturns(trades []domain.Trade) []float64 {
	if c.Capital <= 0 {
		return nil
	}

	idx := make(map[string]int, len(trades))
	var daily []float64
	for i := range trades {
		j, ok := idx[trades[i].Date]
		if !ok {
			j = len(daily)
			idx[trades[i].Date] = j
			daily = append(daily, 0)
		}
		daily[j] += trades[i].NetPnL
	}

	for i := range daily {
		daily[i] /= c.Capital
	}
	return daily
}

// computeSharpe annualizes mean daily return over its sample standard
// deviation. Risk-free rate is assumed zero. Fewer than two daily
// observations, or zero deviation, yields 0.
func computeSharpe(dailyReturns []float64) float64 {
	n := len(dailyReturns)
	if n < 2 {
		return 0
	}

	mean := computeMean(dailyReturns)
	variance := 0.0
	for _, r := range dailyReturns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(n - 1)
	if variance <= 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(TradingDaysPerYear)
}

// computeSortino annualizes mean daily return over downside deviation.
// With no negative days it returns SortinoCap when the mean is
// positive, otherwise 0.
func computeSortino(dailyReturns []float64) float64 {
	n := len(dailyReturns)
	if n < 2 {
		return 0
	}

	mean := computeMean(dailyReturns)
	downsideVar := 0.0
	downsideCount := 0
	for _, r := range dailyReturns {
		if r < 0 {
			downsideVar += r * r
			downsideCount++
		}
	}
	if downsideCount == 0 {
		if mean > 0 {
			return domain.SortinoCap
		}
		return 0
	}

	downsideVar /= float64(n)
	if downsideVar <= 0 {
		return 0
	}

	return mean / math.Sqrt(downsideVar) * math.Sqrt(TradingDaysPerYear)
}

// computeCalmar divides the annualized net return by the maximum
// drawdown. The trading period spans the first to last trade date, with
// a one-year floor so short histories are not inflated.
func computeCalmar(trades []domain.Trade, netPnL, maxDD float64) float64 {
	if maxDD <= 0 {
		return 0
	}

	years := 1.0
	first, errFirst := time.Parse(domain.DateLayout, trades[0].Date)
	last, errLast := time.Parse(domain.DateLayout, trades[len(trades)-1].Date)
	if errFirst == nil && errLast == nil {
		if days := last.Sub(first).Hours() / 24; days > 0 {
			years = days / 365.25
		}
	}
	if years <= 0 {
		years = 1
	}

	return netPnL / years / maxDD
}

// computeMaxConsecutiveLosses finds the longest streak of net P&L <= 0.
func computeMaxConsecutiveLosses(pnls []float64) int {
	maxStreak, current := 0, 0
	for _, p := range pnls {
		if p <= 0 {
			current++
			if current > maxStreak {
				maxStreak = current
			}
		} else {
			current = 0
		}
	}
	return maxStreak
}

// compositeScore blends the headline metrics into one ranking number.
// Net P&L and expectancy are scaled by capital, profit factor is capped
// at 10, drawdown percentage is inverted and clamped to [0, 1].
func (c *Calculator) compositeScore(netPnL, sharpe, profitFactor, winRate, maxDDPct, expectancy float64) float64 {
	var pnlScore, expScore float64
	if c.Capital > 0 {
		pnlScore = netPnL / c.Capital
		expScore = expectancy / (c.Capital * 0.01)
	}

	pfScore := math.Min(profitFactor, 10) / 10
	ddScore := math.Max(0, 1-math.Min(maxDDPct, 1))

	return domain.WeightNetPnL*pnlScore +
		domain.WeightSharpe*sharpe +
		domain.WeightProfitFactor*pfScore +
		domain.WeightWinRate*winRate +
		domain.WeightDrawdown*ddScore +
		domain.WeightExpectancy*expScore
}

func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
