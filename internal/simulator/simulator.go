package simulator

import (
	"math"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/marketdata"
)

// Config holds the account and cost model shared by every simulation.
type Config struct {
	Capital         float64 // account size, caps position value
	MaxRiskPerTrade float64 // currency risked per trade
	BrokerageRate   float64 // per leg, against notional
	STTRate         float64 // exit leg only, against notional
	VolumeFactor    float64 // volume-confirmation multiple of the baseline
}

// DefaultConfig returns the standard account and cost assumptions.
func DefaultConfig() Config {
	return Config{
		Capital:         100000,
		MaxRiskPerTrade: 1000,
		BrokerageRate:   0.0001,
		STTRate:         0.00025,
		VolumeFactor:    1.5,
	}
}

// Simulator replays daily candles under a parameter combination. Safe
// for concurrent use: all state is read-only after construction.
type Simulator struct {
	cfg      Config
	fastPath exitEngine
	fallback exitEngine
}

// New creates a Simulator with the given account configuration.
func New(cfg Config) *Simulator {
	return &Simulator{
		cfg:      cfg,
		fastPath: vectorizedExit{},
		fallback: sequentialExit{},
	}
}

// Run simulates one instrument across all trading days for one
// parameter combination, building the day caches itself. Prefer
// RunWithCaches when sweeping many combinations that share an
// (or_minutes, exit_time) group.
func (s *Simulator) Run(data *marketdata.StockData, params domain.StrategyParams) []domain.Trade {
	caches := BuildDayCaches(data, params.ORMinutes, params.ExitTime, s.cfg.VolumeFactor)
	return s.RunWithCaches(data, params, caches)
}

// RunWithCaches simulates using pre-built day caches. Produces zero or
// one trade per trading day; only the first valid signal of a day is
// taken.
func (s *Simulator) RunWithCaches(data *marketdata.StockData, params domain.StrategyParams, caches []*DayCache) []domain.Trade {
	orData := data.OpeningRanges[params.ORMinutes]
	if orData == nil {
		return nil
	}

	engine := s.fallback
	if usesFastPath(params) {
		engine = s.fastPath
	}

	var trades []domain.Trade
	for _, dc := range caches {
		or, ok := orData[dc.Date]
		if !ok {
			continue
		}

		// Abnormally wide opening ranges are skipped outright.
		if params.MaxORFilterPct > 0 && or.WidthPct > params.MaxORFilterPct {
			continue
		}

		direction, entryPrice, entryIdx, ok := findEntry(dc, or, params)
		if !ok {
			continue
		}

		stopLoss := initialStopLoss(direction, entryPrice, or, data.DailyATR[dc.Date], params)
		riskPerShare := math.Abs(entryPrice - stopLoss)
		if riskPerShare <= 0 {
			continue
		}

		quantity := s.positionSize(entryPrice, riskPerShare)
		if quantity <= 0 {
			continue
		}

		var targetPrice float64
		if params.TargetMultiplier > 0 {
			if direction == domain.Long {
				targetPrice = entryPrice + riskPerShare*params.TargetMultiplier
			} else {
				targetPrice = entryPrice - riskPerShare*params.TargetMultiplier
			}
		}

		exit := engine.findExit(dc, direction, entryIdx, stopLoss, targetPrice, params)

		trades = append(trades, s.buildTrade(
			data.StockCode, dc, direction, entryIdx, entryPrice,
			exit, quantity, stopLoss, targetPrice, or, riskPerShare,
		))
	}
	return trades
}

// findEntry picks the first qualifying breakout of the day using the
// cache's precomputed signal indices. When long and short signals fire
// on the same candle the long side wins. Immediate entries fill at the
// range boundary; close-based entries fill at the signal candle's close.
func findEntry(dc *DayCache, or domain.OpeningRange, params domain.StrategyParams) (direction string, price float64, idx int, ok bool) {
	longIdx, shortIdx := -1, -1

	if params.AllowLong() {
		switch params.EntryConfirmation {
		case domain.EntryImmediate:
			longIdx = dc.FirstLongImmediate
		case domain.EntryCandleClose:
			longIdx = dc.FirstLongClose
		default:
			longIdx = dc.FirstLongVolume
		}
	}
	if params.AllowShort() {
		switch params.EntryConfirmation {
		case domain.EntryImmediate:
			shortIdx = dc.FirstShortImmediate
		case domain.EntryCandleClose:
			shortIdx = dc.FirstShortClose
		default:
			shortIdx = dc.FirstShortVolume
		}
	}

	pickLong := longIdx >= 0 && (shortIdx < 0 || longIdx <= shortIdx)
	pickShort := shortIdx >= 0 && !pickLong

	switch {
	case pickLong:
		if params.EntryConfirmation == domain.EntryImmediate {
			return domain.Long, or.High, longIdx, true
		}
		return domain.Long, dc.Closes[longIdx], longIdx, true
	case pickShort:
		if params.EntryConfirmation == domain.EntryImmediate {
			return domain.Short, or.Low, shortIdx, true
		}
		return domain.Short, dc.Closes[shortIdx], shortIdx, true
	default:
		return "", 0, -1, false
	}
}

// initialStopLoss computes the stop at entry. ATR stops fall back to
// the opposite range edge when the ATR series has no value for the day.
func initialStopLoss(direction string, entryPrice float64, or domain.OpeningRange, atr float64, params domain.StrategyParams) float64 {
	fixedStop := or.Low
	if direction == domain.Short {
		fixedStop = or.High
	}

	switch params.StopLossType {
	case domain.StopLossTrailing:
		if direction == domain.Long {
			return entryPrice * (1 - params.TrailingStopPct/100)
		}
		return entryPrice * (1 + params.TrailingStopPct/100)
	case domain.StopLossATR:
		if atr > 0 {
			if direction == domain.Long {
				return entryPrice - atr*params.ATRMultiplier
			}
			return entryPrice + atr*params.ATRMultiplier
		}
		return fixedStop
	default:
		return fixedStop
	}
}

// positionSize returns whole shares: risk budget over per-share stop
// distance, capped so the notional never exceeds capital.
func (s *Simulator) positionSize(entryPrice, riskPerShare float64) int {
	if entryPrice <= 0 {
		return 0
	}
	byRisk := int(s.cfg.MaxRiskPerTrade / riskPerShare)
	byCapital := int(s.cfg.Capital / entryPrice)
	if byCapital < byRisk {
		return byCapital
	}
	return byRisk
}

func (s *Simulator) buildTrade(
	stockCode string, dc *DayCache, direction string, entryIdx int, entryPrice float64,
	exit exitResult, quantity int, stopLoss, targetPrice float64,
	or domain.OpeningRange, riskPerShare float64,
) domain.Trade {
	qty := float64(quantity)

	var grossPnL float64
	if direction == domain.Long {
		grossPnL = (exit.price - entryPrice) * qty
	} else {
		grossPnL = (entryPrice - exit.price) * qty
	}

	brokerage := entryPrice * qty * s.cfg.BrokerageRate * 2
	stt := exit.price * qty * s.cfg.STTRate
	costs := brokerage + stt
	netPnL := grossPnL - costs
	riskAmount := riskPerShare * qty

	var rMultiple float64
	if riskAmount > 0 {
		rMultiple = netPnL / riskAmount
	}

	return domain.Trade{
		StockCode:       stockCode,
		Date:            dc.Date,
		Direction:       direction,
		EntryTime:       dc.Times[entryIdx],
		EntryPrice:      round2(entryPrice),
		ExitTime:        dc.Times[exit.idx],
		ExitPrice:       round2(exit.price),
		Quantity:        quantity,
		StopLossInitial: round2(stopLoss),
		StopLossFinal:   round2(exit.finalStop),
		TargetPrice:     round2(targetPrice),
		ORHigh:          round2(or.High),
		ORLow:           round2(or.Low),
		ExitReason:      exit.reason,
		GrossPnL:        round2(grossPnL),
		Costs:           round2(costs),
		NetPnL:          round2(netPnL),
		RiskAmount:      round2(riskAmount),
		RMultiple:       round4(rMultiple),
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
