package simulator

import "orb-grid-lab/internal/domain"

// exitResult describes how an open position closed.
type exitResult struct {
	price     float64
	idx       int
	reason    string
	finalStop float64
}

// exitEngine finds the exit for a position entered at entryIdx within
// one day's cache. Both implementations must agree wherever the fast
// path is valid.
type exitEngine interface {
	findExit(dc *DayCache, direction string, entryIdx int, stopLoss, targetPrice float64, params domain.StrategyParams) exitResult
}

// usesFastPath reports whether a combination is eligible for the
// vectorized exit scan. Trailing stops carry path-dependent state and
// ATR stops depend on a series that may be absent mid-history, so only
// fixed stops with price-based entries qualify.
func usesFastPath(params domain.StrategyParams) bool {
	return params.StopLossType == domain.StopLossFixed &&
		params.EntryConfirmation != domain.EntryVolumeConfirm
}

// vectorizedExit scans the breach arrays once, without per-candle
// state. Valid only when the stop level is constant for the whole
// position.
type vectorizedExit struct{}

func (vectorizedExit) findExit(dc *DayCache, direction string, entryIdx int, stopLoss, targetPrice float64, _ domain.StrategyParams) exitResult {
	start := entryIdx + 1
	n := len(dc.Highs)
	if start >= n {
		// Entered on the last candle of the day.
		return exitResult{price: dc.Closes[entryIdx], idx: entryIdx, reason: domain.ExitReasonTimeExit, finalStop: stopLoss}
	}

	stopIdx := -1
	for i := start; i < n; i++ {
		if (direction == domain.Long && dc.Lows[i] <= stopLoss) ||
			(direction == domain.Short && dc.Highs[i] >= stopLoss) {
			stopIdx = i
			break
		}
	}

	targetIdx := -1
	if targetPrice > 0 {
		for i := start; i < n; i++ {
			if (direction == domain.Long && dc.Highs[i] >= targetPrice) ||
				(direction == domain.Short && dc.Lows[i] <= targetPrice) {
				targetIdx = i
				break
			}
		}
	}

	switch {
	case stopIdx >= 0 && (targetIdx < 0 || stopIdx <= targetIdx):
		// A candle satisfying both resolves to the stop: intracandle
		// sequencing is unknown from OHLC alone, so assume the worse.
		return exitResult{price: stopLoss, idx: stopIdx, reason: domain.ExitReasonStopLoss, finalStop: stopLoss}
	case targetIdx >= 0:
		return exitResult{price: targetPrice, idx: targetIdx, reason: domain.ExitReasonTarget, finalStop: stopLoss}
	default:
		last := n - 1
		return exitResult{price: dc.Closes[last], idx: last, reason: domain.ExitReasonTimeExit, finalStop: stopLoss}
	}
}

// sequentialExit walks candle by candle. Required for trailing stops,
// whose level ratchets with favorable movement, and used for every
// combination the fast path cannot serve.
type sequentialExit struct{}

func (sequentialExit) findExit(dc *DayCache, direction string, entryIdx int, stopLoss, targetPrice float64, params domain.StrategyParams) exitResult {
	start := entryIdx + 1
	n := len(dc.Highs)
	if start >= n {
		return exitResult{price: dc.Closes[entryIdx], idx: entryIdx, reason: domain.ExitReasonTimeExit, finalStop: stopLoss}
	}

	trailing := params.StopLossType == domain.StopLossTrailing
	trailingMult := params.TrailingStopPct / 100

	var peak float64
	if direction == domain.Long {
		peak = dc.Highs[entryIdx]
	} else {
		peak = dc.Lows[entryIdx]
	}

	sl := stopLoss
	for i := start; i < n; i++ {
		high, low := dc.Highs[i], dc.Lows[i]

		var stopHit, targetHit bool
		if direction == domain.Long {
			if trailing && high > peak {
				peak = high
				if newSL := peak * (1 - trailingMult); newSL > sl {
					sl = newSL
				}
			}
			stopHit = low <= sl
			targetHit = targetPrice > 0 && high >= targetPrice
		} else {
			if trailing && low < peak {
				peak = low
				if newSL := peak * (1 + trailingMult); newSL < sl {
					sl = newSL
				}
			}
			stopHit = high >= sl
			targetHit = targetPrice > 0 && low <= targetPrice
		}

		if stopHit {
			return exitResult{price: sl, idx: i, reason: domain.ExitReasonStopLoss, finalStop: sl}
		}
		if targetHit {
			return exitResult{price: targetPrice, idx: i, reason: domain.ExitReasonTarget, finalStop: sl}
		}
	}

	last := n - 1
	return exitResult{price: dc.Closes[last], idx: last, reason: domain.ExitReasonTimeExit, finalStop: sl}
}
