// Package grid enumerates the strategy parameter space for grid search.
package grid

import (
	"errors"
	"fmt"
	"sort"

	"orb-grid-lab/internal/domain"
	"orb-grid-lab/internal/idhash"
)

// ErrIDCollision reports two distinct parameter tuples hashing to the
// same identifier. This is a fatal configuration error: a collision
// would corrupt the metrics join key.
var ErrIDCollision = errors.New("parameter identifier collision")

// Constants holds the strategy constants that are part of every
// combination but not swept in the current grid.
type Constants struct {
	TrailingStopPct float64
	ATRMultiplier   float64
	ATRPeriod       int
}

// DefaultConstants returns the constants used when no overrides are configured.
func DefaultConstants() Constants {
	return Constants{TrailingStopPct: 0.5, ATRMultiplier: 1.5, ATRPeriod: 14}
}

// Filter pins individual dimensions of the grid. A nil/empty slice
// means "use the full default range for that dimension".
type Filter struct {
	ORMinutes          []int
	TargetMultipliers  []float64
	StopLossTypes      []domain.StopLossType
	Directions         []domain.TradeDirection
	ExitTimes          []string
	ORFilters          []float64
	EntryConfirmations []domain.EntryConfirmation
}

// ParameterSpace generates parameter combinations. Each distinct tuple
// appears exactly once per generation; generation is restartable
// because it is a pure function of the value sets.
type ParameterSpace struct {
	consts Constants
}

// New creates a ParameterSpace with the given strategy constants.
func New(consts Constants) *ParameterSpace {
	return &ParameterSpace{consts: consts}
}

// GenerateAll produces the full Cartesian product of the default value sets.
func (s *ParameterSpace) GenerateAll() []domain.StrategyParams {
	return s.generate(
		domain.DefaultORMinutes,
		domain.DefaultTargetMultipliers,
		domain.DefaultStopLossTypes,
		domain.DefaultDirections,
		domain.DefaultExitTimes,
		domain.DefaultORFilters,
		domain.DefaultEntryConfirmations,
	)
}

// GenerateQuick produces the reduced validation grid.
func (s *ParameterSpace) GenerateQuick() []domain.StrategyParams {
	return s.generate(
		domain.QuickORMinutes,
		domain.QuickTargetMultipliers,
		domain.QuickStopLossTypes,
		domain.QuickDirections,
		domain.QuickExitTimes,
		domain.QuickORFilters,
		domain.QuickEntryConfirmations,
	)
}

// GenerateFiltered produces the grid with some dimensions pinned.
func (s *ParameterSpace) GenerateFiltered(f Filter) []domain.StrategyParams {
	orMinutes := f.ORMinutes
	if len(orMinutes) == 0 {
		orMinutes = domain.DefaultORMinutes
	}
	targets := f.TargetMultipliers
	if len(targets) == 0 {
		targets = domain.DefaultTargetMultipliers
	}
	slTypes := f.StopLossTypes
	if len(slTypes) == 0 {
		slTypes = domain.DefaultStopLossTypes
	}
	directions := f.Directions
	if len(directions) == 0 {
		directions = domain.DefaultDirections
	}
	exitTimes := f.ExitTimes
	if len(exitTimes) == 0 {
		exitTimes = domain.DefaultExitTimes
	}
	orFilters := f.ORFilters
	if len(orFilters) == 0 {
		orFilters = domain.DefaultORFilters
	}
	confirmations := f.EntryConfirmations
	if len(confirmations) == 0 {
		confirmations = domain.DefaultEntryConfirmations
	}

	return s.generate(orMinutes, targets, slTypes, directions, exitTimes, orFilters, confirmations)
}

func (s *ParameterSpace) generate(
	orMinutes []int,
	targets []float64,
	slTypes []domain.StopLossType,
	directions []domain.TradeDirection,
	exitTimes []string,
	orFilters []float64,
	confirmations []domain.EntryConfirmation,
) []domain.StrategyParams {
	size := len(orMinutes) * len(targets) * len(slTypes) * len(directions) *
		len(exitTimes) * len(orFilters) * len(confirmations)
	out := make([]domain.StrategyParams, 0, size)

	for _, om := range orMinutes {
		for _, tgt := range targets {
			for _, sl := range slTypes {
				for _, dir := range directions {
					for _, et := range exitTimes {
						for _, orf := range orFilters {
							for _, ec := range confirmations {
								out = append(out, domain.StrategyParams{
									ORMinutes:         om,
									TargetMultiplier:  tgt,
									StopLossType:      sl,
									TradeDirection:    dir,
									ExitTime:          et,
									MaxORFilterPct:    orf,
									EntryConfirmation: ec,
									TrailingStopPct:   s.consts.TrailingStopPct,
									ATRMultiplier:     s.consts.ATRMultiplier,
									ATRPeriod:         s.consts.ATRPeriod,
								})
							}
						}
					}
				}
			}
		}
	}
	return out
}

// FullGridSize returns the combination count of the full default grid
// without generating it.
func FullGridSize() int {
	return len(domain.DefaultORMinutes) *
		len(domain.DefaultTargetMultipliers) *
		len(domain.DefaultStopLossTypes) *
		len(domain.DefaultDirections) *
		len(domain.DefaultExitTimes) *
		len(domain.DefaultORFilters) *
		len(domain.DefaultEntryConfirmations)
}

// VerifyUniqueIDs checks that no two distinct tuples collide on their
// identifier and that no tuple was emitted twice. Returns
// ErrIDCollision on any violation.
func VerifyUniqueIDs(params []domain.StrategyParams) error {
	seen := make(map[string]domain.StrategyParams, len(params))
	for _, p := range params {
		id := idhash.ComputeParamID(p)
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("%w: %q emitted for both %+v and %+v", ErrIDCollision, id, prev, p)
		}
		seen[id] = p
	}
	return nil
}

// GroupByORAndExit groups combinations by (or_minutes, exit_time).
// Combinations in one group share precomputed per-day candle caches.
type CacheKey struct {
	ORMinutes int
	ExitTime  string
}

// GroupByORAndExit returns the cache groups in deterministic key order.
func GroupByORAndExit(params []domain.StrategyParams) ([]CacheKey, map[CacheKey][]domain.StrategyParams) {
	groups := make(map[CacheKey][]domain.StrategyParams)
	for _, p := range params {
		key := CacheKey{ORMinutes: p.ORMinutes, ExitTime: p.ExitTime}
		groups[key] = append(groups[key], p)
	}

	keys := make([]CacheKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ORMinutes != keys[j].ORMinutes {
			return keys[i].ORMinutes < keys[j].ORMinutes
		}
		return keys[i].ExitTime < keys[j].ExitTime
	})

	return keys, groups
}

// UniqueORMinutes returns the sorted set of OR durations present in the
// combination list. The market data cache precomputes an opening range
// per duration, not per combination.
func UniqueORMinutes(params []domain.StrategyParams) []int {
	set := make(map[int]struct{})
	for _, p := range params {
		set[p.ORMinutes] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for om := range set {
		out = append(out, om)
	}
	sort.Ints(out)
	return out
}
