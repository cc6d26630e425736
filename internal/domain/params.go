package domain

import (
	"encoding/json"
	"fmt"
)

// StopLossType selects how the initial stop is computed and whether it moves.
type StopLossType string

// Stop loss type constants.
const (
	StopLossFixed    StopLossType = "fixed"     // opposite OR edge, held constant
	StopLossTrailing StopLossType = "trailing"  // ratchets with favorable movement
	StopLossATR      StopLossType = "atr_based" // entry ± ATR×multiplier, fixed at entry
)

// TradeDirection filters which breakout directions are tradable.
type TradeDirection string

// Trade direction constants.
const (
	DirectionLongOnly  TradeDirection = "long_only"
	DirectionShortOnly TradeDirection = "short_only"
	DirectionBoth      TradeDirection = "both"
)

// EntryConfirmation selects how a breakout signal is validated.
type EntryConfirmation string

// Entry confirmation constants.
const (
	EntryImmediate     EntryConfirmation = "immediate"    // intracandle breach of the boundary
	EntryCandleClose   EntryConfirmation = "candle_close" // candle closes beyond the boundary
	EntryVolumeConfirm EntryConfirmation = "volume"       // close beyond boundary + volume surge
)

// Default sweep value sets for the full grid.
var (
	DefaultORMinutes          = []int{5, 10, 15, 20, 30, 45, 60}
	DefaultTargetMultipliers  = []float64{0, 1.0, 1.5, 2.0, 2.5, 3.0}
	DefaultStopLossTypes      = []StopLossType{StopLossFixed, StopLossTrailing, StopLossATR}
	DefaultDirections         = []TradeDirection{DirectionLongOnly, DirectionShortOnly, DirectionBoth}
	DefaultExitTimes          = []string{"12:30", "14:00", "14:30", "15:00", "15:14"}
	DefaultORFilters          = []float64{0.5, 1.0, 1.5, 2.0, 0} // 0 = no filter
	DefaultEntryConfirmations = []EntryConfirmation{EntryImmediate, EntryCandleClose, EntryVolumeConfirm}
)

// Quick sweep value sets: a reduced grid for fast validation runs.
var (
	QuickORMinutes          = []int{15, 30}
	QuickTargetMultipliers  = []float64{0, 2.0}
	QuickStopLossTypes      = []StopLossType{StopLossFixed}
	QuickDirections         = []TradeDirection{DirectionBoth}
	QuickExitTimes          = []string{"15:14"}
	QuickORFilters          = []float64{0}
	QuickEntryConfirmations = []EntryConfirmation{EntryImmediate}
)

// StrategyParams is one immutable parameter combination of the grid.
// Two values with identical fields must hash to the same identifier;
// the identifier is the join key between parameter definitions and
// metrics rows (see idhash.ComputeParamID).
type StrategyParams struct {
	ORMinutes         int               `json:"or_minutes"`
	TargetMultiplier  float64           `json:"target_multiplier"` // 0 = no target, time exit only
	StopLossType      StopLossType      `json:"stop_loss_type"`
	TradeDirection    TradeDirection    `json:"trade_direction"`
	ExitTime          string            `json:"exit_time"` // "HH:MM"
	MaxORFilterPct    float64           `json:"max_or_filter_pct"` // 0 = no filter
	EntryConfirmation EntryConfirmation `json:"entry_confirmation"`

	// Constants in the current sweep, still part of parameter identity.
	TrailingStopPct float64 `json:"trailing_stop_pct"`
	ATRMultiplier   float64 `json:"atr_multiplier"`
	ATRPeriod       int     `json:"atr_period"`
}

// Validate checks enum fields against their allowed values.
func (p StrategyParams) Validate() error {
	switch p.StopLossType {
	case StopLossFixed, StopLossTrailing, StopLossATR:
	default:
		return fmt.Errorf("invalid stop loss type %q", p.StopLossType)
	}
	switch p.TradeDirection {
	case DirectionLongOnly, DirectionShortOnly, DirectionBoth:
	default:
		return fmt.Errorf("invalid trade direction %q", p.TradeDirection)
	}
	switch p.EntryConfirmation {
	case EntryImmediate, EntryCandleClose, EntryVolumeConfirm:
	default:
		return fmt.Errorf("invalid entry confirmation %q", p.EntryConfirmation)
	}
	if p.ORMinutes <= 0 {
		return fmt.Errorf("or_minutes must be positive, got %d", p.ORMinutes)
	}
	if p.ExitTime == "" {
		return fmt.Errorf("exit_time is required")
	}
	return nil
}

// AllowLong reports whether long entries are eligible.
func (p StrategyParams) AllowLong() bool {
	return p.TradeDirection == DirectionLongOnly || p.TradeDirection == DirectionBoth
}

// AllowShort reports whether short entries are eligible.
func (p StrategyParams) AllowShort() bool {
	return p.TradeDirection == DirectionShortOnly || p.TradeDirection == DirectionBoth
}

// CanonicalJSON serializes the parameter set for storage in the
// parameter definition table. Field order is fixed by the struct.
func (p StrategyParams) CanonicalJSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal strategy params: %w", err)
	}
	return string(b), nil
}

// ShortDescription returns a human-readable one-line summary.
func (p StrategyParams) ShortDescription() string {
	target := "NoTarget"
	if p.TargetMultiplier > 0 {
		target = fmt.Sprintf("%gR", p.TargetMultiplier)
	}
	filter := "NoFilter"
	if p.MaxORFilterPct > 0 {
		filter = fmt.Sprintf("OR<%g%%", p.MaxORFilterPct)
	}
	return fmt.Sprintf("OR%dm | %s SL | %s | %s | Exit@%s | %s | %s",
		p.ORMinutes, p.StopLossType, target, p.TradeDirection,
		p.ExitTime, filter, p.EntryConfirmation)
}
