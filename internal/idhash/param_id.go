// Package idhash computes deterministic content-hash identifiers.
// Identifiers depend only on canonical field encodings, never on
// insertion order or memory layout.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"orb-grid-lab/internal/domain"
)

// ComputeParamID computes the stable identifier for a parameter
// combination: SHA256 over the pipe-joined canonical field encoding.
// The identifier is the join key between the parameter definition table
// and metrics rows. Floats are encoded with strconv.FormatFloat 'g' so
// 0, 1.5 and 2 always render the same way regardless of how the value
// was produced.
func ComputeParamID(p domain.StrategyParams) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d",
		p.ORMinutes,
		formatFloat(p.TargetMultiplier),
		string(p.StopLossType),
		string(p.TradeDirection),
		p.ExitTime,
		formatFloat(p.MaxORFilterPct),
		string(p.EntryConfirmation),
		formatFloat(p.TrailingStopPct),
		formatFloat(p.ATRMultiplier),
		p.ATRPeriod,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
