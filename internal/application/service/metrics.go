package service

import (
	"errors"
	"fmt"
)

// ErrComputeSkip marks a row whose derived metrics cannot be computed; the
// caller skips the row instead of treating it as a pipeline failure.
var ErrComputeSkip = errors.New("metrics skipped")

// Metrics are the derived per-instrument fields written alongside each quote.
type Metrics struct {
	ChangeAmount  float64
	ChangePercent float64
	LimitUp       bool
}

// ComputeMetrics derives change amount, change percent and the limit-up flag
// from one decoded row. Pure; a zero previous close yields ErrComputeSkip,
// never a panic. The threshold is configuration; markets disagree on the
// limit-up rule.
func ComputeMetrics(current, prevClose, limitUpThreshold float64) (Metrics, error) {
	if prevClose == 0 {
		return Metrics{}, fmt.Errorf("%w: previous close is zero", ErrComputeSkip)
	}
	amount := current - prevClose
	percent := amount / prevClose * 100
	return Metrics{
		ChangeAmount:  amount,
		ChangePercent: percent,
		LimitUp:       percent >= limitUpThreshold,
	}, nil
}
