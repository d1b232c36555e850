package domain

import "math"

// Relation lifecycle defaults. A relation's weight decays exponentially per
// elapsed step; once it falls under the delete threshold the edge is
// considered dead regardless of what the current turn detected.
const (
	DefaultDecayBase       = 0.98
	DefaultDeleteThreshold = 0.12

	// ReplaceBaselineWeight is the reset weight after a REPLACE, so weight
	// history never leaks across a label change.
	ReplaceBaselineWeight = 0.5

	MinActionDelta     = 0.04
	MaxActionDelta     = 0.4
	DefaultActionDelta = 0.12
)

// ComputeDecayedWeight applies exponential decay over deltaSteps elapsed
// turns. Negative step deltas are treated as zero.
func ComputeDecayedWeight(weight float64, deltaSteps int, base float64) float64 {
	if deltaSteps < 0 {
		deltaSteps = 0
	}
	if base <= 0 || base >= 1 {
		base = DefaultDecayBase
	}
	return weight * math.Pow(base, float64(deltaSteps))
}

type LifecycleDecision struct {
	Action   string `json:"action"`
	OldLabel string `json:"old_label,omitempty"`
	NewLabel string `json:"new_label,omitempty"`
}

// DecideAction picks the mutation for an existing relation: decay below the
// threshold wins, then a label change, then plain evolution.
func DecideAction(currentLabel, detectedLabel string, decayedWeight, threshold float64) LifecycleDecision {
	if decayedWeight < threshold {
		return LifecycleDecision{Action: ActionDelete}
	}
	if currentLabel != detectedLabel {
		return LifecycleDecision{
			Action:   ActionReplace,
			OldLabel: currentLabel,
			NewLabel: detectedLabel,
		}
	}
	return LifecycleDecision{Action: ActionEvolve}
}

// ClampActionDelta bounds an EVOLVE delta to [MinActionDelta, MaxActionDelta],
// substituting the default when the input is not a finite number.
func ClampActionDelta(delta float64) float64 {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return DefaultActionDelta
	}
	return math.Min(MaxActionDelta, math.Max(MinActionDelta, delta))
}
