package depgraph

import (
	"time"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// PriorityWeights configures the bonuses folded into calculated
// priority. DepthWeight defaults to 0.5.
type PriorityWeights struct {
	DepthWeight float64
}

// DefaultPriorityWeights returns the default depth_weight of 0.5.
func DefaultPriorityWeights() PriorityWeights {
	return PriorityWeights{DepthWeight: 0.5}
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CalculatedPriority implements the formula:
//
//	computed = base + clamp(depth * depth_weight, 0, 5) + age_bonus + deadline_bonus
//	age_bonus = min(floor(minutes_since_submit/30), 3)
//	deadline_bonus = 3 if deadline - now < 1h else 0
func CalculatedPriority(priority swarmmodel.Priority, depth int, submittedAt time.Time, deadline *time.Time, now time.Time, weights PriorityWeights) float64 {
	base := priority.BaseScore()
	depthBonus := clamp(float64(depth)*weights.DepthWeight, 0, 5)

	minutesSince := now.Sub(submittedAt).Minutes()
	ageBonus := float64(int(minutesSince) / 30)
	if ageBonus > 3 {
		ageBonus = 3
	}
	if ageBonus < 0 {
		ageBonus = 0
	}

	deadlineBonus := 0.0
	if deadline != nil && deadline.Sub(now) < time.Hour {
		deadlineBonus = 3
	}

	return base + depthBonus + ageBonus + deadlineBonus
}
