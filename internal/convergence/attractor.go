package convergence

import "github.com/abathur/swarm/pkg/swarmmodel"

// limitCycleWindow is how many trailing convergence levels are inspected for
// oscillation when classifying a LimitCycle attractor.
const limitCycleWindow = 3

// limitCycleEpsilon bounds how far each level in the window may sit from the
// window's mean before it no longer counts as oscillating around a fixed
// value.
const limitCycleEpsilon = 0.03

// ClassifyAttractor classifies the trajectory's current attractor from
// its observed convergence-level sequence. obs must include the
// just-produced observation as its last element.
func ClassifyAttractor(obs []swarmmodel.Observation, acceptanceThreshold float64) swarmmodel.AttractorType {
	if len(obs) == 0 {
		return swarmmodel.AttractorType{Kind: swarmmodel.AttractorIndeterminate, Tendency: swarmmodel.TendencyFlat}
	}
	last := obs[len(obs)-1]

	if last.ConvergenceLevel >= acceptanceThreshold && last.Signals.Tests.Failed == 0 && last.Signals.Build.Success {
		return swarmmodel.AttractorType{Kind: swarmmodel.AttractorFixedPoint, Confidence: last.ConvergenceLevel}
	}

	if len(obs) >= limitCycleWindow {
		window := obs[len(obs)-limitCycleWindow:]
		if oscillatesAroundMean(window, limitCycleEpsilon) {
			return swarmmodel.AttractorType{Kind: swarmmodel.AttractorLimitCycle, Period: limitCycleWindow}
		}
	}

	if len(obs) >= 2 {
		prev := obs[len(obs)-2]
		if last.ConvergenceLevel < prev.ConvergenceLevel && highVariance(obs) {
			return swarmmodel.AttractorType{Kind: swarmmodel.AttractorStrange}
		}
	}

	return swarmmodel.AttractorType{Kind: swarmmodel.AttractorIndeterminate, Tendency: movingAverageTendency(obs)}
}

// oscillatesAroundMean reports whether every level in window sits within
// epsilon of the window's mean, which is the signature of a trajectory
// repeatedly landing near the same convergence level without improving past
// it (a limit cycle).
func oscillatesAroundMean(window []swarmmodel.Observation, epsilon float64) bool {
	mean := 0.0
	for _, o := range window {
		mean += o.ConvergenceLevel
	}
	mean /= float64(len(window))

	spanning := false
	for _, o := range window {
		d := o.ConvergenceLevel - mean
		if d < 0 {
			d = -d
		}
		if d > epsilon {
			return false
		}
		if d > epsilon/4 {
			spanning = true
		}
	}
	// A flat run sitting exactly at one value is a fixed point in the
	// making, not a cycle; require some non-trivial spread within the band.
	return spanning
}

// highVariance reports whether the trailing convergence levels show
// substantial spread, distinguishing a genuinely divergent (strange
// attractor) trajectory from simple steady decline.
func highVariance(obs []swarmmodel.Observation) bool {
	window := obs
	if len(window) > limitCycleWindow {
		window = window[len(window)-limitCycleWindow:]
	}
	if len(window) < 2 {
		return false
	}
	mean := 0.0
	for _, o := range window {
		mean += o.ConvergenceLevel
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, o := range window {
		d := o.ConvergenceLevel - mean
		variance += d * d
	}
	variance /= float64(len(window))
	return variance > limitCycleEpsilon*limitCycleEpsilon
}

// movingAverageTendency computes the sign of the slope of a 3-point moving
// average over the trailing observations.
func movingAverageTendency(obs []swarmmodel.Observation) swarmmodel.Tendency {
	n := len(obs)
	if n < 2 {
		return swarmmodel.TendencyFlat
	}
	window := 3
	if n < window {
		window = n
	}
	recent := obs[n-window:]
	first := recent[0].ConvergenceLevel
	last := recent[len(recent)-1].ConvergenceLevel
	delta := last - first
	switch {
	case delta > limitCycleEpsilon:
		return swarmmodel.TendencyRising
	case delta < -limitCycleEpsilon:
		return swarmmodel.TendencyFalling
	default:
		return swarmmodel.TendencyFlat
	}
}
