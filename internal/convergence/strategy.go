// Package convergence implements the convergence engine:
// trajectories iterated by strategy selection until an acceptance attractor
// is reached or the budget is exhausted. Strategy selection is a pure
// function of the trajectory history, so a given history always yields
// the same next strategy.
package convergence

import (
	"math"
	"strings"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// SelectStrategy picks the next strategy deterministically from the
// trajectory history. Every strategy whose trigger condition currently
// holds is a candidate; ties are broken by declaration order
// (RetryWithFeedback, FocusedRepair, IncrementalRefinement, Reframe,
// Decompose, AlternativeApproach, FreshStart).
func SelectStrategy(t *swarmmodel.Trajectory, complexityRevisedUp bool) (swarmmodel.StrategyKind, string) {
	last := t.LastObservation()

	type candidate struct {
		kind   swarmmodel.StrategyKind
		reason string
		match  bool
	}

	freshStartsLeft := t.FreshStartCount < t.Policy.MaxFreshStarts

	candidates := []candidate{
		{swarmmodel.StrategyRetryWithFeedback, "first iteration", last == nil},
		{swarmmodel.StrategyFocusedRepair, "failure is localized to a small set of tests/errors", isLocalizedFailure(last)},
		{swarmmodel.StrategyIncrementalRefine, "convergence level above 0.7 but not yet accepted", last != nil && last.ConvergenceLevel > 0.7},
		{swarmmodel.StrategyReframe, "attractor flat for two or more iterations", countConsecutiveFlat(t) >= 2},
		{swarmmodel.StrategyDecompose, "complexity estimate revised upward mid-trajectory", complexityRevisedUp},
		{swarmmodel.StrategyAlternativeApproach, "three or more prior strategies made no improvement", countDistinctRecentStrategies(t, 3) >= 3 && noRecentImprovement(t, 3)},
		{swarmmodel.StrategyFreshStart, "trajectory trapped in a limit cycle", freshStartsLeft && last != nil && last.AttractorType.Kind == swarmmodel.AttractorLimitCycle},
		{swarmmodel.StrategyFreshStart, "explicit convergence:fresh_start hint", freshStartsLeft && hasFreshStartHint(t)},
		{swarmmodel.StrategyFreshStart, "three consecutive diverging observations", freshStartsLeft && lastThreeDiverged(t)},
	}

	for _, c := range candidates {
		if c.match {
			return c.kind, c.reason
		}
	}
	if didPreviousIterationFail(t) {
		return swarmmodel.StrategyRetryWithFeedback, "previous iteration failed"
	}
	return swarmmodel.StrategyRetryWithFeedback, "default retry with feedback"
}

func hasFreshStartHint(t *swarmmodel.Trajectory) bool {
	return strings.Contains(t.SpecEvolution.Effective, "convergence:fresh_start")
}

func didPreviousIterationFail(t *swarmmodel.Trajectory) bool {
	last := t.LastObservation()
	if last == nil {
		return false
	}
	return last.Signals.Tests.Failed > 0 || !last.Signals.Build.Success
}

// isLocalizedFailure holds when the failure is narrow enough to name: at
// least one and at most two known failing tests and at most one build
// error. An unnamed failure can't be repaired in a focused way.
func isLocalizedFailure(o *swarmmodel.Observation) bool {
	if o == nil {
		return false
	}
	if o.Signals.Tests.Failed == 0 {
		return false
	}
	n := len(o.Signals.Tests.FailingNames)
	if n == 0 || n > 2 {
		return false
	}
	return o.Signals.Build.ErrorCount <= 1
}

func countConsecutiveFlat(t *swarmmodel.Trajectory) int {
	count := 0
	for i := len(t.Observations) - 1; i >= 0; i-- {
		o := t.Observations[i]
		if o.AttractorType.Kind == swarmmodel.AttractorIndeterminate && o.AttractorType.Tendency == swarmmodel.TendencyFlat {
			count++
			continue
		}
		break
	}
	return count
}

func countDistinctRecentStrategies(t *swarmmodel.Trajectory, n int) int {
	seen := map[swarmmodel.StrategyKind]bool{}
	start := len(t.StrategyLog) - n
	if start < 0 {
		start = 0
	}
	for _, e := range t.StrategyLog[start:] {
		seen[e.Strategy] = true
	}
	return len(seen)
}

// noRecentImprovement reports whether none of the last n observations rose
// above the best convergence level reached before them.
func noRecentImprovement(t *swarmmodel.Trajectory, n int) bool {
	split := len(t.Observations) - n
	if split < 1 {
		return false
	}
	best := 0.0
	for _, o := range t.Observations[:split] {
		best = math.Max(best, o.ConvergenceLevel)
	}
	for _, o := range t.Observations[split:] {
		if o.ConvergenceLevel > best {
			return false
		}
	}
	return true
}

func lastThreeDiverged(t *swarmmodel.Trajectory) bool {
	if len(t.Observations) < 3 {
		return false
	}
	for _, o := range t.Observations[len(t.Observations)-3:] {
		if o.AttractorType.Kind != swarmmodel.AttractorStrange {
			return false
		}
	}
	return true
}
