package convergence

import (
	"testing"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// TestSelectStrategy_FocusedRepairOnLocalizedFailure covers the
// FocusedRepair trigger: tests partially green, failure localized to a
// single failing test and at most one build error.
func TestSelectStrategy_FocusedRepairOnLocalizedFailure(t *testing.T) {
	traj := &swarmmodel.Trajectory{
		Observations: []swarmmodel.Observation{{
			Iteration: 0,
			Signals: swarmmodel.Signals{
				Tests: swarmmodel.TestSignals{Failed: 1, FailingNames: []string{"TestFoo"}},
				Build: swarmmodel.BuildSignals{Success: true},
			},
		}},
		Policy: swarmmodel.Policy{MaxFreshStarts: 3},
	}

	strategy, _ := SelectStrategy(traj, false)
	if strategy != swarmmodel.StrategyFocusedRepair {
		t.Fatalf("expected FocusedRepair, got %v", strategy)
	}
}

// TestSelectStrategy_RetryWithFeedbackOnBroadFailure covers the
// non-localized counterpart: many failing tests (or a failed build) keeps
// RetryWithFeedback as the selection instead of FocusedRepair.
func TestSelectStrategy_RetryWithFeedbackOnBroadFailure(t *testing.T) {
	traj := &swarmmodel.Trajectory{
		Observations: []swarmmodel.Observation{{
			Iteration: 0,
			Signals: swarmmodel.Signals{
				Tests: swarmmodel.TestSignals{Failed: 5, FailingNames: []string{"A", "B", "C", "D", "E"}},
				Build: swarmmodel.BuildSignals{Success: true},
			},
		}},
		Policy: swarmmodel.Policy{MaxFreshStarts: 3},
	}

	strategy, _ := SelectStrategy(traj, false)
	if strategy != swarmmodel.StrategyRetryWithFeedback {
		t.Fatalf("expected RetryWithFeedback, got %v", strategy)
	}
}

// TestSelectStrategy_RetryWithFeedbackOnFailedBuild covers the build-failure
// branch of the non-localized counterpart: a failed build is never
// "localized", regardless of test outcome.
func TestSelectStrategy_RetryWithFeedbackOnFailedBuild(t *testing.T) {
	traj := &swarmmodel.Trajectory{
		Observations: []swarmmodel.Observation{{
			Iteration: 0,
			Signals: swarmmodel.Signals{
				Tests: swarmmodel.TestSignals{Failed: 1, FailingNames: []string{"TestFoo"}},
				Build: swarmmodel.BuildSignals{Success: false, ErrorCount: 3},
			},
		}},
		Policy: swarmmodel.Policy{MaxFreshStarts: 3},
	}

	strategy, _ := SelectStrategy(traj, false)
	if strategy != swarmmodel.StrategyRetryWithFeedback {
		t.Fatalf("expected RetryWithFeedback, got %v", strategy)
	}
}

// TestSelectStrategy_FirstIteration covers the "first iteration" candidate
// still winning when there is no prior observation at all.
func TestSelectStrategy_FirstIteration(t *testing.T) {
	traj := &swarmmodel.Trajectory{Policy: swarmmodel.Policy{MaxFreshStarts: 3}}

	strategy, reason := SelectStrategy(traj, false)
	if strategy != swarmmodel.StrategyRetryWithFeedback || reason != "first iteration" {
		t.Fatalf("expected RetryWithFeedback/first iteration, got %v/%q", strategy, reason)
	}
}
