// Package convergence implements the convergence engine:
// trajectories iterated by strategy selection until an acceptance attractor
// is reached or the budget is exhausted. Strategy selection is a pure
// function of the trajectory history, so a given history always yields
// the same next strategy.
package convergence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// estimatedIterations maps task complexity to the basin-width heuristic:
// how many iterations a trajectory of that complexity is expected to take
// to reach its fixed point.
var estimatedIterations = map[string]int{
	"trivial":      1,
	"simple":       2,
	"moderate":     4,
	"complex":      7,
	"very_complex": 10,
}

// PromptBuilder fuses the task spec, strategy-specific context, remaining
// gaps, and carry-forward state into the next dispatch prompt. Supplied by
// the caller so the convergence engine stays agnostic of prompt templates.
type PromptBuilder func(task *swarmmodel.Task, trajectory *swarmmodel.Trajectory, strategy swarmmodel.StrategyKind, reason string) string

// SignalExtractor derives test/build/intent-gap signals and a convergence
// level from one raw substrate result.
type SignalExtractor func(ctx context.Context, task *swarmmodel.Task, result substrate.Result) (swarmmodel.Signals, float64, swarmmodel.Artifact, error)

// Config bounds engine behavior; zero value uses DefaultConfig.
type Config struct {
	AcceptanceThreshold float64
	PartialAcceptance   bool
	MaxFreshStarts      int
	// The per-iteration cost estimates decide when to propose a budget
	// extension.
	TokenCostPerIter  int64
	WallMsCostPerIter int64
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		AcceptanceThreshold: 0.9,
		PartialAcceptance:   false,
		MaxFreshStarts:      3,
		TokenCostPerIter:    20000,
		WallMsCostPerIter:   60000,
	}
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Engine drives trajectories through the strategy/attractor/budget loop.
type Engine struct {
	trajectories repo.TrajectoryRepository
	substrate    substrate.Substrate
	bus          *eventbus.Bus
	cfg          Config
	buildPrompt  PromptBuilder
	extract      SignalExtractor
	now          Clock
}

// New creates an Engine. buildPrompt and extract are required collaborators
// supplied by the orchestrator wiring.
func New(trajectories repo.TrajectoryRepository, sub substrate.Substrate, bus *eventbus.Bus, cfg Config, buildPrompt PromptBuilder, extract SignalExtractor) *Engine {
	return &Engine{
		trajectories: trajectories,
		substrate:    sub,
		bus:          bus,
		cfg:          cfg,
		buildPrompt:  buildPrompt,
		extract:      extract,
		now:          time.Now,
	}
}

// SetClock overrides the engine's time source (tests only).
func (e *Engine) SetClock(c Clock) { e.now = c }

// Start creates a trajectory for task, bounded by an iteration budget
// derived from complexity's estimated-iterations table, and persists it.
func (e *Engine) Start(ctx context.Context, task *swarmmodel.Task, complexity string) (*swarmmodel.Trajectory, error) {
	iters := estimatedIterations[complexity]
	if iters == 0 {
		iters = estimatedIterations["moderate"]
	}

	effective := task.Description
	if task.Context.HasHint("convergence:fresh_start") {
		effective += "\nconvergence:fresh_start"
	}

	trajectory := &swarmmodel.Trajectory{
		ID:     swarmmodel.NewID(),
		TaskID: task.ID,
		GoalID: task.GoalID,
		SpecEvolution: swarmmodel.SpecEvolution{
			Effective: effective,
		},
		Budget: swarmmodel.Budget{
			IterRemaining:   iters,
			TokenRemaining:  int64(iters) * e.cfg.TokenCostPerIter,
			WallRemainingMs: int64(iters) * e.cfg.WallMsCostPerIter,
		},
		Policy: swarmmodel.Policy{
			AcceptanceThreshold: e.cfg.AcceptanceThreshold,
			PartialAcceptance:   e.cfg.PartialAcceptance,
			MaxFreshStarts:      e.cfg.MaxFreshStarts,
		},
	}

	if err := e.trajectories.Create(ctx, trajectory); err != nil {
		return nil, err
	}

	e.emit(ctx, swarmmodel.SeverityInfo, swarmmodel.PayloadConvergenceStarted, task.ID, task.GoalID, map[string]any{
		"trajectory_id":        trajectory.ID,
		"estimated_iterations": iters,
	})
	return trajectory, nil
}

// Resume loads the persisted trajectory for task so a retried convergent
// task picks up its history instead of starting blind. A retry that
// carries the convergence:fresh_start hint has the hint folded into the
// effective specification so the next strategy selection sees it.
func (e *Engine) Resume(ctx context.Context, task *swarmmodel.Task) (*swarmmodel.Trajectory, error) {
	trajectory, err := e.trajectories.GetByTask(ctx, task.ID)
	if err != nil || trajectory == nil {
		return nil, err
	}
	if task.Context.HasHint("convergence:fresh_start") && !strings.Contains(trajectory.SpecEvolution.Effective, "convergence:fresh_start") {
		trajectory.SpecEvolution.Effective += "\nconvergence:fresh_start"
	}
	return trajectory, nil
}

// Iterate runs one convergence iteration: select strategy, build prompt,
// dispatch (possibly fanning out parallel_samples), pick the best
// observation, classify its attractor, append it to the trajectory, and
// persist. complexityRevisedUp lets the caller signal a mid-trajectory
// complexity re-estimate that should trigger Decompose.
func (e *Engine) Iterate(ctx context.Context, task *swarmmodel.Task, trajectory *swarmmodel.Trajectory, complexityRevisedUp bool, parallelSamples int) (*swarmmodel.Observation, error) {
	strategyKind, reason := SelectStrategy(trajectory, complexityRevisedUp)
	iteration := len(trajectory.Observations)

	// A fresh start rewrites the effective specification before the prompt
	// is built, so this iteration's dispatch already carries the best
	// prior artifact, its failure summary, and the remaining gaps.
	if strategyKind == swarmmodel.StrategyFreshStart {
		e.applyFreshStart(ctx, task, trajectory, reason)
	}

	prompt := e.buildPrompt(task, trajectory, strategyKind, reason)

	if parallelSamples < 1 {
		parallelSamples = 1
	}
	results, err := e.substrate.Run(ctx, substrate.Request{
		Prompt:          prompt,
		ParallelSamples: parallelSamples,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]swarmmodel.Observation, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i, result := range results {
		i, result := i, result
		g.Go(func() error {
			signals, level, artifact, err := e.extract(gctx, task, result)
			if err != nil {
				return err
			}
			candidates[i] = swarmmodel.Observation{
				Iteration:        iteration,
				SampleIndex:      i,
				Artifact:         artifact,
				Signals:          signals,
				StrategyUsed:     strategyKind,
				TokensUsed:       result.TokensUsed,
				WallMsUsed:       result.WallMs,
				ConvergenceLevel: level,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range candidates {
		e.emit(ctx, swarmmodel.SeverityInfo, swarmmodel.PayloadConvergenceIteration, task.ID, task.GoalID, map[string]any{
			"trajectory_id":     trajectory.ID,
			"iteration":         iteration,
			"sample_index":      i,
			"convergence_level": candidates[i].ConvergenceLevel,
		})
	}

	best := bestObservation(candidates)
	prevAttractor := trajectory.CurrentAttractor

	obsForClassification := append(append([]swarmmodel.Observation(nil), trajectory.Observations...), best)
	best.AttractorType = ClassifyAttractor(obsForClassification, trajectory.Policy.AcceptanceThreshold)

	trajectory.Observations = append(trajectory.Observations, best)
	trajectory.StrategyLog = append(trajectory.StrategyLog, swarmmodel.StrategyEntry{Iteration: iteration, Strategy: strategyKind, Reason: reason})
	trajectory.CurrentAttractor = best.AttractorType

	e.decrementBudget(ctx, task, trajectory)

	if prevAttractor.Kind != best.AttractorType.Kind {
		e.emit(ctx, swarmmodel.SeverityInfo, swarmmodel.PayloadConvergenceAttractorTransition, task.ID, task.GoalID, map[string]any{
			"trajectory_id": trajectory.ID,
			"from":          prevAttractor.Kind,
			"to":            best.AttractorType.Kind,
		})
	}

	if err := e.trajectories.Update(ctx, trajectory); err != nil {
		return nil, err
	}

	last := trajectory.Observations[len(trajectory.Observations)-1]
	return &last, nil
}

// Accept reports whether the trajectory has reached its acceptance
// attractor: a FixedPoint at or above the policy threshold with a clean
// build and (unless partial acceptance is allowed) zero failing tests.
func Accept(trajectory *swarmmodel.Trajectory) bool {
	last := trajectory.LastObservation()
	if last == nil {
		return false
	}
	if last.AttractorType.Kind != swarmmodel.AttractorFixedPoint {
		return false
	}
	if last.ConvergenceLevel < trajectory.Policy.AcceptanceThreshold {
		return false
	}
	if last.Signals.Tests.Failed != 0 && !trajectory.Policy.PartialAcceptance {
		return false
	}
	return last.Signals.Build.Success
}

// Terminate finalizes a trajectory with outcome and emits
// ConvergenceTerminated.
func (e *Engine) Terminate(ctx context.Context, task *swarmmodel.Task, trajectory *swarmmodel.Trajectory, outcome string) error {
	e.emit(ctx, swarmmodel.SeverityInfo, swarmmodel.PayloadConvergenceTerminated, task.ID, task.GoalID, map[string]any{
		"trajectory_id": trajectory.ID,
		"outcome":       outcome,
	})
	return e.trajectories.Update(ctx, trajectory)
}

// Outcome classifies the terminal state a trajectory should report,
// following the failure-mode surfacing rules.
func Outcome(trajectory *swarmmodel.Trajectory) string {
	if Accept(trajectory) {
		return "converged"
	}
	last := trajectory.LastObservation()
	if last != nil && last.AttractorType.Kind == swarmmodel.AttractorStrange {
		return "diverged"
	}
	if last != nil && last.AttractorType.Kind == swarmmodel.AttractorLimitCycle && trajectory.FreshStartCount >= trajectory.Policy.MaxFreshStarts {
		return "trapped"
	}
	return "budget_exhausted"
}

// bestObservation implements the documented heuristic: max convergence
// level, ties broken by fewer failing tests.
func bestObservation(candidates []swarmmodel.Observation) swarmmodel.Observation {
	sorted := append([]swarmmodel.Observation(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ConvergenceLevel != sorted[j].ConvergenceLevel {
			return sorted[i].ConvergenceLevel > sorted[j].ConvergenceLevel
		}
		return sorted[i].Signals.Tests.Failed < sorted[j].Signals.Tests.Failed
	})
	return sorted[0]
}

// decrementBudget charges one iteration's estimated cost against the
// trajectory's budget and proposes an extension if any field would run dry
// before the next iteration's expected cost.
func (e *Engine) decrementBudget(ctx context.Context, task *swarmmodel.Task, trajectory *swarmmodel.Trajectory) {
	b := &trajectory.Budget
	b.IterRemaining--
	b.TokenRemaining -= e.cfg.TokenCostPerIter
	b.WallRemainingMs -= e.cfg.WallMsCostPerIter

	if b.IterRemaining < 1 || b.TokenRemaining < e.cfg.TokenCostPerIter || b.WallRemainingMs < e.cfg.WallMsCostPerIter {
		e.emit(ctx, swarmmodel.SeverityWarning, swarmmodel.PayloadConvergenceBudgetExtension, task.ID, task.GoalID, map[string]any{
			"trajectory_id":     trajectory.ID,
			"iter_remaining":    b.IterRemaining,
			"token_remaining":   b.TokenRemaining,
			"wall_remaining_ms": b.WallRemainingMs,
		})
	}
}

// applyFreshStart builds the carry-forward snapshot from the
// highest-convergence-level observation so far, rewrites the trajectory's
// effective specification around it, and emits ConvergenceFreshStart. It
// runs before the fresh iteration's prompt is built.
func (e *Engine) applyFreshStart(ctx context.Context, task *swarmmodel.Task, trajectory *swarmmodel.Trajectory, reason string) {
	var best swarmmodel.Observation
	for _, o := range trajectory.Observations {
		if o.ConvergenceLevel >= best.ConvergenceLevel {
			best = o
		}
	}

	carry := swarmmodel.CarryForward{
		SpecEvolution:  trajectory.SpecEvolution.Effective,
		BestArtifact:   best.Artifact,
		BestSignals:    best.Signals,
		FailureSummary: summarizeFailure(best),
		RemainingGaps:  append([]swarmmodel.IntentGap(nil), best.Signals.IntentGaps...),
	}

	trajectory.FreshStartCount++
	trajectory.SpecEvolution.History = append(trajectory.SpecEvolution.History, trajectory.SpecEvolution.Effective)
	trajectory.SpecEvolution.Effective = strings.TrimSpace(
		strings.ReplaceAll(task.Description, "convergence:fresh_start", "") + "\n\n" + encodeCarryForward(carry))

	e.emit(ctx, swarmmodel.SeverityWarning, swarmmodel.PayloadConvergenceFreshStart, task.ID, task.GoalID, map[string]any{
		"trajectory_id":      trajectory.ID,
		"fresh_start_number": trajectory.FreshStartCount,
		"reason":             reason,
	})
}

func summarizeFailure(o swarmmodel.Observation) string {
	return fmt.Sprintf("%d/%d tests failing, build success=%v", o.Signals.Tests.Failed, o.Signals.Tests.Total, o.Signals.Build.Success)
}

func encodeCarryForward(c swarmmodel.CarryForward) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Carrying forward best artifact %s (failure summary: %s).", c.BestArtifact.Path, c.FailureSummary)
	if len(c.RemainingGaps) > 0 {
		b.WriteString(" Remaining gaps:")
		for _, g := range c.RemainingGaps {
			fmt.Fprintf(&b, "\n  - [%s] %s", g.Severity, g.Description)
		}
	}
	return b.String()
}

func (e *Engine) emit(ctx context.Context, sev swarmmodel.Severity, kind swarmmodel.PayloadKind, taskID swarmmodel.ID, goalID *swarmmodel.ID, payload map[string]any) {
	if e.bus == nil {
		return
	}
	tid := taskID
	_ = e.bus.Publish(ctx, &swarmmodel.Event{
		Timestamp:   e.now(),
		Severity:    sev,
		Category:    swarmmodel.CategoryConvergence,
		TaskID:      &tid,
		GoalID:      goalID,
		PayloadKind: kind,
		Payload:     payload,
	})
}
