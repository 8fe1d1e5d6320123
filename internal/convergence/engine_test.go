package convergence

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/internal/substrate/mock"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memTrajRepo struct {
	mu    sync.Mutex
	items map[swarmmodel.ID]*swarmmodel.Trajectory
}

func newMemTrajRepo() *memTrajRepo {
	return &memTrajRepo{items: make(map[swarmmodel.ID]*swarmmodel.Trajectory)}
}

func (r *memTrajRepo) Create(_ context.Context, t *swarmmodel.Trajectory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[t.ID] = t
	return nil
}
func (r *memTrajRepo) Update(_ context.Context, t *swarmmodel.Trajectory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[t.ID] = t
	return nil
}
func (r *memTrajRepo) Get(_ context.Context, id swarmmodel.ID) (*swarmmodel.Trajectory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id], nil
}
func (r *memTrajRepo) GetByTask(_ context.Context, taskID swarmmodel.ID) (*swarmmodel.Trajectory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.items {
		if t.TaskID == taskID {
			return t, nil
		}
	}
	return nil, nil
}

// levelScriptExtractor returns a SignalExtractor that walks a fixed
// sequence of convergence levels, one per call.
func levelScriptExtractor(levels []float64) SignalExtractor {
	i := 0
	return func(ctx context.Context, task *swarmmodel.Task, result substrate.Result) (swarmmodel.Signals, float64, swarmmodel.Artifact, error) {
		lvl := levels[i]
		if i < len(levels)-1 {
			i++
		}
		failed := 1
		if lvl >= 0.9 {
			failed = 0
		}
		return swarmmodel.Signals{Tests: swarmmodel.TestSignals{Failed: failed, Total: 10}, Build: swarmmodel.BuildSignals{Success: lvl >= 0.9}}, lvl, swarmmodel.Artifact{Path: "out.go"}, nil
	}
}

func noopPrompt(task *swarmmodel.Task, trajectory *swarmmodel.Trajectory, strategy swarmmodel.StrategyKind, reason string) string {
	return "prompt"
}

// TestEngine_LimitCycleTriggersFreshStart drives three iterations
// producing convergence levels {0.42, 0.41, 0.43}; the third must classify
// as LimitCycle and the engine must select FreshStart with
// fresh_start_number=1 on the following iteration.
func TestEngine_LimitCycleTriggersFreshStart(t *testing.T) {
	ctx := context.Background()
	trajRepo := newMemTrajRepo()
	sub := mock.New(func(req substrate.Request, attempt int) substrate.Result { return substrate.Result{} })

	extract := levelScriptExtractor([]float64{0.42, 0.41, 0.43})
	engine := New(trajRepo, sub, nil, DefaultConfig(), noopPrompt, extract)

	task := &swarmmodel.Task{ID: swarmmodel.NewID()}
	trajectory, err := engine.Start(ctx, task, "moderate")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.Iterate(ctx, task, trajectory, false, 1); err != nil {
			t.Fatalf("Iterate %d: %v", i, err)
		}
	}

	if trajectory.CurrentAttractor.Kind != swarmmodel.AttractorLimitCycle {
		t.Fatalf("expected LimitCycle after three oscillating observations, got %v", trajectory.CurrentAttractor.Kind)
	}

	strategy, _ := SelectStrategy(trajectory, false)
	if strategy != swarmmodel.StrategyFreshStart {
		t.Fatalf("expected FreshStart, got %v", strategy)
	}

	// Drive one more iteration; the engine must have applied the fresh
	// start (fresh_start_number=1) as part of that same call since
	// SelectStrategy will choose FreshStart internally.
	if _, err := engine.Iterate(ctx, task, trajectory, false, 1); err != nil {
		t.Fatalf("Iterate fresh start: %v", err)
	}
	if trajectory.FreshStartCount != 1 {
		t.Fatalf("expected fresh_start_count=1, got %d", trajectory.FreshStartCount)
	}
}

// TestAccept_RequiresFixedPointCleanBuild: an accepted trajectory always
// shows a FixedPoint attractor, zero failing tests, a clean build, and a
// convergence level at or above the policy threshold.
func TestAccept_RequiresFixedPointCleanBuild(t *testing.T) {
	trajectory := &swarmmodel.Trajectory{
		Policy: swarmmodel.Policy{AcceptanceThreshold: 0.9},
		Observations: []swarmmodel.Observation{
			{
				ConvergenceLevel: 0.95,
				Signals:          swarmmodel.Signals{Tests: swarmmodel.TestSignals{Failed: 0}, Build: swarmmodel.BuildSignals{Success: true}},
				AttractorType:    swarmmodel.AttractorType{Kind: swarmmodel.AttractorFixedPoint},
			},
		},
	}
	if !Accept(trajectory) {
		t.Fatal("expected accept to be true")
	}
	last := trajectory.LastObservation()
	if !last.Signals.Build.Success || last.Signals.Tests.Failed != 0 || last.ConvergenceLevel < trajectory.Policy.AcceptanceThreshold {
		t.Fatal("accepted trajectory violates P7 invariant")
	}
}

// TestEngine_BudgetNeverIncreases: budget fields never
// increase across iterations absent an explicit extension grant.
func TestEngine_BudgetNeverIncreases(t *testing.T) {
	ctx := context.Background()
	trajRepo := newMemTrajRepo()
	sub := mock.New(func(req substrate.Request, attempt int) substrate.Result { return substrate.Result{} })
	extract := levelScriptExtractor([]float64{0.1, 0.2, 0.3})
	engine := New(trajRepo, sub, nil, DefaultConfig(), noopPrompt, extract)

	task := &swarmmodel.Task{ID: swarmmodel.NewID()}
	trajectory, _ := engine.Start(ctx, task, "moderate")

	prevIter := trajectory.Budget.IterRemaining
	prevTok := trajectory.Budget.TokenRemaining
	for i := 0; i < 3; i++ {
		_, err := engine.Iterate(ctx, task, trajectory, false, 1)
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		if trajectory.Budget.IterRemaining >= prevIter || trajectory.Budget.TokenRemaining >= prevTok {
			t.Fatalf("budget did not decrease monotonically at iteration %d", i)
		}
		prevIter = trajectory.Budget.IterRemaining
		prevTok = trajectory.Budget.TokenRemaining
	}
}

// TestEngine_FreshStartCarriesFailureSummaryAndGaps: the prompt emitted for a FreshStart iteration contains the best
// prior observation's failure summary and remaining gaps.
func TestEngine_FreshStartCarriesFailureSummaryAndGaps(t *testing.T) {
	ctx := context.Background()
	trajRepo := newMemTrajRepo()
	sub := mock.New(func(req substrate.Request, attempt int) substrate.Result { return substrate.Result{} })
	extract := func(ctx context.Context, task *swarmmodel.Task, result substrate.Result) (swarmmodel.Signals, float64, swarmmodel.Artifact, error) {
		return swarmmodel.Signals{
			Tests:      swarmmodel.TestSignals{Failed: 2, Total: 10},
			Build:      swarmmodel.BuildSignals{Success: false},
			IntentGaps: []swarmmodel.IntentGap{{Description: "missing edge case", Severity: swarmmodel.GapMajor}},
		}, 0.42, swarmmodel.Artifact{Path: "out.go", ContentHash: "abc"}, nil
	}

	var prompts []string
	capture := func(task *swarmmodel.Task, trajectory *swarmmodel.Trajectory, strategy swarmmodel.StrategyKind, reason string) string {
		p := trajectory.SpecEvolution.Effective
		prompts = append(prompts, p)
		return p
	}
	engine := New(trajRepo, sub, nil, DefaultConfig(), capture, extract)

	task := &swarmmodel.Task{ID: swarmmodel.NewID(), Description: "implement the parser"}
	trajectory, _ := engine.Start(ctx, task, "moderate")

	// One failing iteration records the best-so-far observation.
	if _, err := engine.Iterate(ctx, task, trajectory, false, 1); err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	// An explicit hint forces the fresh start on the next iteration.
	trajectory.SpecEvolution.Effective += "\nconvergence:fresh_start"
	if _, err := engine.Iterate(ctx, task, trajectory, false, 1); err != nil {
		t.Fatalf("Iterate fresh start: %v", err)
	}

	if trajectory.FreshStartCount != 1 {
		t.Fatalf("expected a fresh start to be applied, fresh_start_count=%d", trajectory.FreshStartCount)
	}
	if len(trajectory.SpecEvolution.History) == 0 {
		t.Fatal("expected prior spec to be preserved in history")
	}

	freshPrompt := prompts[len(prompts)-1]
	for _, want := range []string{"out.go", "2/10 tests failing", "missing edge case"} {
		if !strings.Contains(freshPrompt, want) {
			t.Fatalf("fresh-start prompt missing %q:\n%s", want, freshPrompt)
		}
	}
	if strings.Contains(freshPrompt, "convergence:fresh_start") {
		t.Fatal("fresh start must consume the hint, not re-emit it")
	}
}
