// Package swarm implements the top-level swarm orchestrator: it wires
// every lower layer together and drives the control-flow happy path --
// poll ready tasks, claim, allocate a worktree, dispatch the substrate
// (directly or through the convergence engine), queue the two-stage
// merge, and let the reactor fan the resulting events out to goal
// evaluation and trigger rules.
package swarm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abathur/swarm/internal/adapter"
	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/config"
	"github.com/abathur/swarm/internal/convergence"
	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/evolution"
	"github.com/abathur/swarm/internal/gitrunner"
	"github.com/abathur/swarm/internal/goalalignment"
	"github.com/abathur/swarm/internal/goalevaluation"
	"github.com/abathur/swarm/internal/logging"
	"github.com/abathur/swarm/internal/mergequeue"
	"github.com/abathur/swarm/internal/reactor"
	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/runsignal"
	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/internal/taskservice"
	"github.com/abathur/swarm/internal/worktree"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Options bounds the orchestrator's own polling/concurrency behavior,
// distinct from config.Config's persisted option groups. Polling pauses
// while MaxConcurrency tasks are in flight.
type Options struct {
	MaxConcurrency int
	PollInterval   time.Duration
	SpawnStagger   time.Duration
	Claimant       string
	// DebugLog receives the verbose scheduling trail; nil means no file
	// logging.
	DebugLog *logging.DebugLogger
}

// DefaultOptions returns the daemon's stock polling parameters.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency: 4,
		PollInterval:   2 * time.Second,
		SpawnStagger:   500 * time.Millisecond,
		Claimant:       "swarmd",
	}
}

// Orchestrator is the assembled engine: every component wired together
// over one SQLite-backed repository set.
type Orchestrator struct {
	opts Options

	db *sqlite.DB

	bus      *eventbus.Bus
	reactor  *reactor.Reactor
	tasks    *taskservice.Service
	taskRepo repo.TaskRepository

	worktrees   *worktree.Registry
	mergeQueue  *mergequeue.Queue
	convergence *convergence.Engine
	substrates  *substrate.Registry

	agents    *agentservice.Service
	evolution *evolution.Loop

	goalEval  *goalevaluation.Service
	alignment *goalalignment.Service

	git     gitrunner.Runner
	signals *runsignal.Watcher
	debug   *logging.DebugLogger

	repoPath       string
	mainBranch     string
	routeConflicts bool
}

// Build assembles an Orchestrator from cfg over db, registering every
// built-in reactor handler and wiring the two-stage merge queue's
// post-merge hook into the worktree registry (the "Control flow
// (happy path)").
func Build(cfg *config.Config, db *sqlite.DB, opts Options) (*Orchestrator, error) {
	if opts.MaxConcurrency <= 0 {
		opts = DefaultOptions()
	}
	debug := opts.DebugLog
	if debug == nil {
		debug = &logging.DebugLogger{}
	}

	events := sqlite.NewEventStore(db)
	bus := eventbus.New(events)

	taskRepo := sqlite.NewTaskRepository(db)
	goalRepo := sqlite.NewGoalRepository(db)
	worktreeRepo := sqlite.NewWorktreeRepository(db)
	templateRepo := sqlite.NewAgentTemplateRepository(db)
	trajectoryRepo := sqlite.NewTrajectoryRepository(db)
	triggerRepo := sqlite.NewTriggerRepository(db)

	git := gitrunner.New(cfg.MergeQueue.RepoPath)

	worktreeDir := cfg.GlobalDataDir() + "/worktrees"
	worktrees, err := worktree.New(worktreeDir, worktreeRepo, git)
	if err != nil {
		return nil, fmt.Errorf("build worktree registry: %w", err)
	}

	signals, err := runsignal.New(cfg.GlobalDataDir())
	if err != nil {
		return nil, fmt.Errorf("build signal watcher: %w", err)
	}

	ts := taskservice.New(taskRepo, bus, taskservice.Config{
		MaxDecompositionDepth: cfg.MetaPlanner.MaxDecompositionDepth,
	})

	substrates := buildSubstrateRegistry(cfg)

	convCfg := convergence.DefaultConfig()
	convCfg.AcceptanceThreshold = cfg.Convergence.MinConfidenceThreshold
	convCfg.PartialAcceptance = cfg.Convergence.AutoRetryPartial
	convCfg.MaxFreshStarts = cfg.Convergence.MaxFreshStarts
	convEngine := convergence.New(trajectoryRepo, substrates, bus, convCfg, buildConvergentPrompt, extractSignals)

	var verifier mergequeue.Verifier = mergequeue.NoopVerifier{}
	mq := mergequeue.New(mergequeue.Config{
		RepoPath:                   cfg.MergeQueue.RepoPath,
		MainBranch:                 cfg.MergeQueue.MainBranch,
		RequireVerification:        cfg.MergeQueue.RequireVerification,
		AutoRetry:                  cfg.MergeQueue.AutoRetry,
		MaxRetries:                 cfg.MergeQueue.MaxRetries,
		RouteConflictsToSpecialist: cfg.MergeQueue.RouteConflictsToSpecialist,
	}, git, verifier, bus)
	mq.OnStage2Merged = func(ctx context.Context, taskID swarmmodel.ID, mergeCommit string) {
		if err := worktrees.MarkMerged(ctx, taskID, mergeCommit); err != nil {
			log.Printf("swarm: mark worktree merged for task %s: %v", taskID, err)
			return
		}
		if err := worktrees.Release(ctx, taskID); err != nil {
			log.Printf("swarm: release worktree for task %s: %v", taskID, err)
		}
	}

	agents := agentservice.New(templateRepo, goalRepo, bus, adapter.NewRegistry().Registrar())
	evoLoop := evolution.New(agents, substrates, bus, evolution.DefaultConfig())

	goalEval := goalevaluation.New(goalRepo, taskRepo, ts)
	minGoalsSatisfied := cfg.Alignment.MinGoalsSatisfied
	alignment := goalalignment.New(goalRepo, goalalignment.Config{
		MinAlignmentScore:          cfg.Alignment.MinAlignmentScore,
		PriorityWeight:             cfg.Alignment.PriorityWeight,
		ConstraintViolationPenalty: cfg.Alignment.ConstraintViolationPenalty,
		MinGoalsSatisfied:          &minGoalsSatisfied,
	})

	o := &Orchestrator{
		opts:        opts,
		db:          db,
		bus:         bus,
		tasks:       ts,
		taskRepo:    taskRepo,
		worktrees:   worktrees,
		mergeQueue:  mq,
		convergence: convEngine,
		substrates:  substrates,
		agents:      agents,
		evolution:   evoLoop,
		goalEval:    goalEval,
		alignment:   alignment,
		git:         git,
		signals:     signals,
		debug:       debug,

		repoPath:       cfg.MergeQueue.RepoPath,
		mainBranch:     cfg.MergeQueue.MainBranch,
		routeConflicts: cfg.MergeQueue.RouteConflictsToSpecialist,
	}
	if o.mainBranch == "" {
		o.mainBranch = "main"
	}

	o.reactor = reactor.New(bus)
	o.registerHandlers(triggerRepo)

	return o, nil
}

// buildSubstrateRegistry wires cfg.Substrates' enabled/default/
// agent_mappings knobs into a substrate.Registry. Per-substrate backends
// are resolved by id: only "mock", "cli", and "anthropic_api" are
// understood here; unknown ids are skipped with a log line rather than
// failing startup.
func buildSubstrateRegistry(cfg *config.Config) *substrate.Registry {
	reg := substrate.NewRegistry(cfg.Substrates.Default)
	for _, id := range cfg.Substrates.Enabled {
		backend, err := newSubstrateBackend(id, cfg.Substrates.PerSubstrate[id])
		if err != nil {
			log.Printf("swarm: skipping substrate %q: %v", id, err)
			continue
		}
		reg.Register(id, backend)
	}
	for agentType, id := range cfg.Substrates.AgentMappings {
		reg.MapAgentType(agentType, id)
	}
	return reg
}

// registerHandlers wires every built-in EventHandler into
// the reactor, in the declared order (trigger rules first, then the
// narrower built-ins).
func (o *Orchestrator) registerHandlers(triggers repo.TriggerRepository) {
	o.reactor.Register(&reactor.TriggerRuleHandler{
		Triggers: triggers,
		Submit:   o.submitTriggeredTask,
	})
	o.reactor.Register(&reactor.ConvergenceSLAPressureHandler{Tasks: o.taskRepo})
	o.reactor.Register(&reactor.BranchCompletionDetector{Tasks: o.taskRepo})
	if o.routeConflicts {
		o.reactor.Register(&reactor.MergeConflictRouter{
			Tasks:  o.taskRepo,
			Submit: o.submitTriggeredTask,
			Retry:  o.mergeQueue.RetryAfterConflictResolution,
		})
	}
	o.reactor.Register(&reactor.GoalEvaluationOnCompletion{
		Evaluate: o.evaluateGoal,
		Throttle: time.Minute,
	})
	o.reactor.Register(&reactor.EvolutionRefinementProcessor{Drain: o.evolution.Drain})
}

// submitTriggeredTask adapts a reactor-constructed Task into a
// taskservice.Spec submission, keeping the reactor decoupled from
// internal/taskservice.
func (o *Orchestrator) submitTriggeredTask(ctx context.Context, t *swarmmodel.Task) error {
	_, err := o.tasks.Submit(ctx, taskservice.Spec{
		Title:          t.Title,
		Description:    t.Description,
		Priority:       t.Priority,
		AgentType:      t.AgentType,
		Context:        t.Context,
		IdempotencyKey: t.IdempotencyKey,
		Source:         t.Source,
	})
	return err
}

// evaluateGoal runs one alignment-weighted evaluation cycle for goalID,
// adapting goalevaluation's whole-fleet RunEvaluationCycle to the single
// goal a GoalEvaluationOnCompletion handler fired for (the
// service evaluates every Active goal each cycle; a single-goal
// completion still re-runs the full cycle since corrective-task
// idempotency keys make repeats free).
func (o *Orchestrator) evaluateGoal(ctx context.Context, _ swarmmodel.ID) error {
	_, err := o.goalEval.RunEvaluationCycle(ctx)
	return err
}

// TaskService exposes the assembled task service for callers outside this
// package (cmd/swarmd's MCP/HTTP wiring, swarmctl's direct-mode commands).
func (o *Orchestrator) TaskService() *taskservice.Service { return o.tasks }

// AgentService exposes the assembled agent service.
func (o *Orchestrator) AgentService() *agentservice.Service { return o.agents }

// EventBus exposes the assembled event bus (e.g. for swarmctl watch).
func (o *Orchestrator) EventBus() *eventbus.Bus { return o.bus }

// MergeQueue exposes the assembled merge queue.
func (o *Orchestrator) MergeQueue() *mergequeue.Queue { return o.mergeQueue }

// Run drives the orchestrator until ctx is cancelled: it sweeps stale
// in-progress state left by a prior crash/shutdown, starts
// the reactor and merge-queue drain loops, then runs the scheduling poll
// loop until ctx is cancelled or a stop signal arrives.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.signals.Clear()
	defer o.signals.Close()

	if err := o.startupSweep(ctx); err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { o.reactor.Run(gctx); return nil })
	g.Go(func() error { return o.drainMergeQueue(gctx) })
	g.Go(func() error { return o.pollLoop(gctx) })

	return g.Wait()
}

// startupSweep implements the "No durable state is left in
// InProgress across shutdowns": every Allocated/Active worktree left by a
// prior process is marked Abandoned so a restart never inherits dangling
// worktrees.
func (o *Orchestrator) startupSweep(ctx context.Context) error {
	swept, err := o.worktrees.Sweep(ctx)
	if err != nil {
		return err
	}
	for _, wt := range swept {
		log.Printf("swarm: swept stale worktree for task %s (was %s)", wt.TaskID, wt.Status)
	}
	return nil
}

// drainMergeQueue continuously processes the merge queue's FIFO until ctx
// is cancelled, sleeping briefly when the queue is empty. A completed
// Stage-1 merge chains into the Stage-2 submission for the same task, so
// Stage 2 is never submitted for work that failed to land on its feature
// branch.
func (o *Orchestrator) drainMergeQueue(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		req, err := o.mergeQueue.ProcessNext(ctx)
		if err != nil {
			log.Printf("swarm: merge queue processing error: %v", err)
		}
		if req != nil && req.Stage == mergequeue.StageAgentToTask && req.Status == mergequeue.StatusCompleted {
			o.debug.Log("stage1 merge completed for task %s, chaining stage2 %s -> %s", req.TaskID, req.TargetBranch, o.mainBranch)
			if _, err := o.mergeQueue.Enqueue(ctx, req.TaskID, mergequeue.StageTaskToMain, req.TargetBranch, o.mainBranch, o.repoPath); err != nil {
				log.Printf("swarm: enqueue stage2 merge for task %s: %v", req.TaskID, err)
			}
		}
		if req == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(o.opts.PollInterval):
			}
		}
	}
}

// inflight tracks one claimed task's running execution.
type inflight struct {
	taskID swarmmodel.ID
	cancel context.CancelFunc
}

// pollLoop is the scheduling loop of the happy path: poll ready
// tasks, claim up to MaxConcurrency at a time, spawn a runner goroutine
// per claimed task, and react to completions: an inflight map guarded by
// a mutex, a completion channel, and a default-branch select that polls
// for new ready work when nothing just completed.
func (o *Orchestrator) pollLoop(ctx context.Context) error {
	inflightTasks := make(map[swarmmodel.ID]*inflight)
	var mu sync.Mutex
	completions := make(chan swarmmodel.ID, o.opts.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, inf := range inflightTasks {
				inf.cancel()
			}
			mu.Unlock()
			return nil

		case id := <-completions:
			mu.Lock()
			delete(inflightTasks, id)
			mu.Unlock()

		default:
			if o.signals.ShouldStop() {
				log.Print("swarm: stop signal received, draining")
				mu.Lock()
				for _, inf := range inflightTasks {
					inf.cancel()
				}
				mu.Unlock()
				return nil
			}
			if o.signals.ShouldPause() {
				o.waitForCompletion(ctx, completions, &mu, inflightTasks)
				continue
			}

			mu.Lock()
			running := len(inflightTasks)
			mu.Unlock()

			capacity := o.opts.MaxConcurrency - running
			if capacity <= 0 {
				o.waitForCompletion(ctx, completions, &mu, inflightTasks)
				continue
			}

			ready, err := o.tasks.GetReady(ctx, capacity)
			if err != nil {
				log.Printf("swarm: get ready tasks: %v", err)
				o.waitForCompletion(ctx, completions, &mu, inflightTasks)
				continue
			}
			if len(ready) == 0 {
				o.waitForCompletion(ctx, completions, &mu, inflightTasks)
				continue
			}

			for i, task := range ready {
				if i > 0 && o.opts.SpawnStagger > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(o.opts.SpawnStagger):
					}
				}

				o.debug.Log("spawning runner for task %s (priority %.1f)", task.ID, task.CalculatedPriority)
				taskCtx, cancel := context.WithCancel(ctx)
				mu.Lock()
				inflightTasks[task.ID] = &inflight{taskID: task.ID, cancel: cancel}
				mu.Unlock()

				go func(t *swarmmodel.Task) {
					defer cancel()
					if err := o.runTask(taskCtx, t); err != nil {
						log.Printf("swarm: task %s failed: %v", t.ID, err)
					}
					select {
					case completions <- t.ID:
					case <-ctx.Done():
					}
				}(task)
			}
		}
	}
}

// waitForCompletion blocks briefly for either a completion signal or the
// poll interval to elapse, so a saturated scheduler resumes as soon as
// one in-flight task terminates.
func (o *Orchestrator) waitForCompletion(ctx context.Context, completions chan swarmmodel.ID, mu *sync.Mutex, inflightTasks map[swarmmodel.ID]*inflight) {
	select {
	case <-ctx.Done():
	case id := <-completions:
		mu.Lock()
		delete(inflightTasks, id)
		mu.Unlock()
	case <-time.After(o.opts.PollInterval):
	}
}
