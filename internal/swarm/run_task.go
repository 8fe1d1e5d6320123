package swarm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/abathur/swarm/internal/convergence"
	"github.com/abathur/swarm/internal/mergequeue"
	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/internal/taskservice"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// runTask drives one claimed task from Running to a terminal status,
// implementing the "Control flow (happy path)": claim, allocate a
// worktree, dispatch direct or convergent execution, enqueue the two-stage
// merge, and report completion/failure back to the task service.
func (o *Orchestrator) runTask(ctx context.Context, task *swarmmodel.Task) error {
	claimed, err := o.tasks.Claim(ctx, task.ID, o.opts.Claimant)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	task = claimed

	branch := taskBranchName(task)
	baseCommit, err := o.git.CurrentCommit(ctx, "")
	if err != nil {
		return fmt.Errorf("resolve base commit: %w", err)
	}

	wt, err := o.worktrees.Allocate(ctx, task.ID, branch, baseCommit)
	if err != nil {
		_, failErr := o.tasks.Fail(ctx, task.ID, "worktree allocation failed: "+err.Error())
		if failErr != nil {
			return failErr
		}
		return fmt.Errorf("allocate worktree: %w", err)
	}
	if err := o.worktrees.Activate(ctx, task.ID); err != nil {
		return fmt.Errorf("activate worktree: %w", err)
	}

	task.Branch = wt.Branch
	task.FeatureBranch = taskFeatureBranchName(task)
	if err := o.taskRepo.Update(ctx, task); err != nil {
		return fmt.Errorf("persist task branches: %w", err)
	}

	var runErr error
	switch task.ExecutionMode.Kind {
	case swarmmodel.ExecutionConvergent:
		runErr = o.runConvergent(ctx, task, wt.Path)
	default:
		runErr = o.runDirect(ctx, task, wt.Path)
	}

	if runErr != nil {
		if err := o.worktrees.Abandon(ctx, task.ID); err != nil {
			return err
		}
		if err := o.worktrees.Release(ctx, task.ID); err != nil {
			log.Printf("swarm: release worktree for task %s: %v", task.ID, err)
		}
		if _, err := o.tasks.Fail(ctx, task.ID, runErr.Error()); err != nil {
			return err
		}
		o.recordExecution(ctx, task, false)
		return nil
	}

	if err := o.worktrees.MarkCompleted(ctx, task.ID); err != nil {
		return fmt.Errorf("mark worktree completed: %w", err)
	}

	// Stage 2 is chained by the merge-queue drain loop once this Stage-1
	// request completes.
	if _, err := o.mergeQueue.Enqueue(ctx, task.ID, mergequeue.StageAgentToTask, task.Branch, task.FeatureBranch, wt.Path); err != nil {
		return fmt.Errorf("enqueue stage1 merge: %w", err)
	}

	if _, err := o.tasks.Complete(ctx, task.ID); err != nil {
		return err
	}
	o.recordExecution(ctx, task, true)
	return nil
}

// recordExecution feeds the task's terminal outcome into the evolution
// loop's rolling statistics and publishes the execution record. A failed
// task is also scored against the active goals so a violated constraint
// feeds the GoalViolationPattern trigger.
func (o *Orchestrator) recordExecution(ctx context.Context, task *swarmmodel.Task, success bool) {
	if task.AgentType == "" {
		return
	}
	version := 0
	if tmpl, err := o.agents.GetTemplate(ctx, task.AgentType); err == nil {
		version = tmpl.Version
	}

	violated := ""
	if !success {
		if eval, err := o.alignment.EvaluateTask(ctx, task); err == nil {
		scan:
			for _, a := range eval.GoalAlignments {
				for _, v := range a.Violations {
					violated = v.ConstraintName
					break scan
				}
			}
		}
	}

	if _, err := o.evolution.RecordExecution(ctx, task.AgentType, success, violated, task.ID, version); err != nil {
		log.Printf("swarm: record execution for task %s: %v", task.ID, err)
	}

	tid := task.ID
	_ = o.bus.Publish(ctx, &swarmmodel.Event{
		Timestamp:   time.Now(),
		Severity:    swarmmodel.SeverityInfo,
		Category:    swarmmodel.CategoryTask,
		TaskID:      &tid,
		GoalID:      task.GoalID,
		PayloadKind: swarmmodel.PayloadTaskExecutionRecorded,
		Payload: map[string]any{
			"agent_type":       task.AgentType,
			"template_version": version,
			"success":          success,
		},
	})
}

// runDirect dispatches a single one-shot substrate request, the Direct
// execution mode of the heuristic classifier.
func (o *Orchestrator) runDirect(ctx context.Context, task *swarmmodel.Task, workDir string) error {
	results, err := o.substrates.Dispatch(ctx, substrate.Request{
		Prompt:    task.Description,
		WorkDir:   workDir,
		AgentType: task.AgentType,
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("substrate returned no results for task %s", task.ID)
	}
	return nil
}

// runConvergent drives task through the convergence engine until Accept,
// budget exhaustion, or a terminal attractor.
func (o *Orchestrator) runConvergent(ctx context.Context, task *swarmmodel.Task, workDir string) error {
	trajectory, err := o.convergence.Resume(ctx, task)
	if err != nil {
		return err
	}
	if trajectory == nil {
		complexity := string(taskservice.ComplexityModerate)
		trajectory, err = o.convergence.Start(ctx, task, complexity)
		if err != nil {
			return err
		}
	}

	parallelSamples := task.ExecutionMode.ParallelSamples
	if parallelSamples < 1 {
		parallelSamples = 1
	}

	for trajectory.Budget.IterRemaining > 0 {
		if _, err := o.convergence.Iterate(ctx, task, trajectory, false, parallelSamples); err != nil {
			return err
		}
		if convergence.Accept(trajectory) {
			break
		}
	}

	outcome := convergence.Outcome(trajectory)
	if err := o.convergence.Terminate(ctx, task, trajectory, outcome); err != nil {
		return err
	}
	if outcome != "converged" {
		return fmt.Errorf("trajectory for task %s ended with outcome %s", task.ID, outcome)
	}
	return nil
}

func taskBranchName(task *swarmmodel.Task) string {
	return fmt.Sprintf("task/%s", task.ID.String())
}

func taskFeatureBranchName(task *swarmmodel.Task) string {
	return fmt.Sprintf("feature/%s", task.ID.String())
}
