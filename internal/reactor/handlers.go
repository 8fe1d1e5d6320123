package reactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// ConditionEvaluator re-checks a TriggerRule.Condition against current
// repository state before firing; the reactor stays agnostic of the
// condition language so callers may plug in anything from a simple keyword
// match to a small expression evaluator.
type ConditionEvaluator func(ctx context.Context, condition string, e *swarmmodel.Event) (bool, error)

// TaskSubmitter creates a task from a fired TriggerAction or handler
// decision; supplied by the caller (internal/swarm) rather than imported
// directly, keeping the reactor decoupled from internal/taskservice.
type TaskSubmitter func(ctx context.Context, t *swarmmodel.Task) error

// TriggerRuleHandler evaluates every enabled TriggerRule against each
// incoming event: filter match, condition re-check, cooldown gate, then
// fire the declared action.
type TriggerRuleHandler struct {
	Triggers repo.TriggerRepository
	Evaluate ConditionEvaluator
	Submit   TaskSubmitter
	Now      func() time.Time
}

func (h *TriggerRuleHandler) Name() string                      { return "trigger_rule" }
func (h *TriggerRuleHandler) Categories() []swarmmodel.Category { return nil }

func (h *TriggerRuleHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *TriggerRuleHandler) Handle(ctx context.Context, e *swarmmodel.Event, _ HandlerContext) (Reaction, error) {
	rules, err := h.Triggers.List(ctx)
	if err != nil {
		return Reaction{}, err
	}

	var emitted []*swarmmodel.Event
	for _, rule := range rules {
		if !rule.Filter.Matches(e) || !rule.ReadyToFire(h.now()) {
			continue
		}
		if h.Evaluate != nil {
			ok, err := h.Evaluate(ctx, rule.Condition, e)
			if err != nil {
				return Reaction{}, err
			}
			if !ok {
				continue
			}
		}

		switch rule.Action.Kind {
		case swarmmodel.ActionSubmitTask:
			if h.Submit == nil {
				continue
			}
			task := taskFromTriggerPayload(rule.Action.Payload)
			task.Source = swarmmodel.TaskSource{Kind: swarmmodel.SourceSystem}
			task.IdempotencyKey = "trigger:" + rule.Name + ":" + e.ID.String()
			if err := h.Submit(ctx, task); err != nil {
				return Reaction{}, err
			}
		case swarmmodel.ActionEmitEvent:
			emitted = append(emitted, &swarmmodel.Event{
				Category:    swarmmodel.CategorySystem,
				PayloadKind: swarmmodel.PayloadGoalEvaluated,
				Payload:     rule.Action.Payload,
				Timestamp:   h.now(),
			})
		}

		now := h.now()
		rule.LastFired = &now
		rule.FireCount++
		if err := h.Triggers.Update(ctx, rule); err != nil {
			return Reaction{}, err
		}
	}

	if len(emitted) == 0 {
		return Reaction{Kind: ReactionNone}, nil
	}
	return Reaction{Kind: ReactionEmit, Events: emitted}, nil
}

func taskFromTriggerPayload(payload map[string]any) *swarmmodel.Task {
	t := &swarmmodel.Task{ID: swarmmodel.NewID(), Status: swarmmodel.TaskPending}
	if title, ok := payload["title"].(string); ok {
		t.Title = title
	}
	if description, ok := payload["description"].(string); ok {
		t.Description = description
	}
	if agentType, ok := payload["agent_type"].(string); ok {
		t.AgentType = agentType
	}
	return t
}

// ConvergenceSLAPressureHandler reacts to SLA pressure: on a
// task_sla_warning event it idempotently tags the task's context with an
// "sla:warning" hint so the next convergence iteration's prompt assembly
// sees the pressure without duplicating the hint on repeated warnings.
type ConvergenceSLAPressureHandler struct {
	Tasks repo.TaskRepository
}

func (h *ConvergenceSLAPressureHandler) Name() string { return "convergence_sla_pressure" }
func (h *ConvergenceSLAPressureHandler) Categories() []swarmmodel.Category {
	return []swarmmodel.Category{swarmmodel.CategoryTask}
}

const SLAWarningHint = "sla:warning"

func (h *ConvergenceSLAPressureHandler) Handle(ctx context.Context, e *swarmmodel.Event, _ HandlerContext) (Reaction, error) {
	if e.PayloadKind != swarmmodel.PayloadTaskSLAWarning || e.TaskID == nil {
		return Reaction{Kind: ReactionNone}, nil
	}
	task, err := h.Tasks.Get(ctx, *e.TaskID)
	if err != nil {
		return Reaction{}, err
	}
	if task.Context.HasHint(SLAWarningHint) {
		return Reaction{Kind: ReactionNone}, nil
	}
	task.Context.AddHint(SLAWarningHint)
	if err := h.Tasks.Update(ctx, task); err != nil {
		return Reaction{}, err
	}
	return Reaction{Kind: ReactionNone}, nil
}

const (
	taskBranchPrefix    = "task/"
	featureBranchPrefix = "feature/"
)

// BranchCompletionDetector watches for whole branches finishing: on a
// task reaching a terminal state it re-scans every sibling task sharing
// the same branch (task/*) or feature_branch (feature/*), and when every
// sibling is terminal it emits a BranchCompleted event carrying the
// completion summary.
type BranchCompletionDetector struct {
	Tasks repo.TaskRepository
}

func (h *BranchCompletionDetector) Name() string { return "branch_completion_detector" }
func (h *BranchCompletionDetector) Categories() []swarmmodel.Category {
	return []swarmmodel.Category{swarmmodel.CategoryTask}
}

func (h *BranchCompletionDetector) Handle(ctx context.Context, e *swarmmodel.Event, _ HandlerContext) (Reaction, error) {
	if e.TaskID == nil {
		return Reaction{Kind: ReactionNone}, nil
	}
	switch e.PayloadKind {
	case swarmmodel.PayloadTaskCompleted, swarmmodel.PayloadTaskFailed, swarmmodel.PayloadTaskCancelled:
	default:
		return Reaction{Kind: ReactionNone}, nil
	}

	task, err := h.Tasks.Get(ctx, *e.TaskID)
	if err != nil {
		return Reaction{}, err
	}
	if !task.Status.Terminal() {
		return Reaction{Kind: ReactionNone}, nil
	}

	var branchName string
	switch {
	case strings.HasPrefix(task.Branch, taskBranchPrefix):
		branchName = task.Branch
	case strings.HasPrefix(task.FeatureBranch, featureBranchPrefix):
		branchName = task.FeatureBranch
	default:
		return Reaction{Kind: ReactionNone}, nil
	}

	all, err := h.Tasks.List(ctx, repo.Filter{})
	if err != nil {
		return Reaction{}, err
	}
	var siblings []*swarmmodel.Task
	for _, t := range all {
		if t.Branch == branchName || t.FeatureBranch == branchName {
			siblings = append(siblings, t)
		}
	}
	if len(siblings) == 0 {
		return Reaction{Kind: ReactionNone}, nil
	}

	allSucceeded := true
	failedCount := 0
	completedIDs := make([]string, 0, len(siblings))
	for _, t := range siblings {
		if !t.Status.Terminal() {
			return Reaction{Kind: ReactionNone}, nil
		}
		if t.Status != swarmmodel.TaskComplete {
			allSucceeded = false
			failedCount++
		}
		completedIDs = append(completedIDs, t.ID.String())
	}

	return Reaction{Kind: ReactionEmit, Events: []*swarmmodel.Event{{
		Category:    swarmmodel.CategoryMerge,
		PayloadKind: swarmmodel.PayloadBranchCompleted,
		TaskID:      e.TaskID,
		GoalID:      task.GoalID,
		Payload: map[string]any{
			"branch_name":   branchName,
			"total_tasks":   len(siblings),
			"all_succeeded": allSucceeded,
			"failed_count":  failedCount,
			"task_ids":      completedIDs,
		},
		Timestamp: time.Now(),
	}}}, nil
}

// MergeRetryFunc re-queues a formerly conflicted merge request once a
// specialist has resolved it on disk; supplied by internal/swarm to keep
// the reactor decoupled from internal/mergequeue.
type MergeRetryFunc func(ctx context.Context, requestID swarmmodel.ID) error

const (
	conflictResolverAgentType = "conflict-resolver"
	mergeRequestHintPrefix    = "merge_request:"
)

// MergeConflictRouter routes merge conflicts to a specialist: a
// merge_failed event carrying conflict status spawns a conflict-resolver
// task targeted at the conflicted workdir, and that resolver task's
// completion re-queues the merge request it resolved.
type MergeConflictRouter struct {
	Tasks  repo.TaskRepository
	Submit TaskSubmitter
	Retry  MergeRetryFunc
}

func (h *MergeConflictRouter) Name() string { return "merge_conflict_router" }
func (h *MergeConflictRouter) Categories() []swarmmodel.Category {
	return []swarmmodel.Category{swarmmodel.CategoryMerge, swarmmodel.CategoryTask}
}

func (h *MergeConflictRouter) Handle(ctx context.Context, e *swarmmodel.Event, _ HandlerContext) (Reaction, error) {
	switch e.PayloadKind {
	case swarmmodel.PayloadMergeFailed:
		return h.routeConflict(ctx, e)
	case swarmmodel.PayloadTaskCompleted:
		return h.retryResolved(ctx, e)
	}
	return Reaction{Kind: ReactionNone}, nil
}

func (h *MergeConflictRouter) routeConflict(ctx context.Context, e *swarmmodel.Event) (Reaction, error) {
	if h.Submit == nil || fmt.Sprint(e.Payload["status"]) != "conflict" {
		return Reaction{Kind: ReactionNone}, nil
	}
	requestID := fmt.Sprint(e.Payload["request_id"])
	source := fmt.Sprint(e.Payload["source"])
	target := fmt.Sprint(e.Payload["target"])
	workdir := fmt.Sprint(e.Payload["workdir"])

	task := &swarmmodel.Task{
		ID:        swarmmodel.NewID(),
		Title:     "Resolve merge conflict on " + target,
		AgentType: conflictResolverAgentType,
		Description: fmt.Sprintf("Merging %s into %s conflicts. Resolve the conflicts in %s, keeping both sides' intent, then stage and commit the resolution.",
			source, target, workdir),
		// One resolver task per merge request, no matter how many times
		// the conflicted request is reported.
		IdempotencyKey: "conflict:" + requestID,
		Source:         swarmmodel.TaskSource{Kind: swarmmodel.SourceSystem},
	}
	task.Context.AddHint(mergeRequestHintPrefix + requestID)
	switch files := e.Payload["conflict_files"].(type) {
	case []string:
		task.Context.RelevantFiles = files
	case []any:
		for _, f := range files {
			task.Context.RelevantFiles = append(task.Context.RelevantFiles, fmt.Sprint(f))
		}
	}

	if err := h.Submit(ctx, task); err != nil {
		return Reaction{}, err
	}
	return Reaction{Kind: ReactionNone}, nil
}

func (h *MergeConflictRouter) retryResolved(ctx context.Context, e *swarmmodel.Event) (Reaction, error) {
	if h.Retry == nil || e.TaskID == nil {
		return Reaction{Kind: ReactionNone}, nil
	}
	task, err := h.Tasks.Get(ctx, *e.TaskID)
	if err != nil {
		return Reaction{}, err
	}
	if task.AgentType != conflictResolverAgentType {
		return Reaction{Kind: ReactionNone}, nil
	}
	for _, hint := range task.Context.Hints {
		if !strings.HasPrefix(hint, mergeRequestHintPrefix) {
			continue
		}
		requestID, err := swarmmodel.ParseID(strings.TrimPrefix(hint, mergeRequestHintPrefix))
		if err != nil {
			continue
		}
		if err := h.Retry(ctx, requestID); err != nil {
			return Reaction{}, err
		}
	}
	return Reaction{Kind: ReactionNone}, nil
}

// GoalEvaluator runs a full goal-alignment evaluation pass for goalID;
// supplied by internal/swarm to keep the reactor decoupled from
// internal/goalevaluation.
type GoalEvaluator func(ctx context.Context, goalID swarmmodel.ID) error

// GoalEvaluationOnCompletion triggers a goal evaluation pass whenever a
// task belonging to a goal completes, throttled per-goal so a burst of
// sibling completions does not re-run evaluation redundantly.
type GoalEvaluationOnCompletion struct {
	Evaluate GoalEvaluator
	Throttle time.Duration

	lastRun map[swarmmodel.ID]time.Time
}

func (h *GoalEvaluationOnCompletion) Name() string { return "goal_evaluation_on_completion" }
func (h *GoalEvaluationOnCompletion) Categories() []swarmmodel.Category {
	return []swarmmodel.Category{swarmmodel.CategoryTask}
}

func (h *GoalEvaluationOnCompletion) Handle(ctx context.Context, e *swarmmodel.Event, _ HandlerContext) (Reaction, error) {
	if e.PayloadKind != swarmmodel.PayloadTaskCompleted || e.GoalID == nil || h.Evaluate == nil {
		return Reaction{Kind: ReactionNone}, nil
	}
	if h.lastRun == nil {
		h.lastRun = make(map[swarmmodel.ID]time.Time)
	}
	throttle := h.Throttle
	if throttle <= 0 {
		throttle = time.Minute
	}
	if last, ok := h.lastRun[*e.GoalID]; ok && time.Since(last) < throttle {
		return Reaction{Kind: ReactionNone}, nil
	}
	h.lastRun[*e.GoalID] = time.Now()
	if err := h.Evaluate(ctx, *e.GoalID); err != nil {
		return Reaction{}, err
	}
	return Reaction{Kind: ReactionNone}, nil
}

// RefinementDrainer drains whatever refinement requests the evolution
// loop queued, performing the actual template refinement work; supplied
// by internal/evolution to keep the reactor decoupled from it.
type RefinementDrainer func(ctx context.Context) error

// EvolutionRefinementProcessor reacts to evolution_triggered events by
// draining pending refinement requests.
type EvolutionRefinementProcessor struct {
	Drain RefinementDrainer
}

func (h *EvolutionRefinementProcessor) Name() string { return "evolution_refinement_processor" }
func (h *EvolutionRefinementProcessor) Categories() []swarmmodel.Category {
	return []swarmmodel.Category{swarmmodel.CategoryAgent}
}

func (h *EvolutionRefinementProcessor) Handle(ctx context.Context, e *swarmmodel.Event, _ HandlerContext) (Reaction, error) {
	if e.PayloadKind != swarmmodel.PayloadEvolutionTriggered || h.Drain == nil {
		return Reaction{Kind: ReactionNone}, nil
	}
	if err := h.Drain(ctx); err != nil {
		return Reaction{}, swarmerr.Transient("reactor.evolution_drain_failed", "refinement drain failed", err)
	}
	return Reaction{Kind: ReactionNone}, nil
}
