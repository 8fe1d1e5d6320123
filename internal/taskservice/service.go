// Package taskservice implements the task lifecycle, dependency
// resolution, and priority calculation: the full submit/claim/complete/
// fail/cancel/retry state machine with idempotency and cascading cancel.
package taskservice

import (
	"context"
	"strings"
	"time"

	"github.com/abathur/swarm/internal/depgraph"
	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Config bounds the resolver's decomposition depth and the priority
// formula's weights.
type Config struct {
	MaxDecompositionDepth int
	PriorityWeights       depgraph.PriorityWeights
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		MaxDecompositionDepth: 10,
		PriorityWeights:       depgraph.DefaultPriorityWeights(),
	}
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Service implements task submission and lifecycle transitions.
type Service struct {
	tasks repo.TaskRepository
	bus   *eventbus.Bus
	cfg   Config
	now   Clock
}

// New creates a Service over the given task repository and event bus.
// Zero-valued Config fields fall back to the stock defaults.
func New(tasks repo.TaskRepository, bus *eventbus.Bus, cfg Config) *Service {
	if cfg.MaxDecompositionDepth <= 0 {
		cfg.MaxDecompositionDepth = DefaultConfig().MaxDecompositionDepth
	}
	if cfg.PriorityWeights.DepthWeight == 0 {
		cfg.PriorityWeights = depgraph.DefaultPriorityWeights()
	}
	return &Service{tasks: tasks, bus: bus, cfg: cfg, now: time.Now}
}

// SetClock overrides the service's time source (tests only).
func (s *Service) SetClock(c Clock) { s.now = c }

// Spec is the caller-provided shape for a new task submission.
type Spec struct {
	Title          string
	Description    string
	Priority       swarmmodel.Priority
	AgentType      string
	GoalID         *swarmmodel.ID
	ParentID       *swarmmodel.ID
	DependsOn      []swarmmodel.ID
	Context        swarmmodel.TaskContext
	IdempotencyKey string
	Source         swarmmodel.TaskSource
	ExecutionMode  *swarmmodel.ExecutionMode // nil => classify heuristically
	Complexity     Complexity
	Deadline       *time.Time
}

// Submit implements the submission algorithm.
func (s *Service) Submit(ctx context.Context, spec Spec) (*swarmmodel.Task, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	if spec.IdempotencyKey != "" {
		if existing, err := s.tasks.GetByIdempotencyKey(ctx, spec.IdempotencyKey); err == nil && existing != nil {
			return existing, nil
		}
	}

	existing, err := s.tasks.List(ctx, repo.Filter{})
	if err != nil {
		return nil, err
	}

	now := s.now()
	task := &swarmmodel.Task{
		ID:             swarmmodel.NewID(),
		Title:          spec.Title,
		Description:    spec.Description,
		Priority:       spec.Priority,
		AgentType:      spec.AgentType,
		GoalID:         spec.GoalID,
		ParentID:       spec.ParentID,
		DependsOn:      spec.DependsOn,
		Context:        spec.Context,
		IdempotencyKey: spec.IdempotencyKey,
		Source:         spec.Source,
		SubmittedAt:    now,
		LastUpdatedAt:  now,
	}
	if spec.ExecutionMode != nil {
		task.ExecutionMode = *spec.ExecutionMode
	} else {
		kind := ClassifyExecutionMode(spec.Description, spec.Context.Hints, spec.Complexity, spec.Priority)
		task.ExecutionMode = swarmmodel.ExecutionMode{Kind: kind}
	}
	if task.ExecutionMode.Kind == swarmmodel.ExecutionConvergent {
		trajID := swarmmodel.NewID()
		task.TrajectoryID = &trajID
	}

	graph := depgraph.New()
	allPlusNew := append(append([]*swarmmodel.Task{}, existing...), task)
	if err := graph.Build(allPlusNew); err != nil {
		return nil, err
	}

	depth := graph.Depth(task.ID, s.cfg.MaxDecompositionDepth)
	task.CalculatedPriority = depgraph.CalculatedPriority(task.Priority, depth, task.SubmittedAt, spec.Deadline, now, s.cfg.PriorityWeights)
	task.Deadline = spec.Deadline

	if graph.IsReady(task.ID) {
		task.Status = swarmmodel.TaskReady
	} else {
		task.Status = swarmmodel.TaskBlocked
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskSubmitted, task.ID, task.GoalID, map[string]any{"title": task.Title})
	if task.Status == swarmmodel.TaskReady {
		s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskReady, task.ID, task.GoalID, nil)
	} else {
		s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskBlocked, task.ID, task.GoalID, nil)
	}

	return task, nil
}

func validateSpec(spec Spec) error {
	if len(spec.Description) == 0 || len(spec.Description) > 20000 {
		return swarmerr.Validation("task.invalid_description", "description must be 1-20000 characters")
	}
	if len(spec.Title) > 500 {
		return swarmerr.Validation("task.invalid_title", "title must be at most 500 characters")
	}
	if spec.Priority != "" && !spec.Priority.Valid() {
		return swarmerr.Validation("task.invalid_priority", "priority must be one of low/normal/high/critical")
	}
	return nil
}

// Claim atomically transitions id from Ready to Running.
func (s *Service) Claim(ctx context.Context, id swarmmodel.ID, claimant string) (*swarmmodel.Task, error) {
	ok, err := s.tasks.ClaimReady(ctx, id, claimant)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, swarmerr.Conflict("task.claim_lost", "task was not in ready status when claimed")
	}
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	task.StartedAt = &now
	task.LastUpdatedAt = now
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskClaimed, task.ID, task.GoalID, map[string]any{"claimant": claimant})
	return task, nil
}

// Complete transitions a Running task to Complete and unblocks dependents.
func (s *Service) Complete(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Task, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	task.Status = swarmmodel.TaskComplete
	task.CompletedAt = &now
	task.LastUpdatedAt = now
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskCompleted, task.ID, task.GoalID, nil)

	if err := s.promoteReadyDependents(ctx); err != nil {
		return task, err
	}
	return task, nil
}

// Fail transitions a Running task to Failed, recording reason.
func (s *Service) Fail(ctx context.Context, id swarmmodel.ID, reason string) (*swarmmodel.Task, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Status = swarmmodel.TaskFailed
	task.LastUpdatedAt = s.now()
	if reason != "" {
		task.Context.AddHint("failure:" + reason)
	}
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityWarning, swarmmodel.PayloadTaskFailed, task.ID, task.GoalID, map[string]any{"reason": reason})
	return task, nil
}

// Cancel transitions id and every task in its dependents-closure to
// Cancelled, skipping tasks already terminal.
func (s *Service) Cancel(ctx context.Context, id swarmmodel.ID) ([]*swarmmodel.Task, error) {
	all, err := s.tasks.List(ctx, repo.Filter{})
	if err != nil {
		return nil, err
	}
	graph := depgraph.New()
	if err := graph.Build(all); err != nil {
		return nil, err
	}

	toCancel := append([]swarmmodel.ID{id}, graph.TransitiveDependents(id)...)
	byID := make(map[swarmmodel.ID]*swarmmodel.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	now := s.now()
	var cancelled []*swarmmodel.Task
	for _, tid := range toCancel {
		t, ok := byID[tid]
		if !ok || t.Status.Terminal() {
			continue
		}
		t.Status = swarmmodel.TaskCancelled
		t.LastUpdatedAt = now
		if err := s.tasks.Update(ctx, t); err != nil {
			return cancelled, err
		}
		s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskCancelled, t.ID, t.GoalID, nil)
		cancelled = append(cancelled, t)
	}
	return cancelled, nil
}

// Retry resets a Failed task back to Ready/Blocked, bumping retry_count and
// preserving trajectory_id so a convergent retry resumes.
func (s *Service) Retry(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Task, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != swarmmodel.TaskFailed {
		return nil, swarmerr.Validation("task.retry_not_failed", "retry is only allowed on failed tasks")
	}

	task.RetryCount++
	task.StartedAt = nil
	task.LastUpdatedAt = s.now()

	if lastFailure := lastFailureHint(task); lastFailure != "" {
		lower := strings.ToLower(lastFailure)
		if strings.Contains(lower, "trapped") || strings.Contains(lower, "limit cycle") {
			task.Context.AddHint("convergence:fresh_start")
		}
	}

	all, err := s.tasks.List(ctx, repo.Filter{})
	if err != nil {
		return nil, err
	}
	graph := depgraph.New()
	if err := graph.Build(all); err != nil {
		return nil, err
	}
	if graph.IsReady(task.ID) {
		task.Status = swarmmodel.TaskReady
	} else {
		task.Status = swarmmodel.TaskBlocked
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	if task.Status == swarmmodel.TaskReady {
		s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskReady, task.ID, task.GoalID, nil)
	}
	return task, nil
}

func lastFailureHint(t *swarmmodel.Task) string {
	for i := len(t.Context.Hints) - 1; i >= 0; i-- {
		if strings.HasPrefix(t.Context.Hints[i], "failure:") {
			return strings.TrimPrefix(t.Context.Hints[i], "failure:")
		}
	}
	return ""
}

// promoteReadyDependents scans for Blocked tasks whose dependencies are all
// now Complete and transitions them to Ready.
func (s *Service) promoteReadyDependents(ctx context.Context) error {
	all, err := s.tasks.List(ctx, repo.Filter{})
	if err != nil {
		return err
	}
	graph := depgraph.New()
	if err := graph.Build(all); err != nil {
		return err
	}
	for _, t := range all {
		if t.Status == swarmmodel.TaskBlocked && graph.IsReady(t.ID) {
			t.Status = swarmmodel.TaskReady
			t.LastUpdatedAt = s.now()
			if err := s.tasks.Update(ctx, t); err != nil {
				return err
			}
			s.emit(ctx, swarmmodel.CategoryTask, swarmmodel.SeverityInfo, swarmmodel.PayloadTaskReady, t.ID, t.GoalID, nil)
		}
	}
	return nil
}

// List, Get, Count, and GetReady expose read access.
func (s *Service) List(ctx context.Context, f repo.Filter) ([]*swarmmodel.Task, error) {
	return s.tasks.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id swarmmodel.ID) (*swarmmodel.Task, error) {
	return s.tasks.Get(ctx, id)
}

func (s *Service) Count(ctx context.Context, f repo.Filter) (int, error) {
	return s.tasks.Count(ctx, f)
}

func (s *Service) GetReady(ctx context.Context, limit int) ([]*swarmmodel.Task, error) {
	return s.tasks.List(ctx, repo.Filter{Status: string(swarmmodel.TaskReady), Limit: limit})
}

func (s *Service) emit(ctx context.Context, cat swarmmodel.Category, sev swarmmodel.Severity, kind swarmmodel.PayloadKind, taskID swarmmodel.ID, goalID *swarmmodel.ID, payload map[string]any) {
	if s.bus == nil {
		return
	}
	tid := taskID
	_ = s.bus.Publish(ctx, &swarmmodel.Event{
		Timestamp:   s.now(),
		Severity:    sev,
		Category:    cat,
		TaskID:      &tid,
		GoalID:      goalID,
		PayloadKind: kind,
		Payload:     payload,
	})
}
