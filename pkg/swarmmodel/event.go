package swarmmodel

import "time"

// Severity classifies how urgently an event should be surfaced to
// observability/operators.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Category groups events by the subsystem that produced them.
type Category string

const (
	CategoryTask        Category = "task"
	CategoryAgent       Category = "agent"
	CategoryGoal        Category = "goal"
	CategoryMemory      Category = "memory"
	CategoryMerge       Category = "merge"
	CategoryWorktree    Category = "worktree"
	CategoryConvergence Category = "convergence"
	CategorySystem      Category = "system"
)

// PayloadKind names the tagged variant carried by Event.Payload.
type PayloadKind string

const (
	PayloadTaskSubmitted                  PayloadKind = "task_submitted"
	PayloadTaskReady                      PayloadKind = "task_ready"
	PayloadTaskBlocked                    PayloadKind = "task_blocked"
	PayloadTaskClaimed                    PayloadKind = "task_claimed"
	PayloadTaskCompleted                  PayloadKind = "task_completed"
	PayloadTaskFailed                     PayloadKind = "task_failed"
	PayloadTaskCancelled                  PayloadKind = "task_cancelled"
	PayloadTaskSLAWarning                 PayloadKind = "task_sla_warning"
	PayloadTaskExecutionRecorded          PayloadKind = "task_execution_recorded"
	PayloadConvergenceStarted             PayloadKind = "convergence_started"
	PayloadConvergenceIteration           PayloadKind = "convergence_iteration"
	PayloadConvergenceAttractorTransition PayloadKind = "convergence_attractor_transition"
	PayloadConvergenceBudgetExtension     PayloadKind = "convergence_budget_extension"
	PayloadConvergenceFreshStart          PayloadKind = "convergence_fresh_start"
	PayloadConvergenceTerminated          PayloadKind = "convergence_terminated"
	PayloadMergeQueued                    PayloadKind = "merge_queued"
	PayloadMergeCompleted                 PayloadKind = "merge_completed"
	PayloadMergeFailed                    PayloadKind = "merge_failed"
	PayloadBranchCompleted                PayloadKind = "branch_completed"
	PayloadGoalEvaluated                  PayloadKind = "goal_evaluated"
	PayloadEvolutionTriggered             PayloadKind = "evolution_triggered"
)

// Event is one append-only, globally sequenced record on the event bus.
type Event struct {
	ID              ID          `json:"id"`
	Sequence        uint64      `json:"sequence"`
	Timestamp       time.Time   `json:"timestamp"`
	Severity        Severity    `json:"severity"`
	Category        Category    `json:"category"`
	GoalID          *ID         `json:"goal_id,omitempty"`
	TaskID          *ID         `json:"task_id,omitempty"`
	CorrelationID   string      `json:"correlation_id,omitempty"`
	SourceProcessID string      `json:"source_process_id,omitempty"`
	PayloadKind     PayloadKind `json:"payload_kind"`
	Payload         map[string]any `json:"payload,omitempty"`
	// ChainDepth counts how many handler-emitted hops produced this event
	// by the reactor; bounded to prevent runaway cascades.
	ChainDepth int `json:"chain_depth,omitempty"`
}
