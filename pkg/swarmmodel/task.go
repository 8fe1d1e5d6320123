package swarmmodel

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskBlocked   TaskStatus = "blocked"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskComplete  TaskStatus = "complete"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskBlocked, TaskReady, TaskRunning, TaskComplete, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a terminal status (no further transitions).
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskComplete, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskSourceKind identifies who/what submitted a task.
type TaskSourceKind string

const (
	SourceHuman          TaskSourceKind = "human"
	SourceSystem         TaskSourceKind = "system"
	SourceGoalEvaluation TaskSourceKind = "goal_evaluation"
	SourceOvermind       TaskSourceKind = "overmind"
	SourceMCP            TaskSourceKind = "mcp"
)

// TaskSource names the originator of a task submission; GoalID is populated
// only when Kind is SourceGoalEvaluation.
type TaskSource struct {
	Kind   TaskSourceKind `json:"kind"`
	GoalID *ID            `json:"goal_id,omitempty"`
}

// ExecutionModeKind distinguishes single-shot from iterated execution.
type ExecutionModeKind string

const (
	ExecutionDirect     ExecutionModeKind = "direct"
	ExecutionConvergent ExecutionModeKind = "convergent"
)

// ExecutionMode describes how a task is executed. ParallelSamples is only
// meaningful when Kind is ExecutionConvergent.
type ExecutionMode struct {
	Kind            ExecutionModeKind `json:"kind"`
	ParallelSamples int               `json:"parallel_samples,omitempty"`
}

// TaskContext carries hints and file references that steer agent prompting.
type TaskContext struct {
	Hints         []string `json:"hints,omitempty"`
	RelevantFiles []string `json:"relevant_files,omitempty"`
}

// AddHint appends hint unless it is already present (idempotent insert),
// used by the SLA-pressure handler.
func (c *TaskContext) AddHint(hint string) {
	for _, h := range c.Hints {
		if h == hint {
			return
		}
	}
	c.Hints = append(c.Hints, hint)
}

// HasHint reports whether hint is already present.
func (c *TaskContext) HasHint(hint string) bool {
	for _, h := range c.Hints {
		if h == hint {
			return true
		}
	}
	return false
}

// Task is a unit of work scheduled onto an agent substrate.
type Task struct {
	ID                 ID             `json:"id"`
	Title              string         `json:"title,omitempty"`
	Description        string         `json:"description"`
	Status             TaskStatus     `json:"status"`
	Priority           Priority       `json:"priority"`
	AgentType          string         `json:"agent_type,omitempty"`
	GoalID             *ID            `json:"goal_id,omitempty"`
	ParentID           *ID            `json:"parent_id,omitempty"`
	DependsOn          []ID           `json:"depends_on,omitempty"`
	Context            TaskContext    `json:"context"`
	IdempotencyKey     string         `json:"idempotency_key,omitempty"`
	Source             TaskSource     `json:"source"`
	ExecutionMode      ExecutionMode  `json:"execution_mode"`
	TrajectoryID       *ID            `json:"trajectory_id,omitempty"`
	Branch             string         `json:"branch,omitempty"`
	FeatureBranch      string         `json:"feature_branch,omitempty"`
	RetryCount         int            `json:"retry_count"`
	CalculatedPriority float64        `json:"calculated_priority"`
	Deadline           *time.Time     `json:"deadline,omitempty"`
	SubmittedAt        time.Time      `json:"submitted_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	LastUpdatedAt       time.Time     `json:"last_updated_at"`
}

// DependsOnComplete reports whether every dependency id in deps appears
// Complete in the completed set.
func DependsOnComplete(deps []ID, completed map[ID]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}
