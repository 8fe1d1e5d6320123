package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/internal/taskservice"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// taskProjection is the wire shape task_list/task_submit render a Task as;
// task_get returns the full Task instead.
type taskProjection struct {
	ID          string  `json:"id"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority,omitempty"`
	AgentType   string  `json:"agent_type,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
}

func projectTask(t *swarmmodel.Task) taskProjection {
	p := taskProjection{
		ID:          t.ID.String(),
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		AgentType:   t.AgentType,
	}
	if t.ParentID != nil {
		s := t.ParentID.String()
		p.ParentID = &s
	}
	return p
}

// TaskSubmit implements the task_submit tool.
type TaskSubmit struct{ tasks *taskservice.Service }

func NewTaskSubmit(tasks *taskservice.Service) *TaskSubmit { return &TaskSubmit{tasks: tasks} }

func (t *TaskSubmit) Name() string { return "task_submit" }
func (t *TaskSubmit) Description() string {
	return "Submit a new task, optionally as a subtask of an existing task."
}
func (t *TaskSubmit) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "required": ["description"],
  "properties": {
    "description": {"type": "string"},
    "title": {"type": "string"},
    "agent_type": {"type": "string"},
    "depends_on": {"type": "array", "items": {"type": "string"}},
    "priority": {"type": "string", "enum": ["low", "normal", "high", "critical"]},
    "parent_id": {"type": "string"}
  }
}`)
}

type taskSubmitParams struct {
	Description string   `json:"description"`
	Title       string   `json:"title,omitempty"`
	AgentType   string   `json:"agent_type,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
}

func (t *TaskSubmit) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p taskSubmitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	spec := taskservice.Spec{
		Title:       p.Title,
		Description: p.Description,
		Priority:    swarmmodel.Priority(p.Priority),
		AgentType:   p.AgentType,
		Source:      swarmmodel.TaskSource{Kind: swarmmodel.SourceMCP},
	}

	var parentID *swarmmodel.ID
	if p.ParentID != "" {
		id, err := swarmmodel.ParseID(p.ParentID)
		if err != nil {
			return ErrorResult(fmt.Sprintf("invalid parent_id: %v", err)), nil
		}
		parentID = &id
		spec.ParentID = parentID
		spec.IdempotencyKey = SubtaskIdempotencyKey(id, p.AgentType, p.Title)
	}
	for _, d := range p.DependsOn {
		id, err := swarmmodel.ParseID(d)
		if err != nil {
			return ErrorResult(fmt.Sprintf("invalid depends_on id %q: %v", d, err)), nil
		}
		spec.DependsOn = append(spec.DependsOn, id)
	}

	task, err := t.tasks.Submit(ctx, spec)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(projectTask(task))
}

// TaskList implements the task_list tool.
type TaskList struct{ tasks *taskservice.Service }

func NewTaskList(tasks *taskservice.Service) *TaskList { return &TaskList{tasks: tasks} }

func (t *TaskList) Name() string        { return "task_list" }
func (t *TaskList) Description() string { return "List tasks, optionally filtered by status." }
func (t *TaskList) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "status": {"type": "string"},
    "limit": {"type": "integer"}
  }
}`)
}

type taskListParams struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (t *TaskList) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p taskListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	tasks, err := t.tasks.List(ctx, repo.Filter{Status: p.Status, Limit: p.Limit})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	out := make([]taskProjection, 0, len(tasks))
	for _, tk := range tasks {
		out = append(out, projectTask(tk))
	}
	return JSONResult(out)
}

// TaskGet implements the task_get tool.
type TaskGet struct{ tasks *taskservice.Service }

func NewTaskGet(tasks *taskservice.Service) *TaskGet { return &TaskGet{tasks: tasks} }

func (t *TaskGet) Name() string        { return "task_get" }
func (t *TaskGet) Description() string { return "Get the full projection of a task by id." }
func (t *TaskGet) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "required": ["id"], "properties": {"id": {"type": "string"}}}`)
}

type taskIDParams struct {
	ID string `json:"id"`
}

func (t *TaskGet) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	id, err := swarmmodel.ParseID(p.ID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid id: %v", err)), nil
	}
	task, err := t.tasks.Get(ctx, id)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(task)
}

// TaskUpdateStatus implements the task_update_status tool.
type TaskUpdateStatus struct{ tasks *taskservice.Service }

func NewTaskUpdateStatus(tasks *taskservice.Service) *TaskUpdateStatus {
	return &TaskUpdateStatus{tasks: tasks}
}

func (t *TaskUpdateStatus) Name() string { return "task_update_status" }
func (t *TaskUpdateStatus) Description() string {
	return "Mark a running task complete or failed."
}
func (t *TaskUpdateStatus) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "required": ["id", "status"],
  "properties": {
    "id": {"type": "string"},
    "status": {"type": "string", "enum": ["complete", "failed"]},
    "error": {"type": "string"}
  }
}`)
}

type taskUpdateStatusParams struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (t *TaskUpdateStatus) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p taskUpdateStatusParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	id, err := swarmmodel.ParseID(p.ID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid id: %v", err)), nil
	}

	var task *swarmmodel.Task
	switch p.Status {
	case "complete":
		task, err = t.tasks.Complete(ctx, id)
	case "failed":
		task, err = t.tasks.Fail(ctx, id, p.Error)
	default:
		return ErrorResult(swarmerr.Validation("task.invalid_status", "status must be complete or failed").Error()), nil
	}
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(map[string]string{"id": task.ID.String(), "status": string(task.Status)})
}
