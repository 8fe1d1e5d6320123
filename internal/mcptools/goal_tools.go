package mcptools

import (
	"context"
	"encoding/json"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type goalProjection struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Priority    string                 `json:"priority"`
	Status      string                 `json:"status"`
	Constraints []swarmmodel.Constraint `json:"constraints,omitempty"`
}

func projectGoal(g *swarmmodel.Goal) goalProjection {
	return goalProjection{
		ID:          g.ID.String(),
		Name:        g.Name,
		Description: g.Description,
		Priority:    string(g.Priority),
		Status:      string(g.Status),
		Constraints: g.Constraints,
	}
}

// GoalsList implements the goals_list tool.
type GoalsList struct{ goals repo.GoalRepository }

func NewGoalsList(goals repo.GoalRepository) *GoalsList { return &GoalsList{goals: goals} }

func (t *GoalsList) Name() string        { return "goals_list" }
func (t *GoalsList) Description() string { return "List every known goal." }
func (t *GoalsList) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *GoalsList) Execute(ctx context.Context, _ json.RawMessage) (*ToolsCallResult, error) {
	goals, err := t.goals.List(ctx)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	out := make([]goalProjection, 0, len(goals))
	for _, g := range goals {
		out = append(out, projectGoal(g))
	}
	return JSONResult(out)
}
