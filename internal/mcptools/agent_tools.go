package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type agentProjection struct {
	Name    string `json:"name"`
	Tier    string `json:"tier"`
	Version int    `json:"version"`
	Status  string `json:"status"`
}

func projectAgent(t *swarmmodel.AgentTemplate) agentProjection {
	return agentProjection{Name: t.Name, Tier: string(t.Tier), Version: t.Version, Status: string(t.Status)}
}

// AgentCreate implements the agent_create tool.
type AgentCreate struct{ agents *agentservice.Service }

func NewAgentCreate(agents *agentservice.Service) *AgentCreate { return &AgentCreate{agents: agents} }

func (t *AgentCreate) Name() string { return "agent_create" }
func (t *AgentCreate) Description() string {
	return "Create or version an agent template, best-effort registering its capabilities."
}
func (t *AgentCreate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "required": ["name", "description", "system_prompt"],
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "system_prompt": {"type": "string"},
    "tier": {"type": "string", "enum": ["worker", "specialist", "architect"]},
    "tools": {"type": "array", "items": {"type": "string"}},
    "constraints": {"type": "array", "items": {"type": "object"}},
    "max_turns": {"type": "integer"}
  }
}`)
}

type agentCreateParams struct {
	Name         string                        `json:"name"`
	Description  string                        `json:"description"`
	SystemPrompt string                        `json:"system_prompt"`
	Tier         string                        `json:"tier,omitempty"`
	Tools        []string                      `json:"tools,omitempty"`
	Constraints  []swarmmodel.AgentConstraint  `json:"constraints,omitempty"`
	MaxTurns     int                           `json:"max_turns,omitempty"`
}

func (t *AgentCreate) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p agentCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	tools := make([]swarmmodel.ToolCapability, 0, len(p.Tools))
	for _, tool := range p.Tools {
		tools = append(tools, swarmmodel.ToolCapability(tool))
	}
	tmpl, err := t.agents.CreateOrUpdate(ctx, agentservice.TemplateSpec{
		Name:         p.Name,
		Description:  p.Description,
		Tier:         swarmmodel.Tier(p.Tier),
		SystemPrompt: p.SystemPrompt,
		Tools:        tools,
		Constraints:  p.Constraints,
		MaxTurns:     p.MaxTurns,
	})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(projectAgent(tmpl))
}

// AgentList implements the agent_list tool.
type AgentList struct{ agents *agentservice.Service }

func NewAgentList(agents *agentservice.Service) *AgentList { return &AgentList{agents: agents} }

func (t *AgentList) Name() string                       { return "agent_list" }
func (t *AgentList) Description() string                { return "List every known agent template version." }
func (t *AgentList) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *AgentList) Execute(ctx context.Context, _ json.RawMessage) (*ToolsCallResult, error) {
	templates, err := t.agents.List(ctx)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	out := make([]agentProjection, 0, len(templates))
	for _, tmpl := range templates {
		out = append(out, projectAgent(tmpl))
	}
	return JSONResult(out)
}

// AgentGet implements the agent_get tool.
type AgentGet struct{ agents *agentservice.Service }

func NewAgentGet(agents *agentservice.Service) *AgentGet { return &AgentGet{agents: agents} }

func (t *AgentGet) Name() string        { return "agent_get" }
func (t *AgentGet) Description() string { return "Get the latest Active version of an agent template." }
func (t *AgentGet) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}`)
}

type agentGetParams struct {
	Name string `json:"name"`
}

func (t *AgentGet) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p agentGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	tmpl, err := t.agents.GetTemplate(ctx, p.Name)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(tmpl)
}
