// Package agentservice implements the agent template registry: versioned
// CRUD, capability registration, and five-section system-prompt assembly
// (template prompt, git workflow, tool restrictions, tool directory, goal
// context).
package agentservice

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// CapabilityRegistrar best-effort publishes a template's capabilities to
// the A2A gateway; a registration failure is logged but never blocks
// template create/update.
type CapabilityRegistrar func(ctx context.Context, name string, capabilities []string) error

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Service implements agent template CRUD/versioning and prompt assembly.
type Service struct {
	templates repo.AgentTemplateRepository
	goals     repo.GoalRepository
	bus       *eventbus.Bus
	registrar CapabilityRegistrar
	now       Clock
}

// New creates a Service. registrar may be nil to skip capability
// registration entirely.
func New(templates repo.AgentTemplateRepository, goals repo.GoalRepository, bus *eventbus.Bus, registrar CapabilityRegistrar) *Service {
	return &Service{templates: templates, goals: goals, bus: bus, registrar: registrar, now: time.Now}
}

// SetClock overrides the service's time source (tests only).
func (s *Service) SetClock(c Clock) { s.now = c }

// TemplateSpec is the caller-provided shape for creating or updating a
// template.
type TemplateSpec struct {
	Name         string
	Description  string
	Tier         swarmmodel.Tier
	SystemPrompt string
	Tools        []swarmmodel.ToolCapability
	Constraints  []swarmmodel.AgentConstraint
	MaxTurns     int
	Capabilities []string
}

// CreateOrUpdate persists a new version of the named template; updating
// an existing name always creates a new version, never overwrites.
func (s *Service) CreateOrUpdate(ctx context.Context, spec TemplateSpec) (*swarmmodel.AgentTemplate, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	// Number past every stored version of the name, disabled ones included,
	// so a new version never collides with a disabled one.
	all, err := s.templates.List(ctx)
	if err != nil {
		return nil, err
	}
	version := 1
	for _, existing := range all {
		if existing.Name == spec.Name && existing.Version >= version {
			version = existing.Version + 1
		}
	}

	maxTurns := spec.MaxTurns
	if maxTurns == 0 {
		maxTurns = spec.Tier.DefaultMaxTurns()
	}

	tmpl := &swarmmodel.AgentTemplate{
		ID:           swarmmodel.NewID(),
		Name:         spec.Name,
		Description:  spec.Description,
		Tier:         spec.Tier,
		Version:      version,
		SystemPrompt: spec.SystemPrompt,
		Tools:        spec.Tools,
		Constraints:  spec.Constraints,
		Status:       swarmmodel.TemplateActive,
		MaxTurns:     maxTurns,
		Capabilities: spec.Capabilities,
	}
	tmpl.Touch(s.now())

	if err := s.templates.Create(ctx, tmpl); err != nil {
		return nil, err
	}

	s.registerCapabilities(ctx, tmpl)
	s.emit(ctx, swarmmodel.PayloadEvolutionTriggered, map[string]any{"template": tmpl.Name, "version": tmpl.Version, "action": "created"})
	return tmpl, nil
}

func validateSpec(spec TemplateSpec) error {
	if spec.Name == "" {
		return swarmerr.Validation("agent.invalid_name", "template name must not be empty")
	}
	if spec.SystemPrompt == "" {
		return swarmerr.Validation("agent.invalid_system_prompt", "system prompt must not be empty")
	}
	if spec.Tier != "" && !spec.Tier.Valid() {
		return swarmerr.Validation("agent.invalid_tier", "tier must be one of worker/specialist/architect")
	}
	return nil
}

// registerCapabilities best-effort registers the template's capabilities;
// a failure here is logged, never returned to the caller.
func (s *Service) registerCapabilities(ctx context.Context, tmpl *swarmmodel.AgentTemplate) {
	if s.registrar == nil {
		return
	}
	if err := s.registrar(ctx, tmpl.Name, tmpl.Capabilities); err != nil {
		log.Printf("agentservice: capability registration failed for %s: %v", tmpl.Name, err)
	}
}

// GetTemplate returns the latest Active version of name.
func (s *Service) GetTemplate(ctx context.Context, name string) (*swarmmodel.AgentTemplate, error) {
	return s.templates.Latest(ctx, name)
}

// GetTemplateVersion returns a specific historic version of name.
func (s *Service) GetTemplateVersion(ctx context.Context, name string, version int) (*swarmmodel.AgentTemplate, error) {
	return s.templates.Version(ctx, name, version)
}

// List returns every known template across all versions.
func (s *Service) List(ctx context.Context) ([]*swarmmodel.AgentTemplate, error) {
	return s.templates.List(ctx)
}

// Disable toggles a template version invisible to the scheduler.
func (s *Service) Disable(ctx context.Context, name string, version int) error {
	return s.templates.SetStatus(ctx, name, version, swarmmodel.TemplateDisabled)
}

// Enable re-activates a template version.
func (s *Service) Enable(ctx context.Context, name string, version int) error {
	return s.templates.SetStatus(ctx, name, version, swarmmodel.TemplateActive)
}

// gitWorkflowPreamble is the fixed second section of every assembled
// system prompt.
const gitWorkflowPreamble = `## Git Workflow

Stage and commit your changes before exiting this session. Do not push;
the merge queue integrates your branch.`

// toolRestrictionsPreamble is the fixed third section: it forbids the
// agent from reaching for host-runtime orchestration tools that belong to
// the engine, not the agent.
const toolRestrictionsPreamble = `## Tool Restrictions

Do not invoke the orchestrator's own process-management, merge-queue, or
worktree commands directly. Use only the MCP tool surface listed below.`

var mcpToolDirectory = []string{
	"task_submit", "task_list", "task_get", "task_update_status",
	"agent_create", "agent_list", "agent_get",
	"memory_search", "memory_store", "memory_get",
	"goals_list",
}

// AssembleSystemPrompt implements the five-part concatenation:
// template system prompt, git-workflow preamble, tool-restrictions
// preamble, MCP tool directory, and a goal-context block built from the
// currently Active goals.
func (s *Service) AssembleSystemPrompt(ctx context.Context, tmpl *swarmmodel.AgentTemplate) (string, error) {
	var sb strings.Builder

	sb.WriteString(tmpl.SystemPrompt)
	sb.WriteString("\n\n")

	sb.WriteString(gitWorkflowPreamble)
	sb.WriteString("\n\n")

	sb.WriteString(toolRestrictionsPreamble)
	sb.WriteString("\n\n")

	sb.WriteString("## Available Tools\n\n")
	for _, tool := range mcpToolDirectory {
		sb.WriteString("- ")
		sb.WriteString(tool)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	goalBlock, err := s.goalContextBlock(ctx)
	if err != nil {
		return "", err
	}
	sb.WriteString(goalBlock)

	return sb.String(), nil
}

func (s *Service) goalContextBlock(ctx context.Context) (string, error) {
	if s.goals == nil {
		return "", nil
	}
	goals, err := s.goals.ListActive(ctx)
	if err != nil {
		return "", err
	}
	if len(goals) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Active Goals\n\n")
	for _, g := range goals {
		sb.WriteString("### ")
		sb.WriteString(g.Name)
		sb.WriteString(" (")
		sb.WriteString(string(g.Priority))
		sb.WriteString(")\n")
		if g.Description != "" {
			sb.WriteString(g.Description)
			sb.WriteString("\n")
		}
		for _, c := range g.Constraints {
			sb.WriteString("- Constraint: ")
			sb.WriteString(c.Name)
			if c.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(c.Description)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (s *Service) emit(ctx context.Context, kind swarmmodel.PayloadKind, payload map[string]any) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, &swarmmodel.Event{
		Timestamp:   s.now(),
		Severity:    swarmmodel.SeverityInfo,
		Category:    swarmmodel.CategoryAgent,
		PayloadKind: kind,
		Payload:     payload,
	})
}
