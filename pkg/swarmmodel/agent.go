package swarmmodel

// Tier describes the seniority/capability class of an agent template.
type Tier string

const (
	TierWorker     Tier = "worker"
	TierSpecialist Tier = "specialist"
	TierArchitect  Tier = "architect"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierWorker, TierSpecialist, TierArchitect:
		return true
	default:
		return false
	}
}

// DefaultMaxInstances returns the tier's default concurrency ceiling.
func (t Tier) DefaultMaxInstances() int {
	switch t {
	case TierArchitect:
		return 1
	case TierSpecialist:
		return 3
	default:
		return 8
	}
}

// DefaultMaxTurns returns the tier's default agent-loop turn budget.
func (t Tier) DefaultMaxTurns() int {
	switch t {
	case TierArchitect:
		return 60
	case TierSpecialist:
		return 40
	default:
		return 20
	}
}

// ToolCapability names a tool an agent template is permitted to invoke.
type ToolCapability string

// AgentConstraint restricts how an agent template may operate, e.g. a
// forbidden tool or a required check.
type AgentConstraint struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TemplateStatus toggles a template's visibility to the scheduler.
type TemplateStatus string

const (
	TemplateActive   TemplateStatus = "active"
	TemplateDisabled TemplateStatus = "disabled"
)

// AgentTemplate is a versioned prompt + capability bundle used to spawn
// agents. New versions of the same Name supersede the previous one; history
// is retained by the repository.
type AgentTemplate struct {
	ID           ID               `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Tier         Tier             `json:"tier"`
	Version      int              `json:"version"`
	SystemPrompt string           `json:"system_prompt"`
	Tools        []ToolCapability `json:"tools,omitempty"`
	Constraints  []AgentConstraint `json:"constraints,omitempty"`
	Status       TemplateStatus   `json:"status"`
	MaxTurns     int              `json:"max_turns"`
	Capabilities []string         `json:"capabilities,omitempty"`
	Stamps
}
