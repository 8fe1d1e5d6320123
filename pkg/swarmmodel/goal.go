package swarmmodel

// Priority is the shared priority scale used by goals and tasks.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// BaseScore returns the base priority score used by the priority
// calculator: Low:1, Normal:3, High:7, Critical:10.
func (p Priority) BaseScore() float64 {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 7
	case PriorityCritical:
		return 10
	default:
		return 3
	}
}

// Weight returns the priority-weighted mean weight used by goal
// alignment: Critical:2w, High:1.5w, Normal:1, Low:0.5, with w supplied
// by the caller's configured priority_weight.
func (p Priority) Weight(w float64) float64 {
	switch p {
	case PriorityCritical:
		return 2 * w
	case PriorityHigh:
		return 1.5 * w
	case PriorityLow:
		return 0.5
	default:
		return 1
	}
}

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalActive  GoalStatus = "active"
	GoalPaused  GoalStatus = "paused"
	GoalRetired GoalStatus = "retired"
)

// ConstraintKind distinguishes hard requirements from soft preferences.
type ConstraintKind string

const (
	ConstraintHardRequirement ConstraintKind = "hard_requirement"
	ConstraintPreference      ConstraintKind = "preference"
)

// Constraint is a named requirement or preference a Goal imposes on work.
type Constraint struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Kind        ConstraintKind `json:"kind"`
}

// Goal is a stated objective that tasks are evaluated against.
type Goal struct {
	ID                    ID           `json:"id"`
	Name                  string       `json:"name"`
	Description           string       `json:"description"`
	Priority              Priority     `json:"priority"`
	Status                GoalStatus   `json:"status"`
	ParentID              *ID          `json:"parent_id,omitempty"`
	Constraints           []Constraint `json:"constraints,omitempty"`
	EvaluationCriteria    []string     `json:"evaluation_criteria,omitempty"`
	ApplicabilityDomains  []string     `json:"applicability_domains,omitempty"`
	Stamps
}

// CanTransitionTo reports whether the goal's lifecycle permits moving to next.
// Active -> Paused -> (Active|Retired); Retired is terminal.
func (g *Goal) CanTransitionTo(next GoalStatus) bool {
	if g.Status == GoalRetired {
		return false
	}
	switch next {
	case GoalActive, GoalPaused, GoalRetired:
		return true
	default:
		return false
	}
}
