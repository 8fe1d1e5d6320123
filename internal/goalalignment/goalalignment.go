// Package goalalignment implements holistic goal evaluation: scoring a
// task against every Active goal simultaneously so the swarm's work
// converges toward satisfying all goals rather than one. Scores combine a
// relevance boost, per-violation penalties, and a priority-weighted mean
// across goals.
package goalalignment

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Config mirrors the Rust AlignmentConfig and the Alignment
// option group.
type Config struct {
	MinAlignmentScore          float64
	PriorityWeight             float64
	ConstraintViolationPenalty float64
	MinGoalsSatisfied          *int
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		MinAlignmentScore:          0.6,
		PriorityWeight:             1.5,
		ConstraintViolationPenalty: 0.3,
	}
}

// ConstraintViolation records a goal constraint a task may be in breach of.
type ConstraintViolation struct {
	ConstraintName string
	Description    string
	Severity       float64
}

// GoalAlignmentResult is the evaluation of a single task against a
// single goal.
type GoalAlignmentResult struct {
	GoalID               swarmmodel.ID
	GoalName             string
	Score                float64
	ConstraintsSatisfied bool
	Violations           []ConstraintViolation
	Contributions        []string
	Concerns             []string
}

// IsAligned requires score >= threshold and no constraint violations.
func (r GoalAlignmentResult) IsAligned(threshold float64) bool {
	return r.Score >= threshold && r.ConstraintsSatisfied
}

// HolisticEvaluation is the result of scoring a task against every
// Active goal.
type HolisticEvaluation struct {
	TaskID            swarmmodel.ID
	GoalAlignments    []GoalAlignmentResult
	OverallScore      float64
	Passes            bool
	GoalsSatisfied    int
	GoalsWithConcerns int
	Summary           string
	Recommendations   []string
}

// WellAligned returns the goal alignments that clear threshold.
func (e HolisticEvaluation) WellAligned(threshold float64) []GoalAlignmentResult {
	var out []GoalAlignmentResult
	for _, a := range e.GoalAlignments {
		if a.IsAligned(threshold) {
			out = append(out, a)
		}
	}
	return out
}

// SummaryHTML renders Summary as Markdown for CLI/REST consumers that
// want formatted output rather than the raw sentence.
func (e HolisticEvaluation) SummaryHTML() (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(e.Summary), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Service implements HolisticEvaluation scoring over the goal
// repository.
type Service struct {
	goals repo.GoalRepository
	cfg   Config
}

// New creates a Service.
func New(goals repo.GoalRepository, cfg Config) *Service {
	return &Service{goals: goals, cfg: cfg}
}

// EvaluateTask scores task against every Active goal.
func (s *Service) EvaluateTask(ctx context.Context, task *swarmmodel.Task) (*HolisticEvaluation, error) {
	goals, err := s.goals.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(goals) == 0 {
		return emptyEvaluation(task.ID), nil
	}

	alignments := make([]GoalAlignmentResult, 0, len(goals))
	for _, g := range goals {
		alignments = append(alignments, evaluateAgainstGoal(task, g, s.cfg))
	}

	overall := calculateOverallScore(alignments, goals, s.cfg)

	goalsSatisfied := 0
	goalsWithConcerns := 0
	for _, a := range alignments {
		if a.IsAligned(s.cfg.MinAlignmentScore) {
			goalsSatisfied++
		}
		if len(a.Concerns) > 0 {
			goalsWithConcerns++
		}
	}

	passes := s.checkPasses(overall, goalsSatisfied, len(goals))

	return &HolisticEvaluation{
		TaskID:            task.ID,
		GoalAlignments:    alignments,
		OverallScore:      overall,
		Passes:            passes,
		GoalsSatisfied:    goalsSatisfied,
		GoalsWithConcerns: goalsWithConcerns,
		Summary:           summarize(alignments, overall, goalsSatisfied, len(goals)),
		Recommendations:   recommendations(alignments, s.cfg),
	}, nil
}

func emptyEvaluation(taskID swarmmodel.ID) *HolisticEvaluation {
	return &HolisticEvaluation{
		TaskID:       taskID,
		OverallScore: 1.0,
		Passes:       true,
		Summary:      "No active goals to evaluate against",
	}
}

func evaluateAgainstGoal(task *swarmmodel.Task, goal *swarmmodel.Goal, cfg Config) GoalAlignmentResult {
	score := 0.5
	var violations []ConstraintViolation
	var contributions []string
	var concerns []string

	if task.GoalID != nil && *task.GoalID == goal.ID {
		score += 0.2
		contributions = append(contributions, "Task directly contributes to this goal")
	}

	for _, c := range goal.Constraints {
		if !constraintSatisfied(task, c) {
			violations = append(violations, ConstraintViolation{
				ConstraintName: c.Name,
				Description:    "Task may violate: " + c.Description,
				Severity:       0.5,
			})
			score -= cfg.ConstraintViolationPenalty
		}
	}

	goalKeywords := extractKeywords(goal.Description)
	taskKeywords := extractKeywords(task.Description)
	taskSet := make(map[string]bool, len(taskKeywords))
	for _, k := range taskKeywords {
		taskSet[k] = true
	}
	overlap := 0
	for _, k := range goalKeywords {
		if taskSet[k] {
			overlap++
		}
	}
	if overlap > 0 {
		denom := len(goalKeywords)
		if denom == 0 {
			denom = 1
		}
		score += (float64(overlap) / float64(denom)) * 0.2
		contributions = append(contributions, fmt.Sprintf("Task has %d relevant keywords", overlap))
	}

	goalDescLower := strings.ToLower(goal.Description)
	taskDescLower := strings.ToLower(task.Description)
	if strings.Contains(goalDescLower, "security") {
		if !strings.Contains(taskDescLower, "security") && !strings.Contains(taskDescLower, "auth") {
			concerns = append(concerns, "Task may not address security considerations")
		}
	}
	if strings.Contains(goalDescLower, "test") {
		if !strings.Contains(taskDescLower, "test") {
			concerns = append(concerns, "Task may need test coverage")
		}
	}

	score = clamp01(score)

	return GoalAlignmentResult{
		GoalID:               goal.ID,
		GoalName:             goal.Name,
		Score:                score,
		ConstraintsSatisfied: len(violations) == 0,
		Violations:           violations,
		Contributions:        contributions,
		Concerns:             concerns,
	}
}

// constraintSatisfied is a keyword heuristic, ported from the Rust
// check_constraint: "must not"/"never" constraints are assumed satisfied
// absent direct evidence; "must"/"always" constraints require at least
// one of their own keywords to appear in the task description.
func constraintSatisfied(task *swarmmodel.Task, c swarmmodel.Constraint) bool {
	lower := strings.ToLower(c.Description)
	if strings.Contains(lower, "must not") || strings.Contains(lower, "never") {
		return true
	}
	if strings.Contains(lower, "must") || strings.Contains(lower, "always") {
		taskLower := strings.ToLower(task.Description)
		for _, k := range extractKeywords(c.Description) {
			if strings.Contains(taskLower, k) {
				return true
			}
		}
		return false
	}
	return true
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "must": true, "shall": true, "can": true,
	"need": true, "to": true, "of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true, "through": true,
	"during": true, "before": true, "after": true, "above": true, "below": true,
	"between": true, "under": true, "and": true, "but": true, "or": true, "nor": true,
	"not": true, "so": true, "yet": true, "both": true, "either": true, "neither": true,
	"all": true, "each": true, "every": true, "some": true, "any": true, "no": true,
	"more": true, "most": true, "other": true, "such": true, "only": true, "own": true,
	"same": true, "than": true, "too": true, "very": true, "just": true, "also": true,
	"now": true, "that": true, "this": true, "these": true, "those": true, "it": true,
	"its": true,
}

func extractKeywords(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) > 2 && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

func calculateOverallScore(alignments []GoalAlignmentResult, goals []*swarmmodel.Goal, cfg Config) float64 {
	if len(alignments) == 0 {
		return 1.0
	}
	var weightedSum, weightTotal float64
	for i, a := range alignments {
		weight := goals[i].Priority.Weight(cfg.PriorityWeight)
		weightedSum += a.Score * weight
		weightTotal += weight
	}
	if weightTotal > 0 {
		return weightedSum / weightTotal
	}
	return 1.0
}

func (s *Service) checkPasses(overall float64, goalsSatisfied, totalGoals int) bool {
	if overall < s.cfg.MinAlignmentScore {
		return false
	}
	if s.cfg.MinGoalsSatisfied != nil && goalsSatisfied < *s.cfg.MinGoalsSatisfied {
		return false
	}
	if totalGoals > 0 && goalsSatisfied < (totalGoals+1)/2 {
		return false
	}
	return true
}

func summarize(alignments []GoalAlignmentResult, overall float64, goalsSatisfied, totalGoals int) string {
	constraintsNote := "All constraints satisfied."
	for _, a := range alignments {
		if len(a.Violations) > 0 {
			constraintsNote = "Some constraints require attention."
			break
		}
	}
	return fmt.Sprintf("Holistic evaluation: %.0f%% alignment (%d/%d goals satisfied). %s",
		overall*100, goalsSatisfied, totalGoals, constraintsNote)
}

func recommendations(alignments []GoalAlignmentResult, cfg Config) []string {
	var out []string
	for _, a := range alignments {
		if a.Score < cfg.MinAlignmentScore {
			out = append(out, fmt.Sprintf("Improve alignment with goal '%s' (currently %.0f%%)", a.GoalName, a.Score*100))
		}
		for _, v := range a.Violations {
			out = append(out, fmt.Sprintf("Address constraint violation in '%s': %s", a.GoalName, v.Description))
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
