// Package goalevaluation implements the periodic goal-evaluation
// service: for every Active goal, check whether its evaluation_criteria
// are being addressed by completed work and queue corrective tasks for
// the criteria that are not. Criterion matching runs a stopword-stripped
// keyword pass with github.com/sahilm/fuzzy as the token matcher.
package goalevaluation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/taskservice"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// SatisfactionLevel reports how well a goal's criteria are addressed by
// completed work.
type SatisfactionLevel string

const (
	SatisfactionMet          SatisfactionLevel = "met"
	SatisfactionPartiallyMet SatisfactionLevel = "partially_met"
	SatisfactionNotMet       SatisfactionLevel = "not_met"
	SatisfactionUnknown      SatisfactionLevel = "unknown"
)

// GoalGap is a criterion the completed work does not address.
type GoalGap struct {
	Description string
	Severity    string
}

// SuggestedTask is a corrective task proposed to close a GoalGap.
type SuggestedTask struct {
	Title       string
	Description string
	Domains     []string
	Priority    swarmmodel.Priority
}

// GoalEvaluationResult is the outcome of evaluating a single goal.
type GoalEvaluationResult struct {
	GoalID            swarmmodel.ID
	GoalName          string
	SatisfactionLevel SatisfactionLevel
	Evidence          []string
	Gaps              []GoalGap
	SuggestedTasks    []SuggestedTask
}

// CycleReport summarizes a full evaluation cycle.
type CycleReport struct {
	EvaluatedCount     int
	GoalsMet           int
	GoalsPartiallyMet  int
	GapsFound          int
	TasksCreated       int
}

// Service periodically evaluates goals against completed tasks and
// creates corrective tasks to close the gaps it finds.
type Service struct {
	goals repo.GoalRepository
	tasks repo.TaskRepository
	ts    *taskservice.Service
}

// New creates a Service. ts persists the corrective tasks this service
// proposes; it may be the same taskservice.Service the rest of the
// engine submits ordinary work through.
func New(goals repo.GoalRepository, tasks repo.TaskRepository, ts *taskservice.Service) *Service {
	return &Service{goals: goals, tasks: tasks, ts: ts}
}

// EvaluateAllGoals evaluates every Active goal against Complete tasks.
func (s *Service) EvaluateAllGoals(ctx context.Context) ([]GoalEvaluationResult, error) {
	goals, err := s.goals.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := s.tasks.List(ctx, repo.Filter{Status: string(swarmmodel.TaskComplete)})
	if err != nil {
		return nil, err
	}

	results := make([]GoalEvaluationResult, 0, len(goals))
	for _, g := range goals {
		results = append(results, EvaluateGoal(g, completed))
	}
	return results, nil
}

// EvaluateGoal evaluates a single goal against the given completed
// tasks.
func EvaluateGoal(goal *swarmmodel.Goal, completed []*swarmmodel.Task) GoalEvaluationResult {
	if len(goal.EvaluationCriteria) == 0 {
		return GoalEvaluationResult{
			GoalID:            goal.ID,
			GoalName:          goal.Name,
			SatisfactionLevel: SatisfactionUnknown,
		}
	}

	var relevant []*swarmmodel.Task
	for _, t := range completed {
		if taskOverlapsDomains(t, goal.ApplicabilityDomains) {
			relevant = append(relevant, t)
		}
	}

	var evidence []string
	var gaps []GoalGap
	var suggested []SuggestedTask
	criteriaMet := 0

	for _, criterion := range goal.EvaluationCriteria {
		criterionLower := strings.ToLower(criterion)
		var matched *swarmmodel.Task
		for _, t := range relevant {
			taskText := strings.ToLower(t.Title + " " + t.Description)
			if criterionKeywordsMatch(criterionLower, taskText) {
				matched = t
				break
			}
		}

		if matched != nil {
			criteriaMet++
			evidence = append(evidence, fmt.Sprintf("Criterion %q addressed by task %q", criterion, matched.Title))
			continue
		}

		severity := severityForPriority(goal.Priority)
		gaps = append(gaps, GoalGap{
			Description: fmt.Sprintf("Criterion not met for goal %q: %s", goal.Name, criterion),
			Severity:    severity,
		})
		suggested = append(suggested, SuggestedTask{
			Title:       "Address: " + criterion,
			Description: fmt.Sprintf("Goal %q has unmet criterion: %s. Create work to satisfy this requirement.", goal.Name, criterion),
			Domains:     goal.ApplicabilityDomains,
			Priority:    priorityForSeverity(severity),
		})
	}

	total := len(goal.EvaluationCriteria)
	level := SatisfactionNotMet
	switch {
	case criteriaMet == total:
		level = SatisfactionMet
	case criteriaMet > 0:
		level = SatisfactionPartiallyMet
	}

	return GoalEvaluationResult{
		GoalID:            goal.ID,
		GoalName:          goal.Name,
		SatisfactionLevel: level,
		Evidence:          evidence,
		Gaps:              gaps,
		SuggestedTasks:    suggested,
	}
}

// CreateCorrectiveTasks persists a SuggestedTask for every gap in
// results that has not already been created, via an idempotency key
// that is stable across evaluation cycles.
func (s *Service) CreateCorrectiveTasks(ctx context.Context, results []GoalEvaluationResult) ([]*swarmmodel.Task, error) {
	var created []*swarmmodel.Task
	for _, r := range results {
		if len(r.Gaps) == 0 {
			continue
		}
		for _, suggestion := range r.SuggestedTasks {
			idempKey := fmt.Sprintf("goal-eval:%s:%s", r.GoalID, slugFromTitle(suggestion.Title))
			if existing, err := s.tasks.GetByIdempotencyKey(ctx, idempKey); err == nil && existing != nil {
				continue
			}

			goalID := r.GoalID
			task, err := s.ts.Submit(ctx, taskservice.Spec{
				Title:          suggestion.Title,
				Description:    suggestion.Description,
				Priority:       suggestion.Priority,
				GoalID:         &goalID,
				IdempotencyKey: idempKey,
				Source:         swarmmodel.TaskSource{Kind: swarmmodel.SourceGoalEvaluation, GoalID: &goalID},
			})
			if err != nil {
				return created, err
			}
			created = append(created, task)
		}
	}
	return created, nil
}

// RunEvaluationCycle evaluates every Active goal, creates corrective
// tasks for the gaps found, and reports the outcome.
func (s *Service) RunEvaluationCycle(ctx context.Context) (CycleReport, error) {
	results, err := s.EvaluateAllGoals(ctx)
	if err != nil {
		return CycleReport{}, err
	}

	report := CycleReport{EvaluatedCount: len(results)}
	for _, r := range results {
		switch r.SatisfactionLevel {
		case SatisfactionMet:
			report.GoalsMet++
		case SatisfactionPartiallyMet:
			report.GoalsPartiallyMet++
		}
		report.GapsFound += len(r.Gaps)
	}

	created, err := s.CreateCorrectiveTasks(ctx, results)
	if err != nil {
		return report, err
	}
	report.TasksCreated = len(created)
	return report, nil
}

func taskOverlapsDomains(task *swarmmodel.Task, goalDomains []string) bool {
	if len(goalDomains) == 0 {
		return true
	}
	inferred := inferTaskDomains(task)
	for _, d := range inferred {
		for _, gd := range goalDomains {
			if strings.EqualFold(d, gd) {
				return true
			}
		}
	}
	return false
}

// inferTaskDomains is a lightweight stand-in for the Rust
// GoalContextService::infer_task_domains: it treats every non-stopword
// token of the task's title and description as a candidate domain, so a
// goal naming a domain keyword (e.g. "security", "frontend") lines up
// whenever the task text actually mentions it.
func inferTaskDomains(task *swarmmodel.Task) []string {
	return tokenize(task.Title + " " + task.Description)
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "shall": true,
	"should": true, "may": true, "might": true, "must": true, "can": true, "could": true,
	"to": true, "of": true, "in": true, "for": true, "on": true, "with": true, "at": true,
	"by": true, "from": true, "as": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "and": true, "but": true, "or": true, "nor": true,
	"not": true, "so": true, "yet": true, "all": true, "each": true, "every": true,
	"both": true, "few": true, "more": true, "most": true, "other": true, "some": true,
	"such": true, "no": true, "only": true, "own": true, "same": true, "than": true,
	"too": true, "very": true, "just": true, "that": true, "this": true, "these": true,
	"those": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) > 2 && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// criterionKeywordsMatch reports whether at least half of the criterion's
// meaningful keywords fuzzy-match somewhere in taskText.
func criterionKeywordsMatch(criterion, taskText string) bool {
	keywords := tokenize(criterion)
	if len(keywords) == 0 {
		return false
	}
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(taskText, kw) {
			matched++
			continue
		}
		if len(fuzzy.Find(kw, []string{taskText})) > 0 {
			matched++
		}
	}
	return matched*2 >= len(keywords)
}

func severityForPriority(p swarmmodel.Priority) string {
	switch p {
	case swarmmodel.PriorityCritical, swarmmodel.PriorityHigh:
		return "high"
	case swarmmodel.PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

func priorityForSeverity(severity string) swarmmodel.Priority {
	switch severity {
	case "high":
		return swarmmodel.PriorityHigh
	case "low":
		return swarmmodel.PriorityLow
	default:
		return swarmmodel.PriorityNormal
	}
}

// slugFromTitle builds the idempotency-key slug: lower
// case, non-alphanumeric runs collapsed to a single hyphen, leading and
// trailing hyphens trimmed.
func slugFromTitle(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	parts := strings.Split(sb.String(), "-")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "-")
}
