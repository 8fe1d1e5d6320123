// Package evolution implements the evolution loop and refinement
// processor: rolling execution-statistics tracking per
// agent template, trigger evaluation (LowSuccessRate, GoalViolationPattern,
// RegressionDetected), and an LLM-driven refinement step with a heuristic
// fallback. Refinement is dispatched through internal/substrate with a
// prompt-then-extract-text call; every accepted refinement lands as a new
// template version.
package evolution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Trigger enumerates the conditions that can fire an evolution event.
type Trigger string

const (
	TriggerLowSuccessRate       Trigger = "low_success_rate"
	TriggerGoalViolationPattern Trigger = "goal_violation_pattern"
	TriggerRegressionDetected   Trigger = "regression_detected"
)

// ActionKind enumerates what the loop does in response to a trigger.
type ActionKind string

const (
	ActionReverted           ActionKind = "reverted"
	ActionRefinementRequested ActionKind = "refinement_requested"
)

// Stats is a rolling execution tally for one template.
type Stats struct {
	Successes int
	Failures  int
}

func (s Stats) Total() int { return s.Successes + s.Failures }

// SuccessRate returns the rolling success rate, defaulting to 1.0 with no
// executions recorded yet (an untested template is not penalized).
func (s Stats) SuccessRate() float64 {
	if s.Total() == 0 {
		return 1
	}
	return float64(s.Successes) / float64(s.Total())
}

// EvolutionEvent is the outcome of one trigger evaluation.
type EvolutionEvent struct {
	TemplateName   string
	Trigger        Trigger
	StatsAtTrigger Stats
	ActionTaken    ActionKind
}

// RefinementRequest queues a template for LLM-driven (or heuristic)
// refinement.
type RefinementRequest struct {
	TemplateName    string
	TemplateVersion int
	Stats           Stats
	Trigger         Trigger
	Severity        string
	FailedTaskIDs   []swarmmodel.ID
}

type versionJournalEntry struct {
	Version      int
	RateAtChange float64
	ChangedAt    time.Time
}

// Config bounds the loop's trigger thresholds.
type Config struct {
	MinExecutions            int
	LowSuccessRateThreshold   float64
	ConstraintViolationLimit  int
	RegressionDropThreshold   float64
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		MinExecutions:            5,
		LowSuccessRateThreshold:  0.7,
		ConstraintViolationLimit: 3,
		RegressionDropThreshold:  0.2,
	}
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Loop tracks per-template execution outcomes and evaluates the three
// evolution triggers.
type Loop struct {
	templates *agentservice.Service
	substrate substrate.Substrate
	bus       *eventbus.Bus
	cfg       Config
	now       Clock

	mu                   sync.Mutex
	stats                map[string]*Stats
	constraintViolations map[string]map[string]int
	journal              map[string][]versionJournalEntry
	pending              []RefinementRequest
	templateLocks        map[string]*sync.Mutex
}

// New creates a Loop. sub may be nil; the refinement processor then
// always falls back to the heuristic path.
func New(templates *agentservice.Service, sub substrate.Substrate, bus *eventbus.Bus, cfg Config) *Loop {
	return &Loop{
		templates:            templates,
		substrate:            sub,
		bus:                  bus,
		cfg:                  cfg,
		now:                  time.Now,
		stats:                make(map[string]*Stats),
		constraintViolations: make(map[string]map[string]int),
		journal:              make(map[string][]versionJournalEntry),
		templateLocks:        make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the loop's time source (tests only).
func (l *Loop) SetClock(c Clock) { l.now = c }

// RecordVersionChange appends a journal entry capturing the rolling
// success rate at the moment a template version change took effect, so a
// later regression can be measured against it.
// RecordVersionChange also resets the template's rolling-execution window,
// since RegressionDetected measures the new version's own performance
// against the rate the prior version held just before the change.
func (l *Loop) RecordVersionChange(templateName string, version int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rate := l.statsLocked(templateName).SuccessRate()
	l.journal[templateName] = append(l.journal[templateName], versionJournalEntry{
		Version:      version,
		RateAtChange: rate,
		ChangedAt:    l.now(),
	})
	l.stats[templateName] = &Stats{}
}

func (l *Loop) statsLocked(templateName string) *Stats {
	s, ok := l.stats[templateName]
	if !ok {
		s = &Stats{}
		l.stats[templateName] = s
	}
	return s
}

// RecordExecution ingests one completed task execution's outcome,
// optionally naming the goal constraint it violated, then evaluates every
// trigger against the updated rolling statistics.
func (l *Loop) RecordExecution(ctx context.Context, templateName string, success bool, violatedConstraint string, taskID swarmmodel.ID, templateVersion int) (*EvolutionEvent, error) {
	l.mu.Lock()
	s := l.statsLocked(templateName)
	if success {
		s.Successes++
	} else {
		s.Failures++
		if violatedConstraint != "" {
			byConstraint, ok := l.constraintViolations[templateName]
			if !ok {
				byConstraint = make(map[string]int)
				l.constraintViolations[templateName] = byConstraint
			}
			byConstraint[violatedConstraint]++
		}
	}
	current := *s
	l.mu.Unlock()

	return l.evaluate(ctx, templateName, templateVersion, current, taskID, violatedConstraint)
}

func (l *Loop) evaluate(ctx context.Context, templateName string, version int, stats Stats, taskID swarmmodel.ID, violatedConstraint string) (*EvolutionEvent, error) {
	if regressed, from, to := l.detectRegression(templateName, stats); regressed {
		event := &EvolutionEvent{TemplateName: templateName, Trigger: TriggerRegressionDetected, StatsAtTrigger: stats, ActionTaken: ActionReverted}
		if err := l.revert(ctx, templateName, from, to); err != nil {
			return nil, err
		}
		l.emit(ctx, event)
		return event, nil
	}

	if stats.Total() >= l.cfg.MinExecutions && stats.SuccessRate() < l.cfg.LowSuccessRateThreshold {
		event := &EvolutionEvent{TemplateName: templateName, Trigger: TriggerLowSuccessRate, StatsAtTrigger: stats, ActionTaken: ActionRefinementRequested}
		l.queueRefinement(RefinementRequest{
			TemplateName:    templateName,
			TemplateVersion: version,
			Stats:           stats,
			Trigger:         TriggerLowSuccessRate,
			Severity:        "warning",
			FailedTaskIDs:   []swarmmodel.ID{taskID},
		})
		l.emit(ctx, event)
		return event, nil
	}

	if violatedConstraint != "" {
		l.mu.Lock()
		count := l.constraintViolations[templateName][violatedConstraint]
		l.mu.Unlock()
		if count >= l.cfg.ConstraintViolationLimit {
			event := &EvolutionEvent{TemplateName: templateName, Trigger: TriggerGoalViolationPattern, StatsAtTrigger: stats, ActionTaken: ActionRefinementRequested}
			l.queueRefinement(RefinementRequest{
				TemplateName:    templateName,
				TemplateVersion: version,
				Stats:           stats,
				Trigger:         TriggerGoalViolationPattern,
				Severity:        "warning",
				FailedTaskIDs:   []swarmmodel.ID{taskID},
			})
			l.emit(ctx, event)
			return event, nil
		}
	}

	return nil, nil
}

// detectRegression reports a regression when the success rate dropped
// >= 20% after a version change recorded in the journal.
func (l *Loop) detectRegression(templateName string, current Stats) (bool, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.journal[templateName]
	if len(entries) < 2 {
		return false, 0, 0
	}
	last := entries[len(entries)-1]
	prev := entries[len(entries)-2]
	if last.RateAtChange-current.SuccessRate() >= l.cfg.RegressionDropThreshold {
		return true, last.Version, prev.Version
	}
	return false, 0, 0
}

func (l *Loop) queueRefinement(req RefinementRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, req)
}

func (l *Loop) emit(ctx context.Context, event *EvolutionEvent) {
	if l.bus == nil {
		return
	}
	_ = l.bus.Publish(ctx, &swarmmodel.Event{
		Timestamp:   l.now(),
		Severity:    swarmmodel.SeverityWarning,
		Category:    swarmmodel.CategoryAgent,
		PayloadKind: swarmmodel.PayloadEvolutionTriggered,
		Payload: map[string]any{
			"template_name": event.TemplateName,
			"trigger":        string(event.Trigger),
			"action_taken":   string(event.ActionTaken),
		},
	})
}

// revert implements the Reverted{from,to} action: a new version is
// created whose content restores the earlier version's prompt, with a
// "Reverted due to regression" note appended, so CreateOrUpdate's
// always-increment-version semantics are preserved.
func (l *Loop) revert(ctx context.Context, templateName string, from, to int) error {
	earlier, err := l.templates.GetTemplateVersion(ctx, templateName, to)
	if err != nil {
		return err
	}
	note := fmt.Sprintf("\n\n## Reverted due to regression\n\nRestored from v%d after a regression was detected in v%d.", to, from)
	reverted, err := l.templates.CreateOrUpdate(ctx, agentservice.TemplateSpec{
		Name:         earlier.Name,
		Description:  earlier.Description,
		Tier:         earlier.Tier,
		SystemPrompt: earlier.SystemPrompt + note,
		Tools:        earlier.Tools,
		Constraints:  earlier.Constraints,
		MaxTurns:     earlier.MaxTurns,
		Capabilities: earlier.Capabilities,
	})
	if err != nil {
		return err
	}
	// Re-baseline the journal against the reverted version so the same
	// regression isn't detected and reverted again on the next execution.
	l.RecordVersionChange(templateName, reverted.Version)
	return nil
}

// Drain processes every pending refinement request. It is invoked by the
// reactor's EvolutionRefinementProcessor handler.
func (l *Loop) Drain(ctx context.Context) error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, req := range batch {
		if _, err := l.Refine(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Refine implements the refinement processor: prefer
// LLM-driven refinement via Substrate, falling back to an appended
// heuristic notes section when the substrate is unavailable or fails.
// Refinement requests for the same template name are serialised to
// prevent two concurrent refinements racing on the same version
// counter.
func (l *Loop) Refine(ctx context.Context, req RefinementRequest) (*swarmmodel.AgentTemplate, error) {
	lock := l.lockFor(req.TemplateName)
	lock.Lock()
	defer lock.Unlock()

	current, err := l.templates.GetTemplateVersion(ctx, req.TemplateName, req.TemplateVersion)
	if err != nil {
		return nil, err
	}

	newPrompt := l.refinedPrompt(ctx, current, req)

	updated, err := l.templates.CreateOrUpdate(ctx, agentservice.TemplateSpec{
		Name:         current.Name,
		Description:  current.Description,
		Tier:         current.Tier,
		SystemPrompt: newPrompt,
		Tools:        current.Tools,
		Constraints:  current.Constraints,
		MaxTurns:     current.MaxTurns,
		Capabilities: current.Capabilities,
	})
	if err != nil {
		return nil, err
	}
	l.RecordVersionChange(req.TemplateName, updated.Version)
	return updated, nil
}

func (l *Loop) lockFor(templateName string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.templateLocks[templateName]
	if !ok {
		lock = &sync.Mutex{}
		l.templateLocks[templateName] = lock
	}
	return lock
}

func (l *Loop) refinedPrompt(ctx context.Context, current *swarmmodel.AgentTemplate, req RefinementRequest) string {
	if l.substrate != nil {
		prompt := refinementPrompt(current, req)
		results, err := l.substrate.Run(ctx, substrate.Request{Prompt: prompt, MaxTurns: 1})
		if err == nil && len(results) > 0 && results[0].Output != "" {
			return results[0].Output
		}
	}
	return current.SystemPrompt + heuristicRefinementNotes(current.Version+1, req)
}

func refinementPrompt(current *swarmmodel.AgentTemplate, req RefinementRequest) string {
	return fmt.Sprintf(`You are an expert prompt engineer. Improve the following agent system prompt.

## Current system prompt (v%d)
%s

## Why it needs refinement
Trigger: %s
Severity: %s
Success rate: %.2f (%d successes, %d failures)

Return only the improved system prompt text, with no commentary.`,
		current.Version, current.SystemPrompt, req.Trigger, req.Severity, req.Stats.SuccessRate(), req.Stats.Successes, req.Stats.Failures)
}

func heuristicRefinementNotes(nextVersion int, req RefinementRequest) string {
	return fmt.Sprintf(`

## Refinement Notes (v%d)

Trigger: %s
Severity: %s
Success rate at trigger: %.2f (%d successes, %d failures)

Review recent failures for this template and tighten guidance accordingly.`,
		nextVersion, req.Trigger, req.Severity, req.Stats.SuccessRate(), req.Stats.Successes, req.Stats.Failures)
}
