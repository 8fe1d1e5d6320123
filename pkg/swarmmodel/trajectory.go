package swarmmodel

// AttractorKind classifies what basin a convergence trajectory has fallen
// into.
type AttractorKind string

const (
	AttractorFixedPoint     AttractorKind = "fixed_point"
	AttractorLimitCycle     AttractorKind = "limit_cycle"
	AttractorStrange        AttractorKind = "strange_attractor"
	AttractorIndeterminate  AttractorKind = "indeterminate"
)

// Tendency describes the direction of an indeterminate attractor's moving
// average slope.
type Tendency string

const (
	TendencyRising  Tendency = "rising"
	TendencyFalling Tendency = "falling"
	TendencyFlat    Tendency = "flat"
)

// AttractorType is the tagged classification result of one observation.
type AttractorType struct {
	Kind AttractorKind `json:"kind"`
	// Confidence is populated when Kind == AttractorFixedPoint.
	Confidence float64 `json:"confidence,omitempty"`
	// Period is populated when Kind == AttractorLimitCycle.
	Period int `json:"period,omitempty"`
	// Tendency is populated when Kind == AttractorIndeterminate.
	Tendency Tendency `json:"tendency,omitempty"`
}

// IntentGapSeverity ranks how far an unmet acceptance criterion is from
// being satisfied.
type IntentGapSeverity string

const (
	GapMinor    IntentGapSeverity = "minor"
	GapModerate IntentGapSeverity = "moderate"
	GapMajor    IntentGapSeverity = "major"
)

// IntentGap is a structured description of a not-yet-met acceptance
// criterion.
type IntentGap struct {
	Description string            `json:"description"`
	Severity    IntentGapSeverity `json:"severity"`
}

// TestSignals summarizes the test-run outcome of one observation.
type TestSignals struct {
	Passed       int      `json:"passed"`
	Failed       int      `json:"failed"`
	Skipped      int      `json:"skipped"`
	Total        int      `json:"total"`
	Regressions  int      `json:"regressions"`
	FailingNames []string `json:"failing_names,omitempty"`
}

// BuildSignals summarizes the build outcome of one observation.
type BuildSignals struct {
	Success    bool     `json:"success"`
	ErrorCount int      `json:"error_count"`
	Errors     []string `json:"errors,omitempty"`
}

// Signals bundles everything an observation measured about an attempt.
type Signals struct {
	Tests      TestSignals `json:"tests"`
	Build      BuildSignals `json:"build"`
	IntentGaps []IntentGap  `json:"intent_gaps,omitempty"`
}

// Artifact is a reference to the work product an observation produced.
type Artifact struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Content     string `json:"content,omitempty"`
}

// StrategyKind enumerates the convergence strategies, in
// their declared tie-break order.
type StrategyKind string

const (
	StrategyRetryWithFeedback   StrategyKind = "retry_with_feedback"
	StrategyFocusedRepair       StrategyKind = "focused_repair"
	StrategyIncrementalRefine   StrategyKind = "incremental_refinement"
	StrategyReframe             StrategyKind = "reframe"
	StrategyDecompose           StrategyKind = "decompose"
	StrategyAlternativeApproach StrategyKind = "alternative_approach"
	StrategyFreshStart          StrategyKind = "fresh_start"
)

// CarryForward is the best-so-far snapshot threaded across a FreshStart.
type CarryForward struct {
	SpecEvolution   string    `json:"spec_evolution"`
	BestArtifact    Artifact  `json:"best_artifact"`
	BestSignals     Signals   `json:"best_signals"`
	FailureSummary  string    `json:"failure_summary"`
	RemainingGaps   []IntentGap `json:"remaining_gaps,omitempty"`
}

// Observation is the record of one convergence iteration.
type Observation struct {
	Iteration        int           `json:"iteration"`
	SampleIndex      int           `json:"sample_index"`
	Artifact         Artifact      `json:"artifact"`
	Signals          Signals       `json:"signals"`
	StrategyUsed     StrategyKind  `json:"strategy_used"`
	TokensUsed       int64         `json:"tokens_used"`
	WallMsUsed       int64         `json:"wall_ms_used"`
	ConvergenceLevel float64       `json:"convergence_level"`
	AttractorType    AttractorType `json:"attractor_type"`
}

// StrategyEntry records one strategy application in the trajectory log.
type StrategyEntry struct {
	Iteration int          `json:"iteration"`
	Strategy  StrategyKind `json:"strategy"`
	Reason    string       `json:"reason"`
}

// SpecEvolution tracks the effective specification text and its history as
// the trajectory's understanding of the task evolves.
type SpecEvolution struct {
	Effective string   `json:"effective"`
	History   []string `json:"history,omitempty"`
}

// Budget bounds how much a trajectory may still spend.
type Budget struct {
	IterRemaining int     `json:"iter_remaining"`
	TokenRemaining int64  `json:"token_remaining"`
	WallRemainingMs int64 `json:"wall_remaining_ms"`
}

// Policy configures acceptance and fresh-start behavior for a trajectory.
type Policy struct {
	AcceptanceThreshold float64 `json:"acceptance_threshold"`
	PartialAcceptance   bool    `json:"partial_acceptance"`
	MaxFreshStarts      int     `json:"max_fresh_starts"`
}

// Trajectory is the full record of a convergent task's iterated evolution.
type Trajectory struct {
	ID                ID              `json:"id"`
	TaskID            ID              `json:"task_id"`
	GoalID            *ID             `json:"goal_id,omitempty"`
	SpecEvolution     SpecEvolution   `json:"specification_evolution"`
	Observations      []Observation   `json:"observations,omitempty"`
	StrategyLog       []StrategyEntry `json:"strategy_log,omitempty"`
	Budget            Budget          `json:"budget"`
	Policy            Policy          `json:"policy"`
	CurrentAttractor  AttractorType   `json:"current_attractor"`
	FreshStartCount   int             `json:"fresh_start_count"`
}

// LastObservation returns the most recent observation, or nil if none exist.
func (t *Trajectory) LastObservation() *Observation {
	if len(t.Observations) == 0 {
		return nil
	}
	return &t.Observations[len(t.Observations)-1]
}
