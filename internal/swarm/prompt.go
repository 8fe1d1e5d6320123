package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// buildConvergentPrompt fuses the task description, strategy-specific
// context, remaining intent gaps, and carry-forward state into the next
// dispatch prompt, one section per strategy kind.
func buildConvergentPrompt(task *swarmmodel.Task, trajectory *swarmmodel.Trajectory, strategy swarmmodel.StrategyKind, reason string) string {
	var b strings.Builder

	if strategy == swarmmodel.StrategyFreshStart {
		b.WriteString("Start fresh.\n\n")
	}
	fmt.Fprintf(&b, "Task: %s\n\n", task.Title)
	fmt.Fprintf(&b, "%s\n\n", trajectory.SpecEvolution.Effective)
	fmt.Fprintf(&b, "Strategy: %s (%s)\n\n", strategy, reason)

	last := trajectory.LastObservation()

	switch strategy {
	case swarmmodel.StrategyRetryWithFeedback:
		if last != nil {
			fmt.Fprintf(&b, "Previous attempt feedback: %d/%d tests passing, %d failing (%s); build success=%v, %d error(s).\n",
				last.Signals.Tests.Passed, last.Signals.Tests.Total, last.Signals.Tests.Failed,
				strings.Join(last.Signals.Tests.FailingNames, ", "), last.Signals.Build.Success, last.Signals.Build.ErrorCount)
			for _, e := range last.Signals.Build.Errors {
				fmt.Fprintf(&b, "  build error: %s\n", e)
			}
		}
	case swarmmodel.StrategyFocusedRepair:
		if last != nil {
			b.WriteString("Focus narrowly on these gaps:\n")
			for _, g := range last.Signals.IntentGaps {
				fmt.Fprintf(&b, "  - [%s] %s\n", g.Severity, g.Description)
			}
		}
	case swarmmodel.StrategyIncrementalRefine:
		b.WriteString("The previous attempt was mostly correct. Refine it rather than rewriting from scratch.\n")
	case swarmmodel.StrategyReframe:
		b.WriteString("Progress has stalled. Reconsider the approach entirely before continuing.\n")
	case swarmmodel.StrategyDecompose:
		b.WriteString("This task is more complex than initially estimated. Break it into smaller subtasks.\n")
	case swarmmodel.StrategyAlternativeApproach:
		b.WriteString("Previous approaches that did not converge:\n")
		for _, e := range trajectory.StrategyLog {
			fmt.Fprintf(&b, "  - iteration %d: %s (%s)\n", e.Iteration, e.Strategy, e.Reason)
		}
		b.WriteString("Try a fundamentally different approach.\n")
	case swarmmodel.StrategyFreshStart:
		// The carry-forward is already folded into the effective
		// specification printed above.
	}

	if len(task.Context.Hints) > 0 {
		b.WriteString("\nHints:\n")
		for _, h := range task.Context.Hints {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}
	if len(task.Context.RelevantFiles) > 0 {
		b.WriteString("\nRelevant files:\n")
		for _, f := range task.Context.RelevantFiles {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}

	return b.String()
}

// extractSignals derives test/build/intent-gap signals and a convergence
// level from a raw substrate Result. It is deliberately conservative: the
// actual test/build execution happens inside the substrate's workdir (the
// agent runs `go test`/`go build` itself and reports structured
// markers), scanning tagged lines out of an otherwise free-form
// transcript.
func extractSignals(_ context.Context, _ *swarmmodel.Task, result substrate.Result) (swarmmodel.Signals, float64, swarmmodel.Artifact, error) {
	signals := parseSignalMarkers(result.Output)
	level := convergenceLevel(signals)
	artifact := swarmmodel.Artifact{
		Path:        "stdout",
		ContentHash: contentHash(result.Output),
		Content:     result.Output,
	}
	return signals, level, artifact, nil
}

// parseSignalMarkers scans output for the tagged lines an agent's Git
// workflow preamble instructs it to print before exiting:
//
//	TESTS: passed=<n> failed=<n> skipped=<n> total=<n> regressions=<n> failing=<a,b,c>
//	BUILD: success=<bool> errors=<n>
//	GAP: <severity> <description>
//
// Missing markers default to a conservative all-failing signal so an
// agent that never reports them never accidentally converges.
func parseSignalMarkers(output string) swarmmodel.Signals {
	signals := swarmmodel.Signals{
		Tests: swarmmodel.TestSignals{Failed: 1, Total: 1},
		Build: swarmmodel.BuildSignals{Success: false, ErrorCount: 1},
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "TESTS:"):
			signals.Tests = parseTestLine(strings.TrimPrefix(line, "TESTS:"))
		case strings.HasPrefix(line, "BUILD:"):
			signals.Build = parseBuildLine(strings.TrimPrefix(line, "BUILD:"))
		case strings.HasPrefix(line, "GAP:"):
			if gap, ok := parseGapLine(strings.TrimPrefix(line, "GAP:")); ok {
				signals.IntentGaps = append(signals.IntentGaps, gap)
			}
		}
	}
	return signals
}

func parseTestLine(s string) swarmmodel.TestSignals {
	fields := fieldMap(s)
	t := swarmmodel.TestSignals{
		Passed:      atoiOr(fields["passed"], 0),
		Failed:      atoiOr(fields["failed"], 0),
		Skipped:     atoiOr(fields["skipped"], 0),
		Total:       atoiOr(fields["total"], 0),
		Regressions: atoiOr(fields["regressions"], 0),
	}
	if names := fields["failing"]; names != "" {
		t.FailingNames = strings.Split(names, ",")
	}
	return t
}

func parseBuildLine(s string) swarmmodel.BuildSignals {
	fields := fieldMap(s)
	return swarmmodel.BuildSignals{
		Success:    fields["success"] == "true",
		ErrorCount: atoiOr(fields["errors"], 0),
	}
}

func parseGapLine(s string) (swarmmodel.IntentGap, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(parts) != 2 {
		return swarmmodel.IntentGap{}, false
	}
	sev := swarmmodel.IntentGapSeverity(strings.ToLower(parts[0]))
	switch sev {
	case swarmmodel.GapMinor, swarmmodel.GapModerate, swarmmodel.GapMajor:
	default:
		sev = swarmmodel.GapModerate
	}
	return swarmmodel.IntentGap{Description: parts[1], Severity: sev}, true
}

func fieldMap(s string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(s) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func atoiOr(s string, fallback int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return fallback
	}
	return n
}

// convergenceLevel derives a [0,1] score from signals: a clean build with
// no failing tests and no gaps scores 1.0; each failing test, build error,
// and intent gap (weighted by severity) subtracts from it.
func convergenceLevel(s swarmmodel.Signals) float64 {
	level := 1.0
	if !s.Build.Success {
		level -= 0.4
	}
	level -= float64(s.Build.ErrorCount) * 0.05
	if s.Tests.Total > 0 {
		level -= float64(s.Tests.Failed) / float64(s.Tests.Total) * 0.4
	} else if s.Tests.Failed > 0 {
		level -= 0.4
	}
	for _, g := range s.IntentGaps {
		switch g.Severity {
		case swarmmodel.GapMajor:
			level -= 0.15
		case swarmmodel.GapModerate:
			level -= 0.08
		case swarmmodel.GapMinor:
			level -= 0.03
		}
	}
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return level
}

func contentHash(s string) string {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}
