package taskservice

import (
	"strings"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Complexity is an informal estimate used both by the execution-mode
// classifier and by the convergence engine's basin-width heuristic.
type Complexity string

const (
	ComplexityTrivial    Complexity = "trivial"
	ComplexitySimple     Complexity = "simple"
	ComplexityModerate   Complexity = "moderate"
	ComplexityComplex    Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// EstimatedIterations maps complexity to the expected iteration count:
// Trivial 1, Simple 2, Moderate 4, Complex 7, VeryComplex 10.
func (c Complexity) EstimatedIterations() int {
	switch c {
	case ComplexityTrivial:
		return 1
	case ComplexitySimple:
		return 2
	case ComplexityModerate:
		return 4
	case ComplexityComplex:
		return 7
	case ComplexityVeryComplex:
		return 10
	default:
		return 2
	}
}

var convergentPhrases = []string{
	"acceptance criteria", "test case", "expected output", "verify that", "ensure that",
}

// ClassifyExecutionMode implements the heuristic, used only
// when the caller did not specify an execution mode explicitly.
func ClassifyExecutionMode(description string, hints []string, complexity Complexity, priority swarmmodel.Priority) swarmmodel.ExecutionModeKind {
	score := 0
	lower := strings.ToLower(description)
	for _, phrase := range convergentPhrases {
		if strings.Contains(lower, phrase) {
			score += 2
			break
		}
	}
	for _, h := range hints {
		if strings.HasPrefix(h, "constraint:") || strings.HasPrefix(h, "anti-pattern:") {
			score += 2
			break
		}
	}
	if complexity == ComplexityComplex || complexity == ComplexityVeryComplex {
		score += 2
	}
	if priority == swarmmodel.PriorityLow {
		score -= 2
	}

	if score >= 3 {
		return swarmmodel.ExecutionConvergent
	}
	return swarmmodel.ExecutionDirect
}
