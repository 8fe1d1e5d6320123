package mergequeue

import "context"

// VerificationResult is the integration verifier's report for one task.
type VerificationResult struct {
	Passed          bool
	FailuresSummary string
	Details         map[string]any
}

// Verifier executes a task-dependent verification script (test suite,
// build) ahead of Stage-2 merges.
type Verifier interface {
	Verify(ctx context.Context, taskID string) (VerificationResult, error)
}

// NoopVerifier always passes; used when require_verification is false or in
// tests that don't exercise Stage-2 gating.
type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, string) (VerificationResult, error) {
	return VerificationResult{Passed: true}, nil
}

// CommandVerifier delegates verification to the caller-supplied Run
// function (e.g. one that runs the task's test suite) and returns its
// result unchanged; with Run nil every verification passes.
type CommandVerifier struct {
	// Run executes the verification for taskID and reports the result;
	// supplied by the caller so the merge queue stays agnostic of how
	// verification scripts are located and invoked.
	Run func(ctx context.Context, taskID string) (VerificationResult, error)
}

func (c CommandVerifier) Verify(ctx context.Context, taskID string) (VerificationResult, error) {
	if c.Run == nil {
		return VerificationResult{Passed: true}, nil
	}
	return c.Run(ctx, taskID)
}
