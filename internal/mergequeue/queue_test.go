package mergequeue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

type fakeGit struct {
	conflictOn     string
	conflictOutput string
	mergeFails     bool
	mergeAborted   bool
	commit         string
}

func (f *fakeGit) MergeTree(_ context.Context, _, source, _ string) (string, bool, error) {
	if source == f.conflictOn {
		out := f.conflictOutput
		if out == "" {
			out = "<<<<<<< conflict"
		}
		return out, true, nil
	}
	return "", false, nil
}
func (f *fakeGit) CheckoutBranch(context.Context, string, string) error { return nil }
func (f *fakeGit) MergeNoFFMessage(context.Context, string, string, string) error {
	if f.mergeFails {
		return assertErr
	}
	return nil
}
func (f *fakeGit) MergeAbort(context.Context, string) error { f.mergeAborted = true; return nil }
func (f *fakeGit) CurrentCommit(context.Context, string) (string, error) {
	if f.commit == "" {
		return "abc123", nil
	}
	return f.commit, nil
}
func (f *fakeGit) WorktreeAdd(context.Context, string, string, string) error { return nil }
func (f *fakeGit) WorktreeRemove(context.Context, string, bool) error         { return nil }
func (f *fakeGit) WorktreeListPorcelain(context.Context) (string, error)      { return "", nil }

var assertErr = &mergeErr{"merge failed"}

type mergeErr struct{ msg string }

func (e *mergeErr) Error() string { return e.msg }

func TestValidateBranchName(t *testing.T) {
	valid := []string{"feature/abc", "task-123", "main"}
	for _, v := range valid {
		require.NoError(t, ValidateBranchName(v), v)
	}
	invalid := []string{"-Xours", "a..b", "branch name", "branch.lock", "branch^1", "", "br:anch", "br~anch"}
	for _, v := range invalid {
		require.Error(t, ValidateBranchName(v), v)
	}
}

func TestQueue_InvalidBranchFailsFastNoGit(t *testing.T) {
	git := &fakeGit{}
	q := New(Config{}, git, nil, nil)
	_, err := q.Enqueue(context.Background(), swarmmodel.NewID(), StageAgentToTask, "-Xours", "main", "/tmp")
	require.Error(t, err)
	require.Equal(t, Stats{}, q.Stats())
}

func TestQueue_Stage1_SuccessfulMerge(t *testing.T) {
	ctx := context.Background()
	git := &fakeGit{commit: "merged1"}
	q := New(Config{}, git, nil, nil)
	taskID := swarmmodel.NewID()
	_, err := q.Enqueue(ctx, taskID, StageAgentToTask, "agent-1", "task-feature", "/wt")
	require.NoError(t, err)

	req, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, req.Status)
	require.Equal(t, "merged1", req.MergeCommit)
	require.Equal(t, 1, q.Stats().Stage1Completed)
}

func TestQueue_ConflictRouting(t *testing.T) {
	ctx := context.Background()
	git := &fakeGit{conflictOn: "agent-1"}
	q := New(Config{RouteConflictsToSpecialist: true}, git, nil, nil)
	taskID := swarmmodel.NewID()
	req, err := q.Enqueue(ctx, taskID, StageAgentToTask, "agent-1", "task-feature", "/wt")
	require.NoError(t, err)

	processed, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusConflict, processed.Status)

	conflicts := q.GetConflictsNeedingResolution()
	require.Len(t, conflicts, 1)
	require.Equal(t, req.ID, conflicts[0].MergeRequestID)

	// Resolve and retry: conflictOn no longer matches so the retried merge
	// should succeed.
	git.conflictOn = ""
	require.NoError(t, q.RetryAfterConflictResolution(ctx, req.ID))
	require.Empty(t, q.GetConflictsNeedingResolution())

	retried, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, retried.Status)
}

func TestQueue_Stage2_VerificationGate(t *testing.T) {
	ctx := context.Background()
	git := &fakeGit{}
	q := New(Config{RequireVerification: true}, git, CommandVerifier{
		Run: func(context.Context, string) (VerificationResult, error) {
			return VerificationResult{Passed: false, FailuresSummary: "2 tests failing"}, nil
		},
	}, nil)
	taskID := swarmmodel.NewID()
	_, err := q.Enqueue(ctx, taskID, StageTaskToMain, "task-feature", "main", "/repo")
	require.NoError(t, err)

	req, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusVerificationFailed, req.Status)
	require.Equal(t, 1, q.Stats().Failed)
}

// TestQueue_Stage1PrecedesStage2: Stage-1
// completion for a task precedes Stage-2 submission in the same workflow.
func TestQueue_Stage1PrecedesStage2(t *testing.T) {
	ctx := context.Background()
	git := &fakeGit{}
	q := New(Config{}, git, nil, nil)
	taskID := swarmmodel.NewID()

	_, err := q.Enqueue(ctx, taskID, StageAgentToTask, "agent-1", "task-feature", "/wt")
	require.NoError(t, err)
	stage1, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stage1.Status)

	merged := false
	q.OnStage2Merged = func(context.Context, swarmmodel.ID, string) { merged = true }
	_, err = q.Enqueue(ctx, taskID, StageTaskToMain, "task-feature", "main", "/repo")
	require.NoError(t, err)
	stage2, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stage2.Status)
	require.True(t, merged)
}

// TestQueue_Stage2ConflictRetryPreservesStageAndVerificationGate covers the
// routing bug where a Stage-2 conflict, once resolved and retried, must stay
// a Stage-2 request: it has to count toward Stage2Completed (not
// Stage1Completed) and must still pass through the RequireVerification gate
// rather than being merged unverified as if it were Stage-1.
func TestQueue_Stage2ConflictRetryPreservesStageAndVerificationGate(t *testing.T) {
	ctx := context.Background()
	git := &fakeGit{conflictOn: "task-feature"}
	verifyCalls := 0
	q := New(Config{RequireVerification: true, RouteConflictsToSpecialist: true}, git, CommandVerifier{
		Run: func(context.Context, string) (VerificationResult, error) {
			verifyCalls++
			return VerificationResult{Passed: true}, nil
		},
	}, nil)
	taskID := swarmmodel.NewID()

	req, err := q.Enqueue(ctx, taskID, StageTaskToMain, "task-feature", "main", "/repo")
	require.NoError(t, err)

	processed, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusConflict, processed.Status)
	require.Equal(t, 1, verifyCalls, "verification must run before the conflicting dry-run merge")

	conflicts := q.GetConflictsNeedingResolution()
	require.Len(t, conflicts, 1)
	require.Equal(t, StageTaskToMain, conflicts[0].Stage)

	git.conflictOn = ""
	require.NoError(t, q.RetryAfterConflictResolution(ctx, req.ID))

	retried, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, StageTaskToMain, retried.Stage)
	require.Equal(t, StatusCompleted, retried.Status)
	require.Equal(t, 2, verifyCalls, "the retried Stage-2 merge must re-run verification, not skip it via Stage-1")
	require.Equal(t, 0, q.Stats().Stage1Completed)
	require.Equal(t, 1, q.Stats().Stage2Completed)
}

// TestQueue_ConflictCollectsPaths: a conflicting dry run records the
// conflicting paths from the merge-tree output on both the request and the
// routed resolution request.
func TestQueue_ConflictCollectsPaths(t *testing.T) {
	ctx := context.Background()
	git := &fakeGit{
		conflictOn: "agent-1",
		conflictOutput: "changed in both\n" +
			"  base   100644 1111111 internal/app/server.go\n" +
			"  our    100644 2222222 internal/app/server.go\n" +
			"  their  100644 3333333 internal/app/server.go\n" +
			"@@ -1,3 +1,7 @@\n" +
			"<<<<<<< .our\n" +
			"changed in both\n" +
			"  base   100644 4444444 internal/app/router.go\n" +
			"  our    100644 5555555 internal/app/router.go\n" +
			"  their  100644 6666666 internal/app/router.go\n",
	}
	q := New(Config{RouteConflictsToSpecialist: true}, git, nil, nil)
	taskID := swarmmodel.NewID()

	_, err := q.Enqueue(ctx, taskID, StageAgentToTask, "agent-1", "task-feature", "/wt")
	require.NoError(t, err)
	req, err := q.ProcessNext(ctx)
	require.NoError(t, err)

	require.Equal(t, StatusConflict, req.Status)
	require.Equal(t, []string{"internal/app/server.go", "internal/app/router.go"}, req.ConflictFiles)

	conflicts := q.GetConflictsNeedingResolution()
	require.Len(t, conflicts, 1)
	require.Equal(t, req.ConflictFiles, conflicts[0].ConflictFiles)
}
