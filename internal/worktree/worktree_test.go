package worktree

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memRepo struct {
	mu   sync.Mutex
	byID map[swarmmodel.ID]*swarmmodel.Worktree
}

func newMemRepo() *memRepo { return &memRepo{byID: map[swarmmodel.ID]*swarmmodel.Worktree{}} }

func (m *memRepo) Create(_ context.Context, w *swarmmodel.Worktree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.byID[w.ID] = &cp
	return nil
}
func (m *memRepo) Update(_ context.Context, w *swarmmodel.Worktree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.byID[w.ID] = &cp
	return nil
}
func (m *memRepo) GetByTask(_ context.Context, taskID swarmmodel.ID) (*swarmmodel.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.byID {
		if w.TaskID == taskID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, swarmerr.NotFound("worktree.not_found", "no worktree for task")
}
func (m *memRepo) Delete(_ context.Context, id swarmmodel.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}
func (m *memRepo) List(_ context.Context) ([]*swarmmodel.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*swarmmodel.Worktree
	for _, w := range m.byID {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

type fakeGit struct {
	added   []string
	removed []string
}

func (f *fakeGit) MergeTree(context.Context, string, string, string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeGit) CheckoutBranch(context.Context, string, string) error        { return nil }
func (f *fakeGit) MergeNoFFMessage(context.Context, string, string, string) error { return nil }
func (f *fakeGit) MergeAbort(context.Context, string) error                   { return nil }
func (f *fakeGit) CurrentCommit(context.Context, string) (string, error)      { return "deadbeef", nil }
func (f *fakeGit) WorktreeAdd(_ context.Context, path, branch, base string) error {
	f.added = append(f.added, path)
	return nil
}
func (f *fakeGit) WorktreeRemove(_ context.Context, path string, force bool) error {
	f.removed = append(f.removed, path)
	return nil
}
func (f *fakeGit) WorktreeListPorcelain(context.Context) (string, error) { return "", nil }

func TestRegistry_AllocateActivateRelease(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	git := &fakeGit{}
	reg, err := New(dir, newMemRepo(), git)
	require.NoError(t, err)

	taskID := swarmmodel.NewID()
	wt, err := reg.Allocate(ctx, taskID, "task-"+taskID.String(), "base123")
	require.NoError(t, err)
	require.Equal(t, swarmmodel.WorktreeAllocated, wt.Status)
	require.Len(t, git.added, 1)

	require.NoError(t, reg.Activate(ctx, taskID))
	require.NoError(t, reg.MarkCompleted(ctx, taskID))

	// Release before terminal merge status must fail.
	err = reg.Release(ctx, taskID)
	require.Error(t, err)

	require.NoError(t, reg.MarkMerged(ctx, taskID, "merged123"))
	require.NoError(t, reg.Release(ctx, taskID))
	require.Len(t, git.removed, 1)

	_, err = reg.repo.GetByTask(ctx, taskID)
	require.Error(t, err)
}

func TestRegistry_Sweep_AbandonsAndReleasesInFlight(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := newMemRepo()
	git := &fakeGit{}
	reg, err := New(dir, r, git)
	require.NoError(t, err)

	taskID := swarmmodel.NewID()
	_, err = reg.Allocate(ctx, taskID, "b1", "base")
	require.NoError(t, err)

	swept, err := reg.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	require.Equal(t, swarmmodel.WorktreeAbandoned, swept[0].Status)

	// The abandoned worktree is destroyed, not just flagged: its checkout
	// is removed and its registry record deleted.
	require.Len(t, git.removed, 1)
	_, err = r.GetByTask(ctx, taskID)
	require.Error(t, err)
}
