// Package worktree manages the 1:1 task->Worktree registry: per-task git
// worktrees allocated as scoped resources and released on terminal task
// state, guarded across concurrent orchestrator processes on the same
// host with gofrs/flock on a registry lock file.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/abathur/swarm/internal/gitrunner"
	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Registry allocates and releases per-task worktrees under BaseDir,
// guarding allocation/release with a cross-process file lock so two
// orchestrator processes sharing a host never race on the same path.
type Registry struct {
	BaseDir string
	repo    repo.WorktreeRepository
	git     gitrunner.Runner
	lock    *flock.Flock
}

// New creates a Registry rooted at baseDir (e.g. ~/.local/share/swarm/worktrees).
func New(baseDir string, repository repo.WorktreeRepository, git gitrunner.Runner) (*Registry, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create worktree base dir: %w", err)
	}
	return &Registry{
		BaseDir: baseDir,
		repo:    repository,
		git:     git,
		lock:    flock.New(filepath.Join(baseDir, "worktrees.lock")),
	}, nil
}

// Allocate creates a new worktree for task at baseCommit, branching
// branch, and persists the Allocated record; the returned value is the
// resource token its task owns until release.
func (r *Registry) Allocate(ctx context.Context, taskID swarmmodel.ID, branch, baseCommit string) (*swarmmodel.Worktree, error) {
	if err := r.lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock worktree registry: %w", err)
	}
	defer r.lock.Unlock()

	if existing, err := r.repo.GetByTask(ctx, taskID); err == nil && existing != nil {
		return existing, nil
	}

	path := filepath.Join(r.BaseDir, branch)
	if err := r.git.WorktreeAdd(ctx, path, branch, baseCommit); err != nil {
		return nil, fmt.Errorf("git worktree add: %w", err)
	}

	now := time.Now()
	wt := &swarmmodel.Worktree{
		ID:         swarmmodel.NewID(),
		TaskID:     taskID,
		Path:       path,
		Branch:     branch,
		BaseCommit: baseCommit,
		Status:     swarmmodel.WorktreeAllocated,
	}
	wt.Stamps.Touch(now)

	if err := r.repo.Create(ctx, wt); err != nil {
		return nil, err
	}
	return wt, nil
}

// Activate marks a worktree Active once an agent begins work in it.
func (r *Registry) Activate(ctx context.Context, taskID swarmmodel.ID) error {
	return r.transition(ctx, taskID, swarmmodel.WorktreeActive)
}

// MarkCompleted marks the worktree Completed once the task's artifact is
// captured, pending merge.
func (r *Registry) MarkCompleted(ctx context.Context, taskID swarmmodel.ID) error {
	return r.transition(ctx, taskID, swarmmodel.WorktreeCompleted)
}

func (r *Registry) transition(ctx context.Context, taskID swarmmodel.ID, status swarmmodel.WorktreeStatus) error {
	wt, err := r.repo.GetByTask(ctx, taskID)
	if err != nil {
		return err
	}
	wt.Status = status
	wt.Stamps.Touch(time.Now())
	return r.repo.Update(ctx, wt)
}

// MarkMerged records the merge commit and transitions to Merged, the
// precondition for Release to actually destroy the worktree.
func (r *Registry) MarkMerged(ctx context.Context, taskID swarmmodel.ID, mergeCommit string) error {
	wt, err := r.repo.GetByTask(ctx, taskID)
	if err != nil {
		return err
	}
	wt.Status = swarmmodel.WorktreeMerged
	wt.MergeCommit = mergeCommit
	wt.Stamps.Touch(time.Now())
	return r.repo.Update(ctx, wt)
}

// Abandon transitions a worktree to Abandoned without requiring a merge;
// the orchestrator calls it when a task's run fails.
func (r *Registry) Abandon(ctx context.Context, taskID swarmmodel.ID) error {
	return r.transition(ctx, taskID, swarmmodel.WorktreeAbandoned)
}

// Release destroys the on-disk worktree and deletes its registry record.
// Only valid once the owning task is terminal AND the worktree status is
// itself terminal (Merged, Failed, or Abandoned).
func (r *Registry) Release(ctx context.Context, taskID swarmmodel.ID) error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("lock worktree registry: %w", err)
	}
	defer r.lock.Unlock()

	wt, err := r.repo.GetByTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !wt.Status.Terminal() {
		return swarmerr.Validation("worktree.not_terminal", "worktree must be merged, failed, or abandoned before release")
	}
	if err := r.git.WorktreeRemove(ctx, wt.Path, true); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	return r.repo.Delete(ctx, wt.ID)
}

// Sweep finds every worktree that was mid-flight (Allocated or Active)
// when the orchestrator last stopped, marks it Abandoned, and releases
// it. Worktrees already terminal but never destroyed (a crash between
// transition and release) are released too, so a restart never inherits
// leftover checkouts on disk.
func (r *Registry) Sweep(ctx context.Context) ([]*swarmmodel.Worktree, error) {
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var swept []*swarmmodel.Worktree
	for _, wt := range all {
		if wt.Status == swarmmodel.WorktreeAllocated || wt.Status == swarmmodel.WorktreeActive {
			wt.Status = swarmmodel.WorktreeAbandoned
			wt.Stamps.Touch(time.Now())
			if err := r.repo.Update(ctx, wt); err != nil {
				return swept, err
			}
			swept = append(swept, wt)
		}
		if wt.Status.Terminal() {
			// Best effort: on failure the record stays terminal and the
			// next sweep retries the release.
			_ = r.Release(ctx, wt.TaskID)
		}
	}
	return swept, nil
}
