// Package mergequeue implements the two-stage merge queue:
// Stage 1 merges an agent/worktree branch into a task feature branch, Stage
// 2 merges the task feature branch into main after verification. It is
// a FIFO over queued requests with a dry-run conflict check ahead of
// every real merge, conflict routing to specialist resolvers, and a
// verification gate in front of Stage 2.
package mergequeue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/gitrunner"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// Stage distinguishes the two merge hops.
type Stage string

const (
	StageAgentToTask Stage = "agent_to_task"
	StageTaskToMain  Stage = "task_to_main"
)

// RequestStatus is the lifecycle state of a merge Request.
type RequestStatus string

const (
	StatusQueued             RequestStatus = "queued"
	StatusInProgress         RequestStatus = "in_progress"
	StatusCompleted          RequestStatus = "completed"
	StatusFailed             RequestStatus = "failed"
	StatusConflict           RequestStatus = "conflict"
	StatusVerificationFailed RequestStatus = "verification_failed"
)

// Request is one queued two-stage merge operation.
type Request struct {
	ID            swarmmodel.ID
	TaskID        swarmmodel.ID
	Stage         Stage
	SourceBranch  string
	TargetBranch  string
	WorkDir       string
	Status        RequestStatus
	ConflictFiles []string
	Attempts      int
	MergeCommit   string
	ErrorMessage  string
	QueuedAt      time.Time
}

// ConflictResolutionRequest is produced when a dry-run merge surfaces
// conflicts, carrying enough provenance for the caller to spin up a
// specialist conflict-resolver task targeted at WorkDir.
type ConflictResolutionRequest struct {
	MergeRequestID swarmmodel.ID
	TaskID         swarmmodel.ID
	Stage          Stage
	SourceBranch   string
	TargetBranch   string
	WorkDir        string
	ConflictFiles  []string
	DetectedAt     time.Time
	Attempts       int
}

// Stats mirrors the reported counters.
type Stats struct {
	Queued          int
	InProgress      int
	Completed       int
	Failed          int
	Conflicts       int
	Stage1Completed int
	Stage2Completed int
}

// Config bounds merge queue behavior.
type Config struct {
	RepoPath                   string
	MainBranch                 string
	RequireVerification        bool
	AutoRetry                  bool
	MaxRetries                 int
	RouteConflictsToSpecialist bool
}

// Queue is the two-stage, FIFO, conflict-routing merge queue.
type Queue struct {
	cfg      Config
	git      gitrunner.Runner
	verifier Verifier
	bus      *eventbus.Bus
	now      func() time.Time

	mu        sync.Mutex
	pending   []*Request
	conflicts map[swarmmodel.ID]*ConflictResolutionRequest
	stats     Stats

	// OnStage2Merged is invoked after a successful Stage-2 merge so the
	// caller can transition the owning Worktree to Merged; left nil in
	// tests that don't wire a worktree registry.
	OnStage2Merged func(ctx context.Context, taskID swarmmodel.ID, mergeCommit string)
}

// New creates a Queue. verifier is the integration verifier gating
// Stage-2; pass NoopVerifier{} when RequireVerification is false.
func New(cfg Config, git gitrunner.Runner, verifier Verifier, bus *eventbus.Bus) *Queue {
	if verifier == nil {
		verifier = NoopVerifier{}
	}
	return &Queue{
		cfg:       cfg,
		git:       git,
		verifier:  verifier,
		bus:       bus,
		now:       time.Now,
		conflicts: make(map[swarmmodel.ID]*ConflictResolutionRequest),
	}
}

// Enqueue validates both branch names, failing fast before any git
// subprocess is spawned, then appends a new Request to the FIFO queue.
func (q *Queue) Enqueue(ctx context.Context, taskID swarmmodel.ID, stage Stage, source, target, workDir string) (*Request, error) {
	if err := ValidateBranchName(source); err != nil {
		return nil, err
	}
	if err := ValidateBranchName(target); err != nil {
		return nil, err
	}

	req := &Request{
		ID:           swarmmodel.NewID(),
		TaskID:       taskID,
		Stage:        stage,
		SourceBranch: source,
		TargetBranch: target,
		WorkDir:      workDir,
		Status:       StatusQueued,
		QueuedAt:     q.now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.stats.Queued++
	q.mu.Unlock()

	q.emit(ctx, swarmmodel.SeverityInfo, swarmmodel.PayloadMergeQueued, taskID, map[string]any{
		"request_id": req.ID, "stage": stage, "source": source, "target": target,
	})
	return req, nil
}

// ProcessNext dequeues and processes the oldest Queued request; an
// InProgress request is never overtaken. Returns nil, nil if the queue is
// empty.
func (q *Queue) ProcessNext(ctx context.Context) (*Request, error) {
	req := q.dequeue()
	if req == nil {
		return nil, nil
	}

	q.setStatus(req, StatusInProgress)

	var err error
	if req.Stage == StageAgentToTask {
		err = q.processStage1(ctx, req)
	} else {
		err = q.processStage2(ctx, req)
	}

	q.mu.Lock()
	switch req.Status {
	case StatusCompleted:
		q.stats.Completed++
		if req.Stage == StageAgentToTask {
			q.stats.Stage1Completed++
		} else {
			q.stats.Stage2Completed++
		}
	case StatusConflict:
		q.stats.Conflicts++
	case StatusFailed, StatusVerificationFailed:
		q.stats.Failed++
	}
	q.mu.Unlock()

	return req, err
}

func (q *Queue) dequeue() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	q.stats.Queued--
	q.stats.InProgress++
	return req
}

func (q *Queue) setStatus(req *Request, status RequestStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req.Status == StatusInProgress {
		q.stats.InProgress--
	}
	req.Status = status
}

// processStage1 runs Stage 1: dry-run, conflict routing, checkout +
// --no-ff merge in the task's worktree.
func (q *Queue) processStage1(ctx context.Context, req *Request) error {
	return q.mergeInto(ctx, req)
}

// processStage2 runs Stage 2: optional verification gate ahead of the
// same dry-run + merge flow, run against the main repo.
func (q *Queue) processStage2(ctx context.Context, req *Request) error {
	if q.cfg.RequireVerification {
		result, err := q.verifier.Verify(ctx, req.TaskID.String())
		if err != nil {
			q.setStatus(req, StatusFailed)
			req.ErrorMessage = err.Error()
			q.emitFailed(ctx, req)
			return err
		}
		if !result.Passed {
			q.setStatus(req, StatusVerificationFailed)
			req.ErrorMessage = result.FailuresSummary
			q.emitFailed(ctx, req)
			return nil
		}
	}
	if err := q.mergeInto(ctx, req); err != nil {
		return err
	}
	if req.Status == StatusCompleted && q.OnStage2Merged != nil {
		q.OnStage2Merged(ctx, req.TaskID, req.MergeCommit)
	}
	return nil
}

// mergeInto runs the shared dry-run + merge + abort-on-failure sequence
// used by both stages.
func (q *Queue) mergeInto(ctx context.Context, req *Request) error {
	out, conflict, err := q.git.MergeTree(ctx, req.WorkDir, req.SourceBranch, req.TargetBranch)
	if err != nil {
		q.setStatus(req, StatusFailed)
		req.ErrorMessage = err.Error()
		q.emitFailed(ctx, req)
		return err
	}
	if conflict {
		req.Attempts++
		req.ConflictFiles = conflictPathsFromMergeTree(out)
		q.setStatus(req, StatusConflict)
		cr := &ConflictResolutionRequest{
			MergeRequestID: req.ID,
			TaskID:         req.TaskID,
			Stage:          req.Stage,
			SourceBranch:   req.SourceBranch,
			TargetBranch:   req.TargetBranch,
			WorkDir:        req.WorkDir,
			ConflictFiles:  req.ConflictFiles,
			DetectedAt:     q.now(),
			Attempts:       req.Attempts,
		}
		q.mu.Lock()
		q.conflicts[req.ID] = cr
		q.mu.Unlock()
		q.emitFailed(ctx, req)
		return nil
	}

	if err := q.git.CheckoutBranch(ctx, req.WorkDir, req.TargetBranch); err != nil {
		q.setStatus(req, StatusFailed)
		req.ErrorMessage = err.Error()
		q.emitFailed(ctx, req)
		return err
	}
	msg := fmt.Sprintf("Merge %s into %s", req.SourceBranch, req.TargetBranch)
	if err := q.git.MergeNoFFMessage(ctx, req.WorkDir, req.SourceBranch, msg); err != nil {
		_ = q.git.MergeAbort(ctx, req.WorkDir)
		q.setStatus(req, StatusFailed)
		req.ErrorMessage = err.Error()
		q.emitFailed(ctx, req)
		return err
	}

	commit, err := q.git.CurrentCommit(ctx, req.WorkDir)
	if err != nil {
		return err
	}
	req.MergeCommit = commit
	q.setStatus(req, StatusCompleted)
	q.emit(ctx, swarmmodel.SeverityInfo, swarmmodel.PayloadMergeCompleted, req.TaskID, map[string]any{
		"request_id": req.ID, "stage": req.Stage, "merge_commit": commit,
	})
	return nil
}

// conflictPathsFromMergeTree pulls the conflicting paths out of a
// merge-tree dry run: each "changed in both" section names the path on its
// base/our/their mode lines.
func conflictPathsFromMergeTree(output string) []string {
	var paths []string
	seen := make(map[string]bool)
	inBoth := false
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "changed in both"):
			inBoth = true
		case inBoth && strings.HasPrefix(strings.TrimSpace(line), "our "):
			fields := strings.Fields(line)
			path := fields[len(fields)-1]
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
			inBoth = false
		case line == "" || !strings.HasPrefix(line, " "):
			if !strings.HasPrefix(line, "changed in both") {
				inBoth = false
			}
		}
	}
	return paths
}

// GetConflictsNeedingResolution returns every currently unresolved conflict,
// for the orchestrator to spin up specialist conflict-resolver tasks.
func (q *Queue) GetConflictsNeedingResolution() []*ConflictResolutionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*ConflictResolutionRequest, 0, len(q.conflicts))
	for _, c := range q.conflicts {
		out = append(out, c)
	}
	return out
}

// RetryAfterConflictResolution re-queues a formerly conflicted request
// after a specialist has resolved it on disk.
func (q *Queue) RetryAfterConflictResolution(ctx context.Context, requestID swarmmodel.ID) error {
	q.mu.Lock()
	cr, ok := q.conflicts[requestID]
	if ok {
		delete(q.conflicts, requestID)
	}
	q.mu.Unlock()
	if !ok {
		return swarmerr.NotFound("mergequeue.conflict_not_found", "no pending conflict for that request id")
	}

	req := &Request{
		ID:           requestID,
		TaskID:       cr.TaskID,
		Stage:        cr.Stage,
		SourceBranch: cr.SourceBranch,
		TargetBranch: cr.TargetBranch,
		WorkDir:      cr.WorkDir,
		Status:       StatusQueued,
		Attempts:     cr.Attempts,
		QueuedAt:     q.now(),
	}
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.stats.Queued++
	q.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) emitFailed(ctx context.Context, req *Request) {
	payload := map[string]any{
		"request_id": req.ID.String(),
		"stage":      req.Stage,
		"status":     req.Status,
		"error":      req.ErrorMessage,
		"source":     req.SourceBranch,
		"target":     req.TargetBranch,
		"workdir":    req.WorkDir,
	}
	if len(req.ConflictFiles) > 0 {
		payload["conflict_files"] = req.ConflictFiles
	}
	q.emit(ctx, swarmmodel.SeverityError, swarmmodel.PayloadMergeFailed, req.TaskID, payload)
}

func (q *Queue) emit(ctx context.Context, sev swarmmodel.Severity, kind swarmmodel.PayloadKind, taskID swarmmodel.ID, payload map[string]any) {
	if q.bus == nil {
		return
	}
	tid := taskID
	_ = q.bus.Publish(ctx, &swarmmodel.Event{
		Timestamp:   q.now(),
		Severity:    sev,
		Category:    swarmmodel.CategoryMerge,
		TaskID:      &tid,
		PayloadKind: kind,
		Payload:     payload,
	})
}
