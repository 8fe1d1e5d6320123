package taskservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/pkg/swarmmodel"
	"github.com/stretchr/testify/require"
)

// nopEventStore satisfies repo.EventStore by assigning sequences but
// discarding history; sufficient for service tests that don't exercise
// replay.
type nopEventStore struct {
	mu  sync.Mutex
	seq uint64
}

func (m *nopEventStore) Append(_ context.Context, e *swarmmodel.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.Sequence = m.seq
	return nil
}
func (m *nopEventStore) From(context.Context, uint64, int) ([]*swarmmodel.Event, error) {
	return nil, nil
}
func (m *nopEventStore) Since(context.Context, time.Time, int) ([]*swarmmodel.Event, error) {
	return nil, nil
}
func (m *nopEventStore) LatestSequence(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, nil
}

func newService(t *testing.T) (*Service, *memTaskRepo) {
	t.Helper()
	tasks := newMemTaskRepo()
	bus := eventbus.New(&nopEventStore{})
	return New(tasks, bus, DefaultConfig()), tasks
}

// TestSubmit_BlockedDependentBecomesReadyOnComplete: B depends on A, so B
// starts Blocked and becomes Ready when A completes.
func TestSubmit_BlockedDependentBecomesReadyOnComplete(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Submit(ctx, Spec{Description: "task A", Priority: swarmmodel.PriorityNormal})
	require.NoError(t, err)
	require.Equal(t, swarmmodel.TaskReady, a.Status)

	b, err := svc.Submit(ctx, Spec{Description: "task B", Priority: swarmmodel.PriorityNormal, DependsOn: []swarmmodel.ID{a.ID}})
	require.NoError(t, err)
	require.Equal(t, swarmmodel.TaskBlocked, b.Status)

	_, err = svc.Claim(ctx, a.ID, "runner-1")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, a.ID)
	require.NoError(t, err)

	reloaded, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, swarmmodel.TaskReady, reloaded.Status)
}

// TestSubmit_CycleInSameBatchRejected: a batch that already
// contains a mutual dependency between two tasks must be rejected with a
// cycle error when a further submission forces cycle re-validation over
// the aggregate graph.
func TestSubmit_CycleInSameBatchRejected(t *testing.T) {
	svc, tasks := newService(t)
	ctx := context.Background()

	aID, bID := swarmmodel.NewID(), swarmmodel.NewID()
	a := &swarmmodel.Task{ID: aID, Description: "A", DependsOn: []swarmmodel.ID{bID}, Status: swarmmodel.TaskBlocked, Priority: swarmmodel.PriorityNormal}
	b := &swarmmodel.Task{ID: bID, Description: "B", DependsOn: []swarmmodel.ID{aID}, Status: swarmmodel.TaskBlocked, Priority: swarmmodel.PriorityNormal}
	require.NoError(t, tasks.Create(ctx, a))
	require.NoError(t, tasks.Create(ctx, b))

	_, err := svc.Submit(ctx, Spec{Description: "C", Priority: swarmmodel.PriorityNormal})
	require.Error(t, err)
}

// TestSubmit_DuplicateIdempotencyKeyReturnsExisting: a second submission
// carrying the same key returns the original task unmodified.
func TestSubmit_DuplicateIdempotencyKeyReturnsExisting(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, Spec{Description: "original", Priority: swarmmodel.PriorityNormal, IdempotencyKey: "k1"})
	require.NoError(t, err)

	second, err := svc.Submit(ctx, Spec{Description: "different description", Priority: swarmmodel.PriorityNormal, IdempotencyKey: "k1"})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "original", second.Description)
}

// TestCancel_CascadesToAllDependents: no task in the dependents-closure
// of a cancelled task stays non-terminal.
func TestCancel_CascadesToAllDependents(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Submit(ctx, Spec{Description: "A", Priority: swarmmodel.PriorityNormal})
	require.NoError(t, err)
	b, err := svc.Submit(ctx, Spec{Description: "B", Priority: swarmmodel.PriorityNormal, DependsOn: []swarmmodel.ID{a.ID}})
	require.NoError(t, err)
	c, err := svc.Submit(ctx, Spec{Description: "C", Priority: swarmmodel.PriorityNormal, DependsOn: []swarmmodel.ID{b.ID}})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, a.ID)
	require.NoError(t, err)

	for _, id := range []swarmmodel.ID{a.ID, b.ID, c.ID} {
		reloaded, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, swarmmodel.TaskCancelled, reloaded.Status)
	}
}

// TestRetry_ForcesFreshStartHint covers the "trapped"/"limit cycle"
// retry hint rule.
func TestRetry_ForcesFreshStartHint(t *testing.T) {
	svc, tasks := newService(t)
	ctx := context.Background()

	task, err := svc.Submit(ctx, Spec{Description: "D", Priority: swarmmodel.PriorityNormal})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, task.ID, "runner-1")
	require.NoError(t, err)
	_, err = svc.Fail(ctx, task.ID, "trajectory trapped in limit cycle")
	require.NoError(t, err)

	retried, err := svc.Retry(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, retried.Context.HasHint("convergence:fresh_start"))
	require.Equal(t, 1, retried.RetryCount)
	_ = tasks
}
