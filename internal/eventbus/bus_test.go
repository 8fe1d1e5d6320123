package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abathur/swarm/pkg/swarmmodel"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory repo.EventStore for bus tests.
type memStore struct {
	mu     sync.Mutex
	events []*swarmmodel.Event
}

func (m *memStore) Append(_ context.Context, e *swarmmodel.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Sequence = uint64(len(m.events) + 1)
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *memStore) From(_ context.Context, after uint64, limit int) ([]*swarmmodel.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*swarmmodel.Event
	for _, e := range m.events {
		if e.Sequence > after {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) Since(_ context.Context, t time.Time, limit int) ([]*swarmmodel.Event, error) {
	return nil, nil
}

func (m *memStore) LatestSequence(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].Sequence, nil
}

// TestBus_SubscribersSeeMonotonicSequences: any two events observed
// by a subscriber arrive with increasing sequence.
func TestBus_SubscribersSeeMonotonicSequences(t *testing.T) {
	store := &memStore{}
	bus := New(store)
	sub := bus.Subscribe()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, &swarmmodel.Event{Category: swarmmodel.CategoryTask}))
	}

	var last uint64
	for i := 0; i < 5; i++ {
		e := <-sub.C
		require.Greater(t, e.Sequence, last)
		last = e.Sequence
		sub.Ack(e)
	}
}

// TestBus_PublishThenReplayPreservesPayload: publishing then replaying
// preserves the payload fields without loss.
func TestBus_PublishThenReplayPreservesPayload(t *testing.T) {
	store := &memStore{}
	bus := New(store)
	taskID := swarmmodel.NewID()

	require.NoError(t, bus.Publish(context.Background(), &swarmmodel.Event{
		Category:    swarmmodel.CategoryTask,
		PayloadKind: swarmmodel.PayloadTaskSubmitted,
		TaskID:      &taskID,
		Payload:     map[string]any{"title": "do the thing"},
	}))

	events, err := store.From(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, swarmmodel.PayloadTaskSubmitted, events[0].PayloadKind)
	require.Equal(t, taskID, *events[0].TaskID)
	require.Equal(t, "do the thing", events[0].Payload["title"])
}

func TestBus_DropAndReplay(t *testing.T) {
	store := &memStore{}
	bus := New(store)
	sub := bus.Subscribe()

	ctx := context.Background()
	// Overflow the subscriber's buffer without draining it.
	for i := 0; i < SubscriberBufferSize+10; i++ {
		require.NoError(t, bus.Publish(ctx, &swarmmodel.Event{Category: swarmmodel.CategorySystem}))
	}
	require.True(t, sub.Dropped())

	replayed, err := sub.Replay(ctx, 0)
	require.NoError(t, err)
	require.Len(t, replayed, SubscriberBufferSize+10)
}
