package reactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

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
		}
	}
	return out, nil
}

func (m *memStore) Since(context.Context, time.Time, int) ([]*swarmmodel.Event, error) { return nil, nil }

func (m *memStore) LatestSequence(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].Sequence, nil
}

// countingHandler records every event it is asked to handle and optionally
// re-emits one further event, used to exercise chain-depth bounding.
type countingHandler struct {
	mu         sync.Mutex
	seen       []HandlerContext
	categories []swarmmodel.Category
	reemit     bool
}

func (h *countingHandler) Name() string                      { return "counting" }
func (h *countingHandler) Categories() []swarmmodel.Category { return h.categories }

func (h *countingHandler) Handle(_ context.Context, e *swarmmodel.Event, hctx HandlerContext) (Reaction, error) {
	h.mu.Lock()
	h.seen = append(h.seen, hctx)
	h.mu.Unlock()
	if h.reemit {
		return Reaction{Kind: ReactionEmit, Events: []*swarmmodel.Event{{Category: e.Category}}}, nil
	}
	return Reaction{Kind: ReactionNone}, nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestReactor_DispatchesInRegistrationOrder(t *testing.T) {
	bus := eventbus.New(&memStore{})
	r := New(bus)

	var order []string
	first := &orderHandler{name: "first", record: &order}
	second := &orderHandler{name: "second", record: &order}
	r.Register(first)
	r.Register(second)

	r.Dispatch(context.Background(), &swarmmodel.Event{Category: swarmmodel.CategoryTask}, HandlerContext{})
	require.Equal(t, []string{"first", "second"}, order)
}

type orderHandler struct {
	name   string
	record *[]string
}

func (h *orderHandler) Name() string                      { return h.name }
func (h *orderHandler) Categories() []swarmmodel.Category { return nil }
func (h *orderHandler) Handle(context.Context, *swarmmodel.Event, HandlerContext) (Reaction, error) {
	*h.record = append(*h.record, h.name)
	return Reaction{Kind: ReactionNone}, nil
}

func TestReactor_CategoryFilterSkipsNonMatching(t *testing.T) {
	bus := eventbus.New(&memStore{})
	r := New(bus)
	h := &countingHandler{categories: []swarmmodel.Category{swarmmodel.CategoryGoal}}
	r.Register(h)

	r.Dispatch(context.Background(), &swarmmodel.Event{Category: swarmmodel.CategoryTask}, HandlerContext{})
	require.Equal(t, 0, h.count())

	r.Dispatch(context.Background(), &swarmmodel.Event{Category: swarmmodel.CategoryGoal}, HandlerContext{})
	require.Equal(t, 1, h.count())
}

// TestReactor_BoundsChainDepth: a handler emission that
// would exceed MaxChainDepth is dropped rather than republished.
func TestReactor_BoundsChainDepth(t *testing.T) {
	bus := eventbus.New(&memStore{})
	r := New(bus)
	h := &countingHandler{reemit: true}
	r.Register(h)

	sub := bus.Subscribe()
	r.Dispatch(context.Background(), &swarmmodel.Event{Category: swarmmodel.CategorySystem}, HandlerContext{ChainDepth: MaxChainDepth})

	select {
	case <-sub.C:
		t.Fatal("expected no republished event once chain depth exceeds the max")
	default:
	}
}

func TestReactor_EmitRepublishesWithIncrementedDepth(t *testing.T) {
	bus := eventbus.New(&memStore{})
	r := New(bus)
	h := &countingHandler{reemit: true}
	r.Register(h)

	sub := bus.Subscribe()
	r.Dispatch(context.Background(), &swarmmodel.Event{Category: swarmmodel.CategorySystem}, HandlerContext{ChainDepth: 2, CorrelationID: "corr-1"})

	select {
	case e := <-sub.C:
		require.Equal(t, 3, e.ChainDepth)
		require.Equal(t, "corr-1", e.CorrelationID)
	default:
		t.Fatal("expected a republished event")
	}
}
