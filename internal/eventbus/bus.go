// Package eventbus implements the append-only, globally sequenced event
// log with broadcast fan-out to in-memory subscribers. Events are durable;
// subscribers that fall behind are dropped and reconnect with a
// replay-from-sequence read.
package eventbus

import (
	"context"
	"sync"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// SubscriberBufferSize bounds each subscriber's channel; a subscriber whose
// channel is full when a publish happens is considered dropped rather
// than back-pressuring the publisher.
const SubscriberBufferSize = 256

// Subscription is a live, bounded channel of events plus the sequence the
// subscriber should resume replay from if it is dropped.
type Subscription struct {
	C <-chan *swarmmodel.Event

	bus *Bus
	id  int64
	ch  chan *swarmmodel.Event
	mu  sync.Mutex
	// lastAcked is the highest sequence this subscriber has consumed.
	lastAcked uint64
	dropped   bool
}

// Ack records that the subscriber has processed e, advancing its replay
// checkpoint.
func (s *Subscription) Ack(e *swarmmodel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Sequence > s.lastAcked {
		s.lastAcked = e.Sequence
	}
}

// Dropped reports whether the bus stopped delivering to this subscriber
// because its buffer filled up.
func (s *Subscription) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Replay fetches every persisted event since this subscriber's last-acked
// sequence, for reconnection after a drop.
func (s *Subscription) Replay(ctx context.Context, limit int) ([]*swarmmodel.Event, error) {
	s.mu.Lock()
	after := s.lastAcked
	s.mu.Unlock()
	return s.bus.store.From(ctx, after, limit)
}

// Unsubscribe removes the subscription from the bus.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
}

// Bus is the durable, sequenced, broadcasting event log.
type Bus struct {
	store repo.EventStore

	mu      sync.Mutex
	subs    map[int64]*Subscription
	nextSub int64
}

// New creates a Bus backed by store for persistence and sequence
// assignment.
func New(store repo.EventStore) *Bus {
	return &Bus{store: store, subs: make(map[int64]*Subscription)}
}

// Publish appends e (assigning its sequence via the store) and broadcasts
// it to every live subscriber. A full subscriber buffer marks that
// subscriber dropped rather than blocking the publisher.
func (b *Bus) Publish(ctx context.Context, e *swarmmodel.Event) error {
	if err := b.store.Append(ctx, e); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.mu.Lock()
			s.dropped = true
			s.mu.Unlock()
		}
	}
	return nil
}

// Subscribe registers a new live subscriber starting from "now" (no
// replay); call Subscription.Replay separately to pull history.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan *swarmmodel.Event, SubscriberBufferSize)
	sub := &Subscription{C: ch, bus: b, id: id, ch: ch}
	b.subs[id] = sub
	return sub
}

// LatestSequence returns the highest sequence assigned so far.
func (b *Bus) LatestSequence(ctx context.Context) (uint64, error) {
	return b.store.LatestSequence(ctx)
}
