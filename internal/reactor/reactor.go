// Package reactor implements the event reactor: a
// registered-order handler chain with bounded cascade depth, dispatched
// from bus-delivered events. Each handler may itself emit further
// events, re-published with an incremented chain depth.
package reactor

import (
	"context"
	"log"

	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

// MaxChainDepth bounds how many handler-emitted hops a single externally
// published event may produce before the reactor stops propagating further
// emissions, preventing runaway cascades.
const MaxChainDepth = 8

// HandlerContext is passed to every handler invocation.
type HandlerContext struct {
	ChainDepth    int
	CorrelationID string
}

// ReactionKind tags what a handler asks the reactor to do after observing
// an event.
type ReactionKind string

const (
	ReactionNone    ReactionKind = "none"
	ReactionEmit    ReactionKind = "emit"
	ReactionCommand ReactionKind = "command"
)

// Reaction is a handler's response to one event.
type Reaction struct {
	Kind    ReactionKind
	Events  []*swarmmodel.Event
	Command any
}

// EventHandler is a reactor chain link. Categories narrows which events the
// reactor delivers to it; an empty slice means "all categories".
type EventHandler interface {
	Name() string
	Categories() []swarmmodel.Category
	Handle(ctx context.Context, e *swarmmodel.Event, hctx HandlerContext) (Reaction, error)
}

// Reactor dispatches bus events to a registered-order chain of handlers.
type Reactor struct {
	bus      *eventbus.Bus
	handlers []EventHandler
}

// New creates a Reactor over bus. Register handlers with Register before
// calling Run.
func New(bus *eventbus.Bus) *Reactor {
	return &Reactor{bus: bus}
}

// Register appends h to the handler chain; handlers run in registration
// order.
func (r *Reactor) Register(h EventHandler) {
	r.handlers = append(r.handlers, h)
}

// Run subscribes to the bus and dispatches every delivered event until ctx
// is cancelled.
func (r *Reactor) Run(ctx context.Context) {
	sub := r.bus.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			r.Dispatch(ctx, e, HandlerContext{ChainDepth: e.ChainDepth, CorrelationID: e.CorrelationID})
			sub.Ack(e)
		}
	}
}

// Dispatch runs e through every registered handler whose category filter
// matches, in order. A handler error is logged and does not unwind the
// chain. Reactions
// of kind Emit are republished with ChainDepth+1, unless that would exceed
// MaxChainDepth.
func (r *Reactor) Dispatch(ctx context.Context, e *swarmmodel.Event, hctx HandlerContext) {
	for _, h := range r.handlers {
		if !matches(h.Categories(), e.Category) {
			continue
		}
		reaction, err := h.Handle(ctx, e, hctx)
		if err != nil {
			log.Printf("reactor: handler %s failed on event %d: %v", h.Name(), e.Sequence, err)
			continue
		}
		if reaction.Kind != ReactionEmit || len(reaction.Events) == 0 {
			continue
		}
		if hctx.ChainDepth+1 > MaxChainDepth {
			log.Printf("reactor: handler %s emission dropped, chain depth %d exceeds max %d", h.Name(), hctx.ChainDepth+1, MaxChainDepth)
			continue
		}
		for _, emitted := range reaction.Events {
			emitted.CorrelationID = hctx.CorrelationID
			emitted.ChainDepth = hctx.ChainDepth + 1
			if err := r.bus.Publish(ctx, emitted); err != nil {
				log.Printf("reactor: handler %s emission publish failed: %v", h.Name(), err)
			}
		}
	}
}

func matches(categories []swarmmodel.Category, c swarmmodel.Category) bool {
	if len(categories) == 0 {
		return true
	}
	for _, want := range categories {
		if want == c {
			return true
		}
	}
	return false
}
