// Package mock provides a deterministic substrate.Substrate for tests.
package mock

import (
	"context"
	"sync"

	"github.com/abathur/swarm/internal/substrate"
)

// Responder computes a Result for a given request and attempt index,
// letting tests script a sequence of improving/oscillating outcomes.
type Responder func(req substrate.Request, attempt int) substrate.Result

// Substrate is a scripted, in-process substrate.Substrate implementation.
type Substrate struct {
	mu       sync.Mutex
	attempt  int
	Respond  Responder
}

// New creates a mock substrate driven by respond.
func New(respond Responder) *Substrate {
	return &Substrate{Respond: respond}
}

func (m *Substrate) Name() string { return "mock" }

func (m *Substrate) Run(ctx context.Context, req substrate.Request) ([]substrate.Result, error) {
	m.mu.Lock()
	attempt := m.attempt
	m.attempt++
	m.mu.Unlock()

	n := req.ParallelSamples
	if n < 1 {
		n = 1
	}
	out := make([]substrate.Result, n)
	for i := range out {
		out[i] = m.Respond(req, attempt)
	}
	return out, nil
}
