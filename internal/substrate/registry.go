package substrate

import (
	"context"
	"sync"

	"github.com/abathur/swarm/internal/swarmerr"
)

// Registry holds the set of enabled substrate backends and the
// agent_type -> substrate_id mapping of the substrate registry
// option group, dispatching each request to the backend its agent type is
// mapped to (falling back to the configured default).
type Registry struct {
	mu            sync.RWMutex
	backends      map[string]Substrate
	agentMappings map[string]string
	defaultID     string
}

// NewRegistry creates an empty Registry; register backends with Register
// before calling Select or Dispatch.
func NewRegistry(defaultID string) *Registry {
	return &Registry{
		backends:      make(map[string]Substrate),
		agentMappings: make(map[string]string),
		defaultID:     defaultID,
	}
}

// Register adds a backend under id (its config key, not necessarily
// Substrate.Name()).
func (r *Registry) Register(id string, backend Substrate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[id] = backend
}

// MapAgentType routes agentType's dispatches to the substrate registered
// under substrateID.
func (r *Registry) MapAgentType(agentType, substrateID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentMappings[agentType] = substrateID
}

// Select returns the backend for agentType: its explicit mapping if one
// exists, else the registry default.
func (r *Registry) Select(agentType string) (Substrate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := r.defaultID
	if mapped, ok := r.agentMappings[agentType]; ok {
		id = mapped
	}
	backend, ok := r.backends[id]
	if !ok {
		return nil, swarmerr.NotFound("substrate.registry.unknown_substrate", "no substrate registered for id "+id)
	}
	return backend, nil
}

// Dispatch selects the substrate for req.AgentType and runs req against it.
func (r *Registry) Dispatch(ctx context.Context, req Request) ([]Result, error) {
	backend, err := r.Select(req.AgentType)
	if err != nil {
		return nil, err
	}
	return backend.Run(ctx, req)
}

// Name identifies the registry itself as a Substrate, so it can be passed
// anywhere a single Substrate is expected (e.g. the convergence engine),
// with per-request routing by Request.AgentType.
func (r *Registry) Name() string { return "registry" }

// Run implements Substrate by dispatching through the registry, satisfying
// callers (internal/convergence.Engine) that hold a single substrate.Substrate.
func (r *Registry) Run(ctx context.Context, req Request) ([]Result, error) {
	return r.Dispatch(ctx, req)
}
