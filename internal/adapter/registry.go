// Package adapter implements the A2A gateway registration seam: a minimal
// plugin-registration contract that lets an external ingestion/egress
// adapter (or an AgentTemplate itself on create/update) announce a name
// and a capability set at startup. Concrete adapters -- prompt-based or
// native -- stay out of scope; only the registry they would register into
// is implemented here.
//
// Registration never blocks startup: Register reports an error but
// callers are expected to log it and move on, exactly as agent_create's
// best-effort registration does.
package adapter

import (
	"fmt"
	"sort"
	"sync"
)

// Manifest describes one registered adapter: a unique name and the
// capability strings it declares, the same name+capabilities pair the
// orchestrator registers with the A2A gateway.
type Manifest struct {
	Name         string
	Capabilities []string
}

// Registry holds the adapters (or agent templates) that have
// announced themselves. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Manifest
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Manifest)}
}

// Register records m, overwriting any prior registration under the same
// name -- the same "new version supersedes" behavior AgentTemplate
// versioning already gives a re-registered template. It returns an error
// only for a malformed manifest (empty name); callers follow the
// orchestrator's best-effort rule and log rather than fail startup on it.
func (r *Registry) Register(m Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("adapter: manifest name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[m.Name] = m
	return nil
}

// Deregister removes name from the registry, if present.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Get returns the manifest registered under name, if any.
func (r *Registry) Get(name string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// List returns every registered manifest sorted by name.
func (r *Registry) List() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Manifest, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasCapability reports whether the adapter registered under name declares
// capability.
func (r *Registry) HasCapability(name, capability string) bool {
	m, ok := r.Get(name)
	if !ok {
		return false
	}
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
