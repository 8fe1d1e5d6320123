package adapter

import "context"

// Registrar returns an agentservice.CapabilityRegistrar-shaped closure
// (context.Context, name string, capabilities []string) error) backed by
// r, so the orchestrator can hand the Registry to agentservice.New as the
// capability registrar for template create/update.
func (r *Registry) Registrar() func(ctx context.Context, name string, capabilities []string) error {
	return func(_ context.Context, name string, capabilities []string) error {
		return r.Register(Manifest{Name: name, Capabilities: capabilities})
	}
}
