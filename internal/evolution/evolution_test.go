package evolution

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/substrate"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memTemplateRepo struct {
	mu    sync.Mutex
	byKey map[string]*swarmmodel.AgentTemplate
}

func newMemTemplateRepo() *memTemplateRepo {
	return &memTemplateRepo{byKey: make(map[string]*swarmmodel.AgentTemplate)}
}

func tkey(name string, version int) string {
	return fmt.Sprintf("%s/%d", name, version)
}

func (m *memTemplateRepo) Create(_ context.Context, t *swarmmodel.AgentTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[tkey(t.Name, t.Version)] = t
	return nil
}

func (m *memTemplateRepo) Latest(_ context.Context, name string) (*swarmmodel.AgentTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *swarmmodel.AgentTemplate
	for _, t := range m.byKey {
		if t.Name != name || t.Status != swarmmodel.TemplateActive {
			continue
		}
		if best == nil || t.Version > best.Version {
			best = t
		}
	}
	if best == nil {
		return nil, errNotFound
	}
	return best, nil
}

func (m *memTemplateRepo) Version(_ context.Context, name string, version int) (*swarmmodel.AgentTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byKey[tkey(name, version)]
	if !ok {
		return nil, errNotFound
	}
	return t, nil
}

func (m *memTemplateRepo) SetStatus(_ context.Context, name string, version int, status swarmmodel.TemplateStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byKey[tkey(name, version)]
	if !ok {
		return errNotFound
	}
	t.Status = status
	return nil
}

func (m *memTemplateRepo) List(_ context.Context) ([]*swarmmodel.AgentTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*swarmmodel.AgentTemplate, 0, len(m.byKey))
	for _, t := range m.byKey {
		out = append(out, t)
	}
	return out, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

type scriptedSubstrate struct {
	output string
	err    error
}

func (s *scriptedSubstrate) Name() string { return "scripted" }
func (s *scriptedSubstrate) Run(context.Context, substrate.Request) ([]substrate.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []substrate.Result{{Output: s.output}}, nil
}

func TestLoop_LowSuccessRate_QueuesRefinement(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := agentservice.New(templates, nil, nil, nil)
	tmpl, err := svc.CreateOrUpdate(ctx, agentservice.TemplateSpec{Name: "builder", SystemPrompt: "Build things.", Tier: swarmmodel.TierWorker})
	require.NoError(t, err)

	loop := New(svc, nil, nil, DefaultConfig())
	var lastEvent *EvolutionEvent
	for i := 0; i < 5; i++ {
		ev, err := loop.RecordExecution(ctx, "builder", i < 2, "", swarmmodel.NewID(), tmpl.Version)
		require.NoError(t, err)
		if ev != nil {
			lastEvent = ev
		}
	}
	require.NotNil(t, lastEvent)
	require.Equal(t, TriggerLowSuccessRate, lastEvent.Trigger)
	require.Equal(t, ActionRefinementRequested, lastEvent.ActionTaken)

	require.NoError(t, loop.Drain(ctx))
	refined, err := svc.GetTemplate(ctx, "builder")
	require.NoError(t, err)
	require.Equal(t, 2, refined.Version)
	require.Contains(t, refined.SystemPrompt, "Refinement Notes")
}

func TestLoop_Refine_PrefersSubstrateOutput(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := agentservice.New(templates, nil, nil, nil)
	tmpl, err := svc.CreateOrUpdate(ctx, agentservice.TemplateSpec{Name: "reviewer", SystemPrompt: "Review things.", Tier: swarmmodel.TierSpecialist})
	require.NoError(t, err)

	sub := &scriptedSubstrate{output: "You are a meticulous code reviewer."}
	loop := New(svc, sub, nil, DefaultConfig())

	refined, err := loop.Refine(ctx, RefinementRequest{TemplateName: "reviewer", TemplateVersion: tmpl.Version, Trigger: TriggerLowSuccessRate})
	require.NoError(t, err)
	require.Equal(t, "You are a meticulous code reviewer.", refined.SystemPrompt)
}

func TestLoop_Refine_FallsBackToHeuristicOnSubstrateError(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := agentservice.New(templates, nil, nil, nil)
	tmpl, err := svc.CreateOrUpdate(ctx, agentservice.TemplateSpec{Name: "scout", SystemPrompt: "Explore the repo.", Tier: swarmmodel.TierWorker})
	require.NoError(t, err)

	loop := New(svc, &scriptedSubstrate{err: errNotFound}, nil, DefaultConfig())

	refined, err := loop.Refine(ctx, RefinementRequest{TemplateName: "scout", TemplateVersion: tmpl.Version, Trigger: TriggerGoalViolationPattern, Stats: Stats{Successes: 1, Failures: 4}})
	require.NoError(t, err)
	require.Contains(t, refined.SystemPrompt, "Explore the repo.")
	require.Contains(t, refined.SystemPrompt, "Refinement Notes (v2)")
}

// TestLoop_RegressionDetected_RevertsToEarlierVersion covers the
// Reverted{from,to} action.
func TestLoop_RegressionDetected_RevertsToEarlierVersion(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := agentservice.New(templates, nil, nil, nil)
	v1, err := svc.CreateOrUpdate(ctx, agentservice.TemplateSpec{Name: "builder", SystemPrompt: "Build things carefully.", Tier: swarmmodel.TierWorker})
	require.NoError(t, err)

	loop := New(svc, nil, nil, DefaultConfig())
	loop.RecordVersionChange("builder", v1.Version)
	for i := 0; i < 8; i++ {
		_, err := loop.RecordExecution(ctx, "builder", true, "", swarmmodel.NewID(), v1.Version)
		require.NoError(t, err)
	}

	v2, err := svc.CreateOrUpdate(ctx, agentservice.TemplateSpec{Name: "builder", SystemPrompt: "Build things fast.", Tier: swarmmodel.TierWorker})
	require.NoError(t, err)
	loop.RecordVersionChange("builder", v2.Version)

	// v2's rolling window starts fresh at rate 1.0 (no executions yet); its
	// first failure already drops the window's rate to 0, which is >= the
	// configured regression threshold below v1's recorded 1.0 baseline.
	event, err := loop.RecordExecution(ctx, "builder", false, "", swarmmodel.NewID(), v2.Version)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, TriggerRegressionDetected, event.Trigger)
	require.Equal(t, ActionReverted, event.ActionTaken)

	latest, err := svc.GetTemplate(ctx, "builder")
	require.NoError(t, err)
	require.Contains(t, latest.SystemPrompt, "Build things carefully.")
	require.Contains(t, latest.SystemPrompt, "Reverted due to regression")
}
