package agentservice

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memTemplateRepo struct {
	mu    sync.Mutex
	byKey map[string]*swarmmodel.AgentTemplate // name|version
}

func newMemTemplateRepo() *memTemplateRepo {
	return &memTemplateRepo{byKey: make(map[string]*swarmmodel.AgentTemplate)}
}

func key(name string, version int) string {
	return fmt.Sprintf("%s|%d", name, version)
}

func (m *memTemplateRepo) Create(_ context.Context, t *swarmmodel.AgentTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[key(t.Name, t.Version)] = t
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
	t, ok := m.byKey[key(name, version)]
	if !ok {
		return nil, errNotFound
	}
	return t, nil
}

func (m *memTemplateRepo) SetStatus(_ context.Context, name string, version int, status swarmmodel.TemplateStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byKey[key(name, version)]
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

type memGoalRepo struct {
	mu    sync.Mutex
	goals map[swarmmodel.ID]*swarmmodel.Goal
}

func newMemGoalRepo() *memGoalRepo {
	return &memGoalRepo{goals: make(map[swarmmodel.ID]*swarmmodel.Goal)}
}

func (m *memGoalRepo) Create(_ context.Context, g *swarmmodel.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.ID] = g
	return nil
}
func (m *memGoalRepo) Update(_ context.Context, g *swarmmodel.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.ID] = g
	return nil
}
func (m *memGoalRepo) Get(_ context.Context, id swarmmodel.ID) (*swarmmodel.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[id]
	if !ok {
		return nil, errNotFound
	}
	return g, nil
}
func (m *memGoalRepo) ListActive(_ context.Context) ([]*swarmmodel.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*swarmmodel.Goal
	for _, g := range m.goals {
		if g.Status == swarmmodel.GoalActive {
			out = append(out, g)
		}
	}
	return out, nil
}
func (m *memGoalRepo) List(_ context.Context) ([]*swarmmodel.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*swarmmodel.Goal, 0, len(m.goals))
	for _, g := range m.goals {
		out = append(out, g)
	}
	return out, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

func TestService_CreateOrUpdate_VersionsIncrement(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := New(templates, nil, nil, nil)

	v1, err := svc.CreateOrUpdate(ctx, TemplateSpec{Name: "reviewer", SystemPrompt: "Review code.", Tier: swarmmodel.TierSpecialist})
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)

	v2, err := svc.CreateOrUpdate(ctx, TemplateSpec{Name: "reviewer", SystemPrompt: "Review code more carefully.", Tier: swarmmodel.TierSpecialist})
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)

	latest, err := svc.GetTemplate(ctx, "reviewer")
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version)

	historic, err := svc.GetTemplateVersion(ctx, "reviewer", 1)
	require.NoError(t, err)
	require.Equal(t, "Review code.", historic.SystemPrompt)
}

func TestService_CapabilityRegistrationFailureDoesNotBlockCreate(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := New(templates, nil, nil, func(context.Context, string, []string) error {
		return errNotFound
	})

	tmpl, err := svc.CreateOrUpdate(ctx, TemplateSpec{Name: "scout", SystemPrompt: "Explore.", Tier: swarmmodel.TierWorker})
	require.NoError(t, err)
	require.Equal(t, "scout", tmpl.Name)
}

func TestService_DisableHidesFromScheduler(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	svc := New(templates, nil, nil, nil)

	tmpl, err := svc.CreateOrUpdate(ctx, TemplateSpec{Name: "builder", SystemPrompt: "Build.", Tier: swarmmodel.TierWorker})
	require.NoError(t, err)
	require.NoError(t, svc.Disable(ctx, tmpl.Name, tmpl.Version))

	_, err = svc.GetTemplate(ctx, tmpl.Name)
	require.Error(t, err)
}

func TestService_AssembleSystemPrompt_FivePartsInOrder(t *testing.T) {
	ctx := context.Background()
	templates := newMemTemplateRepo()
	goals := newMemGoalRepo()
	goalID := swarmmodel.NewID()
	require.NoError(t, goals.Create(ctx, &swarmmodel.Goal{
		ID:          goalID,
		Name:        "Ship reliably",
		Description: "Prioritize correctness over speed.",
		Priority:    swarmmodel.PriorityHigh,
		Status:      swarmmodel.GoalActive,
		Constraints: []swarmmodel.Constraint{{Name: "no-secrets", Description: "never commit credentials"}},
	}))

	svc := New(templates, goals, nil, nil)
	tmpl, err := svc.CreateOrUpdate(ctx, TemplateSpec{Name: "builder", SystemPrompt: "You build things.", Tier: swarmmodel.TierWorker})
	require.NoError(t, err)

	prompt, err := svc.AssembleSystemPrompt(ctx, tmpl)
	require.NoError(t, err)

	idxPrompt := indexOf(prompt, "You build things.")
	idxGit := indexOf(prompt, "Git Workflow")
	idxTools := indexOf(prompt, "Tool Restrictions")
	idxDirectory := indexOf(prompt, "task_submit")
	idxGoal := indexOf(prompt, "Ship reliably")

	require.True(t, idxPrompt < idxGit)
	require.True(t, idxGit < idxTools)
	require.True(t, idxTools < idxDirectory)
	require.True(t, idxDirectory < idxGoal)
	require.Contains(t, prompt, "no-secrets")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
