package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/eventbus"
	"github.com/abathur/swarm/internal/swarmerr"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memTemplateRepo struct {
	mu    sync.Mutex
	byKey map[string]*swarmmodel.AgentTemplate
}

func newMemTemplateRepo() *memTemplateRepo {
	return &memTemplateRepo{byKey: make(map[string]*swarmmodel.AgentTemplate)}
}

func tplKey(name string, version int) string { return fmt.Sprintf("%s|%d", name, version) }

func (m *memTemplateRepo) Create(_ context.Context, t *swarmmodel.AgentTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.byKey[tplKey(t.Name, t.Version)] = &cp
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
		return nil, swarmerr.NotFound("test.not_found", "not found")
	}
	cp := *best
	return &cp, nil
}

func (m *memTemplateRepo) Version(_ context.Context, name string, version int) (*swarmmodel.AgentTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byKey[tplKey(name, version)]
	if !ok {
		return nil, swarmerr.NotFound("test.not_found", "not found")
	}
	cp := *t
	return &cp, nil
}

func (m *memTemplateRepo) SetStatus(_ context.Context, name string, version int, status swarmmodel.TemplateStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byKey[tplKey(name, version)]
	if !ok {
		return swarmerr.NotFound("test.not_found", "not found")
	}
	t.Status = status
	return nil
}

func (m *memTemplateRepo) List(_ context.Context) ([]*swarmmodel.AgentTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*swarmmodel.AgentTemplate, 0, len(m.byKey))
	for _, t := range m.byKey {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

type memGoalRepo struct{}

func (memGoalRepo) Create(context.Context, *swarmmodel.Goal) error { return nil }
func (memGoalRepo) Update(context.Context, *swarmmodel.Goal) error { return nil }
func (memGoalRepo) Get(context.Context, swarmmodel.ID) (*swarmmodel.Goal, error) {
	return nil, swarmerr.NotFound("test.not_found", "not found")
}
func (memGoalRepo) ListActive(context.Context) ([]*swarmmodel.Goal, error) { return nil, nil }
func (memGoalRepo) List(context.Context) ([]*swarmmodel.Goal, error)       { return nil, nil }

type memMemoryRepo struct {
	mu   sync.Mutex
	byID map[swarmmodel.ID]*swarmmodel.Memory
}

func newMemMemoryRepo() *memMemoryRepo {
	return &memMemoryRepo{byID: make(map[swarmmodel.ID]*swarmmodel.Memory)}
}

func (m *memMemoryRepo) Put(_ context.Context, mem *swarmmodel.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mem
	m.byID[mem.ID] = &cp
	return nil
}

func (m *memMemoryRepo) Get(_ context.Context, id swarmmodel.ID) (*swarmmodel.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.byID[id]
	if !ok {
		return nil, swarmerr.NotFound("test.not_found", "not found")
	}
	cp := *mem
	return &cp, nil
}

func (m *memMemoryRepo) GetLatest(_ context.Context, namespace, key string) (*swarmmodel.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *swarmmodel.Memory
	for _, mem := range m.byID {
		if mem.Namespace != namespace || mem.Key != key {
			continue
		}
		if best == nil || mem.Version > best.Version {
			best = mem
		}
	}
	if best == nil {
		return nil, swarmerr.NotFound("test.not_found", "not found")
	}
	cp := *best
	return &cp, nil
}

func (m *memMemoryRepo) Delete(_ context.Context, id swarmmodel.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memMemoryRepo) Search(_ context.Context, query, namespace string, limit int) ([]*swarmmodel.Memory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*swarmmodel.Memory
	for _, mem := range m.byID {
		if namespace != "" && mem.Namespace != namespace {
			continue
		}
		cp := *mem
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *memMemoryRepo) {
	t.Helper()
	templates := newMemTemplateRepo()
	bus := eventbus.New(&nopEventStore{})
	agents := agentservice.New(templates, memGoalRepo{}, bus, nil)
	memories := newMemMemoryRepo()
	return NewServer(agents, memories), memories
}

type nopEventStore struct {
	mu  sync.Mutex
	seq uint64
}

func (e *nopEventStore) Append(_ context.Context, ev *swarmmodel.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	ev.Sequence = e.seq
	return nil
}
func (e *nopEventStore) From(context.Context, uint64, int) ([]*swarmmodel.Event, error) {
	return nil, nil
}
func (e *nopEventStore) Since(context.Context, time.Time, int) ([]*swarmmodel.Event, error) {
	return nil, nil
}
func (e *nopEventStore) LatestSequence(context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq, nil
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestAgentCreateListGetDisable(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(createAgentRequest{
		Name:         "code-reviewer",
		Description:  "reviews diffs",
		SystemPrompt: "You review code.",
		Tier:         "specialist",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []swarmmodel.AgentTemplate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents/code-reviewer", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/agents/code-reviewer", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents/code-reviewer", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemoryCreateGetSearch(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(createMemoryRequest{
		Namespace: "swarm:tasks",
		Key:       "lesson-1",
		Content:   "retry on transient errors with backoff",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created memoryRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, 1, created.Version)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/memory/"+created.ID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/memory/search?q=backoff&namespace=swarm:tasks", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var found []memoryRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/memory/stats", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
