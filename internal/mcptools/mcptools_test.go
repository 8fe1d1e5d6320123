package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/internal/repo/sqlite"
	"github.com/abathur/swarm/internal/taskservice"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

func TestNormalizeSubtaskTitle(t *testing.T) {
	got := normalizeSubtaskTitle("Fix the Bug in the Authentication Flow for All Users")
	want := "fix_bug_authentication_flow_users"
	if got != want {
		t.Fatalf("normalizeSubtaskTitle = %q, want %q", got, want)
	}
}

func TestSubtaskIdempotencyKey(t *testing.T) {
	parent := swarmmodel.NewID()
	got := SubtaskIdempotencyKey(parent, "", "Review the pull request")
	want := "subtask:" + parent.String() + ":unknown:review_pull_request"
	if got != want {
		t.Fatalf("SubtaskIdempotencyKey = %q, want %q", got, want)
	}
}

func newTestEnv(t *testing.T) (*taskservice.Service, *agentservice.Service, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	tasks := taskservice.New(sqlite.NewTaskRepository(db), nil, taskservice.DefaultConfig())
	agents := agentservice.New(sqlite.NewAgentTemplateRepository(db), sqlite.NewGoalRepository(db), nil, nil)
	return tasks, agents, db
}

func TestTaskSubmitAndGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tasks, _, _ := newTestEnv(t)

	submit := NewTaskSubmit(tasks)
	res, err := submit.Execute(ctx, json.RawMessage(`{"description": "do the thing", "title": "Do Thing", "priority": "high"}`))
	if err != nil || res.IsError {
		t.Fatalf("task_submit failed: err=%v res=%+v", err, res)
	}

	var submitted taskProjection
	if err := json.Unmarshal([]byte(res.Content[0].Text), &submitted); err != nil {
		t.Fatalf("unmarshal submit result: %v", err)
	}
	if submitted.Status != "ready" {
		t.Fatalf("expected new task to be ready, got %q", submitted.Status)
	}

	get := NewTaskGet(tasks)
	getRes, err := get.Execute(ctx, json.RawMessage(`{"id": "`+submitted.ID+`"}`))
	if err != nil || getRes.IsError {
		t.Fatalf("task_get failed: err=%v res=%+v", err, getRes)
	}
}

func TestTaskSubmit_SubtaskComputesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	tasks, _, _ := newTestEnv(t)

	submit := NewTaskSubmit(tasks)
	parentRes, _ := submit.Execute(ctx, json.RawMessage(`{"description": "parent task"}`))
	var parent taskProjection
	_ = json.Unmarshal([]byte(parentRes.Content[0].Text), &parent)

	childParams, _ := json.Marshal(map[string]string{
		"description": "child work",
		"title":       "Fix the Bug",
		"parent_id":   parent.ID,
	})
	childRes, err := submit.Execute(ctx, childParams)
	if err != nil || childRes.IsError {
		t.Fatalf("subtask submit failed: err=%v res=%+v", err, childRes)
	}
	var child taskProjection
	_ = json.Unmarshal([]byte(childRes.Content[0].Text), &child)
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("expected child.ParentID == parent.ID, got %+v", child)
	}

	// Re-submitting the identical subtask must be idempotent.
	dupRes, err := submit.Execute(ctx, childParams)
	if err != nil || dupRes.IsError {
		t.Fatalf("duplicate subtask submit failed: err=%v res=%+v", err, dupRes)
	}
	var dup taskProjection
	_ = json.Unmarshal([]byte(dupRes.Content[0].Text), &dup)
	if dup.ID != child.ID {
		t.Fatalf("expected idempotent resubmission to return the same task, got %q != %q", dup.ID, child.ID)
	}
}

func TestAgentCreateAndList(t *testing.T) {
	ctx := context.Background()
	_, agents, _ := newTestEnv(t)

	create := NewAgentCreate(agents)
	res, err := create.Execute(ctx, json.RawMessage(`{"name": "reviewer", "description": "reviews code", "system_prompt": "You review code."}`))
	if err != nil || res.IsError {
		t.Fatalf("agent_create failed: err=%v res=%+v", err, res)
	}

	list := NewAgentList(agents)
	listRes, err := list.Execute(ctx, nil)
	if err != nil || listRes.IsError {
		t.Fatalf("agent_list failed: err=%v res=%+v", err, listRes)
	}
	var agentsOut []agentProjection
	if err := json.Unmarshal([]byte(listRes.Content[0].Text), &agentsOut); err != nil {
		t.Fatalf("unmarshal agent_list result: %v", err)
	}
	if len(agentsOut) != 1 || agentsOut[0].Name != "reviewer" {
		t.Fatalf("expected one reviewer template, got %+v", agentsOut)
	}
}

func TestMemoryStoreGetSearch(t *testing.T) {
	ctx := context.Background()
	_, _, db := newTestEnv(t)
	memories := sqlite.NewMemoryRepository(db)

	store := NewMemoryStore(memories)
	res, err := store.Execute(ctx, json.RawMessage(`{"key": "k1", "content": "the quick brown fox", "namespace": "proj:a"}`))
	if err != nil || res.IsError {
		t.Fatalf("memory_store failed: err=%v res=%+v", err, res)
	}
	var stored map[string]string
	_ = json.Unmarshal([]byte(res.Content[0].Text), &stored)

	get := NewMemoryGet(memories)
	getRes, err := get.Execute(ctx, json.RawMessage(`{"id": "`+stored["id"]+`"}`))
	if err != nil || getRes.IsError {
		t.Fatalf("memory_get failed: err=%v res=%+v", err, getRes)
	}
	var m memoryProjection
	_ = json.Unmarshal([]byte(getRes.Content[0].Text), &m)
	if m.Content != "the quick brown fox" {
		t.Fatalf("expected round-tripped content, got %q", m.Content)
	}

	search := NewMemorySearch(memories)
	searchRes, err := search.Execute(ctx, json.RawMessage(`{"query": "quick fox", "namespace": "proj:a"}`))
	if err != nil || searchRes.IsError {
		t.Fatalf("memory_search failed: err=%v res=%+v", err, searchRes)
	}
	var results []memoryProjection
	_ = json.Unmarshal([]byte(searchRes.Content[0].Text), &results)
	if len(results) == 0 {
		t.Fatalf("expected at least one search result")
	}
}

func TestRegistry_ListAndDispatch(t *testing.T) {
	tasks, agents, db := newTestEnv(t)
	memories := sqlite.NewMemoryRepository(db)
	goals := sqlite.NewGoalRepository(db)

	reg := BuildRegistry(tasks, agents, memories, goals)
	defs := reg.List()
	if len(defs) != 11 {
		t.Fatalf("expected 11 tools registered, got %d", len(defs))
	}
	if reg.Get("task_submit") == nil {
		t.Fatalf("expected task_submit to be registered")
	}
	if reg.Get("nonexistent") != nil {
		t.Fatalf("expected nonexistent tool to be absent")
	}
}
