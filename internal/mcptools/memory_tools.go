package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abathur/swarm/internal/repo"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memoryProjection struct {
	ID         string   `json:"id"`
	Key        string   `json:"key"`
	Content    string   `json:"content"`
	Namespace  string   `json:"namespace"`
	MemoryType string   `json:"memory_type,omitempty"`
	Tier       string   `json:"tier,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func projectMemory(m *swarmmodel.Memory) memoryProjection {
	return memoryProjection{
		ID:         m.ID.String(),
		Key:        m.Key,
		Content:    decodeMemoryContent(m.Value),
		Namespace:  m.Namespace,
		MemoryType: string(m.MemoryType),
		Tier:       string(m.Tier),
		Tags:       m.Tags,
	}
}

// decodeMemoryContent unwraps a Memory.Value JSON string back to plain
// text; non-string payloads are returned as their raw JSON text, so a
// memory stored by another caller never fails to render here.
func decodeMemoryContent(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// MemoryStore implements the memory_store tool.
type MemoryStore struct{ memories repo.MemoryRepository }

func NewMemoryStore(memories repo.MemoryRepository) *MemoryStore {
	return &MemoryStore{memories: memories}
}

func (t *MemoryStore) Name() string        { return "memory_store" }
func (t *MemoryStore) Description() string { return "Store a memory record as a new version." }
func (t *MemoryStore) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "required": ["key", "content"],
  "properties": {
    "key": {"type": "string"},
    "content": {"type": "string"},
    "namespace": {"type": "string"},
    "memory_type": {"type": "string"},
    "tier": {"type": "string", "enum": ["working", "episodic", "semantic"]}
  }
}`)
}

type memoryStoreParams struct {
	Key        string `json:"key"`
	Content    string `json:"content"`
	Namespace  string `json:"namespace,omitempty"`
	MemoryType string `json:"memory_type,omitempty"`
	Tier       string `json:"tier,omitempty"`
}

func (t *MemoryStore) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p memoryStoreParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	version := 1
	if existing, err := t.memories.GetLatest(ctx, p.Namespace, p.Key); err == nil && existing != nil {
		version = existing.Version + 1
	}

	value, err := json.Marshal(p.Content)
	if err != nil {
		return ErrorResult(fmt.Sprintf("encoding content: %v", err)), nil
	}

	tier := swarmmodel.MemoryTier(p.Tier)
	if tier == "" {
		tier = swarmmodel.TierWorking
	}

	m := &swarmmodel.Memory{
		ID:         swarmmodel.NewID(),
		Namespace:  p.Namespace,
		Key:        p.Key,
		Value:      value,
		MemoryType: swarmmodel.MemoryType(p.MemoryType),
		Tier:       tier,
		Version:    version,
	}
	m.Stamps.Touch(time.Now())

	if err := t.memories.Put(ctx, m); err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(map[string]any{"id": m.ID.String(), "key": m.Key, "tier": string(m.Tier)})
}

// MemoryGet implements the memory_get tool.
type MemoryGet struct{ memories repo.MemoryRepository }

func NewMemoryGet(memories repo.MemoryRepository) *MemoryGet { return &MemoryGet{memories: memories} }

func (t *MemoryGet) Name() string        { return "memory_get" }
func (t *MemoryGet) Description() string { return "Get a memory record by id." }
func (t *MemoryGet) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "required": ["id"], "properties": {"id": {"type": "string"}}}`)
}

func (t *MemoryGet) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p taskIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	id, err := swarmmodel.ParseID(p.ID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid id: %v", err)), nil
	}
	m, err := t.memories.Get(ctx, id)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(projectMemory(m))
}

// MemorySearch implements the memory_search tool.
type MemorySearch struct{ memories repo.MemoryRepository }

func NewMemorySearch(memories repo.MemoryRepository) *MemorySearch {
	return &MemorySearch{memories: memories}
}

func (t *MemorySearch) Name() string        { return "memory_search" }
func (t *MemorySearch) Description() string { return "Rank memories by relevance to a query." }
func (t *MemorySearch) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string"},
    "namespace": {"type": "string"},
    "limit": {"type": "integer"}
  }
}`)
}

type memorySearchParams struct {
	Query     string `json:"query"`
	Namespace string `json:"namespace,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (t *MemorySearch) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var p memorySearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	results, err := t.memories.Search(ctx, p.Query, p.Namespace, limit)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	out := make([]memoryProjection, 0, len(results))
	for _, m := range results {
		out = append(out, projectMemory(m))
	}
	return JSONResult(out)
}
