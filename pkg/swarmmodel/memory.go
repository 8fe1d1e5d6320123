package swarmmodel

import "encoding/json"

// MemoryType classifies the kind of knowledge a Memory record captures.
// The domain-level triad (Semantic/Episodic/Procedural) coexists with the
// richer agent-memory vocabulary (Fact/Code/Decision/Error/Pattern/
// Reference/Context)
type MemoryType string

const (
	MemorySemantic  MemoryType = "semantic"
	MemoryEpisodic  MemoryType = "episodic"
	MemoryProcedural MemoryType = "procedural"
	MemoryFact      MemoryType = "fact"
	MemoryCode      MemoryType = "code"
	MemoryDecision  MemoryType = "decision"
	MemoryError     MemoryType = "error"
	MemoryPattern   MemoryType = "pattern"
	MemoryReference MemoryType = "reference"
	MemoryContext   MemoryType = "context"
)

// MemoryTier is the retention/recency tier a Memory record occupies.
type MemoryTier string

const (
	TierWorking  MemoryTier = "working"
	TierEpisodic MemoryTier = "episodic"
	TierSemantic MemoryTier = "semantic"
)

// Memory is a versioned, namespaced key/value record. Updates create a new
// version rather than mutating in place; delete is soft (Deleted=true).
// (namespace, key) identifies the latest non-deleted version.
type Memory struct {
	ID          ID              `json:"id"`
	Namespace   string          `json:"namespace"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	MemoryType  MemoryType      `json:"memory_type"`
	Tier        MemoryTier      `json:"tier"`
	Version     int             `json:"version"`
	CreatedBy   string          `json:"created_by"`
	Deleted     bool            `json:"deleted,omitempty"`
	AccessCount int64           `json:"access_count"`
	Tags        []string        `json:"tags,omitempty"`
	Stamps
}
