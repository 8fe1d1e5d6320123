package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

type memoryRecord struct {
	ID         string   `json:"id"`
	Namespace  string   `json:"namespace"`
	Key        string   `json:"key"`
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type,omitempty"`
	Tier       string   `json:"tier,omitempty"`
	Version    int      `json:"version"`
	Tags       []string `json:"tags,omitempty"`
}

func projectMemoryRecord(m *swarmmodel.Memory) memoryRecord {
	var content string
	if err := json.Unmarshal(m.Value, &content); err != nil {
		content = string(m.Value)
	}
	return memoryRecord{
		ID:         m.ID.String(),
		Namespace:  m.Namespace,
		Key:        m.Key,
		Content:    content,
		MemoryType: string(m.MemoryType),
		Tier:       string(m.Tier),
		Version:    m.Version,
		Tags:       m.Tags,
	}
}

type createMemoryRequest struct {
	Namespace  string   `json:"namespace"`
	Key        string   `json:"key"`
	Content    string   `json:"content"`
	MemoryType string   `json:"memory_type,omitempty"`
	Tier       string   `json:"tier,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "memory.invalid_body"})
		return
	}
	if req.Key == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "key must not be empty", Code: "memory.invalid_key"})
		return
	}

	version := 1
	if existing, err := s.memories.GetLatest(r.Context(), req.Namespace, req.Key); err == nil && existing != nil {
		version = existing.Version + 1
	}

	value, err := json.Marshal(req.Content)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "memory.invalid_content"})
		return
	}
	tier := swarmmodel.MemoryTier(req.Tier)
	if tier == "" {
		tier = swarmmodel.TierWorking
	}

	m := &swarmmodel.Memory{
		ID:         swarmmodel.NewID(),
		Namespace:  req.Namespace,
		Key:        req.Key,
		Value:      value,
		MemoryType: swarmmodel.MemoryType(req.MemoryType),
		Tier:       tier,
		Version:    version,
		Tags:       req.Tags,
	}
	m.Stamps.Touch(time.Now())

	if err := s.memories.Put(r.Context(), m); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, projectMemoryRecord(m))
}

// handleListMemorySearchAll lists memories within an optional ?namespace=
// filter, reusing Search's empty-query "return all candidates" behavior
// rather than a dedicated list query.
func (s *Server) handleListMemorySearchAll(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	limit := queryInt(r, "limit", 100)
	results, err := s.memories.Search(r.Context(), "", namespace, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, projectMemoryRecords(results))
}

func (s *Server) handleSearchMemory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	namespace := r.URL.Query().Get("namespace")
	limit := queryInt(r, "limit", 20)
	results, err := s.memories.Search(r.Context(), query, namespace, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, projectMemoryRecords(results))
}

// handleMemoryStats reports record counts by tier; computed from an
// unlimited Search rather than a dedicated COUNT query, since
// repo.MemoryRepository exposes no aggregate method.
func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	all, err := s.memories.Search(r.Context(), "", namespace, 0)
	if err != nil {
		respondErr(w, err)
		return
	}
	byTier := map[string]int{}
	for _, m := range all {
		byTier[string(m.Tier)]++
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":   len(all),
		"by_tier": byTier,
	})
}

func (s *Server) handleGetMemoryByKey(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")
	m, err := s.memories.GetLatest(r.Context(), namespace, key)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, projectMemoryRecord(m))
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id, err := swarmmodel.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "memory.invalid_id"})
		return
	}
	m, err := s.memories.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, projectMemoryRecord(m))
}

type updateMemoryRequest struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// handleUpdateMemory updates in place by inserting a new version under
// the same namespace/key, consistent with the versioned-insert model the
// repository uses throughout.
func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id, err := swarmmodel.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "memory.invalid_id"})
		return
	}
	existing, err := s.memories.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}

	var req updateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "memory.invalid_body"})
		return
	}
	value, err := json.Marshal(req.Content)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "memory.invalid_content"})
		return
	}
	tags := req.Tags
	if tags == nil {
		tags = existing.Tags
	}

	m := &swarmmodel.Memory{
		ID:         swarmmodel.NewID(),
		Namespace:  existing.Namespace,
		Key:        existing.Key,
		Value:      value,
		MemoryType: existing.MemoryType,
		Tier:       existing.Tier,
		Version:    existing.Version + 1,
		Tags:       tags,
	}
	m.Stamps.Touch(time.Now())

	if err := s.memories.Put(r.Context(), m); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, projectMemoryRecord(m))
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, err := swarmmodel.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "memory.invalid_id"})
		return
	}
	if err := s.memories.Delete(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func projectMemoryRecords(ms []*swarmmodel.Memory) []memoryRecord {
	out := make([]memoryRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, projectMemoryRecord(m))
	}
	return out
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
