package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abathur/swarm/internal/agentservice"
	"github.com/abathur/swarm/pkg/swarmmodel"
)

type createAgentRequest struct {
	Name         string                       `json:"name"`
	Description  string                       `json:"description"`
	SystemPrompt string                       `json:"system_prompt"`
	Tier         string                       `json:"tier,omitempty"`
	Tools        []string                     `json:"tools,omitempty"`
	Constraints  []swarmmodel.AgentConstraint `json:"constraints,omitempty"`
	MaxTurns     int                          `json:"max_turns,omitempty"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "agent.invalid_body"})
		return
	}
	tools := make([]swarmmodel.ToolCapability, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, swarmmodel.ToolCapability(t))
	}
	tmpl, err := s.agents.CreateOrUpdate(r.Context(), agentservice.TemplateSpec{
		Name:         req.Name,
		Description:  req.Description,
		Tier:         swarmmodel.Tier(req.Tier),
		SystemPrompt: req.SystemPrompt,
		Tools:        tools,
		Constraints:  req.Constraints,
		MaxTurns:     req.MaxTurns,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	templates, err := s.agents.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tmpl, err := s.agents.GetTemplate(r.Context(), name)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

// handleDisableAgent disables the latest version of the named template;
// disabling is how this facade "deletes" an agent without losing the
// versioned history the registry retains.
func (s *Server) handleDisableAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tmpl, err := s.agents.GetTemplate(r.Context(), name)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.agents.Disable(r.Context(), name, tmpl.Version); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
