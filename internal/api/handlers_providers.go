package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/campaign-runner/internal/adapter"
	"github.com/campaign-runner/internal/job"
	"github.com/campaign-runner/internal/models"
)

type estimateRequest struct {
	Name       string                     `json:"name,omitempty"`
	Definition *models.CampaignDefinition `json:"definition,omitempty"`
	Platform   string                     `json:"platform,omitempty"`
}

// handleEstimate handles POST /api/estimate. An inline definition wins over a
// stored one looked up by name.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	def := req.Definition
	switch {
	case def != nil:
		def.Normalize()
		if err := def.Validate(); err != nil {
			respondServiceError(w, r, err)
			return
		}
	case strings.TrimSpace(req.Name) != "":
		stored, err := s.deps.Profiles.Get(r.Context(), req.Name)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		def = stored
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "name or definition required", nil)
		return
	}

	respondJSON(w, http.StatusOK, job.EstimateCampaign(s.deps.Services, def, strings.TrimSpace(req.Platform)))
}

// handleBalance handles GET /api/providers/{provider}/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	provider := adapter.NormalizeProvider(mux.Vars(r)["provider"])

	balance, err := s.deps.Orders.Balance(r.Context(), provider)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, balance)
}
