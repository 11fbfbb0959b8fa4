package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/campaign-runner/internal/job"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleListHistory handles GET /api/history?limit=N, newest first
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}

	entries, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleGetHistory handles GET /api/history/{id}
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.History.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleLiveStatus handles GET /api/history/{id}/live, querying the provider
// for the current state of every order the entry placed
func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.History.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job.LiveOrderStatus(r.Context(), s.deps.Orders, entry))
}
