package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/campaign-runner/internal/job"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/types"
)

// ScheduleResponse acknowledges a queued job
type ScheduleResponse struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
}

type campaignRequest struct {
	Name       string                     `json:"name"`
	Definition *models.CampaignDefinition `json:"definition,omitempty"`
	Link       string                     `json:"link"`
	Platform   string                     `json:"platform,omitempty"`
	StartAt    *time.Time                 `json:"start_at,omitempty"`
}

type orderRequest struct {
	Platform   string `json:"platform"`
	Engagement string `json:"engagement"`
	ServiceID  string `json:"service_id,omitempty"`
	Link       string `json:"link"`
	Quantity   int    `json:"quantity"`
}

func (o orderRequest) toJob() job.OrderRequest {
	return job.OrderRequest{
		Platform:   o.Platform,
		Engagement: o.Engagement,
		ServiceID:  o.ServiceID,
		Link:       o.Link,
		Quantity:   o.Quantity,
	}
}

// handleScheduleCampaign handles POST /api/campaigns
func (s *Server) handleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	jobID, err := s.deps.Scheduler.ScheduleCampaign(r.Context(), job.CampaignRequest{
		Name:           req.Name,
		Definition:     req.Definition,
		Link:           req.Link,
		PlatformFilter: req.Platform,
		StartAt:        req.StartAt,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, ScheduleResponse{JobID: jobID, Status: types.StatusPending})
}

// handleScheduleOrder handles POST /api/orders
func (s *Server) handleScheduleOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	jobID, err := s.deps.Scheduler.ScheduleSingleOrder(r.Context(), req.toJob())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, ScheduleResponse{JobID: jobID, Status: types.StatusPending})
}

// handleScheduleServiceOrder handles POST /api/orders/by-service
func (s *Server) handleScheduleServiceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	jobID, err := s.deps.Scheduler.ScheduleServiceOrder(r.Context(), req.toJob())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, ScheduleResponse{JobID: jobID, Status: types.StatusPending})
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Scheduler.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleActiveJobs handles GET /api/jobs/active
func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Scheduler.ListActiveJobs()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleStopJob handles POST /api/jobs/{id}/stop. The response carries the
// job's status after the request: stopped for queued jobs, still running for
// jobs that stop at their next safe point.
func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if err := s.deps.Scheduler.RequestStop(r.Context(), jobID); err != nil {
		respondServiceError(w, r, err)
		return
	}

	status, err := s.deps.Scheduler.GetStatus(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, status)
}
