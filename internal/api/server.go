// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/campaign-runner/internal/adapter"
	"github.com/campaign-runner/internal/job"
	"github.com/campaign-runner/internal/logging"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/storage"
)

// Interfaces for dependency injection and testing

// JobScheduler defines the dispatcher operations exposed over HTTP
type JobScheduler interface {
	ScheduleCampaign(ctx context.Context, req job.CampaignRequest) (string, error)
	ScheduleSingleOrder(ctx context.Context, req job.OrderRequest) (string, error)
	ScheduleServiceOrder(ctx context.Context, req job.OrderRequest) (string, error)
	RequestStop(ctx context.Context, jobID string) error
	GetStatus(ctx context.Context, jobID string) (*models.Job, error)
	ListActiveJobs() []*models.Job
}

// HealthFunc reports component states for the health endpoint
type HealthFunc func() map[string]interface{}

// Dependencies groups the collaborators the handlers call
type Dependencies struct {
	Scheduler JobScheduler
	History   storage.HistoryStore
	Orders    adapter.OrderClient
	Services  job.ServiceResolver
	Profiles  job.DefinitionStore
	Health    HealthFunc
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // per client
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
	}

	s.setupRouter()

	return s
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Scheduling
	api.HandleFunc("/campaigns", s.handleScheduleCampaign).Methods("POST")
	api.HandleFunc("/orders", s.handleScheduleOrder).Methods("POST")
	api.HandleFunc("/orders/by-service", s.handleScheduleServiceOrder).Methods("POST")
	api.HandleFunc("/estimate", s.handleEstimate).Methods("POST")

	// Jobs; /jobs/active must be registered before /jobs/{id}
	api.HandleFunc("/jobs/active", s.handleActiveJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/stop", s.handleStopJob).Methods("POST")

	// History
	api.HandleFunc("/history", s.handleListHistory).Methods("GET")
	api.HandleFunc("/history/{id}", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/history/{id}/live", s.handleLiveStatus).Methods("GET")

	// Providers
	api.HandleFunc("/providers/{provider}/balance", s.handleBalance).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "campaign-runner",
	}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			body[k] = v
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
