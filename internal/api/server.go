// Package api exposes the workflow engine over JSON HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"radiology-workflow/internal/logging"
	"radiology-workflow/internal/middleware"
	"radiology-workflow/internal/models"
	"radiology-workflow/internal/workflow"
)

// EventLog serves the persisted journal of domain events for a study.
type EventLog interface {
	Events(ctx context.Context, studyID string, after int64, limit int) ([]models.DomainEvent, int64, error)
}

type Server struct {
	engine         *workflow.Engine
	logger         *slog.Logger
	metrics        http.Handler
	journal        EventLog
	sweepStatus    func() (int64, time.Time)
	streamInterval time.Duration
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithEventLog enables GET /api/studies/{id}/events.
func WithEventLog(log EventLog) Option {
	return func(s *Server) { s.journal = log }
}

// WithSweepStatus reports background sweep progress on /healthz.
func WithSweepStatus(status func() (int64, time.Time)) Option {
	return func(s *Server) { s.sweepStatus = status }
}

// WithStreamInterval sets how often the overview stream pushes a snapshot.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) { s.streamInterval = d }
}

func New(engine *workflow.Engine, opts ...Option) *Server {
	s := &Server{
		engine:         engine,
		streamInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// Handler returns the routed API wrapped in request logging and CSRF
// protection.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/studies", s.handleCreateStudy)
	mux.HandleFunc("GET /api/studies/{id}/status", s.handleStudyStatus)
	mux.HandleFunc("POST /api/studies/{id}/status", s.handleUpdateStudyStatus)
	mux.HandleFunc("GET /api/studies/{id}/events", s.handleStudyEvents)

	mux.HandleFunc("POST /api/critical-values", s.handleCreateCriticalValue)
	mux.HandleFunc("GET /api/critical-values/{id}", s.handleCriticalValue)
	mux.HandleFunc("POST /api/critical-values/{id}/ack", s.handleAcknowledge)
	mux.HandleFunc("POST /api/notifications/{id}/receipt", s.handleReceipt)
	mux.HandleFunc("POST /api/notifications/process", s.handleProcessNotifications)
	mux.HandleFunc("GET /api/users/{id}/notifications", s.handleUserNotifications)
	mux.HandleFunc("POST /api/escalations/check", s.handleCheckEscalations)

	mux.HandleFunc("GET /api/work-items/{id}", s.handleWorkItem)
	mux.HandleFunc("POST /api/work-items/{id}/assign", s.handleAssign)
	mux.HandleFunc("POST /api/work-items/{id}/status", s.handleWorkItemStatus)
	mux.HandleFunc("GET /api/worklist", s.handleQueryWorklist)
	mux.HandleFunc("GET /api/worklist/stats", s.handleWorklistStats)

	mux.HandleFunc("GET /api/reviewers", s.handleListReviewers)
	mux.HandleFunc("POST /api/reviewers", s.handleAddReviewer)
	mux.HandleFunc("GET /api/reviewers/{id}/worklist", s.handleReviewerWorklist)
	mux.HandleFunc("POST /api/reviewers/{id}/availability", s.handleAvailability)

	mux.HandleFunc("GET /api/overview", s.handleOverview)
	mux.HandleFunc("GET /api/overview/stream", s.handleOverviewStream)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return middleware.Logging(s.logger, middleware.CSRF(mux))
}

type healthResponse struct {
	Status    string     `json:"status"`
	Sweeps    int64      `json:"sweeps"`
	LastSweep *time.Time `json:"last_sweep,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.sweepStatus != nil {
		n, last := s.sweepStatus()
		resp.Sweeps = n
		if !last.IsZero() {
			resp.LastSweep = &last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
