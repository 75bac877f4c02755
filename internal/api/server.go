package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/events"
	"github.com/mattjoyce/csdb/internal/httpserve"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/metrics"
	"github.com/mattjoyce/csdb/internal/populator"
)

// JobStore defines the job operations the API exposes.
type JobStore interface {
	Enqueue(ctx context.Context, req job.EnqueueRequest) (string, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, filter job.ListFilter) ([]*job.Job, error)
	Reset(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// PopulatorRegistry lists populators in selection order.
type PopulatorRegistry interface {
	All() []populator.Populator
}

// ReleaseResolver resolves a release by id or by name.
type ReleaseResolver interface {
	Release(ctx context.Context, id string) (*content.Release, error)
	ReleaseByName(ctx context.Context, name string) (*content.Release, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token; empty disables authentication.
	APIKey string
}

// Deps are the collaborators the handlers read and write.
type Deps struct {
	Jobs       JobStore
	Populators PopulatorRegistry
	Releases   ReleaseResolver
	Events     *events.Hub
	Gatherer   prometheus.Gatherer
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams stay open.
		IdleTimeout: 60 * time.Second,
	}
	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")
	return httpserve.Run(ctx, s.server, s.logger)
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpserve.AccessLog(s.logger, "http request"))
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))

	r.Group(func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Get("/populators", s.handleListPopulators)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/import", s.handleImport)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/reset", s.handleResetJob)
		r.Delete("/jobs/{jobID}", s.handleDeleteJob)
		r.Get("/events", s.handleEvents)
	})

	return r
}
