package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/httpserve"
	"github.com/mattjoyce/csdb/internal/importer"
)

// Server is the signed-trigger listener.
type Server struct {
	listen    string
	endpoints []EndpointConfig
	queue     JobQueuer
	releases  ReleaseResolver
	logger    *slog.Logger
}

// New applies endpoint defaults and returns an unstarted server.
func New(cfg Config, queue JobQueuer, releases ReleaseResolver, logger *slog.Logger) *Server {
	endpoints := make([]EndpointConfig, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.User == "" {
			ep.User = DefaultUser
		}
		endpoints[i] = ep
	}
	return &Server{
		listen:    cfg.Listen,
		endpoints: endpoints,
		queue:     queue,
		releases:  releases,
		logger:    logger,
	}
}

// Start serves the endpoints until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("webhook server starting", "listen", s.listen, "endpoints", len(s.endpoints))
	return httpserve.Run(ctx, &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, s.logger)
}

// Handler routes POSTs on each configured path. Anything else is 404/405.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpserve.AccessLog(s.logger, "webhook request"))
	r.Use(middleware.Recoverer)
	for _, ep := range s.endpoints {
		r.Post(ep.Path, s.trigger(ep))
	}
	return r
}

func (s *Server) trigger(ep EndpointConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With("path", ep.Path, "request_id", middleware.GetReqID(r.Context()))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ep.MaxBodySize))
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.fail(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		case err != nil:
			s.fail(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		// Signature problems get no detail beyond the log line.
		if err := verifyHMACSignature(body, r.Header.Get(ep.SignatureHeader), ep.Secret); err != nil {
			logger.Warn("webhook signature rejected", "header", ep.SignatureHeader)
			s.fail(w, http.StatusForbidden, "forbidden")
			return
		}

		var req TriggerRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.fail(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		ref := firstNonEmpty(req.Release, ep.Release)
		release, err := s.resolveRelease(r.Context(), ref)
		switch {
		case errors.Is(err, content.ErrNotFound):
			s.fail(w, http.StatusNotFound, "release not found")
			return
		case err != nil:
			logger.Error("release lookup failed", "release", ref, "error", err)
			s.fail(w, http.StatusInternalServerError, "failed to resolve release")
			return
		}

		enq, err := importer.NewEnqueueRequest(ep.User, release.ID, importer.Properties{
			Language:    firstNonEmpty(req.Language, ep.Language),
			ArchivePath: req.ArchivePath,
			Root:        req.RootNode,
			Overrides: importer.Overrides{
				Folder: req.SchemaForFolder,
				XML:    req.SchemaForXML,
				Binary: req.SchemaForBinary,
			},
		})
		if err != nil {
			s.fail(w, http.StatusBadRequest, err.Error())
			return
		}

		jobID, err := s.queue.Enqueue(r.Context(), enq)
		if err != nil {
			logger.Error("enqueue failed", "error", err)
			s.fail(w, http.StatusInternalServerError, "failed to enqueue job")
			return
		}
		logger.Info("webhook import enqueued", "release", release.Name, "archive", req.ArchivePath, "job_id", jobID)
		httpserve.JSON(w, http.StatusAccepted, TriggerResponse{JobID: jobID})
	}
}

// resolveRelease accepts a release id or name.
func (s *Server) resolveRelease(ctx context.Context, ref string) (*content.Release, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, content.ErrNotFound
	}
	rel, err := s.releases.Release(ctx, ref)
	if errors.Is(err, content.ErrNotFound) {
		return s.releases.ReleaseByName(ctx, ref)
	}
	return rel, err
}

func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	httpserve.JSON(w, status, ErrorResponse{Error: message})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
