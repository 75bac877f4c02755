package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/httpserve"
	"github.com/mattjoyce/csdb/internal/importer"
	"github.com/mattjoyce/csdb/internal/job"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	queued, err := s.deps.Jobs.List(r.Context(), job.ListFilter{Status: job.StatusQueued})
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	populators := 0
	if s.deps.Populators != nil {
		populators = len(s.deps.Populators.All())
	}
	httpserve.JSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:      len(queued),
		PopulatorsCount: populators,
	})
}

// handleImport handles POST /jobs/import.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	release, err := s.resolveRelease(r.Context(), strings.TrimSpace(req.Release))
	if errors.Is(err, content.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "release not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to resolve release", "release", req.Release, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve release")
		return
	}

	user := req.User
	if user == "" {
		user = "api"
	}
	enq, err := importer.NewEnqueueRequest(user, release.ID, importer.Properties{
		Language:    req.Language,
		ArchivePath: req.ArchivePath,
		Root:        req.RootNode,
		Overrides: importer.Overrides{
			Folder: req.SchemaForFolder,
			XML:    req.SchemaForXML,
			Binary: req.SchemaForBinary,
		},
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.deps.Jobs.Enqueue(r.Context(), enq)
	if err != nil {
		s.logger.Error("failed to enqueue import", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.logger.Info("import enqueued", "job_id", id, "release", release.Name, "archive", req.ArchivePath)
	httpserve.JSON(w, http.StatusAccepted, EnqueueResponse{JobID: id, Status: job.StatusQueued})
}

func (s *Server) resolveRelease(ctx context.Context, ref string) (*content.Release, error) {
	if ref == "" {
		return nil, content.ErrNotFound
	}
	if s.deps.Releases == nil {
		return &content.Release{ID: ref, Name: ref}, nil
	}
	rel, err := s.deps.Releases.Release(ctx, ref)
	if errors.Is(err, content.ErrNotFound) {
		return s.deps.Releases.ReleaseByName(ctx, ref)
	}
	return rel, err
}

// handleListJobs handles GET /jobs?status=&type=&limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := job.ListFilter{Type: job.Type(q.Get("type"))}
	if v := q.Get("status"); v != "" {
		filter.Status = job.ParseStatus(strings.ToUpper(v))
		if filter.Status == job.StatusUnknown {
			s.writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.deps.Jobs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	httpserve.JSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	j, err := s.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, jobID, "retrieve", err)
		return
	}
	httpserve.JSON(w, http.StatusOK, j)
}

// handleResetJob handles POST /jobs/{jobID}/reset.
func (s *Server) handleResetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.deps.Jobs.Reset(r.Context(), jobID); err != nil {
		s.writeJobError(w, jobID, "reset", err)
		return
	}
	s.logger.Info("job reset", "job_id", jobID)
	httpserve.JSON(w, http.StatusOK, EnqueueResponse{JobID: jobID, Status: job.StatusQueued})
}

// handleDeleteJob handles DELETE /jobs/{jobID}.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.deps.Jobs.Delete(r.Context(), jobID); err != nil {
		s.writeJobError(w, jobID, "delete", err)
		return
	}
	s.logger.Info("job deleted", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

// handleListPopulators handles GET /populators.
func (s *Server) handleListPopulators(w http.ResponseWriter, r *http.Request) {
	resp := PopulatorListResponse{Populators: []PopulatorSummary{}}
	if s.deps.Populators != nil {
		for _, p := range s.deps.Populators.All() {
			resp.Populators = append(resp.Populators, PopulatorSummary{Name: p.Name(), Priority: p.Priority()})
		}
	}
	httpserve.JSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	httpserve.JSON(w, http.StatusOK, buildOpenAPIDoc(s.config.APIKey != ""))
}

func (s *Server) writeJobError(w http.ResponseWriter, jobID, op string, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, job.ErrJobActive):
		s.writeError(w, http.StatusConflict, "job is running")
	default:
		s.logger.Error("failed to "+op+" job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op+" job")
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	httpserve.JSON(w, statusCode, ErrorResponse{Error: message})
}
