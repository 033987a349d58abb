package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/flotsam/internal/application"
	"github.com/jobrunner/flotsam/internal/domain"
)

// maxListLimit caps the page size of the job listing.
const maxListLimit = 1000

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	SceneKey string `json:"scene_key"`
}

// handleSubmitJob creates a job for a stored scene.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SceneKey) == "" {
		s.writeError(w, http.StatusBadRequest, "scene_key is required")
		return
	}

	job, err := s.jobs.Submit(r.Context(), req.SceneKey)
	if err != nil {
		s.handleServiceError(w, err, "Failed to submit job")
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	s.writeJSON(w, http.StatusAccepted, formatJob(job))
}

// handleListJobs returns recent jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status domain.JobStatus
	if v := q.Get("status"); v != "" {
		st, err := domain.ParseJobStatus(strings.ToUpper(v))
		if err != nil {
			s.handleServiceError(w, err, "")
			return
		}
		status = st
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	jobs, err := s.jobs.List(r.Context(), status, limit)
	if err != nil {
		s.handleServiceError(w, err, "Failed to list jobs")
		return
	}

	response := make([]map[string]interface{}, len(jobs))
	for i := range jobs {
		response[i] = formatJob(&jobs[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  response,
		"count": len(jobs),
	})
}

// handleGetJob returns a single job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		s.handleServiceError(w, err, "Failed to get job")
		return
	}
	s.writeJSON(w, http.StatusOK, formatJob(job))
}

// handleJobVectors returns the vectors of a job as GeoJSON.
func (s *Server) handleJobVectors(w http.ResponseWriter, r *http.Request) {
	fc, err := s.jobs.ExportGeoJSON(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		s.handleServiceError(w, err, "Failed to export vectors")
		return
	}
	body, err := fc.MarshalJSON()
	if err != nil {
		s.handleServiceError(w, err, "Failed to export vectors")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(body)
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":         boolToStatus(details.Healthy),
		"ready":          details.Ready,
		"jobs_in_flight": details.JobsInFlight,
		"components":     details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		s.writeError(w, http.StatusNotFound, "Sync service not available")
		return
	}

	result, err := s.sync.TriggerSync(r.Context())
	if err != nil {
		s.handleServiceError(w, err, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// formatJob formats a job for JSON output.
func formatJob(job *domain.Job) map[string]interface{} {
	out := map[string]interface{}{
		"id":           job.ID,
		"scene_key":    job.SceneKey,
		"model":        job.Model,
		"status":       job.Status,
		"vector_count": job.VectorCount,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.Error != "" {
		out["error"] = job.Error
	}
	if job.Note != "" {
		out["note"] = job.Note
	}
	if job.ResultURL != "" {
		out["result_url"] = job.ResultURL
	}
	if job.PreviewURL != "" {
		out["preview_url"] = job.PreviewURL
	}
	if job.StartedAt != nil {
		out["started_at"] = job.StartedAt
	}
	if job.FinishedAt != nil {
		out["finished_at"] = job.FinishedAt
		out["duration_ms"] = job.Duration().Milliseconds()
	}
	return out
}

// handleServiceError maps application errors to HTTP status codes.
func (s *Server) handleServiceError(w http.ResponseWriter, err error, message string) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, application.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(application.DefaultTriggerCooldown/time.Second)))
		s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, message)
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
