package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/pipeline"
)

// JobTrigger runs scheduled background jobs on demand.
type JobTrigger interface {
	Jobs() []string
	Trigger(name string) error
}

// PipelineHandler serves pipeline trigger endpoints.
type PipelineHandler struct {
	jobs   JobTrigger
	logger *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(jobs JobTrigger, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{jobs: jobs, logger: logHandler(logger, "pipeline")}
}

// ListJobs returns the names of the scheduled jobs.
// GET /api/pipeline/jobs
func (h *PipelineHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.jobs.Jobs()})
}

// TriggerJob enqueues one out-of-schedule run of the named job.
// POST /api/pipeline/jobs/{name}/trigger
func (h *PipelineHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if err := h.jobs.Trigger(name); err != nil {
		if errors.Is(err, pipeline.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to trigger job")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: job trigger requested", slog.String("job", name))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"job":          name,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
