package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode    string
	started time.Time
	checks  map[string]CheckFunc
	logger  *slog.Logger
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler. checks are run on every request,
// keyed by the name reported in the response.
func NewHealthHandler(mode string, checks map[string]CheckFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:    mode,
		started: time.Now(),
		checks:  checks,
		logger:  logHandler(logger, "health"),
		now:     time.Now,
	}
}

// HealthCheck reports process uptime and the result of each dependency
// check. Any failing check turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	now := h.now()
	writeJSON(w, code, map[string]any{
		"status":     status,
		"mode":       h.mode,
		"uptime_sec": int64(now.Sub(h.started).Seconds()),
		"checks":     results,
		"timestamp":  now.UTC().Format(time.RFC3339),
	})
}
