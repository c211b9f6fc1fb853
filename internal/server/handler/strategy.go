package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/service"
)

// StrategyEngine defines the methods that the strategy handler requires.
type StrategyEngine interface {
	Deploy(ctx context.Context, spec domain.StrategySpec) (domain.StrategyInstance, error)
	Get(id string) (domain.StrategyInstance, error)
	List() []domain.StrategyInstance
	Update(ctx context.Context, id string, params map[string]float64) (domain.StrategyInstance, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	RecentSignals(limit int) []domain.Signal
}

// PnLRecorder books a realized result against a strategy.
type PnLRecorder interface {
	Record(ctx context.Context, rep service.PnLReport) error
}

// StrategyHandler serves the strategy lifecycle endpoints.
type StrategyHandler struct {
	engine StrategyEngine
	pnl    PnLRecorder // optional
	logger *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(engine StrategyEngine, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{
		engine: engine,
		logger: logHandler(logger, "strategy"),
	}
}

// WithPnL enables POST /api/strategies/{id}/pnl.
func (h *StrategyHandler) WithPnL(rec PnLRecorder) *StrategyHandler {
	h.pnl = rec
	return h
}

type listStrategiesResponse struct {
	Strategies []domain.StrategyInstance `json:"strategies"`
}

type updateParamsRequest struct {
	Parameters map[string]float64 `json:"parameters"`
}

// List returns every deployed strategy.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.engine.List()
	if list == nil {
		list = []domain.StrategyInstance{}
	}
	writeJSON(w, http.StatusOK, listStrategiesResponse{Strategies: list})
}

// Get returns a single strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	inst, err := h.engine.Get(pathParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Deploy registers a new strategy instance.
// POST /api/strategies
func (h *StrategyHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var spec domain.StrategySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	inst, err := h.engine.Deploy(r.Context(), spec)
	if err != nil {
		h.fail(w, r, "deploy", err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// Update replaces a strategy's parameters.
// PUT /api/strategies/{id}
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Parameters == nil {
		writeError(w, http.StatusBadRequest, "parameters are required")
		return
	}
	inst, err := h.engine.Update(r.Context(), pathParam(r, "id"), req.Parameters)
	if err != nil {
		h.fail(w, r, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// Pause stops a strategy from evaluating ticks.
// POST /api/strategies/{id}/pause
func (h *StrategyHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.engine.Pause(r.Context(), id); err != nil {
		h.fail(w, r, "pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused", "id": id})
}

// Resume re-enables a paused strategy.
// POST /api/strategies/{id}/resume
func (h *StrategyHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.engine.Resume(r.Context(), id); err != nil {
		h.fail(w, r, "resume", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active", "id": id})
}

// Deactivate removes a strategy.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Deactivate(r.Context(), pathParam(r, "id")); err != nil {
		h.fail(w, r, "deactivate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordPnL books a realized result. The body carries pnl and optionally
// return and outcome_id.
// POST /api/strategies/{id}/pnl
func (h *StrategyHandler) RecordPnL(w http.ResponseWriter, r *http.Request) {
	if h.pnl == nil {
		writeError(w, http.StatusServiceUnavailable, "pnl reporting is not enabled")
		return
	}
	var rep service.PnLReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rep.StrategyID = pathParam(r, "id")
	if err := h.pnl.Record(r.Context(), rep); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pnl recorded but outcome not found")
			return
		}
		h.fail(w, r, "record pnl for", err)
		return
	}
	inst, err := h.engine.Get(rep.StrategyID)
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// RecentSignals returns the newest emitted signals.
// GET /api/signals/recent?limit=20
func (h *StrategyHandler) RecentSignals(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": h.engine.RecentSignals(limit)})
}

func (h *StrategyHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrStrategyNotFound):
		writeError(w, http.StatusNotFound, "strategy not found")
	case errors.Is(err, domain.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: strategy "+op+" failed",
			slog.String("id", pathParam(r, "id")),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" strategy")
	}
}
