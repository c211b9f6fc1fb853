package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// BrokerDirectory exposes the router's broker table.
type BrokerDirectory interface {
	Endpoints() []domain.BrokerEndpoint
	Healthy(id string) bool
	OrderStats(id string) (domain.BrokerOrderStats, bool)
}

// SpreadTracker exposes tracked spread executions.
type SpreadTracker interface {
	Status(id string) (domain.SpreadExecution, error)
	Active() []domain.SpreadExecution
}

// ExecutionHandler serves broker and spread execution state.
type ExecutionHandler struct {
	brokers BrokerDirectory
	spreads SpreadTracker
	logger  *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(brokers BrokerDirectory, spreads SpreadTracker, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		brokers: brokers,
		spreads: spreads,
		logger:  logHandler(logger, "execution"),
	}
}

type brokerView struct {
	domain.BrokerEndpoint
	Healthy bool                     `json:"healthy"`
	Orders  *domain.BrokerOrderStats `json:"orders,omitempty"`
}

// Brokers lists every registered broker, whether it is routable, and the
// order feedback seen so far.
// GET /api/brokers
func (h *ExecutionHandler) Brokers(w http.ResponseWriter, r *http.Request) {
	eps := h.brokers.Endpoints()
	out := make([]brokerView, 0, len(eps))
	for _, ep := range eps {
		v := brokerView{BrokerEndpoint: ep, Healthy: h.brokers.Healthy(ep.ID)}
		if st, ok := h.brokers.OrderStats(ep.ID); ok {
			v.Orders = &st
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"brokers": out})
}

// Spreads lists tracked spread executions, newest first. An optional status
// query parameter filters by state.
// GET /api/spreads?status=HEDGING
func (h *ExecutionHandler) Spreads(w http.ResponseWriter, r *http.Request) {
	status := domain.SpreadStatus(r.URL.Query().Get("status"))
	all := h.spreads.Active()
	out := make([]domain.SpreadExecution, 0, len(all))
	for _, exec := range all {
		if status == "" || exec.Status == status {
			out = append(out, exec)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"spreads": out})
}

// Spread returns one spread execution.
// GET /api/spreads/{id}
func (h *ExecutionHandler) Spread(w http.ResponseWriter, r *http.Request) {
	exec, err := h.spreads.Status(pathParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "spread not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get spread failed",
			slog.String("id", pathParam(r, "id")),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get spread")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
