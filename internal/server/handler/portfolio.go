package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/meta"
)

// Allocator exposes the meta strategy allocator.
type Allocator interface {
	Allocations() map[string]float64
	Performances() []meta.Performance
	PortfolioSharpe() float64
	ShouldRebalance() bool
	Rebalance(ctx context.Context) (map[string]float64, error)
}

// RiskReader exposes an owner's intraday risk counters.
type RiskReader interface {
	Counters(ctx context.Context, ownerID string) (domain.RiskCounters, error)
}

// ExposureReader exposes an owner's aggregate Greek exposure.
type ExposureReader interface {
	PortfolioRisk(ctx context.Context, ownerID string) (domain.PortfolioRiskState, error)
}

// AccuracyReader reports how often closed predictions were right.
type AccuracyReader interface {
	Accuracy(ctx context.Context, from, to time.Time) (float64, int, error)
}

// PortfolioHandler serves allocation, risk and model accuracy endpoints.
type PortfolioHandler struct {
	allocator Allocator
	risk      RiskReader
	exposure  ExposureReader
	accuracy  AccuracyReader
	logger    *slog.Logger
	now       func() time.Time
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(allocator Allocator, risk RiskReader, exposure ExposureReader, accuracy AccuracyReader, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		allocator: allocator,
		risk:      risk,
		exposure:  exposure,
		accuracy:  accuracy,
		logger:    logHandler(logger, "portfolio"),
		now:       time.Now,
	}
}

// Allocations returns the current capital weights with per-strategy
// performance.
// GET /api/allocations
func (h *PortfolioHandler) Allocations(w http.ResponseWriter, r *http.Request) {
	perfs := h.allocator.Performances()
	if perfs == nil {
		perfs = []meta.Performance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allocations":      h.allocator.Allocations(),
		"performance":      perfs,
		"portfolio_sharpe": h.allocator.PortfolioSharpe(),
		"should_rebalance": h.allocator.ShouldRebalance(),
	})
}

// Rebalance recomputes the allocation immediately.
// POST /api/allocations/rebalance
func (h *PortfolioHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
	weights, err := h.allocator.Rebalance(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: rebalance failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to rebalance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": weights})
}

// Risk returns an owner's daily counters and Greek exposure.
// GET /api/risk/{owner}
func (h *PortfolioHandler) Risk(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	counters, err := h.risk.Counters(r.Context(), owner)
	if err != nil {
		h.fail(w, r, "risk counters", err)
		return
	}
	exposure, err := h.exposure.PortfolioRisk(r.Context(), owner)
	if err != nil {
		h.fail(w, r, "portfolio risk", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner_id": owner,
		"counters": counters,
		"exposure": exposure,
	})
}

// Accuracy reports the model hit rate over closed outcomes in a window.
// GET /api/ml/accuracy?from=&to=
func (h *PortfolioHandler) Accuracy(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r, h.now(), 30*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, n, err := h.accuracy.Accuracy(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "accuracy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accuracy": acc,
		"samples":  n,
		"from":     from,
		"to":       to,
	})
}

func (h *PortfolioHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to load "+op)
}
