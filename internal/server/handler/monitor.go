package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// TCAReporter defines the transaction cost analysis queries.
type TCAReporter interface {
	BrokerReport(ctx context.Context, brokerID string, from, to time.Time) (domain.TCAReport, error)
	AlgorithmReport(ctx context.Context, algorithm string, from, to time.Time) (domain.TCAReport, error)
	Comprehensive(ctx context.Context, from, to time.Time) ([]domain.TCAReport, error)
	BrokerRankings(ctx context.Context, from, to time.Time) ([]domain.TCAReport, error)
}

// LatencyReporter defines the order lifecycle latency queries.
type LatencyReporter interface {
	Stats(stage domain.LatencyStage, lookback time.Duration) domain.LatencyStats
	AllStats(lookback time.Duration) []domain.LatencyStats
	CheckAlerts() []string
	InFlight() int
}

// MonitorHandler serves execution quality and latency endpoints.
type MonitorHandler struct {
	tca     TCAReporter
	latency LatencyReporter
	logger  *slog.Logger
	now     func() time.Time
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(tca TCAReporter, latency LatencyReporter, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{
		tca:     tca,
		latency: latency,
		logger:  logHandler(logger, "monitor"),
		now:     time.Now,
	}
}

// defaultTCAWindow is used when no from parameter is given.
const defaultTCAWindow = 24 * time.Hour

// latencyView renders durations as fractional milliseconds.
type latencyView struct {
	Stage domain.LatencyStage `json:"stage"`
	Count int                 `json:"count"`
	AvgMs float64             `json:"avg_ms"`
	P50Ms float64             `json:"p50_ms"`
	P95Ms float64             `json:"p95_ms"`
	P99Ms float64             `json:"p99_ms"`
	MaxMs float64             `json:"max_ms"`
}

func toLatencyView(st domain.LatencyStats) latencyView {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return latencyView{
		Stage: st.Stage,
		Count: st.Count,
		AvgMs: ms(st.Avg),
		P50Ms: ms(st.P50),
		P95Ms: ms(st.P95),
		P99Ms: ms(st.P99),
		MaxMs: ms(st.Max),
	}
}

// BrokerReport aggregates executions routed to one broker.
// GET /api/tca/brokers/{id}?from=&to=
func (h *MonitorHandler) BrokerReport(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	report, err := h.tca.BrokerReport(r.Context(), pathParam(r, "id"), from, to)
	if err != nil {
		h.internal(w, r, "broker report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AlgorithmReport aggregates executions of one algorithm.
// GET /api/tca/algorithms/{name}?from=&to=
func (h *MonitorHandler) AlgorithmReport(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	report, err := h.tca.AlgorithmReport(r.Context(), strings.ToUpper(pathParam(r, "name")), from, to)
	if err != nil {
		h.internal(w, r, "algorithm report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Comprehensive returns one report per broker and algorithm pair.
// GET /api/tca/report?from=&to=
func (h *MonitorHandler) Comprehensive(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	reports, err := h.tca.Comprehensive(r.Context(), from, to)
	if err != nil {
		h.internal(w, r, "comprehensive report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// BrokerRankings returns brokers ordered by implementation shortfall.
// GET /api/tca/rankings?from=&to=
func (h *MonitorHandler) BrokerRankings(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.window(w, r)
	if !ok {
		return
	}
	reports, err := h.tca.BrokerRankings(r.Context(), from, to)
	if err != nil {
		h.internal(w, r, "broker rankings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": reports})
}

// Latency summarizes every lifecycle stage.
// GET /api/latency?lookback=1h
func (h *MonitorHandler) Latency(w http.ResponseWriter, r *http.Request) {
	lookback, err := parseDuration(r, "lookback", time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := h.latency.AllStats(lookback)
	stages := make([]latencyView, 0, len(all))
	for _, st := range all {
		stages = append(stages, toLatencyView(st))
	}
	alerts := h.latency.CheckAlerts()
	if alerts == nil {
		alerts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stages":    stages,
		"alerts":    alerts,
		"in_flight": h.latency.InFlight(),
	})
}

// LatencyStage summarizes a single stage.
// GET /api/latency/{stage}?lookback=1h
func (h *MonitorHandler) LatencyStage(w http.ResponseWriter, r *http.Request) {
	stage := domain.LatencyStage(strings.ToUpper(pathParam(r, "stage")))
	known := false
	for _, s := range domain.LatencyStages {
		if s == stage {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "unknown latency stage")
		return
	}
	lookback, err := parseDuration(r, "lookback", time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLatencyView(h.latency.Stats(stage, lookback)))
}

func (h *MonitorHandler) window(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, to, err := parseWindow(r, h.now(), defaultTCAWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *MonitorHandler) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to build "+op)
}
