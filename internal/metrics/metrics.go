// Package metrics holds the Prometheus collectors for the execution core.
// Every recording method is safe on a nil *Metrics so components can run
// without instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "optbot"

// Metrics groups the collectors registered for one process.
type Metrics struct {
	Ticks          *prometheus.CounterVec
	Signals        *prometheus.CounterVec
	RiskRejections *prometheus.CounterVec
	Orders         *prometheus.CounterVec
	Results        *prometheus.CounterVec
	MLFallbacks    prometheus.Counter
	BreakerState   prometheus.Gauge
	Spreads        *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	PortfolioDelta *prometheus.GaugeVec
	PortfolioVega  *prometheus.GaugeVec
	FeedReconnects *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New builds the collectors and registers them on reg. A *prometheus.Registry
// is also used as the gatherer for Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Market ticks ingested."},
			[]string{"symbol"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "signals_total", Help: "Signals emitted by strategies."},
			[]string{"strategy_type", "side"},
		),
		RiskRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "risk_rejections_total", Help: "Signals refused by the risk gate."},
			[]string{"reason"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "orders_total", Help: "Broker orders dispatched."},
			[]string{"broker", "algorithm", "status"},
		),
		Results: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "execution_results_total", Help: "Signal pipeline outcomes."},
			[]string{"status", "kind"},
		),
		MLFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "ml_fallbacks_total", Help: "Predictions served from the fallback."},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "ml_breaker_state", Help: "ML circuit breaker state (0 closed, 1 half-open, 2 open)."},
		),
		Spreads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "spread_executions_total", Help: "Spread executions by terminal status."},
			[]string{"status"},
		),
		StageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_latency_seconds",
				Help:      "Order lifecycle stage latency.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .2, .5, 1, 2.5},
			},
			[]string{"stage"},
		),
		PortfolioDelta: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "portfolio_delta", Help: "Current portfolio delta per owner."},
			[]string{"owner"},
		),
		PortfolioVega: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "portfolio_vega", Help: "Current portfolio vega per owner."},
			[]string{"owner"},
		),
		FeedReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "feed_reconnects_total", Help: "Market data feed reconnect attempts."},
			[]string{"source"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "API requests by route and status code."},
			[]string{"method", "route", "code"},
		),
	}

	reg.MustRegister(
		m.Ticks, m.Signals, m.RiskRejections, m.Orders, m.Results,
		m.MLFallbacks, m.BreakerState, m.Spreads, m.StageLatency,
		m.PortfolioDelta, m.PortfolioVega, m.FeedReconnects, m.HTTPRequests,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Tick(symbol string) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(symbol).Inc()
}

func (m *Metrics) Signal(strategyType, side string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(strategyType, side).Inc()
}

func (m *Metrics) RiskRejection(reason string) {
	if m == nil {
		return
	}
	m.RiskRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Order(broker, algorithm, status string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(broker, algorithm, status).Inc()
}

func (m *Metrics) Result(status, kind string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(status, kind).Inc()
}

func (m *Metrics) MLFallback() {
	if m == nil {
		return
	}
	m.MLFallbacks.Inc()
}

// SetBreakerState records the breaker state as 0 (closed), 1 (half-open) or
// 2 (open).
func (m *Metrics) SetBreakerState(v float64) {
	if m == nil {
		return
	}
	m.BreakerState.Set(v)
}

func (m *Metrics) Spread(status string) {
	if m == nil {
		return
	}
	m.Spreads.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) SetPortfolio(owner string, delta, vega float64) {
	if m == nil {
		return
	}
	m.PortfolioDelta.WithLabelValues(owner).Set(delta)
	m.PortfolioVega.WithLabelValues(owner).Set(vega)
}

func (m *Metrics) FeedReconnect(source string) {
	if m == nil {
		return
	}
	m.FeedReconnects.WithLabelValues(source).Inc()
}

// HTTPRequest counts one served API request. route is the matched mux
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
