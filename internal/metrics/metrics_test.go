package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RiskRejection("order_size_limit")
	m.RiskRejection("order_size_limit")
	m.Order("ZERODHA", "DIRECT", "filled")
	m.MLFallback()
	m.SetPortfolio("desk", 120, -30)
	m.HTTPRequest("GET", "GET /api/strategies", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RiskRejections.WithLabelValues("order_size_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("ZERODHA", "DIRECT", "filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MLFallbacks))
	assert.Equal(t, -30.0, testutil.ToFloat64(m.PortfolioVega.WithLabelValues("desk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "GET /api/strategies", "200")))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "optbot_risk_rejections_total")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Tick("X")
		m.Signal("rsi", "BUY")
		m.ObserveStage("ORDER_ACK", 0.1)
		m.SetBreakerState(2)
		m.HTTPRequest("GET", "/", 404)
	})
}
