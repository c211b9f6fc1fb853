package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/metrics"
	"github.com/alanyoungcy/optionsbot/internal/server/handler"
)

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyAll) Wait(context.Context, string) error                              { return nil }

func startServer(t *testing.T, cfg Config, opts Options) string {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	m := metrics.New(prometheus.NewRegistry())
	opts.Recorder = m
	srv := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler("monitor", nil, logger),
		Metrics: m.Handler(),
	}, nil, opts, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return "http://" + ln.Addr().String()
}

func get(t *testing.T, url string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestServerPublicAndProtectedRoutes(t *testing.T) {
	base := startServer(t, Config{APIKey: "k"}, Options{})

	assert.Equal(t, http.StatusOK, get(t, base+"/api/health", nil).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, base+"/metrics", nil).StatusCode)

	// Unregistered handlers leave their routes unmatched behind auth.
	assert.Equal(t, http.StatusUnauthorized, get(t, base+"/api/strategies", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, base+"/api/strategies", map[string]string{"X-API-Key": "k"}).StatusCode)
}

func TestServerRateLimitsWhenConfigured(t *testing.T) {
	base := startServer(t, Config{RateLimitPerMin: 10}, Options{Limiter: denyAll{}})
	assert.Equal(t, http.StatusTooManyRequests, get(t, base+"/api/health", nil).StatusCode)

	base = startServer(t, Config{}, Options{Limiter: denyAll{}})
	assert.Equal(t, http.StatusOK, get(t, base+"/api/health", nil).StatusCode)
}
