package mlmodel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = url
	cfg.Timeout = 100 * time.Millisecond
	cfg.CoolDown = time.Minute
	return cfg
}

func TestPredictSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Features["underlyingPrice"] != 18000 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"probabilityOfProfit":0.72,"confidence":0.81,"modelVersion":"v3","reason":"model"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, slog.New(slog.DiscardHandler))
	p := c.Predict(context.Background(), map[string]float64{"underlyingPrice": 18000})

	assert.Equal(t, 0.72, p.ProbabilityOfProfit)
	assert.Equal(t, "v3", p.ModelVersion)
	assert.True(t, p.ShouldTrade())
	assert.True(t, p.IsHighConfidence())
	assert.False(t, p.IsFallback())
}

func TestPredictFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) },
		},
		{
			name:    "bad json",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{not json`)) },
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(testConfig(srv.URL), nil, slog.New(slog.DiscardHandler))
			p := c.Predict(context.Background(), map[string]float64{"x": 1})
			assert.Equal(t, domain.FallbackPrediction(), p)
			assert.False(t, p.ShouldTrade())
		})
	}
}

func TestBreakerOpensAndSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Predict(ctx, nil)
	}
	require.Equal(t, "open", c.State())
	require.Equal(t, int32(5), hits.Load())

	for i := 0; i < 20; i++ {
		p := c.Predict(ctx, nil)
		assert.Equal(t, 0.5, p.ProbabilityOfProfit)
		assert.Equal(t, 0.3, p.Confidence)
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestBreakerStaysClosedBelowMinCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), nil, slog.New(slog.DiscardHandler))
	for i := 0; i < 4; i++ {
		c.Predict(context.Background(), nil)
	}
	assert.Equal(t, "closed", c.State())
}

func TestBreakerHalfOpenProbeCloses(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"probabilityOfProfit":0.65,"confidence":0.6,"modelVersion":"v3","reason":"model"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CoolDown = 50 * time.Millisecond
	c := New(cfg, nil, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Predict(ctx, nil)
	}
	require.Equal(t, "open", c.State())

	healthy.Store(true)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, "half-open", c.State())

	p := c.Predict(ctx, nil)
	assert.Equal(t, 0.65, p.ProbabilityOfProfit)
	assert.Equal(t, "closed", c.State())
}

func TestOutcomeWindowRolls(t *testing.T) {
	w := newOutcomeWindow(4)
	for _, failed := range []bool{true, true, true, true, false, false} {
		w.record(failed)
	}
	rate, n := w.rate()
	assert.Equal(t, 4, n)
	assert.InDelta(t, 50, rate, 1e-9)
}
