package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/config"
	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/pipeline"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *Dependencies) {
	t.Helper()
	cfg := config.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	a := New(&cfg, slog.New(slog.DiscardHandler))
	deps, cleanup, err := Wire(context.Background(), a.cfg, a.logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return a, deps
}

func TestWireInMemory(t *testing.T) {
	_, deps := newTestApp(t, nil)

	assert.Nil(t, deps.ExecutionStore)
	assert.Nil(t, deps.StrategyStore)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.OutcomeStore)
	assert.NotNil(t, deps.RiskState)
	assert.NotNil(t, deps.Quotes)
	assert.NotNil(t, deps.SignalBus)
	assert.False(t, deps.Notifier.Enabled())
	assert.Empty(t, deps.Checks)
}

func TestBuildCoreDeploysConfiguredStrategies(t *testing.T) {
	a, deps := newTestApp(t, func(cfg *config.Config) {
		cfg.Strategies = []config.StrategyEntry{
			{Type: "RSI", Symbol: "NIFTY", Params: map[string]float64{"period": 14, "quantity": 50}},
		}
	})

	c, err := a.buildCore(context.Background(), deps, true)
	require.NoError(t, err)

	list := c.engine.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.StrategyRSI, list[0].Type)
	assert.Equal(t, "default", list[0].OwnerID)
	assert.Equal(t, 14.0, list[0].Parameters["period"])

	// Monitor mode never deploys.
	c, err = a.buildCore(context.Background(), deps, false)
	require.NoError(t, err)
	assert.Empty(t, c.engine.List())
}

func TestJobsPerMode(t *testing.T) {
	a, deps := newTestApp(t, nil)
	c, err := a.buildCore(context.Background(), deps, true)
	require.NoError(t, err)

	tests := []struct {
		name string
		jobs []pipeline.Job
		want []string
	}{
		{"trade", a.jobs(c, deps, false), []string{"risk_reset", "latency_alerts", "broker_health"}},
		{"full", a.jobs(c, deps, true), []string{"risk_reset", "latency_alerts", "broker_health", "rebalance"}},
		{"monitor", a.monitorJobs(c, deps), []string{"latency_alerts", "broker_health"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, err := pipeline.NewOrchestrator(a.logger, tt.jobs...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, orch.Jobs())
		})
	}
}

func TestBrokerHealthJobKeepsPaperBrokersHealthy(t *testing.T) {
	a, deps := newTestApp(t, nil)
	c, err := a.buildCore(context.Background(), deps, true)
	require.NoError(t, err)

	job := a.brokerHealthJob(c, deps)
	require.NoError(t, job.Run(context.Background()))
	for _, ep := range c.router.Endpoints() {
		assert.True(t, c.router.Healthy(ep.ID), ep.ID)
	}
}

func TestPublishSignals(t *testing.T) {
	a, deps := newTestApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := deps.SignalBus.Subscribe(ctx, domain.ChannelSignal)
	require.NoError(t, err)

	signals := make(chan domain.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- a.publishSignals(ctx, signals, deps.SignalBus) }()

	signals <- domain.Signal{ID: "sig-1", StrategyID: "s1", Symbol: "NIFTY", Side: domain.SideBuy, Price: 101}

	select {
	case payload := <-msgs:
		var got domain.Signal
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, "sig-1", got.ID)
		assert.Equal(t, "NIFTY", got.Symbol)
	case <-time.After(time.Second):
		t.Fatal("signal not published")
	}

	close(signals)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestLatencyThresholdsOverlay(t *testing.T) {
	got := latencyThresholds(map[string]int{"order_ack": 350, "ORDER_FILL": 0})

	assert.Equal(t, 350*time.Millisecond, got[domain.StageOrderAck])
	assert.Equal(t, time.Second, got[domain.StageOrderFill])
	assert.Equal(t, 50*time.Millisecond, got[domain.StageSignalGeneration])
}

func TestBrokerEndpoints(t *testing.T) {
	assert.Len(t, brokerEndpoints(nil), 2)

	eps := brokerEndpoints([]config.BrokerEntry{{ID: "X", Name: "X Broker", LatencyMs: 10, UptimePercent: 99, FillRate: 0.9, FeeLevel: 5}})
	require.Len(t, eps, 1)
	assert.Equal(t, "X", eps[0].ID)
	assert.Equal(t, 99.0, eps[0].UptimePercent)
}
