package router

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contract = domain.OptionContract{Symbol: "NIFTY", Expiry: "2026-06-25", Strike: 18000, Type: domain.OptionCall, Exchange: "NFO"}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestRouter(t *testing.T, eps []domain.BrokerEndpoint) (*SmartRouter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)}
	r := NewSmartRouter(DefaultConfig(), nil, slog.New(slog.DiscardHandler))
	r.now = clock.now
	for _, ep := range eps {
		ep.LastHealthCheck = clock.t
		r.endpoints[ep.ID] = ep
	}
	return r, clock
}

func TestSelectBrokerPrefersBestScore(t *testing.T) {
	r, _ := newTestRouter(t, DefaultEndpoints())

	ep, err := r.SelectBroker(contract, domain.OrderTypeLimit, 50)
	require.NoError(t, err)
	assert.Equal(t, "ZERODHA", ep.ID)

	score, ok := r.Score("ZERODHA", contract)
	require.True(t, ok)
	assert.InDelta(t, 0.755, score, 1e-9)
}

func TestSelectBrokerSkipsUnhealthyEvenWithBestScore(t *testing.T) {
	r, _ := newTestRouter(t, []domain.BrokerEndpoint{
		{ID: "FAST", LatencyMs: 1, UptimePercent: 90, FillRate: 1, FeeLevel: 0},
		{ID: "SLOW", LatencyMs: 90, UptimePercent: 99, FillRate: 0.5, FeeLevel: 80},
	})

	for i := 0; i < 20; i++ {
		ep, err := r.SelectBroker(contract, domain.OrderTypeMarket, 10)
		require.NoError(t, err)
		assert.Equal(t, "SLOW", ep.ID)
	}
	assert.False(t, r.Healthy("FAST"))
}

func TestSelectBrokerUsesLiquidity(t *testing.T) {
	r, _ := newTestRouter(t, DefaultEndpoints())
	r.UpdateLiquidity("KOTAK", contract, 5000)

	ep, err := r.SelectBroker(contract, domain.OrderTypeLimit, 50)
	require.NoError(t, err)
	assert.Equal(t, "KOTAK", ep.ID)

	other := contract
	other.Strike = 18100
	ep, err = r.SelectBroker(other, domain.OrderTypeLimit, 50)
	require.NoError(t, err)
	assert.Equal(t, "ZERODHA", ep.ID)
}

func TestSelectBrokerStaleHealth(t *testing.T) {
	r, clock := newTestRouter(t, DefaultEndpoints())
	clock.t = clock.t.Add(5 * time.Minute)

	_, err := r.SelectBroker(contract, domain.OrderTypeLimit, 1)
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)

	r.UpdateMetrics("KOTAK", 40, 99.9, 0.9, 10)
	ep, err := r.SelectBroker(contract, domain.OrderTypeLimit, 1)
	require.NoError(t, err)
	assert.Equal(t, "KOTAK", ep.ID)
	assert.Equal(t, clock.t, ep.LastHealthCheck)
}

func TestSelectBrokerHighLatency(t *testing.T) {
	r, _ := newTestRouter(t, []domain.BrokerEndpoint{{ID: "A", LatencyMs: 100, UptimePercent: 99, FillRate: 1}})
	_, err := r.SelectBroker(contract, domain.OrderTypeLimit, 1)
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
}

type stubChecker map[string]error

func (s stubChecker) HealthCheck(_ context.Context, id string) (time.Duration, error) {
	return 20 * time.Millisecond, s[id]
}

func TestCheckHealth(t *testing.T) {
	r, clock := newTestRouter(t, DefaultEndpoints())
	clock.t = clock.t.Add(2 * time.Minute)

	r.CheckHealth(context.Background(), stubChecker{"KOTAK": errors.New("session expired")})

	eps := r.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "KOTAK", eps[0].ID)
	assert.Equal(t, "ZERODHA", eps[1].ID)

	assert.Less(t, eps[0].UptimePercent, 95.0)
	assert.False(t, r.Healthy("KOTAK"))

	assert.Equal(t, clock.t, eps[1].LastHealthCheck)
	assert.InDelta(t, 0.8*45+0.2*20, eps[1].LatencyMs, 1e-9)
	assert.True(t, r.Healthy("ZERODHA"))
}

func TestObserveOrder(t *testing.T) {
	r, clock := newTestRouter(t, DefaultEndpoints())
	seeded := r.Endpoints()[1]

	_, ok := r.OrderStats("ZERODHA")
	assert.False(t, ok)

	r.ObserveOrder("ZERODHA", 95*time.Millisecond, false)
	r.ObserveOrder("ZERODHA", 45*time.Millisecond, true)
	r.ObserveOrder("BOGUS", time.Millisecond, true)

	st, ok := r.OrderStats("ZERODHA")
	require.True(t, ok)
	assert.Equal(t, 2, st.Orders)
	assert.InDelta(t, 0.8*95+0.2*45, st.LatencyMs, 1e-9)
	assert.InDelta(t, 0.2, st.FillRate, 1e-9)
	assert.Equal(t, clock.t, st.LastObserved)
	_, ok = r.OrderStats("BOGUS")
	assert.False(t, ok)

	// Health figures only move on health checks.
	assert.Equal(t, seeded, r.Endpoints()[1])
}

func TestObserveOrderDoesNotRefreshStaleEndpoint(t *testing.T) {
	r, clock := newTestRouter(t, DefaultEndpoints())
	clock.t = clock.t.Add(4 * time.Minute)
	r.ObserveOrder("ZERODHA", 10*time.Millisecond, true)

	clock.t = clock.t.Add(2 * time.Minute)
	r.ObserveOrder("ZERODHA", 10*time.Millisecond, true)
	assert.False(t, r.Healthy("ZERODHA"), "orders must not keep an unprobed endpoint fresh")

	_, err := r.SelectBroker(contract, domain.OrderTypeLimit, 1)
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
}
