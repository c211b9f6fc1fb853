package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

var t0 = time.Date(2026, 6, 3, 15, 30, 0, 0, time.UTC)

type memPerformanceStore struct {
	rows    []domain.DailyReturn
	failErr error
}

func (m *memPerformanceStore) Append(_ context.Context, r domain.DailyReturn) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.rows = append(m.rows, r)
	return nil
}

func (m *memPerformanceStore) ListRecent(_ context.Context, strategyID string, limit int) ([]domain.DailyReturn, error) {
	var out []domain.DailyReturn
	for _, r := range m.rows {
		if r.StrategyID == strategyID {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memPerformanceStore) ListStrategies(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, r := range m.rows {
		if !seen[r.StrategyID] {
			seen[r.StrategyID] = true
			ids = append(ids, r.StrategyID)
		}
	}
	return ids, nil
}

func newTestAllocator(t *testing.T, cfg Config, store domain.PerformanceStore) *Allocator {
	t.Helper()
	a := NewAllocator(cfg, store, slog.New(slog.DiscardHandler))
	a.now = func() time.Time { return t0 }
	return a
}

func record(t *testing.T, a *Allocator, id string, returns ...float64) {
	t.Helper()
	for _, r := range returns {
		require.NoError(t, a.RecordReturn(context.Background(), id, r))
	}
}

func repeat(pattern []float64, n int) []float64 {
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, pattern[i%len(pattern)])
	}
	return out
}

func TestPerformanceStatistics(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig(), nil)
	record(t, a, "ma", 0.01, 0.03)
	record(t, a, "dd", 0.1, -0.05)

	p, err := a.Performance("ma")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Days)
	assert.InDelta(t, 0.04, p.TotalReturn, 1e-12)
	assert.InDelta(t, 0.01*math.Sqrt(252), p.Volatility, 1e-9)
	assert.InDelta(t, (0.02*252-0.03)/(0.01*math.Sqrt(252)), p.Sharpe, 1e-6)
	assert.Zero(t, p.MaxDrawdown)
	assert.Equal(t, t0, p.LastUpdate)

	p, err = a.Performance("dd")
	require.NoError(t, err)
	assert.InDelta(t, 0.05/1.1, p.MaxDrawdown, 1e-9)

	_, err = a.Performance("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWindowDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 5
	a := newTestAllocator(t, cfg, nil)
	record(t, a, "ma", 1, 1, 0, 0, 0, 0, 0)

	p, err := a.Performance("ma")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Days)
	assert.Zero(t, p.TotalReturn)
}

func TestRecordReturnRejectsBadInput(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig(), nil)
	assert.Error(t, a.RecordReturn(context.Background(), "", 0.01))
	assert.Error(t, a.RecordReturn(context.Background(), "ma", math.NaN()))
	assert.Empty(t, a.Performances())
}

func TestShouldRebalance(t *testing.T) {
	t.Run("recent drift", func(t *testing.T) {
		a := newTestAllocator(t, DefaultConfig(), nil)
		record(t, a, "steady", repeat([]float64{0.01}, 37)...)
		assert.False(t, a.ShouldRebalance())

		record(t, a, "drifting", repeat([]float64{0}, 30)...)
		record(t, a, "drifting", repeat([]float64{0.05}, 7)...)
		assert.True(t, a.ShouldRebalance())
	})
	t.Run("stale strategies ignored", func(t *testing.T) {
		a := newTestAllocator(t, DefaultConfig(), nil)
		record(t, a, "drifting", repeat([]float64{0}, 30)...)
		record(t, a, "drifting", repeat([]float64{0.05}, 7)...)
		a.now = func() time.Time { return t0.Add(8 * 24 * time.Hour) }
		assert.False(t, a.ShouldRebalance())
	})
	t.Run("too little history", func(t *testing.T) {
		a := newTestAllocator(t, DefaultConfig(), nil)
		record(t, a, "new", 0.5, 0.5)
		assert.False(t, a.ShouldRebalance())
	})
}

func TestRebalanceEqualStrategies(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig(), nil)
	returns := repeat([]float64{0.01, -0.005}, 30)
	for i := 0; i < 4; i++ {
		record(t, a, fmt.Sprintf("s%d", i), returns...)
	}
	record(t, a, "young", repeat([]float64{0.02}, 10)...)

	weights, err := a.Rebalance(context.Background())
	require.NoError(t, err)
	require.Len(t, weights, 4)
	assert.NotContains(t, weights, "young")
	for id, w := range weights {
		assert.InDelta(t, 0.25, w, 1e-9, id)
	}
	assert.Equal(t, weights, a.Allocations())

	perf, err := a.Performance("s0")
	require.NoError(t, err)
	assert.InDelta(t, perf.Sharpe, a.PortfolioSharpe(), 1e-9)
}

func TestRebalanceFallsBackToEqualWeights(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig(), nil)
	returns := repeat([]float64{-0.01, 0.005}, 40)
	for _, id := range []string{"a", "b", "c"} {
		record(t, a, id, returns...)
	}

	weights, err := a.Rebalance(context.Background())
	require.NoError(t, err)
	for _, w := range weights {
		assert.InDelta(t, 1.0/3, w, 1e-9)
	}
}

func TestRebalanceWeightsSumToOne(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig(), nil)
	record(t, a, "a", repeat([]float64{0.012, -0.004, 0.003}, 60)...)
	record(t, a, "b", repeat([]float64{0.002, 0.001}, 60)...)
	record(t, a, "c", repeat([]float64{-0.02, 0.015, 0.001, 0.004}, 60)...)
	record(t, a, "d", repeat([]float64{0.03, -0.025}, 60)...)
	record(t, a, "e", repeat([]float64{0.0005}, 59)...)
	record(t, a, "e", 0.001)

	weights, err := a.Rebalance(context.Background())
	require.NoError(t, err)
	require.Len(t, weights, 5)
	var sum float64
	for _, w := range weights {
		assert.Greater(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestRebalanceWithoutHistoryClears(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig(), nil)
	record(t, a, "young", 0.01)
	weights, err := a.Rebalance(context.Background())
	require.NoError(t, err)
	assert.Empty(t, weights)
	assert.Zero(t, a.PortfolioSharpe())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Rebalance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRankings(t *testing.T) {
	a := newTestAllocator(t, DefaultConfig(), nil)
	record(t, a, "a", 0.01, 0.03)
	record(t, a, "b", 0.01, 0.02)
	record(t, a, "c", -0.01, 0.01)
	record(t, a, "d", 0.5, -0.4)

	assert.Equal(t, []string{"b", "a"}, a.TopPerforming(2))
	assert.Len(t, a.TopPerforming(10), 4)
	assert.Empty(t, a.TopPerforming(0))
	assert.Equal(t, []string{"c", "d"}, a.Underperforming(0.5, 0.2))
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := &memPerformanceStore{}
	a := newTestAllocator(t, DefaultConfig(), store)
	record(t, a, "ma", 0.01, 0.03)
	require.Len(t, store.rows, 2)

	restored := newTestAllocator(t, DefaultConfig(), store)
	require.NoError(t, restored.Load(context.Background()))
	p, err := restored.Performance("ma")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Days)
	assert.InDelta(t, 0.04, p.TotalReturn, 1e-12)

	store.failErr = errors.New("db down")
	err = a.RecordReturn(context.Background(), "ma", 0.02)
	require.Error(t, err)
	p, err = a.Performance("ma")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Days)
}
