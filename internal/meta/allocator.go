package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Allocator tracks per-strategy daily returns and rebalances capital weights
// across strategies with enough history.
type Allocator struct {
	cfg    Config
	store  domain.PerformanceStore
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	series      map[string]*series
	allocations map[string]float64
}

// NewAllocator creates an Allocator. store may be nil, in which case returns
// live only in memory.
func NewAllocator(cfg Config, store domain.PerformanceStore, logger *slog.Logger) *Allocator {
	if cfg.Window <= 0 {
		cfg.Window = tradingDays
	}
	return &Allocator{
		cfg:         cfg,
		store:       store,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "meta_allocator")),
		series:      make(map[string]*series),
		allocations: make(map[string]float64),
	}
}

// Load restores the rolling windows from the performance store.
func (a *Allocator) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	ids, err := a.store.ListStrategies(ctx)
	if err != nil {
		return fmt.Errorf("meta: load strategies: %w", err)
	}
	loaded := make(map[string]*series, len(ids))
	for _, id := range ids {
		rows, err := a.store.ListRecent(ctx, id, a.cfg.Window)
		if err != nil {
			return fmt.Errorf("meta: load returns for %s: %w", id, err)
		}
		s := &series{id: id}
		for _, row := range rows {
			s.add(row.Return, a.cfg.Window, row.RecordedAt)
		}
		loaded[id] = s
	}

	a.mu.Lock()
	for id, s := range loaded {
		a.series[id] = s
	}
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "meta: performance history loaded", slog.Int("strategies", len(loaded)))
	return nil
}

// RecordReturn appends one daily return for strategyID.
func (a *Allocator) RecordReturn(ctx context.Context, strategyID string, r float64) error {
	if strategyID == "" {
		return errors.New("meta: record return: strategy id is required")
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return fmt.Errorf("meta: record return for %s: invalid value %v", strategyID, r)
	}
	at := a.now().UTC()
	if a.store != nil {
		err := a.store.Append(ctx, domain.DailyReturn{StrategyID: strategyID, Return: r, RecordedAt: at})
		if err != nil {
			return fmt.Errorf("meta: persist return for %s: %w", strategyID, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.series[strategyID]
	if !ok {
		s = &series{id: strategyID}
		a.series[strategyID] = s
	}
	s.add(r, a.cfg.Window, at)
	return nil
}

// Performance returns the statistics of one strategy.
func (a *Allocator) Performance(strategyID string) (Performance, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[strategyID]
	if !ok {
		return Performance{}, fmt.Errorf("meta: performance %s: %w", strategyID, domain.ErrNotFound)
	}
	return s.snapshot(a.cfg.RiskFreeRate), nil
}

// Performances returns the statistics of every tracked strategy sorted by ID.
func (a *Allocator) Performances() []Performance {
	a.mu.RLock()
	out := make([]Performance, 0, len(a.series))
	for _, s := range a.series {
		out = append(out, s.snapshot(a.cfg.RiskFreeRate))
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// ShouldRebalance reports whether any recently updated strategy's trailing
// average return has drifted from its overall average by more than the
// rebalance threshold.
func (a *Allocator) ShouldRebalance() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	recent := a.cfg.RecentDays
	if recent <= 0 {
		return false
	}
	cutoff := a.now().Add(-time.Duration(recent) * 24 * time.Hour)
	for _, s := range a.series {
		if s.lastUpdate.Before(cutoff) || len(s.returns) < recent {
			continue
		}
		drift := math.Abs(average(s.returns[len(s.returns)-recent:]) - average(s.returns))
		if drift > a.cfg.RebalanceThreshold {
			a.logger.Info("meta: rebalance triggered",
				slog.String("strategy_id", s.id),
				slog.Float64("drift", drift),
			)
			return true
		}
	}
	return false
}

// Rebalance recomputes weights over the strategies with at least MinHistory
// returns and replaces the current allocation. The weights sum to one.
func (a *Allocator) Rebalance(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("meta: rebalance: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		ids     []string
		returns [][]float64
	)
	for id, s := range a.series {
		if len(s.returns) < a.cfg.MinHistory {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := make([]float64, len(a.series[id].returns))
		copy(r, a.series[id].returns)
		returns = append(returns, r)
	}

	weights := optimize(returns, a.cfg)
	next := make(map[string]float64, len(ids))
	for i, id := range ids {
		next[id] = weights[i]
	}
	a.allocations = next

	a.logger.InfoContext(ctx, "meta: portfolio rebalanced", slog.Int("strategies", len(next)))
	return copyWeights(next), nil
}

// Allocations returns the current capital weights.
func (a *Allocator) Allocations() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyWeights(a.allocations)
}

// Underperforming lists strategies whose Sharpe ratio is below minSharpe or
// whose max drawdown exceeds maxDrawdown.
func (a *Allocator) Underperforming(minSharpe, maxDrawdown float64) []string {
	var out []string
	for _, p := range a.Performances() {
		if p.Sharpe < minSharpe || p.MaxDrawdown > maxDrawdown {
			out = append(out, p.StrategyID)
		}
	}
	return out
}

// TopPerforming returns up to n strategy IDs ordered by Sharpe ratio,
// highest first.
func (a *Allocator) TopPerforming(n int) []string {
	perfs := a.Performances()
	sort.SliceStable(perfs, func(i, j int) bool { return perfs[i].Sharpe > perfs[j].Sharpe })
	if n > len(perfs) {
		n = len(perfs)
	}
	if n < 0 {
		n = 0
	}
	out := make([]string, 0, n)
	for _, p := range perfs[:n] {
		out = append(out, p.StrategyID)
	}
	return out
}

// PortfolioSharpe is the allocation-weighted sum of strategy Sharpe ratios.
func (a *Allocator) PortfolioSharpe() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var total float64
	for id, w := range a.allocations {
		if s, ok := a.series[id]; ok {
			total += w * s.snapshot(a.cfg.RiskFreeRate).Sharpe
		}
	}
	return total
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
