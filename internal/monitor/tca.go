// Package monitor measures execution quality after the fact: transaction cost
// analysis per order and per-stage latency of the order lifecycle.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// All marks a report dimension that is not filtered.
const All = "ALL"

// Derive fills in slippage, implementation shortfall and latency from the raw
// execution fields.
func Derive(m domain.ExecutionMetrics) domain.ExecutionMetrics {
	if m.ArrivalPrice != 0 {
		m.Slippage = math.Abs(m.ExecutionPrice-m.ArrivalPrice) / m.ArrivalPrice
	}
	m.ImplementationShortfall = m.Slippage*float64(m.Quantity)*m.ArrivalPrice + m.Commission
	m.LatencyMs = m.ExecutionTime.Sub(m.SignalTime).Milliseconds()
	return m
}

// TCA keeps an append-only execution log. Recent records live in memory;
// older windows are read from the ExecutionStore when one is configured.
type TCA struct {
	store     domain.ExecutionStore // optional
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu  sync.RWMutex
	log []domain.ExecutionMetrics // ordered by ExecutionTime of arrival
}

// NewTCA creates a TCA monitor. store may be nil.
func NewTCA(store domain.ExecutionStore, retention time.Duration, logger *slog.Logger) *TCA {
	return &TCA{
		store:     store,
		retention: retention,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "tca")),
	}
}

// Record derives the cost figures for m, appends it and persists it. A
// persistence failure is logged, not returned; the in-memory log still holds
// the record.
func (t *TCA) Record(ctx context.Context, m domain.ExecutionMetrics) domain.ExecutionMetrics {
	m = Derive(m)

	t.mu.Lock()
	t.log = append(t.log, m)
	t.pruneLocked(t.now())
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Append(ctx, m); err != nil {
			t.logger.WarnContext(ctx, "tca: persist execution failed",
				slog.String("order_id", m.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return m
}

// BrokerReport aggregates every execution routed to brokerID in [from, to].
func (t *TCA) BrokerReport(ctx context.Context, brokerID string, from, to time.Time) (domain.TCAReport, error) {
	rows, err := t.window(ctx, from, to)
	if err != nil {
		return domain.TCAReport{}, err
	}
	return aggregate(brokerID, All, filter(rows, func(m domain.ExecutionMetrics) bool { return m.BrokerID == brokerID }), from, to), nil
}

// AlgorithmReport aggregates every execution of algorithm in [from, to].
func (t *TCA) AlgorithmReport(ctx context.Context, algorithm string, from, to time.Time) (domain.TCAReport, error) {
	rows, err := t.window(ctx, from, to)
	if err != nil {
		return domain.TCAReport{}, err
	}
	return aggregate(All, algorithm, filter(rows, func(m domain.ExecutionMetrics) bool { return m.Algorithm == algorithm }), from, to), nil
}

// Comprehensive returns one report per (broker, algorithm) pair seen in
// [from, to], sorted by broker then algorithm.
func (t *TCA) Comprehensive(ctx context.Context, from, to time.Time) ([]domain.TCAReport, error) {
	rows, err := t.window(ctx, from, to)
	if err != nil {
		return nil, err
	}
	type key struct{ broker, algo string }
	groups := make(map[key][]domain.ExecutionMetrics)
	for _, m := range rows {
		k := key{m.BrokerID, m.Algorithm}
		groups[k] = append(groups[k], m)
	}
	out := make([]domain.TCAReport, 0, len(groups))
	for k, g := range groups {
		out = append(out, aggregate(k.broker, k.algo, g, from, to))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BrokerID != out[j].BrokerID {
			return out[i].BrokerID < out[j].BrokerID
		}
		return out[i].Algorithm < out[j].Algorithm
	})
	return out, nil
}

// BrokerRankings returns one report per broker, cheapest average
// implementation shortfall first.
func (t *TCA) BrokerRankings(ctx context.Context, from, to time.Time) ([]domain.TCAReport, error) {
	rows, err := t.window(ctx, from, to)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]domain.ExecutionMetrics)
	for _, m := range rows {
		groups[m.BrokerID] = append(groups[m.BrokerID], m)
	}
	out := make([]domain.TCAReport, 0, len(groups))
	for broker, g := range groups {
		out = append(out, aggregate(broker, All, g, from, to))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgImplementationShortfall != out[j].AvgImplementationShortfall {
			return out[i].AvgImplementationShortfall < out[j].AvgImplementationShortfall
		}
		return out[i].BrokerID < out[j].BrokerID
	})
	return out, nil
}

// window returns executions with ExecutionTime in [from, to]. Windows that
// start before the in-memory retention are served from the store.
func (t *TCA) window(ctx context.Context, from, to time.Time) ([]domain.ExecutionMetrics, error) {
	if t.store != nil && from.Before(t.now().Add(-t.retention)) {
		rows, err := t.store.ListRange(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("tca: list executions: %w", err)
		}
		return rows, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.ExecutionMetrics, 0, len(t.log))
	for _, m := range t.log {
		if !m.ExecutionTime.Before(from) && !m.ExecutionTime.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

// pruneLocked drops in-memory records older than the retention. Caller holds
// t.mu.
func (t *TCA) pruneLocked(now time.Time) {
	if t.retention <= 0 {
		return
	}
	cutoff := now.Add(-t.retention)
	i := 0
	for i < len(t.log) && t.log[i].ExecutionTime.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.log = append(t.log[:0:0], t.log[i:]...)
	}
}

// Len is the number of executions held in memory.
func (t *TCA) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.log)
}

func filter(rows []domain.ExecutionMetrics, keep func(domain.ExecutionMetrics) bool) []domain.ExecutionMetrics {
	out := rows[:0:0]
	for _, m := range rows {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func aggregate(broker, algo string, rows []domain.ExecutionMetrics, from, to time.Time) domain.TCAReport {
	r := domain.TCAReport{BrokerID: broker, Algorithm: algo, From: from, To: to, OrderCount: len(rows)}
	if len(rows) == 0 {
		return r
	}
	var slip, is, lat float64
	for _, m := range rows {
		slip += m.Slippage
		is += m.ImplementationShortfall
		lat += float64(m.LatencyMs)
	}
	n := float64(len(rows))
	r.AvgSlippage = slip / n
	r.AvgImplementationShortfall = is / n
	r.AvgLatencyMs = lat / n
	return r
}
