package monitor

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/metrics"
)

// AlertLookback is the window CheckAlerts evaluates p99 over.
const AlertLookback = 5 * time.Minute

// DefaultThresholds are the per-stage p99 alert limits.
func DefaultThresholds() map[domain.LatencyStage]time.Duration {
	return map[domain.LatencyStage]time.Duration{
		domain.StageSignalGeneration: 50 * time.Millisecond,
		domain.StageOrderRouting:     10 * time.Millisecond,
		domain.StageOrderSent:        100 * time.Millisecond,
		domain.StageOrderAck:         200 * time.Millisecond,
		domain.StageOrderFill:        1000 * time.Millisecond,
	}
}

// Latency tracks how long each order spends in every lifecycle stage. Each
// Stage call measures the time since the order's previous mark.
type Latency struct {
	retention  time.Duration
	thresholds map[domain.LatencyStage]time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time

	mu      sync.Mutex
	marks   map[string]time.Time
	samples map[domain.LatencyStage][]domain.LatencySample
}

// NewLatency creates a latency monitor. thresholds may be nil for the
// defaults; m may be nil.
func NewLatency(retention time.Duration, thresholds map[domain.LatencyStage]time.Duration, m *metrics.Metrics) *Latency {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Latency{
		retention:  retention,
		thresholds: thresholds,
		metrics:    m,
		now:        time.Now,
		marks:      make(map[string]time.Time),
		samples:    make(map[domain.LatencyStage][]domain.LatencySample),
	}
}

// Start opens tracking for orderID.
func (l *Latency) Start(orderID string) {
	l.StartAt(orderID, l.now())
}

// StartAt opens tracking for orderID with an explicit first mark, used when
// the lifecycle began before the order existed (signal creation).
func (l *Latency) StartAt(orderID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks[orderID] = at
}

// Stage records the time elapsed since orderID's previous mark under stage
// and moves the mark forward.
func (l *Latency) Stage(orderID string, stage domain.LatencyStage) (time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	prev, ok := l.marks[orderID]
	if !ok {
		l.mu.Unlock()
		return 0, fmt.Errorf("monitor: no latency start for order %s: %w", orderID, domain.ErrNotFound)
	}
	elapsed := now.Sub(prev)
	l.marks[orderID] = now
	l.appendLocked(domain.LatencySample{OrderID: orderID, Stage: stage, Elapsed: elapsed, RecordedAt: now})
	l.mu.Unlock()

	l.metrics.ObserveStage(string(stage), elapsed.Seconds())
	return elapsed, nil
}

// Complete stops tracking orderID.
func (l *Latency) Complete(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.marks, orderID)
}

// InFlight is the number of orders currently tracked.
func (l *Latency) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.marks)
}

// appendLocked stores s and trims samples of its stage past retention.
// Samples arrive in time order so trimming only looks at the front.
func (l *Latency) appendLocked(s domain.LatencySample) {
	list := append(l.samples[s.Stage], s)
	if l.retention > 0 {
		cutoff := s.RecordedAt.Add(-l.retention)
		i := 0
		for i < len(list) && list[i].RecordedAt.Before(cutoff) {
			i++
		}
		if i > 0 {
			list = append(list[:0:0], list[i:]...)
		}
	}
	l.samples[s.Stage] = list
}

// Stats summarizes stage samples recorded within lookback of now.
func (l *Latency) Stats(stage domain.LatencyStage, lookback time.Duration) domain.LatencyStats {
	cutoff := l.now().Add(-lookback)

	l.mu.Lock()
	var values []time.Duration
	for _, s := range l.samples[stage] {
		if s.RecordedAt.After(cutoff) {
			values = append(values, s.Elapsed)
		}
	}
	l.mu.Unlock()

	st := domain.LatencyStats{Stage: stage, Count: len(values)}
	if len(values) == 0 {
		return st
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	st.Avg = sum / time.Duration(len(values))
	st.P50 = percentile(values, 0.50)
	st.P95 = percentile(values, 0.95)
	st.P99 = percentile(values, 0.99)
	st.Max = values[len(values)-1]
	return st
}

// AllStats returns Stats for every stage in lifecycle order.
func (l *Latency) AllStats(lookback time.Duration) []domain.LatencyStats {
	out := make([]domain.LatencyStats, 0, len(domain.LatencyStages))
	for _, stage := range domain.LatencyStages {
		out = append(out, l.Stats(stage, lookback))
	}
	return out
}

// CheckAlerts returns one message per stage whose p99 over the alert lookback
// exceeds its threshold.
func (l *Latency) CheckAlerts() []string {
	var alerts []string
	for _, stage := range domain.LatencyStages {
		limit, ok := l.thresholds[stage]
		if !ok {
			continue
		}
		if st := l.Stats(stage, AlertLookback); st.Count > 0 && st.P99 > limit {
			alerts = append(alerts, fmt.Sprintf("ALERT: %s latency exceeded %dms threshold", stage, limit.Milliseconds()))
		}
	}
	return alerts
}

// percentile picks the element at ceil(p*n)-1 of sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
