// Package router selects the broker endpoint for each order from live health,
// cost and liquidity data.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Score weights.
const (
	weightLatency   = 0.3
	weightFillRate  = 0.4
	weightFee       = 0.2
	weightLiquidity = 0.1
)

// healthAlpha is the smoothing factor applied to observed latency and
// availability.
const healthAlpha = 0.2

// Config holds the health thresholds.
type Config struct {
	MinUptimePercent float64
	MaxLatencyMs     float64
	HealthStaleAfter time.Duration
	DefaultLiquidity float64
}

// DefaultConfig returns the stock router thresholds.
func DefaultConfig() Config {
	return Config{
		MinUptimePercent: 95,
		MaxLatencyMs:     100,
		HealthStaleAfter: 5 * time.Minute,
		DefaultLiquidity: 0.5,
	}
}

// DefaultEndpoints are the brokers seeded when none are configured.
func DefaultEndpoints() []domain.BrokerEndpoint {
	return []domain.BrokerEndpoint{
		{ID: "ZERODHA", Name: "Zerodha", LatencyMs: 45, UptimePercent: 99.5, FillRate: 0.95, FeeLevel: 20},
		{ID: "KOTAK", Name: "Kotak Securities", LatencyMs: 60, UptimePercent: 99.0, FillRate: 0.92, FeeLevel: 15},
	}
}

// HealthChecker probes one broker connection and reports its round trip.
type HealthChecker interface {
	HealthCheck(ctx context.Context, brokerID string) (time.Duration, error)
}

// SmartRouter holds the broker health map. Reads dominate; updates are
// last-write-wins.
type SmartRouter struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]domain.BrokerEndpoint
	liquidity map[string]map[string]float64 // broker -> contract key -> score
	orders    map[string]domain.BrokerOrderStats
}

// NewSmartRouter seeds the router with endpoints, each stamped healthy as of
// now.
func NewSmartRouter(cfg Config, endpoints []domain.BrokerEndpoint, logger *slog.Logger) *SmartRouter {
	r := &SmartRouter{
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "router")),
		endpoints: make(map[string]domain.BrokerEndpoint, len(endpoints)),
		liquidity: make(map[string]map[string]float64),
		orders:    make(map[string]domain.BrokerOrderStats),
	}
	stamp := r.now()
	for _, ep := range endpoints {
		if ep.LastHealthCheck.IsZero() {
			ep.LastHealthCheck = stamp
		}
		r.endpoints[ep.ID] = ep
	}
	return r
}

// SelectBroker returns the best-scoring healthy endpoint for the order. It
// fails with domain.ErrBrokerUnavailable when no endpoint is healthy.
func (r *SmartRouter) SelectBroker(contract domain.OptionContract, orderType domain.OrderType, quantity int) (domain.BrokerEndpoint, error) {
	now := r.now()
	key := contract.Key()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best      domain.BrokerEndpoint
		bestScore = -1.0
	)
	for _, id := range r.sortedIDs() {
		ep := r.endpoints[id]
		if !r.healthy(ep, now) {
			continue
		}
		if score := r.score(ep, key); score > bestScore {
			best, bestScore = ep, score
		}
	}
	if bestScore < 0 {
		return domain.BrokerEndpoint{}, fmt.Errorf("router: select for %s %s x%d: %w", key, orderType, quantity, domain.ErrBrokerUnavailable)
	}
	return best, nil
}

// Score is the weighted routing score of endpoint id for contract. ok is false
// for an unknown endpoint.
func (r *SmartRouter) Score(id string, contract domain.OptionContract) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return 0, false
	}
	return r.score(ep, contract.Key()), true
}

func (r *SmartRouter) healthy(ep domain.BrokerEndpoint, now time.Time) bool {
	return ep.UptimePercent > r.cfg.MinUptimePercent &&
		ep.LatencyMs < r.cfg.MaxLatencyMs &&
		now.Sub(ep.LastHealthCheck) < r.cfg.HealthStaleAfter
}

func (r *SmartRouter) score(ep domain.BrokerEndpoint, contractKey string) float64 {
	latency := max(0, 100-ep.LatencyMs) / 100
	fill := clamp01(ep.FillRate)
	fee := max(0, 100-ep.FeeLevel) / 100
	liq := r.cfg.DefaultLiquidity
	if byContract, ok := r.liquidity[ep.ID]; ok {
		if v, ok := byContract[contractKey]; ok {
			liq = v
		}
	}
	return weightLatency*latency + weightFillRate*fill + weightFee*fee + weightLiquidity*liq
}

// sortedIDs gives a stable iteration order so ties resolve the same way every
// time. Caller holds r.mu.
func (r *SmartRouter) sortedIDs() []string {
	ids := make([]string, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateMetrics replaces an endpoint's health figures and stamps the check
// time. Unknown IDs are ignored.
func (r *SmartRouter) UpdateMetrics(id string, latencyMs, uptimePercent, fillRate, feeLevel float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return
	}
	ep.LatencyMs = latencyMs
	ep.UptimePercent = uptimePercent
	ep.FillRate = fillRate
	ep.FeeLevel = feeLevel
	ep.LastHealthCheck = r.now()
	r.endpoints[id] = ep
}

// UpdateLiquidity records order-book depth for a broker and contract,
// normalized to min(1, depth/1000).
func (r *SmartRouter) UpdateLiquidity(id string, contract domain.OptionContract, depth float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byContract, ok := r.liquidity[id]
	if !ok {
		byContract = make(map[string]float64)
		r.liquidity[id] = byContract
	}
	byContract[contract.Key()] = clamp01(depth / 1000)
}

// ObserveOrder folds one order round trip into the broker's order stats. The
// endpoint's health figures and check time are left alone, so a broker whose
// probes fail still ages out while orders flow.
func (r *SmartRouter) ObserveOrder(id string, latency time.Duration, filled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return
	}
	ms := float64(latency) / float64(time.Millisecond)
	fill := boolTo(filled, 1)
	st, seen := r.orders[id]
	if seen {
		st.LatencyMs = ewma(st.LatencyMs, ms)
		st.FillRate = ewma(st.FillRate, fill)
	} else {
		st.LatencyMs, st.FillRate = ms, fill
	}
	st.Orders++
	st.LastObserved = r.now()
	r.orders[id] = st
}

// OrderStats returns the order feedback observed for broker id. ok is false
// until the first order.
func (r *SmartRouter) OrderStats(id string) (domain.BrokerOrderStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.orders[id]
	return st, ok
}

// CheckHealth probes every endpoint. A successful probe refreshes latency,
// availability and the check time; a failed one only lowers availability so
// the endpoint ages out.
func (r *SmartRouter) CheckHealth(ctx context.Context, checker HealthChecker) {
	r.mu.RLock()
	ids := r.sortedIDs()
	r.mu.RUnlock()

	for _, id := range ids {
		rtt, err := checker.HealthCheck(ctx, id)

		r.mu.Lock()
		ep := r.endpoints[id]
		if err != nil {
			ep.UptimePercent = ewma(ep.UptimePercent, 0)
		} else {
			ep.UptimePercent = ewma(ep.UptimePercent, 100)
			ep.LatencyMs = ewma(ep.LatencyMs, float64(rtt)/float64(time.Millisecond))
			ep.LastHealthCheck = r.now()
		}
		r.endpoints[id] = ep
		r.mu.Unlock()

		if err != nil {
			r.logger.WarnContext(ctx, "router: health check failed",
				slog.String("broker_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Endpoints returns a snapshot of every endpoint, sorted by ID.
func (r *SmartRouter) Endpoints() []domain.BrokerEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BrokerEndpoint, 0, len(r.endpoints))
	for _, id := range r.sortedIDs() {
		out = append(out, r.endpoints[id])
	}
	return out
}

// Healthy reports whether endpoint id currently passes the health predicate.
func (r *SmartRouter) Healthy(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	return ok && r.healthy(ep, r.now())
}

func ewma(prev, sample float64) float64 {
	return (1-healthAlpha)*prev + healthAlpha*sample
}

func boolTo(b bool, v float64) float64 {
	if b {
		return v
	}
	return 0
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
