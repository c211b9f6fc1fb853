package service

import (
	"context"
	"sync"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// MemoryRiskState is the in-process domain.RiskStateStore used when Redis is
// not configured.
type MemoryRiskState struct {
	mu       sync.Mutex
	counters map[string]domain.RiskCounters
	delta    map[string]float64
	vega     map[string]float64
}

var _ domain.RiskStateStore = (*MemoryRiskState)(nil)

// NewMemoryRiskState returns an empty store.
func NewMemoryRiskState() *MemoryRiskState {
	return &MemoryRiskState{
		counters: make(map[string]domain.RiskCounters),
		delta:    make(map[string]float64),
		vega:     make(map[string]float64),
	}
}

func (m *MemoryRiskState) Counters(_ context.Context, ownerID string) (domain.RiskCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[ownerID], nil
}

func (m *MemoryRiskState) AddPnL(_ context.Context, ownerID string, pnl float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[ownerID]
	c.DailyPnL += pnl
	m.counters[ownerID] = c
	return nil
}

func (m *MemoryRiskState) AddTrade(_ context.Context, ownerID string, notional float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[ownerID]
	c.DailyTrades++
	c.OpenNotional += notional
	m.counters[ownerID] = c
	return nil
}

// ResetDaily clears PnL and trade counts. Open notional is a position
// balance, not a daily figure, so it carries over.
func (m *MemoryRiskState) ResetDaily(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for owner, c := range m.counters {
		m.counters[owner] = domain.RiskCounters{OpenNotional: c.OpenNotional}
	}
	return nil
}

func (m *MemoryRiskState) Greeks(_ context.Context, ownerID string) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delta[ownerID], m.vega[ownerID], nil
}

func (m *MemoryRiskState) AddGreeks(_ context.Context, ownerID string, delta, vega float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delta[ownerID] += delta
	m.vega[ownerID] += vega
	return nil
}
