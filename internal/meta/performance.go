package meta

import (
	"math"
	"time"
)

// Performance is a snapshot of one strategy's rolling return statistics.
type Performance struct {
	StrategyID  string    `json:"strategy_id"`
	Days        int       `json:"days"`
	TotalReturn float64   `json:"total_return"`
	Volatility  float64   `json:"volatility"`
	Sharpe      float64   `json:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown"`
	LastUpdate  time.Time `json:"last_update"`
}

// series is the rolling window of daily returns behind a Performance.
type series struct {
	id         string
	returns    []float64
	lastUpdate time.Time
}

func (s *series) add(r float64, window int, at time.Time) {
	s.returns = append(s.returns, r)
	if overflow := len(s.returns) - window; overflow > 0 {
		s.returns = append([]float64(nil), s.returns[overflow:]...)
	}
	s.lastUpdate = at
}

func (s *series) snapshot(riskFree float64) Performance {
	p := Performance{
		StrategyID: s.id,
		Days:       len(s.returns),
		LastUpdate: s.lastUpdate,
	}
	if len(s.returns) == 0 {
		return p
	}

	mean := average(s.returns)
	var variance float64
	for _, r := range s.returns {
		p.TotalReturn += r
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(s.returns))
	p.Volatility = math.Sqrt(variance * tradingDays)
	if p.Volatility > 0 {
		p.Sharpe = (mean*tradingDays - riskFree) / p.Volatility
	}
	p.MaxDrawdown = maxDrawdown(s.returns)
	return p
}

// maxDrawdown walks cumulative (additive) returns and measures each trough
// against the running peak.
func maxDrawdown(returns []float64) float64 {
	var peak, cum, worst float64
	for _, r := range returns {
		cum += r
		peak = math.Max(peak, cum)
		worst = math.Max(worst, (peak-cum)/(1+peak))
	}
	return worst
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
