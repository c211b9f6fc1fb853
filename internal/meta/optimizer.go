package meta

import "math"

// tradingDays annualizes daily statistics.
const tradingDays = 252

// Config tunes the allocator and its optimizer.
type Config struct {
	RiskFreeRate       float64
	Window             int
	MinHistory         int
	RecentDays         int
	RebalanceThreshold float64
	MinWeight          float64
	MaxWeight          float64
	Iterations         int
	StepSize           float64
}

// DefaultConfig returns the production allocation policy.
func DefaultConfig() Config {
	return Config{
		RiskFreeRate:       0.03,
		Window:             252,
		MinHistory:         30,
		RecentDays:         7,
		RebalanceThreshold: 0.02,
		MinWeight:          0.05,
		MaxWeight:          0.30,
		Iterations:         10,
		StepSize:           0.01,
	}
}

// optimize returns capital weights for the given return series, aligned with
// the input order. Weights start from each strategy's excess return per unit
// of volatility, are clamped and renormalized, and are then refined by
// projected gradient ascent on the portfolio Sharpe ratio.
func optimize(returns [][]float64, cfg Config) []float64 {
	n := len(returns)
	if n == 0 {
		return nil
	}

	expected := make([]float64, n)
	for i, r := range returns {
		expected[i] = average(r) * tradingDays
	}
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := range cov[i] {
			cov[i][j] = covariance(returns[i], returns[j]) * tradingDays
		}
	}

	weights := make([]float64, n)
	var total float64
	for i := range weights {
		if vol := math.Sqrt(cov[i][i]); vol > 0 {
			weights[i] = math.Max(0, (expected[i]-cfg.RiskFreeRate)/vol)
		}
		total += weights[i]
	}
	for i := range weights {
		if total > 0 {
			weights[i] /= total
		} else {
			weights[i] = 1 / float64(n)
		}
	}

	project(weights, cfg)
	for iter := 0; iter < cfg.Iterations; iter++ {
		grad := sharpeGradient(weights, expected, cov, cfg.RiskFreeRate)
		for i := range weights {
			weights[i] += cfg.StepSize * grad[i]
		}
		project(weights, cfg)
	}
	project(weights, cfg)
	return weights
}

// project clamps each weight to the configured bounds and rescales the
// vector to sum to one.
func project(weights []float64, cfg Config) {
	var sum float64
	for i, w := range weights {
		weights[i] = math.Max(cfg.MinWeight, math.Min(cfg.MaxWeight, w))
		sum += weights[i]
	}
	if sum <= 0 {
		return
	}
	for i := range weights {
		weights[i] /= sum
	}
}

func sharpeGradient(weights, expected []float64, cov [][]float64, riskFree float64) []float64 {
	n := len(weights)
	grad := make([]float64, n)

	var ret, variance float64
	for i := 0; i < n; i++ {
		ret += weights[i] * expected[i]
		for j := 0; j < n; j++ {
			variance += weights[i] * weights[j] * cov[i][j]
		}
	}
	std := math.Sqrt(variance)
	if std <= 0 {
		return grad
	}
	excess := ret - riskFree
	for i := 0; i < n; i++ {
		var dVar float64
		for j := 0; j < n; j++ {
			dVar += 2 * weights[j] * cov[i][j]
		}
		dStd := dVar / (2 * std)
		grad[i] = ((expected[i]-riskFree)*std - excess*dStd) / variance
	}
	return grad
}

// covariance is the sample covariance of two equally long series. Series of
// different lengths are treated as uncorrelated.
func covariance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	ma, mb := average(a), average(b)
	var sum float64
	for i := range a {
		sum += (a[i] - ma) * (b[i] - mb)
	}
	return sum / float64(len(a)-1)
}
