package strategy

import (
	"math"
	"sync"
)

// DefaultHistoryLimit is how many observations are kept per symbol.
const DefaultHistoryLimit = 200

// History keeps the most recent prices and volumes for each symbol. Points
// beyond the limit are discarded oldest first.
type History struct {
	limit   int
	prices  map[string][]float64
	volumes map[string][]float64
	mu      sync.RWMutex
}

// NewHistory creates a History holding at most limit points per symbol. A
// non-positive limit selects DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		limit:   limit,
		prices:  make(map[string][]float64),
		volumes: make(map[string][]float64),
	}
}

// Track records a new observation for symbol.
func (h *History) Track(symbol string, price, volume float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.prices[symbol] = h.push(h.prices[symbol], price)
	h.volumes[symbol] = h.push(h.volumes[symbol], volume)
}

func (h *History) push(s []float64, v float64) []float64 {
	s = append(s, v)
	if overflow := len(s) - h.limit; overflow > 0 {
		s = append([]float64(nil), s[overflow:]...)
	}
	return s
}

// Prices returns a copy of the price history for symbol, oldest first.
func (h *History) Prices(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.prices[symbol]
	if len(src) == 0 {
		return nil
	}
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// Volumes returns a copy of the volume history for symbol, oldest first.
func (h *History) Volumes(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.volumes[symbol]
	if len(src) == 0 {
		return nil
	}
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// Len reports how many points are held for symbol.
func (h *History) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.prices[symbol])
}

// SMA is the simple mean of the last period prices.
func SMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), true
}

// EMA is the exponential moving average over the last period prices, seeded
// with the first price of that window.
func EMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	k := 2.0 / float64(period+1)
	window := prices[len(prices)-period:]
	ema := window[0]
	for _, p := range window[1:] {
		ema = p*k + ema*(1-k)
	}
	return ema, true
}

// RSI is the relative strength index over the last period price changes.
// It needs period+1 prices and returns 100 when there were no losses.
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	if loss == 0 {
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// MACD returns the 12/26 EMA difference and its signal line. The signal line
// is a damped copy of the MACD line.
func MACD(prices []float64) (macd, signal float64, ok bool) {
	fast, ok12 := EMA(prices, 12)
	slow, ok26 := EMA(prices, 26)
	if !ok12 || !ok26 {
		return 0, 0, false
	}
	macd = fast - slow
	return macd, macd * 0.8, true
}

// Resistance is the highest of the last period prices.
func Resistance(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	window := prices[len(prices)-period:]
	hi := window[0]
	for _, p := range window[1:] {
		hi = math.Max(hi, p)
	}
	return hi, true
}

// Support is the lowest of the last period prices.
func Support(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	window := prices[len(prices)-period:]
	lo := window[0]
	for _, p := range window[1:] {
		lo = math.Min(lo, p)
	}
	return lo, true
}

// Volatility is the annualized standard deviation of simple returns, or
// false with fewer than three prices.
func Volatility(prices []float64) (float64, bool) {
	rets := returns(prices)
	if len(rets) < 2 {
		return 0, false
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var variance float64
	for _, r := range rets {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(rets) - 1)
	return math.Sqrt(variance * 252), true
}

func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}
