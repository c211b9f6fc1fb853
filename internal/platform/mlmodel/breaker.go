package mlmodel

import (
	"sync"

	"github.com/sony/gobreaker/v2"
)

// outcomeWindow is a count-based sliding window of the most recent call
// results. gobreaker owns the state machine; the window supplies the failure
// rate it trips on.
type outcomeWindow struct {
	mu      sync.Mutex
	results []bool // true = failure
	next    int
	filled  int
}

func newOutcomeWindow(size int) *outcomeWindow {
	if size < 1 {
		size = 1
	}
	return &outcomeWindow{results: make([]bool, size)}
}

func (w *outcomeWindow) record(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results[w.next] = failed
	w.next = (w.next + 1) % len(w.results)
	if w.filled < len(w.results) {
		w.filled++
	}
}

// rate returns the failure percentage and the number of calls in the window.
func (w *outcomeWindow) rate() (float64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0, 0
	}
	failures := 0
	for i := 0; i < w.filled; i++ {
		if w.results[i] {
			failures++
		}
	}
	return float64(failures) * 100 / float64(w.filled), w.filled
}

func (w *outcomeWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.filled = 0
}

// stateValue maps a breaker state to the metrics gauge encoding.
func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
