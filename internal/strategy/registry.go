package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Registry maps strategy types to their evaluators. It is safe for concurrent
// use.
type Registry struct {
	evaluators map[domain.StrategyType]Evaluator
	mu         sync.RWMutex
}

// NewRegistry returns a Registry holding evals.
func NewRegistry(evals ...Evaluator) *Registry {
	r := &Registry{
		evaluators: make(map[domain.StrategyType]Evaluator, len(evals)),
	}
	for _, ev := range evals {
		r.Register(ev)
	}
	return r
}

// DefaultRegistry returns a Registry with the indicator evaluators. The
// iron condor evaluator needs collaborators and is registered separately.
func DefaultRegistry() *Registry {
	return NewRegistry(
		MovingAverageCrossover{},
		RSIThreshold{},
		MACDCrossover{},
		Breakout{},
		EMARSI{},
	)
}

// Register adds ev under its type, replacing any previous evaluator.
func (r *Registry) Register(ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[ev.Type()] = ev
}

// Get retrieves the evaluator for t.
func (r *Registry) Get(t domain.StrategyType) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.evaluators[t]
	if !ok {
		return nil, fmt.Errorf("strategy type %q not registered: %w", t, domain.ErrInvalidOrder)
	}
	return ev, nil
}

// List returns the registered types in sorted order.
func (r *Registry) List() []domain.StrategyType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.StrategyType, 0, len(r.evaluators))
	for t := range r.evaluators {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
