package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/metrics"
)

// Engine owns the deployed strategies. Each market tick is evaluated against
// every active strategy bound to the tick's symbol, and any resulting signals
// are fanned out to subscribers. A strategy moves FLAT to IN_POSITION on a
// BUY and back on a SELL.
type Engine struct {
	registry *Registry
	history  *History
	store    domain.StrategyStore
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.RWMutex
	strategies map[string]*deployed

	subMu  sync.RWMutex
	subs   map[int]subscriber
	nextID int

	recentMu      sync.Mutex
	recentSignals []domain.Signal
	recentLimit   int
}

type deployed struct {
	inst domain.StrategyInstance
	eval Evaluator
}

// subscriber is one fan-out target. A signal an execution subscriber cannot
// take is withdrawn from every subscriber.
type subscriber struct {
	ch        chan domain.Signal
	execution bool
}

// NewEngine creates an Engine that resolves strategy types through registry.
// m may be nil.
func NewEngine(registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		history:     NewHistory(DefaultHistoryLimit),
		metrics:     m,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		strategies:  make(map[string]*deployed),
		subs:        make(map[int]subscriber),
		recentLimit: 500,
	}
}

// SetStore makes deployments durable. Call before Restore and before serving
// operator requests.
func (e *Engine) SetStore(store domain.StrategyStore) {
	e.store = store
}

// Restore re-deploys every strategy saved in the store. Strategies of an
// unregistered type are skipped with a warning. Restored strategies start
// flat.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	saved, err := e.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("strategy: restore: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var n int
	for _, inst := range saved {
		eval, err := e.registry.Get(inst.Type)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping saved strategy",
				slog.String("strategy_id", inst.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		inst = inst.Clone()
		inst.InPosition = false
		inst.StopLoss, inst.TakeProfit = nil, nil
		if inst.Parameters == nil {
			inst.Parameters = map[string]float64{}
		}
		e.strategies[inst.ID] = &deployed{inst: inst, eval: eval}
		n++
	}
	e.logger.InfoContext(ctx, "strategies restored", slog.Int("count", n))
	return n, nil
}

func (e *Engine) persist(ctx context.Context, inst domain.StrategyInstance) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Upsert(ctx, inst); err != nil {
		return fmt.Errorf("strategy: persist %s: %w", inst.ID, err)
	}
	return nil
}

// History exposes the engine's price history.
func (e *Engine) History() *History {
	return e.history
}

// Deploy validates spec against its evaluator and registers a new active
// instance.
func (e *Engine) Deploy(ctx context.Context, spec domain.StrategySpec) (domain.StrategyInstance, error) {
	if spec.Symbol == "" {
		return domain.StrategyInstance{}, fmt.Errorf("strategy: deploy: symbol is required: %w", domain.ErrInvalidOrder)
	}
	eval, err := e.registry.Get(spec.Type)
	if err != nil {
		return domain.StrategyInstance{}, fmt.Errorf("strategy: deploy: %w", err)
	}
	if err := eval.Validate(spec.Parameters); err != nil {
		return domain.StrategyInstance{}, fmt.Errorf("strategy: deploy %s: %w", spec.Type, err)
	}

	inst := domain.StrategyInstance{
		ID:         uuid.NewString(),
		Type:       spec.Type,
		Symbol:     spec.Symbol,
		OwnerID:    spec.OwnerID,
		Parameters: spec.Parameters,
		Active:     true,
		DeployedAt: e.now().UTC(),
	}
	inst = inst.Clone()
	if inst.Parameters == nil {
		inst.Parameters = map[string]float64{}
	}
	if err := e.persist(ctx, inst); err != nil {
		return domain.StrategyInstance{}, err
	}

	e.mu.Lock()
	e.strategies[inst.ID] = &deployed{inst: inst, eval: eval}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "strategy deployed",
		slog.String("strategy_id", inst.ID),
		slog.String("type", string(inst.Type)),
		slog.String("symbol", inst.Symbol),
		slog.String("owner_id", inst.OwnerID),
	)
	return inst.Clone(), nil
}

// Update replaces the parameters of a deployed strategy. The in-memory
// change stands even if persisting it fails.
func (e *Engine) Update(ctx context.Context, id string, params map[string]float64) (domain.StrategyInstance, error) {
	e.mu.Lock()
	d, err := e.lookupLocked(id)
	if err != nil {
		e.mu.Unlock()
		return domain.StrategyInstance{}, err
	}
	if err := d.eval.Validate(params); err != nil {
		e.mu.Unlock()
		return domain.StrategyInstance{}, fmt.Errorf("strategy: update %s: %w", id, err)
	}
	next := d.inst
	next.Parameters = params
	d.inst = next.Clone()
	out := d.inst.Clone()
	e.mu.Unlock()

	return out, e.persist(ctx, out)
}

// Pause stops evaluating a strategy without forgetting its position.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.setActive(ctx, id, false)
}

// Resume re-enables a paused strategy.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.setActive(ctx, id, true)
}

func (e *Engine) setActive(ctx context.Context, id string, active bool) error {
	e.mu.Lock()
	d, err := e.lookupLocked(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	d.inst.Active = active
	out := d.inst.Clone()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "strategy state changed",
		slog.String("strategy_id", id),
		slog.Bool("active", active),
	)
	return e.persist(ctx, out)
}

// Deactivate removes a strategy permanently.
func (e *Engine) Deactivate(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, err := e.lookupLocked(id); err != nil {
		e.mu.Unlock()
		return err
	}
	delete(e.strategies, id)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "strategy deactivated", slog.String("strategy_id", id))
	if e.store == nil {
		return nil
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("strategy: delete %s: %w", id, err)
	}
	return nil
}

// Get returns a copy of the strategy with the given ID.
func (e *Engine) Get(id string) (domain.StrategyInstance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d, err := e.lookupLocked(id)
	if err != nil {
		return domain.StrategyInstance{}, err
	}
	return d.inst.Clone(), nil
}

// List returns copies of all deployed strategies ordered by deployment time.
func (e *Engine) List() []domain.StrategyInstance {
	e.mu.RLock()
	out := make([]domain.StrategyInstance, 0, len(e.strategies))
	for _, d := range e.strategies {
		out = append(out, d.inst.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeployedAt.Equal(out[j].DeployedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DeployedAt.Before(out[j].DeployedAt)
	})
	return out
}

// UpdatePnL adds pnl to a strategy's cumulative result.
func (e *Engine) UpdatePnL(id string, pnl float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	d.inst.PnL += pnl
	return nil
}

// ConfirmExecution settles a signal the engine emitted. A successful
// execution counts a trade; a failed one undoes the position flip.
func (e *Engine) ConfirmExecution(sig domain.Signal, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, found := e.strategies[sig.StrategyID]
	if !found {
		return
	}
	if ok {
		d.inst.ExecutedTrades++
		if sig.Side == domain.SideSell {
			d.inst.StopLoss, d.inst.TakeProfit = nil, nil
		}
		return
	}
	switch sig.Side {
	case domain.SideBuy:
		d.inst.InPosition = false
		d.inst.StopLoss, d.inst.TakeProfit = nil, nil
	case domain.SideSell:
		d.inst.InPosition = true
	}
	e.logger.Warn("execution failed, position restored",
		slog.String("strategy_id", sig.StrategyID),
		slog.String("signal_id", sig.ID),
		slog.Bool("in_position", d.inst.InPosition),
	)
}

// HandleTick records tick in the price history and evaluates every active
// strategy on its symbol. A failing or panicking evaluator is logged and does
// not affect the others.
func (e *Engine) HandleTick(ctx context.Context, tick domain.MarketTick) []domain.Signal {
	e.metrics.Tick(tick.Symbol)
	e.history.Track(tick.Symbol, tick.Price, tick.Volume)

	e.mu.RLock()
	candidates := make([]deployed, 0, len(e.strategies))
	for _, d := range e.strategies {
		if d.inst.Active && d.inst.Symbol == tick.Symbol {
			candidates = append(candidates, deployed{inst: d.inst.Clone(), eval: d.eval})
		}
	}
	e.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].inst.DeployedAt.Before(candidates[j].inst.DeployedAt)
	})

	var emitted []domain.Signal
	for _, c := range candidates {
		sig, err := e.evaluate(ctx, c, tick)
		if err != nil {
			e.logger.WarnContext(ctx, "strategy evaluation failed",
				slog.String("strategy_id", c.inst.ID),
				slog.String("type", string(c.inst.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sig == nil || (sig.Side != domain.SideBuy && sig.Side != domain.SideSell) {
			continue
		}
		if !e.transition(c.inst, sig) {
			continue
		}

		out := *sig
		out.ID = uuid.NewString()
		out.StrategyID = c.inst.ID
		out.Symbol = tick.Symbol
		out.Timestamp = e.now().UTC()

		if !e.emit(ctx, out) {
			e.restore(c.inst)
			e.logger.WarnContext(ctx, "execution subscriber full, signal withdrawn",
				slog.String("signal_id", out.ID),
				slog.String("strategy_id", out.StrategyID),
				slog.Bool("in_position", c.inst.InPosition),
			)
			continue
		}
		e.metrics.Signal(string(c.inst.Type), string(out.Side))
		e.rememberSignal(out)
		emitted = append(emitted, out)
	}
	return emitted
}

func (e *Engine) evaluate(ctx context.Context, d deployed, tick domain.MarketTick) (sig *domain.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy: %s panicked: %v", d.inst.Type, r)
		}
	}()
	return d.eval.Evaluate(ctx, d.inst, tick, e.history)
}

// transition flips the position flag if the strategy is still deployed,
// active and in the state the evaluator saw. A BUY also records the signal's
// exit levels on the instance.
func (e *Engine) transition(seen domain.StrategyInstance, sig *domain.Signal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.strategies[seen.ID]
	if !ok || !d.inst.Active || d.inst.InPosition != seen.InPosition {
		return false
	}
	switch sig.Side {
	case domain.SideBuy:
		if d.inst.InPosition {
			return false
		}
		d.inst.InPosition = true
		d.inst.StopLoss, d.inst.TakeProfit = sig.StopLoss, sig.TakeProfit
	case domain.SideSell:
		if !d.inst.InPosition {
			return false
		}
		d.inst.InPosition = false
	}
	return true
}

// restore puts the position flag back to what the evaluator saw, undoing a
// transition whose signal never reached execution.
func (e *Engine) restore(seen domain.StrategyInstance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.strategies[seen.ID]; ok {
		d.inst.InPosition = seen.InPosition
		d.inst.StopLoss, d.inst.TakeProfit = seen.StopLoss, seen.TakeProfit
	}
}

// Subscribe registers an observing subscriber with a buffer of buf signals.
// A full buffer only costs that subscriber the signal. The returned cancel
// func unsubscribes and closes the channel.
func (e *Engine) Subscribe(buf int) (<-chan domain.Signal, func()) {
	return e.subscribe(buf, false)
}

// SubscribeExecution registers the subscriber that turns signals into
// orders. When its buffer is full the signal is withdrawn and the strategy's
// position transition is undone, so no strategy is left in a position with
// no order behind it.
func (e *Engine) SubscribeExecution(buf int) (<-chan domain.Signal, func()) {
	return e.subscribe(buf, true)
}

func (e *Engine) subscribe(buf int, execution bool) (<-chan domain.Signal, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan domain.Signal, buf)

	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = subscriber{ch: ch, execution: execution}
	e.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// emit delivers sig without blocking, execution subscribers first. It
// reports false, delivering to no observer, when an execution subscriber had
// no room. Observers with a full buffer miss the signal.
func (e *Engine) emit(ctx context.Context, sig domain.Signal) bool {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for _, sub := range e.subs {
		if !sub.execution {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
			return false
		}
	}
	for id, sub := range e.subs {
		if sub.execution {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
			e.logger.WarnContext(ctx, "subscriber full, signal dropped",
				slog.Int("subscriber", id),
				slog.String("signal_id", sig.ID),
				slog.String("strategy_id", sig.StrategyID),
			)
		}
	}
	e.logger.DebugContext(ctx, "signal emitted",
		slog.String("signal_id", sig.ID),
		slog.String("strategy_id", sig.StrategyID),
		slog.String("side", string(sig.Side)),
		slog.String("reason", sig.Reason),
	)
	return true
}

// Run evaluates ticks until the channel closes or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, ticks <-chan domain.MarketTick) error {
	e.logger.Info("strategy engine started")
	defer e.logger.Info("strategy engine stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			e.HandleTick(ctx, tick)
		}
	}
}

// RecentSignals returns up to limit most recent emitted signals in reverse
// chronological order (newest first).
func (e *Engine) RecentSignals(limit int) []domain.Signal {
	if limit <= 0 {
		limit = 20
	}
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	n := len(e.recentSignals)
	if n == 0 {
		return []domain.Signal{}
	}
	if limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentSignals[i])
	}
	return out
}

func (e *Engine) rememberSignal(sig domain.Signal) {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.Signal(nil), e.recentSignals[overflow:]...)
	}
}

func (e *Engine) lookupLocked(id string) (*deployed, error) {
	d, ok := e.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy %s: %w", id, domain.ErrStrategyNotFound)
	}
	return d, nil
}
