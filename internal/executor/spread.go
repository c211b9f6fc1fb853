package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/metrics"
)

// BrokerSelector picks the broker for an order and learns from its outcome.
type BrokerSelector interface {
	SelectBroker(contract domain.OptionContract, orderType domain.OrderType, quantity int) (domain.BrokerEndpoint, error)
	ObserveOrder(id string, latency time.Duration, filled bool)
}

// SpreadConfig controls leg retries and limit pricing.
type SpreadConfig struct {
	MaxRetries     int           // attempts after the first
	InitialBackoff time.Duration // doubled after every failed attempt
	PriceBand      float64       // max distance of the limit from theoretical
	SessionToken   string        // passed through on every leg order
}

// DefaultSpreadConfig returns the stock leg retry policy.
func DefaultSpreadConfig() SpreadConfig {
	return SpreadConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		PriceBand:      0.01,
	}
}

// HedgeAdvisory is published for every filled leg of a failed spread. Nothing
// acts on it automatically.
type HedgeAdvisory struct {
	ExecutionID string      `json:"execution_id"`
	LegID       string      `json:"leg_id"`
	Symbol      string      `json:"symbol"`
	Side        domain.Side `json:"side"`
	Quantity    int         `json:"quantity"`
	FilledPrice float64     `json:"filled_price"`
	BrokerID    string      `json:"broker_id"`
	Reason      string      `json:"reason"`
}

// SpreadExecutor fills multi-leg spreads one leg at a time, in order. A leg
// that cannot be filled after its retries stops the spread; legs already
// filled stay filled and are flagged for hedging.
type SpreadExecutor struct {
	broker  domain.BrokerAdapter
	router  BrokerSelector
	bus     domain.SignalBus  // optional
	audit   domain.AuditStore // optional
	metrics *metrics.Metrics
	cfg     SpreadConfig
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	executions map[string]*domain.SpreadExecution
}

// NewSpreadExecutor creates a SpreadExecutor. bus, audit and m may be nil.
func NewSpreadExecutor(
	broker domain.BrokerAdapter,
	router BrokerSelector,
	bus domain.SignalBus,
	audit domain.AuditStore,
	m *metrics.Metrics,
	cfg SpreadConfig,
	logger *slog.Logger,
) *SpreadExecutor {
	return &SpreadExecutor{
		broker:     broker,
		router:     router,
		bus:        bus,
		audit:      audit,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "spread_executor")),
		now:        time.Now,
		sleep:      sleepCtx,
		executions: make(map[string]*domain.SpreadExecution),
	}
}

// ExecuteSpread runs legs in order and returns the final state of the
// execution. The error wraps ErrInsufficientCredit when the theoretical credit
// is below minCredit (nothing is recorded), or ErrLegExecutionFailed when a leg
// could not be filled.
func (e *SpreadExecutor) ExecuteSpread(ctx context.Context, legs []domain.SpreadLeg, minCredit float64) (domain.SpreadExecution, error) {
	if len(legs) == 0 {
		return domain.SpreadExecution{}, fmt.Errorf("executor: spread has no legs: %w", domain.ErrInvalidOrder)
	}
	credit := TheoreticalCredit(legs)
	if credit < minCredit {
		e.metrics.Spread("rejected")
		return domain.SpreadExecution{}, fmt.Errorf("executor: credit %.4f below %.4f: %w", credit, minCredit, domain.ErrInsufficientCredit)
	}

	exec := &domain.SpreadExecution{
		ID:          "SPREAD_" + uuid.New().String(),
		Legs:        append([]domain.SpreadLeg(nil), legs...),
		Fills:       make([]domain.LegFill, len(legs)),
		MinCredit:   minCredit,
		NetCredit:   credit,
		Status:      domain.SpreadPending,
		Transitions: []domain.SpreadStatus{domain.SpreadPending},
		StartedAt:   e.now(),
	}
	for i, leg := range legs {
		exec.Fills[i].LegID = leg.LegID
	}
	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.mu.Unlock()

	log := e.logger.With(slog.String("execution_id", exec.ID))
	log.InfoContext(ctx, "executor: spread started",
		slog.Int("legs", len(legs)),
		slog.Float64("credit", credit),
	)

	for i, leg := range legs {
		fill, err := e.fillLeg(ctx, leg)

		e.mu.Lock()
		exec.Fills[i] = fill
		if err == nil && i < len(legs)-1 {
			// PARTIAL is live progress only and is not a recorded transition.
			exec.Status = domain.SpreadPartial
		}
		e.mu.Unlock()

		if err != nil {
			log.WarnContext(ctx, "executor: spread leg failed",
				slog.String("leg_id", leg.LegID),
				slog.Int("attempts", fill.Attempts),
				slog.String("error", err.Error()),
			)
			e.hedge(ctx, exec, err)
			return e.snapshot(exec), fmt.Errorf("executor: spread %s leg %s: %w", exec.ID, leg.LegID, domain.ErrLegExecutionFailed)
		}
	}

	e.mu.Lock()
	e.transitionLocked(exec, domain.SpreadCompleted)
	done := e.now()
	exec.CompletedAt = &done
	e.mu.Unlock()

	e.metrics.Spread(string(domain.SpreadCompleted))
	log.InfoContext(ctx, "executor: spread completed")
	return e.snapshot(exec), nil
}

// fillLeg quotes, prices and places one leg, retrying with doubling backoff.
func (e *SpreadExecutor) fillLeg(ctx context.Context, leg domain.SpreadLeg) (domain.LegFill, error) {
	fill := domain.LegFill{LegID: leg.LegID}
	backoff := e.cfg.InitialBackoff

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, backoff); err != nil {
				return fill, err
			}
			backoff *= 2
		}
		fill.Attempts++

		lastErr = e.attempt(ctx, leg, &fill)
		if lastErr == nil {
			return fill, nil
		}
	}
	return fill, lastErr
}

func (e *SpreadExecutor) attempt(ctx context.Context, leg domain.SpreadLeg, fill *domain.LegFill) error {
	market, err := e.broker.GetQuote(ctx, leg.Contract.Symbol)
	if err != nil {
		return fmt.Errorf("quote %s: %w", leg.Contract.Symbol, err)
	}
	limit := LimitPrice(market, leg.TheoreticalPrice, leg.Side, e.cfg.PriceBand)

	ep, err := e.router.SelectBroker(leg.Contract, domain.OrderTypeLimit, leg.Quantity)
	if err != nil {
		return err
	}

	spec := domain.OrderSpec{
		OrderID:      uuid.New().String(),
		Symbol:       leg.Contract.Symbol,
		Side:         leg.Side,
		Type:         domain.OrderTypeLimit,
		Quantity:     leg.Quantity,
		LimitPrice:   limit,
		SessionToken: e.cfg.SessionToken,
	}
	sent := e.now()
	ack, err := e.broker.PlaceOrder(ctx, ep.ID, spec)
	e.router.ObserveOrder(ep.ID, e.now().Sub(sent), err == nil && ack.Filled())

	fill.OrderID = spec.OrderID
	fill.BrokerID = ep.ID
	fill.MarketPrice = market
	fill.LimitPrice = limit
	if err != nil {
		return fmt.Errorf("place %s: %w", spec.OrderID, err)
	}
	if !ack.Filled() {
		return fmt.Errorf("leg %s not filled: %s", leg.LegID, ack.Message)
	}
	fill.Filled = true
	fill.FilledPrice = ack.FilledPrice
	fill.FilledAt = e.now()
	return nil
}

// hedge moves a failed execution through HEDGING to FAILED, flagging every
// filled leg on the way.
func (e *SpreadExecutor) hedge(ctx context.Context, exec *domain.SpreadExecution, cause error) {
	e.mu.Lock()
	e.transitionLocked(exec, domain.SpreadHedging)
	var advisories []HedgeAdvisory
	for i := range exec.Fills {
		f := &exec.Fills[i]
		if !f.Filled {
			continue
		}
		f.HedgeNeeded = true
		leg := exec.Legs[i]
		advisories = append(advisories, HedgeAdvisory{
			ExecutionID: exec.ID,
			LegID:       leg.LegID,
			Symbol:      leg.Contract.Symbol,
			Side:        leg.Side,
			Quantity:    leg.Quantity,
			FilledPrice: f.FilledPrice,
			BrokerID:    f.BrokerID,
			Reason:      cause.Error(),
		})
	}
	e.mu.Unlock()

	for _, adv := range advisories {
		e.logger.WarnContext(ctx, "executor: hedging required for leg",
			slog.String("execution_id", adv.ExecutionID),
			slog.String("leg_id", adv.LegID),
			slog.String("symbol", adv.Symbol),
			slog.Int("quantity", adv.Quantity),
		)
		e.publishHedge(ctx, adv)
	}

	e.mu.Lock()
	e.transitionLocked(exec, domain.SpreadFailed)
	exec.Error = cause.Error()
	done := e.now()
	exec.CompletedAt = &done
	e.mu.Unlock()

	e.metrics.Spread(string(domain.SpreadFailed))
}

func (e *SpreadExecutor) publishHedge(ctx context.Context, adv HedgeAdvisory) {
	if e.bus != nil {
		payload, err := json.Marshal(adv)
		if err == nil {
			err = e.bus.Publish(ctx, domain.ChannelHedge, payload)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "executor: publish hedge advisory failed",
				slog.String("leg_id", adv.LegID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.audit != nil {
		detail := map[string]any{
			"execution_id": adv.ExecutionID,
			"leg_id":       adv.LegID,
			"symbol":       adv.Symbol,
			"side":         string(adv.Side),
			"quantity":     adv.Quantity,
			"filled_price": adv.FilledPrice,
			"broker_id":    adv.BrokerID,
		}
		if err := e.audit.Log(ctx, "spread.hedge_required", detail); err != nil {
			e.logger.WarnContext(ctx, "executor: audit hedge advisory failed",
				slog.String("leg_id", adv.LegID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *SpreadExecutor) transitionLocked(exec *domain.SpreadExecution, to domain.SpreadStatus) {
	exec.Status = to
	exec.Transitions = append(exec.Transitions, to)
}

// Status returns a copy of the execution with the given ID.
func (e *SpreadExecutor) Status(id string) (domain.SpreadExecution, error) {
	e.mu.RLock()
	exec, ok := e.executions[id]
	e.mu.RUnlock()
	if !ok {
		return domain.SpreadExecution{}, fmt.Errorf("executor: spread %s: %w", id, domain.ErrNotFound)
	}
	return e.snapshot(exec), nil
}

// Active returns copies of every tracked execution, newest first.
func (e *SpreadExecutor) Active() []domain.SpreadExecution {
	e.mu.RLock()
	list := make([]*domain.SpreadExecution, 0, len(e.executions))
	for _, exec := range e.executions {
		list = append(list, exec)
	}
	e.mu.RUnlock()

	out := make([]domain.SpreadExecution, 0, len(list))
	for _, exec := range list {
		out = append(out, e.snapshot(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (e *SpreadExecutor) snapshot(exec *domain.SpreadExecution) domain.SpreadExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := *exec
	out.Legs = append([]domain.SpreadLeg(nil), exec.Legs...)
	out.Fills = append([]domain.LegFill(nil), exec.Fills...)
	out.Transitions = append([]domain.SpreadStatus(nil), exec.Transitions...)
	if exec.CompletedAt != nil {
		t := *exec.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// TheoreticalCredit is the net premium of legs: sells add, buys subtract.
func TheoreticalCredit(legs []domain.SpreadLeg) float64 {
	var credit float64
	for _, l := range legs {
		credit += l.Credit()
	}
	return credit
}

// LimitPrice is the midpoint of market and theoretical, kept within band of
// theoretical on the side that pays more.
func LimitPrice(market, theoretical float64, side domain.Side, band float64) float64 {
	mid := (market + theoretical) / 2
	if side == domain.SideBuy {
		return min(mid, theoretical*(1+band))
	}
	return max(mid, theoretical*(1-band))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
