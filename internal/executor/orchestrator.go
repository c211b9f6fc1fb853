package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsbot/internal/algo"
	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/metrics"
	"github.com/alanyoungcy/optionsbot/internal/monitor"
)

// Algorithm labels recorded in TCA for the unsliced paths.
const (
	AlgorithmDirect = "DIRECT"
	AlgorithmSpread = "SPREAD"
)

// StrategyRegistry is the orchestrator's view of the strategy engine.
type StrategyRegistry interface {
	Get(id string) (domain.StrategyInstance, error)
	ConfirmExecution(sig domain.Signal, ok bool)
}

// RiskGate validates signals and is told about fills.
type RiskGate interface {
	Validate(ctx context.Context, sig domain.Signal, inst domain.StrategyInstance) (domain.Signal, error)
	RecordFill(ctx context.Context, ownerID string, notional float64) error
}

// Predictor scores a trade. It never fails; a degraded model answers with the
// fallback prediction.
type Predictor interface {
	Predict(ctx context.Context, features map[string]float64) domain.Prediction
}

// Sizer re-sizes a signal and reserves its Greeks.
type Sizer interface {
	SizeAndReserve(ctx context.Context, req domain.SizeRequest) (domain.PositionSizeResult, error)
	Commit(ctx context.Context, ownerID string, delta, vega float64) error
}

// Config holds the per-signal pipeline policy.
type Config struct {
	SliceThreshold      int           // orders above this quantity are sliced
	SliceWindow         time.Duration // horizon handed to the slicer
	Commission          float64       // per order, recorded in TCA
	MaxInflight         int
	DedupTTL            time.Duration
	SpreadHedgeRatio    float64 // long leg price as a share of the signal price
	SpreadMinCreditRate float64 // minimum credit as a share of the signal price
	DrainTimeout        time.Duration
	SessionToken        string // passed through on every order
}

// DefaultConfig returns the stock pipeline policy.
func DefaultConfig() Config {
	return Config{
		SliceThreshold:      100,
		SliceWindow:         2 * time.Hour,
		Commission:          5,
		MaxInflight:         64,
		DedupTTL:            2 * time.Minute,
		SpreadHedgeRatio:    0.95,
		SpreadMinCreditRate: 0.04,
		DrainTimeout:        5 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator. Predictor, Sizer, Slicer and
// Bus are optional.
type Deps struct {
	Strategies StrategyRegistry
	Risk       RiskGate
	Broker     domain.BrokerAdapter
	Router     BrokerSelector
	Spreads    *SpreadExecutor
	Slicer     algo.Slicer
	TCA        *monitor.TCA
	Latency    *monitor.Latency
	Predictor  Predictor
	Sizer      Sizer
	Bus        domain.SignalBus
	Metrics    *metrics.Metrics
}

// Orchestrator reads signals from a channel and runs each one through risk,
// optional ML gating and sizing, routing, and execution. Every pipeline ends in
// an ExecutionResult; no error escapes it.
type Orchestrator struct {
	signalCh <-chan domain.Signal
	deps     Deps
	cfg      Config
	dedup    *Dedup
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cleanupInterval time.Duration

	hookMu   sync.RWMutex
	onResult []func(domain.ExecutionResult)
}

// NewOrchestrator creates an Orchestrator that consumes signalCh.
func NewOrchestrator(signalCh <-chan domain.Signal, deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxInflight < 1 {
		cfg.MaxInflight = 1
	}
	return &Orchestrator{
		signalCh:        signalCh,
		deps:            deps,
		cfg:             cfg,
		dedup:           NewDedup(cfg.DedupTTL),
		logger:          logger.With(slog.String("component", "orchestrator")),
		now:             time.Now,
		sleep:           sleepCtx,
		cleanupInterval: 30 * time.Second,
	}
}

// OnResult registers fn to receive every pipeline result. Must be called
// before Run.
func (o *Orchestrator) OnResult(fn func(domain.ExecutionResult)) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.onResult = append(o.onResult, fn)
}

// Run consumes signals until ctx is cancelled or the channel closes. Each
// signal runs in its own goroutine, at most MaxInflight at a time. On
// cancellation, buffered signals are drained and in-flight pipelines get
// DrainTimeout to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started", slog.Int("max_inflight", o.cfg.MaxInflight))
	defer o.logger.Info("orchestrator stopped")

	pipeCtx, cancelPipes := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPipes()

	sem := make(chan struct{}, o.cfg.MaxInflight)
	var wg sync.WaitGroup

	cleanupTicker := time.NewTicker(o.cleanupInterval)
	defer cleanupTicker.Stop()

	shutdown := func() {
		o.drain()
		stop := time.AfterFunc(o.cfg.DrainTimeout, cancelPipes)
		wg.Wait()
		stop.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return ctx.Err()

		case sig, ok := <-o.signalCh:
			if !ok {
				wg.Wait()
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				o.handleWithTimeout(sig)
				shutdown()
				return ctx.Err()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				o.handle(pipeCtx, sig)
			}()

		case <-cleanupTicker.C:
			o.dedup.Cleanup()
		}
	}
}

// drain processes signals already buffered in the channel after
// cancellation, each with a short-lived context.
func (o *Orchestrator) drain() {
	for {
		select {
		case sig, ok := <-o.signalCh:
			if !ok {
				return
			}
			o.logger.Warn("draining signal after shutdown", slog.String("signal_id", sig.ID))
			o.handleWithTimeout(sig)
		default:
			return
		}
	}
}

func (o *Orchestrator) handleWithTimeout(sig domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.DrainTimeout)
	defer cancel()
	o.handle(ctx, sig)
}

func (o *Orchestrator) handle(ctx context.Context, sig domain.Signal) {
	if o.dedup.IsDuplicate(sig.ID) {
		o.logger.DebugContext(ctx, "signal deduplicated, skipping", slog.String("signal_id", sig.ID))
		return
	}
	res := o.Execute(ctx, sig)
	o.publish(ctx, res)
}

// Execute runs one signal through the full pipeline.
func (o *Orchestrator) Execute(ctx context.Context, sig domain.Signal) domain.ExecutionResult {
	res := domain.ExecutionResult{
		SignalID:   sig.ID,
		OrderID:    "ORD_" + uuid.New().String(),
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
	}
	log := o.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("order_id", res.OrderID),
		slog.String("strategy_id", sig.StrategyID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
	)

	if sig.Side != domain.SideBuy && sig.Side != domain.SideSell {
		res.Status = domain.ResultSkipped
		res.Message = fmt.Sprintf("no order for side %s", sig.Side)
		return res
	}

	started := sig.Timestamp
	if started.IsZero() {
		started = o.now()
	}
	o.deps.Latency.StartAt(res.OrderID, started)
	defer o.deps.Latency.Complete(res.OrderID)
	o.stage(res.OrderID, domain.StageSignalGeneration)

	out, err := o.run(ctx, sig, res)
	if err != nil {
		out.Status = domain.ResultError
		out.Kind = domain.ClassifyError(err)
		out.Message = err.Error()
		o.deps.Strategies.ConfirmExecution(sig, false)
		if out.Kind == domain.KindRejectedByRisk || out.Kind == domain.KindPredictionRejected {
			log.InfoContext(ctx, "signal rejected", slog.String("kind", string(out.Kind)), slog.String("error", err.Error()))
		} else {
			log.ErrorContext(ctx, "signal execution failed", slog.String("kind", string(out.Kind)), slog.String("error", err.Error()))
		}
	} else {
		o.deps.Strategies.ConfirmExecution(sig, true)
		log.InfoContext(ctx, "signal executed",
			slog.String("status", out.Status),
			slog.String("broker_id", out.BrokerID),
			slog.Int("filled_qty", out.FilledQty),
			slog.Float64("avg_price", out.AvgPrice),
		)
	}
	o.deps.Metrics.Result(out.Status, string(out.Kind))
	return out
}

func (o *Orchestrator) run(ctx context.Context, sig domain.Signal, res domain.ExecutionResult) (domain.ExecutionResult, error) {
	inst, err := o.deps.Strategies.Get(sig.StrategyID)
	if err != nil {
		return res, err
	}

	sig, err = o.deps.Risk.Validate(ctx, sig, inst)
	if err != nil {
		return res, err
	}

	var pred *domain.Prediction
	if inst.ParamOr("mlGate", 0) > 0 && o.deps.Predictor != nil {
		p := o.deps.Predictor.Predict(ctx, features(sig, inst))
		if !p.ShouldTrade() {
			return res, fmt.Errorf("executor: pop %.2f confidence %.2f: %w", p.ProbabilityOfProfit, p.Confidence, domain.ErrPredictionRejected)
		}
		pred = &p
	}

	release := func(float64) {}
	if wantsSizing(inst) && o.deps.Sizer != nil {
		sig, release, err = o.resize(ctx, sig, inst, pred)
		if err != nil {
			return res, err
		}
		// The Kelly quantity must fit the same caps as the original one.
		sig, err = o.deps.Risk.Validate(ctx, sig, inst)
		if err != nil {
			release(0)
			return res, err
		}
	}

	var kept float64
	if isSpread(sig.Symbol) {
		res, kept, err = o.executeSpread(ctx, sig, res)
	} else {
		res, err = o.executeSingle(ctx, sig, res)
	}
	if err != nil {
		release(kept)
		return res, err
	}

	if err := o.deps.Risk.RecordFill(ctx, inst.OwnerID, res.AvgPrice*float64(res.FilledQty)); err != nil {
		o.logger.WarnContext(ctx, "record fill failed",
			slog.String("owner_id", inst.OwnerID),
			slog.String("error", err.Error()),
		)
	}
	return res, nil
}

// resize replaces the signal quantity with a Kelly-sized number of lots and
// reserves its Greeks. The returned release gives back the reservation except
// for the share kept, in [0, 1], that belongs to legs which stay open.
func (o *Orchestrator) resize(ctx context.Context, sig domain.Signal, inst domain.StrategyInstance, pred *domain.Prediction) (domain.Signal, func(kept float64), error) {
	noop := func(float64) {}
	p := domain.FallbackPrediction()
	switch {
	case pred != nil:
		p = *pred
	case o.deps.Predictor != nil:
		p = o.deps.Predictor.Predict(ctx, features(sig, inst))
	}

	req := domain.SizeRequest{
		Prediction:       p,
		MaxProfit:        decimal.NewFromFloat(inst.ParamOr("maxProfit", 0)),
		MaxLoss:          decimal.NewFromFloat(inst.ParamOr("maxLoss", 0)),
		AvailableCapital: decimal.NewFromFloat(inst.ParamOr("availableCapital", 0)),
		OwnerID:          inst.OwnerID,
		DeltaPerUnit:     decimal.NewFromFloat(inst.ParamOr("deltaPerUnit", 0)),
		VegaPerUnit:      decimal.NewFromFloat(inst.ParamOr("vegaPerUnit", 0)),
		LotSize:          int64(inst.ParamOr("lotSize", 1)),
	}
	sized, err := o.deps.Sizer.SizeAndReserve(ctx, req)
	if err != nil {
		return sig, noop, fmt.Errorf("executor: size: %w", err)
	}
	if sized.LotCount == 0 {
		return sig, noop, fmt.Errorf("executor: size too small: %w", domain.ErrPredictionRejected)
	}

	delta, _ := sized.FinalSize.Mul(req.DeltaPerUnit).Float64()
	vega, _ := sized.FinalSize.Mul(req.VegaPerUnit).Float64()
	release := func(kept float64) {
		freed := 1 - min(max(kept, 0), 1)
		if freed == 0 {
			return
		}
		if err := o.deps.Sizer.Commit(context.WithoutCancel(ctx), inst.OwnerID, -delta*freed, -vega*freed); err != nil {
			o.logger.WarnContext(ctx, "release greeks failed",
				slog.String("owner_id", inst.OwnerID),
				slog.String("error", err.Error()),
			)
		}
	}

	sig.Quantity = int(sized.LotCount)
	return sig, release, nil
}

// executeSpread runs a two-leg spread. On failure it also returns the share
// of the spread quantity that filled and was left open.
func (o *Orchestrator) executeSpread(ctx context.Context, sig domain.Signal, res domain.ExecutionResult) (domain.ExecutionResult, float64, error) {
	if o.deps.Spreads == nil {
		return res, 0, fmt.Errorf("executor: no spread executor configured: %w", domain.ErrLegExecutionFailed)
	}
	o.stage(res.OrderID, domain.StageOrderRouting)
	res.Algorithm = AlgorithmSpread

	exec, err := o.deps.Spreads.ExecuteSpread(ctx, spreadLegs(sig, o.cfg.SpreadHedgeRatio), sig.Price*o.cfg.SpreadMinCreditRate)
	res.ExecutionID = exec.ID
	var total, open int
	for i, leg := range exec.Legs {
		total += leg.Quantity
		if i >= len(exec.Fills) || !exec.Fills[i].Filled {
			continue
		}
		f := exec.Fills[i]
		open += leg.Quantity
		o.deps.TCA.Record(ctx, domain.ExecutionMetrics{
			OrderID:        f.OrderID,
			BrokerID:       f.BrokerID,
			Algorithm:      AlgorithmSpread,
			Symbol:         leg.Contract.Symbol,
			ArrivalPrice:   f.MarketPrice,
			ExecutionPrice: f.FilledPrice,
			Quantity:       leg.Quantity,
			Commission:     o.cfg.Commission,
			SignalTime:     sig.Timestamp,
			ExecutionTime:  f.FilledAt,
		})
		o.deps.Metrics.Order(f.BrokerID, AlgorithmSpread, string(domain.OrderStatusFilled))
		res.BrokerID = f.BrokerID
	}
	if err != nil {
		var kept float64
		if total > 0 {
			kept = float64(open) / float64(total)
		}
		return res, kept, err
	}
	o.stage(res.OrderID, domain.StageOrderFill)

	res.Status = domain.ResultSpreadExecuted
	res.FilledQty = sig.Quantity
	res.AvgPrice = exec.NetCredit
	res.Slices = len(exec.Legs)
	return res, 1, nil
}

func (o *Orchestrator) executeSingle(ctx context.Context, sig domain.Signal, res domain.ExecutionResult) (domain.ExecutionResult, error) {
	contract := domain.OptionContract{Symbol: sig.Symbol}
	ep, err := o.deps.Router.SelectBroker(contract, domain.OrderTypeLimit, sig.Quantity)
	if err != nil {
		return res, err
	}
	o.stage(res.OrderID, domain.StageOrderRouting)
	res.BrokerID = ep.ID

	if sig.Quantity > o.cfg.SliceThreshold && o.deps.Slicer != nil {
		start := o.now()
		sched := o.deps.Slicer.Slice(algo.Request{
			Quantity: sig.Quantity,
			Price:    sig.Price,
			Side:     sig.Side,
			Start:    start,
			End:      start.Add(o.cfg.SliceWindow),
		})
		if sched.Len() > 0 {
			return o.executeSliced(ctx, sig, res, sched)
		}
	}

	res.Algorithm = AlgorithmDirect
	ack, err := o.place(ctx, res.OrderID, ep.ID, AlgorithmDirect, sig, sig.Quantity, sig.Price)
	if err != nil {
		return res, err
	}
	res.Status = domain.ResultExecuted
	res.FilledQty = ack.FilledQty
	res.AvgPrice = ack.FilledPrice
	return res, nil
}

// executeSliced dispatches every child order at its scheduled time. A child
// that fails is logged and skipped; the parent fails only if nothing filled.
func (o *Orchestrator) executeSliced(ctx context.Context, sig domain.Signal, res domain.ExecutionResult, sched *algo.Schedule) (domain.ExecutionResult, error) {
	algorithm := o.deps.Slicer.Name()
	res.Algorithm = algorithm

	var filled int
	var notional float64
	var lastErr error
	for {
		slice, ok := sched.Next()
		if !ok {
			break
		}
		if wait := slice.ScheduledTime.Sub(o.now()); wait > 0 {
			if err := o.sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}

		childID := fmt.Sprintf("%s_%d", res.OrderID, res.Slices)
		res.Slices++
		o.deps.Latency.Start(childID)
		ack, err := o.place(ctx, childID, res.BrokerID, algorithm, sig, slice.Quantity, slice.LimitPrice)
		o.deps.Latency.Complete(childID)
		if err != nil {
			lastErr = err
			o.logger.WarnContext(ctx, "slice failed",
				slog.String("order_id", childID),
				slog.Int("quantity", slice.Quantity),
				slog.String("error", err.Error()),
			)
			continue
		}
		filled += ack.FilledQty
		notional += ack.FilledPrice * float64(ack.FilledQty)
	}

	if filled == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("executor: no slice filled: %w", domain.ErrOrderRejected)
		}
		return res, lastErr
	}
	o.stage(res.OrderID, domain.StageOrderFill)
	res.Status = domain.ResultSliced
	res.FilledQty = filled
	res.AvgPrice = notional / float64(filled)
	return res, nil
}

// place sends one limit order and records latency stages and TCA for it.
func (o *Orchestrator) place(ctx context.Context, orderID, brokerID, algorithm string, sig domain.Signal, qty int, limit float64) (domain.OrderAck, error) {
	spec := domain.OrderSpec{
		OrderID:      orderID,
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		Type:         domain.OrderTypeLimit,
		Quantity:     qty,
		LimitPrice:   limit,
		SessionToken: o.cfg.SessionToken,
	}
	o.stage(orderID, domain.StageOrderSent)
	sent := o.now()
	ack, err := o.deps.Broker.PlaceOrder(ctx, brokerID, spec)
	o.deps.Router.ObserveOrder(brokerID, o.now().Sub(sent), err == nil && ack.Filled())
	if err != nil {
		o.deps.Metrics.Order(brokerID, algorithm, "error")
		return ack, fmt.Errorf("executor: place order %s: %w", orderID, err)
	}
	o.stage(orderID, domain.StageOrderAck)
	o.deps.Metrics.Order(brokerID, algorithm, string(ack.Status))
	if !ack.Filled() {
		return ack, fmt.Errorf("executor: order %s %s: %s: %w", orderID, ack.Status, ack.Message, domain.ErrOrderRejected)
	}
	o.stage(orderID, domain.StageOrderFill)

	signalTime := sig.Timestamp
	if signalTime.IsZero() {
		signalTime = sent
	}
	o.deps.TCA.Record(ctx, domain.ExecutionMetrics{
		OrderID:        orderID,
		BrokerID:       brokerID,
		Algorithm:      algorithm,
		Symbol:         sig.Symbol,
		ArrivalPrice:   sig.Price,
		ExecutionPrice: ack.FilledPrice,
		Quantity:       ack.FilledQty,
		Commission:     o.cfg.Commission,
		SignalTime:     signalTime,
		ExecutionTime:  o.now(),
	})
	return ack, nil
}

func (o *Orchestrator) stage(orderID string, stage domain.LatencyStage) {
	if _, err := o.deps.Latency.Stage(orderID, stage); err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.Debug("latency stage failed", slog.String("order_id", orderID), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) publish(ctx context.Context, res domain.ExecutionResult) {
	o.hookMu.RLock()
	hooks := o.onResult
	o.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(res)
	}

	if o.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	pubCtx := context.WithoutCancel(ctx)
	if err := o.deps.Bus.Publish(pubCtx, domain.ChannelExecution, payload); err != nil {
		o.logger.WarnContext(ctx, "publish execution result failed", slog.String("error", err.Error()))
	}
	if err := o.deps.Bus.StreamAppend(pubCtx, domain.StreamExecutions, payload); err != nil {
		o.logger.WarnContext(ctx, "append execution stream failed", slog.String("error", err.Error()))
	}
}

// SetDedupTTL replaces the dedup window. Must be called before Run.
func (o *Orchestrator) SetDedupTTL(ttl time.Duration) {
	o.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (o *Orchestrator) SetCleanupInterval(d time.Duration) {
	o.cleanupInterval = d
}

func (o *Orchestrator) String() string {
	return fmt.Sprintf("Orchestrator(max_inflight=%d, slice_threshold=%d)", o.cfg.MaxInflight, o.cfg.SliceThreshold)
}

var _ fmt.Stringer = (*Orchestrator)(nil)

func isSpread(symbol string) bool {
	s := strings.ToUpper(symbol)
	return strings.Contains(s, "SPREAD") || strings.Contains(s, "IRON_CONDOR")
}

// spreadLegs builds the two-leg credit structure for a spread signal: a short
// leg at the signal price and a long leg at ratio of it.
func spreadLegs(sig domain.Signal, ratio float64) []domain.SpreadLeg {
	return []domain.SpreadLeg{
		{
			LegID:            "LEG1",
			Contract:         domain.OptionContract{Symbol: sig.Symbol + "_LEG1"},
			Side:             domain.SideSell,
			Quantity:         sig.Quantity,
			TheoreticalPrice: sig.Price,
		},
		{
			LegID:            "LEG2",
			Contract:         domain.OptionContract{Symbol: sig.Symbol + "_LEG2"},
			Side:             domain.SideBuy,
			Quantity:         sig.Quantity,
			TheoreticalPrice: sig.Price * ratio,
		},
	}
}

func wantsSizing(inst domain.StrategyInstance) bool {
	_, capital := inst.Param("availableCapital")
	_, profit := inst.Param("maxProfit")
	return capital && profit
}

func features(sig domain.Signal, inst domain.StrategyInstance) map[string]float64 {
	f := make(map[string]float64, len(inst.Parameters)+2)
	for k, v := range inst.Parameters {
		f[k] = v
	}
	f["price"] = sig.Price
	f["quantity"] = float64(sig.Quantity)
	return f
}
