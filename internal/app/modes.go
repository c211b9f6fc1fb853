package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optionsbot/internal/algo"
	"github.com/alanyoungcy/optionsbot/internal/config"
	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/executor"
	"github.com/alanyoungcy/optionsbot/internal/feed"
	"github.com/alanyoungcy/optionsbot/internal/meta"
	"github.com/alanyoungcy/optionsbot/internal/metrics"
	"github.com/alanyoungcy/optionsbot/internal/monitor"
	"github.com/alanyoungcy/optionsbot/internal/notify"
	"github.com/alanyoungcy/optionsbot/internal/pipeline"
	"github.com/alanyoungcy/optionsbot/internal/platform/mlmodel"
	"github.com/alanyoungcy/optionsbot/internal/platform/paper"
	"github.com/alanyoungcy/optionsbot/internal/router"
	"github.com/alanyoungcy/optionsbot/internal/server"
	"github.com/alanyoungcy/optionsbot/internal/server/handler"
	"github.com/alanyoungcy/optionsbot/internal/server/ws"
	"github.com/alanyoungcy/optionsbot/internal/service"
	"github.com/alanyoungcy/optionsbot/internal/strategy"
)

// Channel buffers between the feed, the engine and the orchestrator.
const (
	tickBuffer   = 1024
	signalBuffer = 256
)

// core holds the services every mode shares.
type core struct {
	metrics   *metrics.Metrics
	tca       *monitor.TCA
	latency   *monitor.Latency
	router    *router.SmartRouter
	broker    *paper.Broker
	predictor *mlmodel.Client
	risk      *service.RiskService
	sizing    *service.SizingService
	outcomes  *service.OutcomeService
	allocator *meta.Allocator
	engine    *strategy.Engine
	spreads   *executor.SpreadExecutor
	pnl       *service.PnLService
}

// buildCore constructs the execution services on top of deps and loads the
// allocator history. When trading it also restores persisted strategies and
// deploys the configured ones if nothing was restored.
func (a *App) buildCore(ctx context.Context, deps *Dependencies, trading bool) (*core, error) {
	cfg := a.cfg
	c := &core{metrics: metrics.New(prometheus.NewRegistry())}

	c.tca = monitor.NewTCA(deps.ExecutionStore, cfg.Monitor.Retention.Duration, a.logger)
	c.latency = monitor.NewLatency(cfg.Monitor.Retention.Duration, latencyThresholds(cfg.Monitor.ThresholdsMs), c.metrics)

	c.router = router.NewSmartRouter(router.Config{
		MinUptimePercent: cfg.Router.MinUptimePercent,
		MaxLatencyMs:     cfg.Router.MaxLatencyMs,
		HealthStaleAfter: cfg.Router.HealthStaleAfter.Duration,
		DefaultLiquidity: cfg.Router.DefaultLiquidity,
	}, brokerEndpoints(cfg.Router.Brokers), a.logger)
	c.broker = paper.NewBroker(deps.Quotes, cfg.Broker.FillTolerance, a.logger)

	c.predictor = mlmodel.New(mlmodel.Config{
		Endpoint:           cfg.ML.Endpoint,
		Timeout:            cfg.ML.Timeout.Duration,
		FailureRatePercent: cfg.ML.FailureRatePercent,
		WindowSize:         cfg.ML.WindowSize,
		MinCalls:           cfg.ML.MinCalls,
		CoolDown:           cfg.ML.CoolDown.Duration,
		HalfOpenProbes:     cfg.ML.HalfOpenProbes,
	}, c.metrics, a.logger)

	c.risk = service.NewRiskService(deps.RiskState, service.RiskConfig{
		MaxDailyLoss:        cfg.Risk.MaxDailyLoss,
		MaxDailyTrades:      cfg.Risk.MaxDailyTrades,
		MaxOrderNotional:    cfg.Risk.MaxOrderNotional,
		MaxPositionNotional: cfg.Risk.MaxPositionNotional,
	}, a.logger)
	c.sizing = service.NewSizingService(deps.RiskState, deps.LockManager, service.SizingConfig{
		KellyFraction:     cfg.Sizing.KellyFraction,
		MaxSinglePosition: cfg.Sizing.MaxSinglePosition,
		MaxPortfolioDelta: cfg.Sizing.MaxPortfolioDelta,
		MaxPortfolioVega:  cfg.Sizing.MaxPortfolioVega,
		LockTTL:           cfg.Sizing.LockTTL.Duration,
	}, a.logger)
	c.outcomes = service.NewOutcomeService(deps.OutcomeStore, a.logger)

	c.allocator = meta.NewAllocator(meta.Config{
		RiskFreeRate:       cfg.Meta.RiskFreeRate,
		Window:             cfg.Meta.Window,
		MinHistory:         cfg.Meta.MinHistory,
		RecentDays:         cfg.Meta.RecentDays,
		RebalanceThreshold: cfg.Meta.RebalanceThreshold,
		MinWeight:          cfg.Meta.MinWeight,
		MaxWeight:          cfg.Meta.MaxWeight,
		Iterations:         cfg.Meta.Iterations,
		StepSize:           cfg.Meta.StepSize,
	}, deps.PerformanceStore, a.logger)
	if err := c.allocator.Load(ctx); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	reg := strategy.DefaultRegistry()
	reg.Register(strategy.NewIronCondor(c.predictor, c.sizing, c.outcomes, a.logger))
	c.engine = strategy.NewEngine(reg, c.metrics, a.logger)
	if trading {
		if deps.StrategyStore != nil {
			c.engine.SetStore(deps.StrategyStore)
		}
		restored, err := c.engine.Restore(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if restored == 0 {
			if err := a.deployConfigured(ctx, c.engine); err != nil {
				return nil, err
			}
		} else {
			a.logger.InfoContext(ctx, "strategies restored", slog.Int("count", restored))
		}
	}

	c.spreads = executor.NewSpreadExecutor(c.broker, c.router, deps.SignalBus, deps.AuditStore, c.metrics, executor.SpreadConfig{
		MaxRetries:     cfg.Spread.MaxRetries,
		InitialBackoff: cfg.Spread.InitialBackoff.Duration,
		PriceBand:      cfg.Spread.PriceBand,
		SessionToken:   cfg.Broker.SessionToken,
	}, a.logger)
	c.pnl = service.NewPnLService(c.engine, c.risk, c.allocator, c.outcomes, a.logger)
	return c, nil
}

// deployConfigured deploys every [[strategies]] entry from the config file.
func (a *App) deployConfigured(ctx context.Context, engine *strategy.Engine) error {
	for i, entry := range a.cfg.Strategies {
		owner := entry.Owner
		if owner == "" {
			owner = "default"
		}
		inst, err := engine.Deploy(ctx, domain.StrategySpec{
			Type:       domain.StrategyType(strings.ToLower(entry.Type)),
			Symbol:     entry.Symbol,
			OwnerID:    owner,
			Parameters: entry.Params,
		})
		if err != nil {
			return fmt.Errorf("app: deploy strategies[%d]: %w", i, err)
		}
		a.logger.InfoContext(ctx, "strategy deployed from config",
			slog.String("strategy_id", inst.ID),
			slog.String("type", string(inst.Type)),
			slog.String("symbol", inst.Symbol),
		)
	}
	return nil
}

// TradeMode runs the tick feed, the strategy engine and the execution
// orchestrator alongside the monitors and the API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runTrading(ctx, deps, false)
}

// FullMode is TradeMode plus the archive and rebalance jobs.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runTrading(ctx, deps, true)
}

func (a *App) runTrading(ctx context.Context, deps *Dependencies, full bool) error {
	c, err := a.buildCore(ctx, deps, true)
	if err != nil {
		return err
	}
	slicer, err := algo.ForName(a.cfg.Orchestrator.SliceAlgorithm, algo.Config{
		TWAPIntervalMinutes: a.cfg.Slicing.TWAPIntervalMinutes,
		TWAPMaxIntervals:    a.cfg.Slicing.TWAPMaxIntervals,
		VWAPIntervalMinutes: a.cfg.Slicing.VWAPIntervalMinutes,
		VWAPCurve:           a.cfg.Slicing.VWAPCurve,
		ISIntervalsPerHour:  a.cfg.Slicing.ISIntervalsPerHour,
		ISAlphaDecay:        a.cfg.Slicing.ISAlphaDecay,
		ISMaxParticipation:  a.cfg.Slicing.ISMaxParticipation,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	jobs, err := pipeline.NewOrchestrator(a.logger, a.jobs(c, deps, full)...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Feed: sources -> dispatcher -> engine.
	raw := make(chan domain.MarketTick, tickBuffer)
	ticks := make(chan domain.MarketTick, tickBuffer)
	sources := 0
	if a.cfg.Feed.WsURL != "" {
		wsFeed := feed.NewWSFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, a.cfg.Feed.ReconnectDelay.Duration, c.metrics, a.logger)
		g.Go(func() error { return wsFeed.Run(ctx, raw) })
		sources++
	}
	if a.cfg.Feed.BusChannel != "" {
		busFeed := feed.NewBusSource(deps.SignalBus, a.cfg.Feed.BusChannel, a.logger)
		g.Go(func() error { return busFeed.Run(ctx, raw) })
		sources++
	}
	if sources == 0 {
		a.logger.WarnContext(ctx, "no tick source configured (feed.ws_url, feed.bus_channel); strategies will idle")
	}
	dispatcher := feed.NewDispatcher(deps.Quotes, deps.SignalBus, a.cfg.Feed.BusChannel == "", a.logger)
	g.Go(func() error { return dispatcher.Run(ctx, raw, ticks) })
	g.Go(func() error { return c.engine.Run(ctx, ticks) })

	// Orchestrator consumes its own engine subscription.
	signals, unsubscribe := c.engine.SubscribeExecution(signalBuffer)
	orch := executor.NewOrchestrator(signals, executor.Deps{
		Strategies: c.engine,
		Risk:       c.risk,
		Broker:     c.broker,
		Router:     c.router,
		Spreads:    c.spreads,
		Slicer:     slicer,
		TCA:        c.tca,
		Latency:    c.latency,
		Predictor:  c.predictor,
		Sizer:      c.sizing,
		Bus:        deps.SignalBus,
		Metrics:    c.metrics,
	}, executor.Config{
		SliceThreshold:      a.cfg.Orchestrator.SliceThreshold,
		SliceWindow:         a.cfg.Orchestrator.SliceWindow.Duration,
		Commission:          a.cfg.Orchestrator.Commission,
		MaxInflight:         a.cfg.Orchestrator.MaxInflight,
		DedupTTL:            a.cfg.Orchestrator.DedupTTL.Duration,
		SpreadHedgeRatio:    a.cfg.Orchestrator.SpreadHedgeRatio,
		SpreadMinCreditRate: a.cfg.Orchestrator.SpreadMinCreditRate,
		DrainTimeout:        a.cfg.Orchestrator.DrainTimeout.Duration,
		SessionToken:        a.cfg.Broker.SessionToken,
	}, a.logger)
	g.Go(func() error {
		defer unsubscribe()
		return orch.Run(ctx)
	})

	// Emitted signals are mirrored on the bus for the websocket hub.
	busSignals, unsubscribeBus := c.engine.Subscribe(signalBuffer)
	g.Go(func() error {
		defer unsubscribeBus()
		return a.publishSignals(ctx, busSignals, deps.SignalBus)
	})

	if deps.Notifier.Enabled() {
		relay := notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error { return relay.Run(ctx) })
	}

	g.Go(func() error { return jobs.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, jobs, true)
	}

	return g.Wait()
}

// MonitorMode serves the read-only API, the websocket hub and the monitoring
// jobs. No ticks are consumed and no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(ctx, deps, false)
	if err != nil {
		return err
	}

	jobs, err := pipeline.NewOrchestrator(a.logger, a.monitorJobs(c, deps)...)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if deps.Notifier.Enabled() {
		relay := notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error { return relay.Run(ctx) })
	}
	g.Go(func() error { return jobs.Run(ctx) })

	// The HTTP server is always started in monitor mode.
	a.startHTTPServer(ctx, g, deps, c, jobs, false)

	return g.Wait()
}

// publishSignals forwards engine signals to the signal channel on the bus.
func (a *App) publishSignals(ctx context.Context, signals <-chan domain.Signal, bus domain.SignalBus) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(sig)
			if err != nil {
				a.logger.WarnContext(ctx, "encode signal failed", slog.String("error", err.Error()))
				continue
			}
			if err := bus.Publish(ctx, domain.ChannelSignal, payload); err != nil {
				a.logger.WarnContext(ctx, "publish signal failed",
					slog.String("signal_id", sig.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// startHTTPServer registers the API server and its websocket hub on g. The
// strategy routes are only served when trading.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	c *core,
	jobs *pipeline.Orchestrator,
	trading bool,
) {
	checks := make(map[string]handler.CheckFunc, len(deps.Checks)+2)
	for name, check := range deps.Checks {
		checks[name] = check
	}
	checks["ml_gateway"] = func(context.Context) error {
		if state := c.predictor.State(); state == "open" {
			return errors.New("circuit breaker open")
		}
		return nil
	}
	checks["brokers"] = func(context.Context) error {
		for _, ep := range c.router.Endpoints() {
			if c.router.Healthy(ep.ID) {
				return nil
			}
		}
		return domain.ErrBrokerUnavailable
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, checks, a.logger),
		Monitor:   handler.NewMonitorHandler(c.tca, c.latency, a.logger),
		Execution: handler.NewExecutionHandler(c.router, c.spreads, a.logger),
		Portfolio: handler.NewPortfolioHandler(c.allocator, c.risk, c.sizing, c.outcomes, a.logger),
		Pipeline:  handler.NewPipelineHandler(jobs, a.logger),
		Metrics:   c.metrics.Handler(),
	}
	if trading {
		handlers.Strategy = handler.NewStrategyHandler(c.engine, a.logger).WithPnL(c.pnl)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode})
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, server.Options{
		Limiter:  deps.RateLimiter,
		Recorder: c.metrics,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// latencyThresholds overlays the configured per-stage limits on the defaults.
func latencyThresholds(ms map[string]int) map[domain.LatencyStage]time.Duration {
	out := monitor.DefaultThresholds()
	for stage, v := range ms {
		if v > 0 {
			out[domain.LatencyStage(strings.ToUpper(stage))] = time.Duration(v) * time.Millisecond
		}
	}
	return out
}

func brokerEndpoints(entries []config.BrokerEntry) []domain.BrokerEndpoint {
	if len(entries) == 0 {
		return router.DefaultEndpoints()
	}
	out := make([]domain.BrokerEndpoint, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.BrokerEndpoint{
			ID:            e.ID,
			Name:          e.Name,
			LatencyMs:     e.LatencyMs,
			UptimePercent: e.UptimePercent,
			FillRate:      e.FillRate,
			FeeLevel:      e.FeeLevel,
		})
	}
	return out
}
