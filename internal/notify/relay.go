package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/executor"
)

// Subscriber is the read side of the signal bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Relay turns bus traffic into operator notifications: hedge advisories,
// failed execution results and latency alerts.
type Relay struct {
	bus      Subscriber
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay delivering through notifier.
func NewRelay(bus Subscriber, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run subscribes to the hedge, execution and alert channels and blocks until
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	handlers := map[string]func(context.Context, []byte) error{
		domain.ChannelHedge:     r.onHedge,
		domain.ChannelExecution: r.onResult,
		domain.ChannelAlert:     r.onAlert,
	}

	g, ctx := errgroup.WithContext(ctx)
	for channel, handle := range handlers {
		msgs, err := r.bus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("notify: subscribe %s: %w", channel, err)
		}
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case payload, ok := <-msgs:
					if !ok {
						return nil
					}
					if err := handle(ctx, payload); err != nil {
						r.logger.WarnContext(ctx, "relay notification failed",
							slog.String("channel", channel),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}
	return g.Wait()
}

func (r *Relay) onHedge(ctx context.Context, payload []byte) error {
	var adv executor.HedgeAdvisory
	if err := json.Unmarshal(payload, &adv); err != nil {
		return fmt.Errorf("decode hedge advisory: %w", err)
	}
	msg := fmt.Sprintf("Spread %s failed after filling %s: %s %d %s @ %.2f on %s.\nReason: %s",
		adv.ExecutionID, adv.LegID, adv.Side, adv.Quantity, adv.Symbol, adv.FilledPrice, adv.BrokerID, adv.Reason)
	return r.notifier.Notify(ctx, EventHedgeRequired, "Hedge required", msg)
}

func (r *Relay) onResult(ctx context.Context, payload []byte) error {
	var res domain.ExecutionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("decode execution result: %w", err)
	}
	if res.OK() {
		return nil
	}
	switch res.Kind {
	case domain.KindRejectedByRisk:
		return r.notifier.Notify(ctx, EventRiskRejection, "Risk rejection",
			fmt.Sprintf("Strategy %s on %s: %s", res.StrategyID, res.Symbol, res.Message))
	case domain.KindLegExecutionFailed:
		return r.notifier.Notify(ctx, EventSpreadFailed, "Spread failed",
			fmt.Sprintf("Execution %s on %s: %s", res.ExecutionID, res.Symbol, res.Message))
	case domain.KindBrokerUnavailable:
		return r.notifier.Notify(ctx, EventBrokerDown, "No healthy broker",
			fmt.Sprintf("Signal %s on %s could not be routed: %s", res.SignalID, res.Symbol, res.Message))
	}
	return nil
}

func (r *Relay) onAlert(ctx context.Context, payload []byte) error {
	var msg string
	if err := json.Unmarshal(payload, &msg); err != nil {
		msg = string(payload)
	}
	return r.notifier.Notify(ctx, EventLatencyAlert, "Latency alert", msg)
}
