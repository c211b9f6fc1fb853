package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// BusSource reads ticks published on a signal bus channel, so one process can
// run the WebSocket feed and others can trade from the same quotes.
type BusSource struct {
	bus     domain.SignalBus
	channel string
	now     func() time.Time
	logger  *slog.Logger
}

// NewBusSource creates a BusSource for channel. An empty channel selects
// domain.ChannelTicks.
func NewBusSource(bus domain.SignalBus, channel string, logger *slog.Logger) *BusSource {
	if channel == "" {
		channel = domain.ChannelTicks
	}
	return &BusSource{
		bus:     bus,
		channel: channel,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "bus_feed")),
	}
}

// Run subscribes to the channel and writes decoded ticks to out until ctx is
// cancelled or the subscription closes.
func (s *BusSource) Run(ctx context.Context, out chan<- domain.MarketTick) error {
	ch, err := s.bus.Subscribe(ctx, s.channel)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("bus feed started", slog.String("channel", s.channel))
	defer s.logger.Info("bus feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			tick, err := decodeTick(data, s.now)
			if err != nil {
				s.logger.Debug("bus feed message dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
