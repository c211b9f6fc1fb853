package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Dispatcher sits between the tick sources and the strategy engine. Each tick
// refreshes the quote cache and, when republishing, goes out on the bus before
// being forwarded.
type Dispatcher struct {
	quotes    domain.QuoteCache // optional
	bus       domain.SignalBus  // optional
	republish bool
	logger    *slog.Logger

	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewDispatcher creates a Dispatcher. quotes and bus may be nil. republish
// should be false when the ticks themselves come from the bus.
func NewDispatcher(quotes domain.QuoteCache, bus domain.SignalBus, republish bool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		quotes:    quotes,
		bus:       bus,
		republish: republish && bus != nil,
		logger:    logger.With(slog.String("component", "tick_dispatcher")),
		lastSeen:  make(map[string]time.Time),
	}
}

// Run forwards every tick from in to out until in closes or ctx is
// cancelled, then closes out.
func (d *Dispatcher) Run(ctx context.Context, in <-chan domain.MarketTick, out chan<- domain.MarketTick) error {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-in:
			if !ok {
				return nil
			}
			d.observe(ctx, tick)
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (d *Dispatcher) observe(ctx context.Context, tick domain.MarketTick) {
	d.mu.Lock()
	d.lastSeen[tick.Symbol] = tick.Timestamp
	d.mu.Unlock()

	if d.quotes != nil {
		if err := d.quotes.SetQuote(ctx, tick.Symbol, tick.Price, tick.Timestamp); err != nil {
			d.logger.WarnContext(ctx, "quote cache write failed",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	if d.republish {
		payload, err := json.Marshal(tickMessage{
			Type:      "tick",
			Symbol:    tick.Symbol,
			Price:     tick.Price,
			Volume:    tick.Volume,
			Timestamp: tick.Timestamp.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return
		}
		if err := d.bus.Publish(ctx, domain.ChannelTicks, payload); err != nil {
			d.logger.WarnContext(ctx, "tick publish failed",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// LastSeen returns the timestamp of the latest tick per symbol.
func (d *Dispatcher) LastSeen() map[string]time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]time.Time, len(d.lastSeen))
	for k, v := range d.lastSeen {
		out[k] = v
	}
	return out
}
