// Package paper is a simulated broker adapter. Orders fill against the last
// quote observed for the symbol; nothing leaves the process.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Broker implements domain.BrokerAdapter against a QuoteCache.
type Broker struct {
	quotes    domain.QuoteCache
	tolerance float64
	now       func() time.Time
	logger    *slog.Logger
}

var _ domain.BrokerAdapter = (*Broker)(nil)

// NewBroker creates a paper broker. tolerance is the fractional distance a
// limit may sit away from the market and still fill.
func NewBroker(quotes domain.QuoteCache, tolerance float64, logger *slog.Logger) *Broker {
	return &Broker{
		quotes:    quotes,
		tolerance: tolerance,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "paper_broker")),
	}
}

// GetQuote returns the last cached price for symbol.
func (b *Broker) GetQuote(ctx context.Context, symbol string) (float64, error) {
	price, _, err := b.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("paper: quote %s: %w", symbol, err)
	}
	return price, nil
}

// PlaceOrder fills market orders at the quote and limit orders when the limit
// is marketable within tolerance. Unmarketable limits are rejected.
func (b *Broker) PlaceOrder(ctx context.Context, brokerID string, spec domain.OrderSpec) (domain.OrderAck, error) {
	if spec.Quantity <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: quantity %d: %w", spec.Quantity, domain.ErrInvalidOrder)
	}
	if spec.Side != domain.SideBuy && spec.Side != domain.SideSell {
		return domain.OrderAck{}, fmt.Errorf("paper: side %q: %w", spec.Side, domain.ErrInvalidOrder)
	}
	if err := ctx.Err(); err != nil {
		return domain.OrderAck{}, err
	}

	market, err := b.GetQuote(ctx, spec.Symbol)
	if err != nil {
		return domain.OrderAck{}, err
	}

	ack := domain.OrderAck{
		OrderID:  spec.OrderID,
		BrokerID: brokerID,
		AckedAt:  b.now().UTC(),
	}

	switch spec.Type {
	case domain.OrderTypeMarket, "":
		ack.Status = domain.OrderStatusFilled
		ack.FilledQty = spec.Quantity
		ack.FilledPrice = market
	case domain.OrderTypeLimit:
		if !b.marketable(spec.Side, spec.LimitPrice, market) {
			ack.Status = domain.OrderStatusRejected
			ack.Message = fmt.Sprintf("limit %.2f not marketable against %.2f", spec.LimitPrice, market)
			break
		}
		ack.Status = domain.OrderStatusFilled
		ack.FilledQty = spec.Quantity
		ack.FilledPrice = spec.LimitPrice
	default:
		return domain.OrderAck{}, fmt.Errorf("paper: order type %q: %w", spec.Type, domain.ErrInvalidOrder)
	}

	b.logger.DebugContext(ctx, "paper: order processed",
		slog.String("order_id", spec.OrderID),
		slog.String("broker_id", brokerID),
		slog.String("symbol", spec.Symbol),
		slog.String("side", string(spec.Side)),
		slog.Int("qty", spec.Quantity),
		slog.String("status", string(ack.Status)),
	)
	return ack, nil
}

// HealthCheck always succeeds while ctx is live; the paper venue has no
// connection to lose.
func (b *Broker) HealthCheck(ctx context.Context, _ string) (time.Duration, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (b *Broker) marketable(side domain.Side, limit, market float64) bool {
	if market <= 0 || limit <= 0 {
		return false
	}
	ratio := limit / market
	if side == domain.SideBuy {
		return ratio >= 1-b.tolerance
	}
	return ratio <= 1+b.tolerance
}

// MemoryQuotes is an in-process domain.QuoteCache.
type MemoryQuotes struct {
	mu     sync.RWMutex
	quotes map[string]quote
}

type quote struct {
	price float64
	ts    time.Time
}

var _ domain.QuoteCache = (*MemoryQuotes)(nil)

// NewMemoryQuotes returns an empty quote cache.
func NewMemoryQuotes() *MemoryQuotes {
	return &MemoryQuotes{quotes: make(map[string]quote)}
}

func (m *MemoryQuotes) SetQuote(_ context.Context, symbol string, price float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = quote{price: price, ts: ts}
	return nil
}

func (m *MemoryQuotes) GetQuote(_ context.Context, symbol string) (float64, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return q.price, q.ts, nil
}
