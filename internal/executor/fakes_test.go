package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// scriptedBroker quotes from a fixed table and rejects the first
// rejectFirst[symbol] orders for a symbol (every order when negative).
type scriptedBroker struct {
	mu          sync.Mutex
	quotes      map[string]float64
	rejectFirst map[string]int
	calls       map[string]int
	placed      []domain.OrderSpec
}

func newScriptedBroker(quotes map[string]float64) *scriptedBroker {
	return &scriptedBroker{
		quotes:      quotes,
		rejectFirst: make(map[string]int),
		calls:       make(map[string]int),
	}
}

func (b *scriptedBroker) GetQuote(_ context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.quotes[symbol]
	if !ok {
		return 0, fmt.Errorf("quote %s: %w", symbol, domain.ErrNotFound)
	}
	return p, nil
}

func (b *scriptedBroker) PlaceOrder(_ context.Context, brokerID string, spec domain.OrderSpec) (domain.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[spec.Symbol]++
	b.placed = append(b.placed, spec)
	ack := domain.OrderAck{OrderID: spec.OrderID, BrokerID: brokerID}
	if n := b.rejectFirst[spec.Symbol]; n < 0 || b.calls[spec.Symbol] <= n {
		ack.Status = domain.OrderStatusRejected
		ack.Message = "scripted reject"
		return ack, nil
	}
	ack.Status = domain.OrderStatusFilled
	ack.FilledQty = spec.Quantity
	ack.FilledPrice = spec.LimitPrice
	return ack, nil
}

func (b *scriptedBroker) callsFor(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[symbol]
}

type fixedSelector struct {
	mu       sync.Mutex
	id       string
	err      error
	observed map[string]int
}

func newFixedSelector(id string) *fixedSelector {
	return &fixedSelector{id: id, observed: make(map[string]int)}
}

func (s *fixedSelector) SelectBroker(domain.OptionContract, domain.OrderType, int) (domain.BrokerEndpoint, error) {
	if s.err != nil {
		return domain.BrokerEndpoint{}, s.err
	}
	return domain.BrokerEndpoint{ID: s.id}, nil
}

func (s *fixedSelector) ObserveOrder(id string, _ time.Duration, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed[id]++
}

type published struct {
	channel string
	payload []byte
}

type recordingBus struct {
	mu       sync.Mutex
	messages []published
	streamed []published
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, published{channel, payload})
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, published{stream, payload})
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) on(channel string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, m := range b.messages {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// fakeClock backs both now and sleep so scheduled waits complete instantly.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
