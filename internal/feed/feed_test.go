package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

var t0 = time.Date(2026, 6, 3, 9, 15, 0, 0, time.UTC)

func TestDecodeTick(t *testing.T) {
	now := func() time.Time { return t0 }

	tick, err := decodeTick([]byte(`{"type":"tick","symbol":" NIFTY ","price":22500.5,"volume":10,"timestamp":"2026-06-03T09:16:00Z"}`), now)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY", tick.Symbol)
	assert.Equal(t, 22500.5, tick.Price)
	assert.Equal(t, 10.0, tick.Volume)
	assert.Equal(t, t0.Add(time.Minute), tick.Timestamp)

	tick, err = decodeTick([]byte(`{"symbol":"BANKNIFTY","price":48000}`), now)
	require.NoError(t, err)
	assert.Equal(t, t0, tick.Timestamp)

	for _, raw := range []string{`{"type":"heartbeat"}`, `{"symbol":"X","price":0}`, `{"price":1}`, `not json`} {
		_, err := decodeTick([]byte(raw), now)
		assert.Error(t, err, raw)
	}
}

// quoteServer accepts connections, records the subscribe command and sends
// the given ticks. The first connection is dropped after its ticks when
// dropFirst is set.
type quoteServer struct {
	ticks     []string
	dropFirst bool

	mu       sync.Mutex
	commands []subscribeCommand
	conns    atomic.Int32
}

func (s *quoteServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := s.conns.Add(1)

	var cmd subscribeCommand
	if err := conn.ReadJSON(&cmd); err != nil {
		return
	}
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	for _, tick := range s.ticks {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tick)); err != nil {
			return
		}
	}
	if s.dropFirst && n == 1 {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSFeedStreamsTicks(t *testing.T) {
	qs := &quoteServer{ticks: []string{
		`{"type":"heartbeat"}`,
		`{"type":"tick","symbol":"NIFTY","price":100,"volume":5}`,
		`{"type":"tick","symbol":"NIFTY","price":101,"volume":6}`,
	}}
	srv := httptest.NewServer(qs)
	defer srv.Close()

	f := NewWSFeed(wsURL(srv), []string{"NIFTY"}, 10*time.Millisecond, nil, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.MarketTick, 4)
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, out) }()

	first := <-out
	second := <-out
	assert.Equal(t, 100.0, first.Price)
	assert.Equal(t, 101.0, second.Price)

	qs.mu.Lock()
	require.Len(t, qs.commands, 1)
	assert.Equal(t, subscribeCommand{Action: "subscribe", Symbols: []string{"NIFTY"}}, qs.commands[0])
	qs.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestWSFeedReconnects(t *testing.T) {
	qs := &quoteServer{
		ticks:     []string{`{"symbol":"NIFTY","price":100}`},
		dropFirst: true,
	}
	srv := httptest.NewServer(qs)
	defer srv.Close()

	f := NewWSFeed(wsURL(srv), []string{"NIFTY"}, 5*time.Millisecond, nil, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.MarketTick, 4)
	go func() { _ = f.Run(ctx, out) }()

	<-out
	<-out
	assert.GreaterOrEqual(t, qs.conns.Load(), int32(2))
}

func TestWSFeedWithoutSymbolsReturns(t *testing.T) {
	f := NewWSFeed("ws://unused", nil, time.Second, nil, slog.New(slog.DiscardHandler))
	assert.NoError(t, f.Run(context.Background(), make(chan domain.MarketTick)))
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	sub       chan []byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.sub, nil }

func (b *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (q *memQuotes) SetQuote(_ context.Context, symbol string, price float64, _ time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prices[symbol] = price
	return nil
}

func (q *memQuotes) GetQuote(_ context.Context, symbol string) (float64, time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

func TestDispatcherCachesRepublishesAndForwards(t *testing.T) {
	bus := &memBus{}
	quotes := &memQuotes{prices: map[string]float64{}}
	d := NewDispatcher(quotes, bus, true, slog.New(slog.DiscardHandler))

	in := make(chan domain.MarketTick, 2)
	out := make(chan domain.MarketTick, 2)
	in <- domain.MarketTick{Symbol: "NIFTY", Price: 100, Volume: 1, Timestamp: t0}
	in <- domain.MarketTick{Symbol: "NIFTY", Price: 102, Volume: 1, Timestamp: t0.Add(time.Second)}
	close(in)

	require.NoError(t, d.Run(context.Background(), in, out))

	var got []float64
	for tick := range out {
		got = append(got, tick.Price)
	}
	assert.Equal(t, []float64{100, 102}, got)
	assert.Equal(t, 102.0, quotes.prices["NIFTY"])
	assert.Equal(t, t0.Add(time.Second), d.LastSeen()["NIFTY"])

	require.Len(t, bus.published[domain.ChannelTicks], 2)
	var msg tickMessage
	require.NoError(t, json.Unmarshal(bus.published[domain.ChannelTicks][1], &msg))
	assert.Equal(t, "tick", msg.Type)
	assert.Equal(t, 102.0, msg.Price)
}

func TestBusSourceDecodesTicks(t *testing.T) {
	bus := &memBus{sub: make(chan []byte, 3)}
	bus.sub <- []byte(`{"type":"tick","symbol":"NIFTY","price":100}`)
	bus.sub <- []byte(`garbage`)
	bus.sub <- []byte(`{"type":"tick","symbol":"BANKNIFTY","price":200}`)
	close(bus.sub)

	src := NewBusSource(bus, "", slog.New(slog.DiscardHandler))
	out := make(chan domain.MarketTick, 3)
	require.NoError(t, src.Run(context.Background(), out))

	require.Len(t, out, 2)
	assert.Equal(t, "NIFTY", (<-out).Symbol)
	assert.Equal(t, "BANKNIFTY", (<-out).Symbol)
}
