// Package feed ingests market ticks from a WebSocket quote server or the
// signal bus and hands them to the strategy engine.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// subscribeCommand is sent once per connection.
type subscribeCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// tickMessage is one quote from the server. Messages with another type are
// ignored.
type tickMessage struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp string  `json:"timestamp"`
}

// WSFeed streams ticks for a symbol list from a WebSocket quote server and
// reconnects with exponential backoff when the connection drops.
type WSFeed struct {
	wsURL     string
	symbols   []string
	baseDelay time.Duration
	dialer    *websocket.Dialer
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewWSFeed creates a feed for symbols. reconnectDelay is the first backoff
// step; m may be nil.
func NewWSFeed(wsURL string, symbols []string, reconnectDelay time.Duration, m *metrics.Metrics, logger *slog.Logger) *WSFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &WSFeed{
		wsURL:     wsURL,
		symbols:   symbols,
		baseDelay: reconnectDelay,
		dialer:    &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		metrics:   m,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "ws_feed")),
	}
}

// Run connects, subscribes and writes every tick to out until ctx is
// cancelled. It never closes out.
func (f *WSFeed) Run(ctx context.Context, out chan<- domain.MarketTick) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := f.baseDelay
	for {
		start := f.now()
		err := f.runConnection(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up for a while resets the backoff.
		if f.now().Sub(start) > maxReconnectDelay {
			delay = f.baseDelay
		}
		f.metrics.FeedReconnect("ws")
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *WSFeed) runConnection(ctx context.Context, out chan<- domain.MarketTick) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(msgType, data)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		case <-done:
		}
		conn.Close()
	}()

	cmd, err := json.Marshal(subscribeCommand{Action: "subscribe", Symbols: f.symbols})
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	if err := write(websocket.TextMessage, cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("feed subscribed", slog.Int("symbols", len(f.symbols)))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		// Any message proves the link is alive.
		conn.SetReadDeadline(time.Now().Add(pongWait))

		tick, ok := f.parse(raw)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parse decodes a tick message, defaulting a missing timestamp to now.
func (f *WSFeed) parse(raw []byte) (domain.MarketTick, bool) {
	tick, err := decodeTick(raw, f.now)
	if err != nil {
		f.logger.Debug("dropping feed message",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(raw)),
		)
		return domain.MarketTick{}, false
	}
	return tick, true
}

var errNotTick = errors.New("not a tick")

func decodeTick(raw []byte, now func() time.Time) (domain.MarketTick, error) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.MarketTick{}, err
	}
	if msg.Type != "" && msg.Type != "tick" {
		return domain.MarketTick{}, errNotTick
	}
	symbol := strings.TrimSpace(msg.Symbol)
	if symbol == "" || msg.Price <= 0 {
		return domain.MarketTick{}, fmt.Errorf("invalid tick %q at %v", symbol, msg.Price)
	}

	ts := now().UTC()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}
	return domain.MarketTick{Symbol: symbol, Price: msg.Price, Volume: msg.Volume, Timestamp: ts}, nil
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
