package domain

import (
	"context"
	"time"
)

// RiskCounters is an owner's intraday risk state.
type RiskCounters struct {
	DailyPnL     float64 `json:"daily_pnl"`
	DailyTrades  int     `json:"daily_trades"`
	OpenNotional float64 `json:"open_notional"`
}

// RiskStateStore holds per-owner daily counters and portfolio Greeks. All
// mutators are additive so concurrent writers never lose updates.
type RiskStateStore interface {
	Counters(ctx context.Context, ownerID string) (RiskCounters, error)
	AddPnL(ctx context.Context, ownerID string, pnl float64) error
	AddTrade(ctx context.Context, ownerID string, notional float64) error
	ResetDaily(ctx context.Context) error

	Greeks(ctx context.Context, ownerID string) (delta, vega float64, err error)
	AddGreeks(ctx context.Context, ownerID string, delta, vega float64) error
}

// QuoteCache stores the latest observed price per symbol.
type QuoteCache interface {
	SetQuote(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetQuote(ctx context.Context, symbol string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelTicks     = "ch:tick"
	ChannelSignal    = "ch:signal"
	ChannelExecution = "ch:execution"
	ChannelHedge     = "ch:hedge"
	ChannelAlert     = "ch:alert"
	StreamExecutions = "stream:executions"
)
