package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "redis: ping")
}

func TestQuoteCache(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	qc := NewQuoteCache(c, time.Minute)

	_, _, err := qc.GetQuote(ctx, "NIFTY")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 6, 3, 9, 15, 0, 0, time.UTC)
	require.NoError(t, qc.SetQuote(ctx, "NIFTY", 22014.35, ts))
	require.NoError(t, qc.SetQuote(ctx, "BANKNIFTY", 48120.5, ts))

	price, got, err := qc.GetQuote(ctx, "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, 22014.35, price)
	assert.True(t, got.Equal(ts))

	quotes, err := qc.GetQuotes(ctx, []string{"NIFTY", "BANKNIFTY", "FINNIFTY"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"NIFTY": 22014.35, "BANKNIFTY": 48120.5}, quotes)

	mr.FastForward(2 * time.Minute)
	_, _, err = qc.GetQuote(ctx, "NIFTY")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRiskStore(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rs := NewRiskStore(c)

	counters, err := rs.Counters(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskCounters{}, counters)

	require.NoError(t, rs.AddPnL(ctx, "owner-1", -1500.5))
	require.NoError(t, rs.AddPnL(ctx, "owner-1", 500))
	require.NoError(t, rs.AddTrade(ctx, "owner-1", 25000))
	require.NoError(t, rs.AddTrade(ctx, "owner-1", 5000))
	require.NoError(t, rs.AddTrade(ctx, "owner-2", 100))

	counters, err = rs.Counters(ctx, "owner-1")
	require.NoError(t, err)
	assert.InDelta(t, -1000.5, counters.DailyPnL, 1e-9)
	assert.Equal(t, 2, counters.DailyTrades)
	assert.InDelta(t, 30000, counters.OpenNotional, 1e-9)

	require.NoError(t, rs.AddGreeks(ctx, "owner-1", 25, 120))
	require.NoError(t, rs.AddGreeks(ctx, "owner-1", -5, -20))
	delta, vega, err := rs.Greeks(ctx, "owner-1")
	require.NoError(t, err)
	assert.InDelta(t, 20, delta, 1e-9)
	assert.InDelta(t, 100, vega, 1e-9)

	require.NoError(t, rs.ResetDaily(ctx))
	counters, err = rs.Counters(ctx, "owner-1")
	require.NoError(t, err)
	assert.Zero(t, counters.DailyPnL)
	assert.Zero(t, counters.DailyTrades)
	assert.InDelta(t, 30000, counters.OpenNotional, 1e-9)

	delta, _, err = rs.Greeks(ctx, "owner-1")
	require.NoError(t, err)
	assert.InDelta(t, 20, delta, 1e-9)

	counters, err = rs.Counters(ctx, "owner-2")
	require.NoError(t, err)
	assert.Zero(t, counters.DailyTrades)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "sizing:owner-1", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "sizing:owner-1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "sizing:owner-1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	unlock3, err := lm.Acquire(ctx, "sizing:owner-1", time.Second)
	require.NoError(t, err)

	unlock2()
	_, err = lm.Acquire(ctx, "sizing:owner-1", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld, "stale unlock must not release the new holder")
	unlock3()
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Date(2026, 6, 3, 9, 15, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "api:key-1", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "api:key-1", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:key-2", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "api:key-1", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 6, 3, 9, 15, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Wait(context.Background(), "broker:paper"))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "broker:paper")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelExecution)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelExecution, []byte(`{"status":"success"}`)))
	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"status":"success"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignalBusStreams(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c, 100)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, domain.StreamExecutions, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, []byte("two")))

	msgs, err = bus.StreamRead(ctx, domain.StreamExecutions, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))
	assert.Equal(t, "two", string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, domain.StreamExecutions, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", string(msgs[0].Payload))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:*"))
	assert.False(t, hasPattern(domain.ChannelHedge))
}
