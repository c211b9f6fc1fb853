package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(0)
	ctx, cancel := context.WithCancel(context.Background())

	exact, err := bus.Subscribe(ctx, domain.ChannelSignal)
	require.NoError(t, err)
	glob, err := bus.Subscribe(ctx, "ch:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelSignal, []byte("a")))
	require.NoError(t, bus.Publish(ctx, domain.ChannelTicks, []byte("b")))

	assert.Equal(t, []byte("a"), <-exact)
	assert.Equal(t, []byte("a"), <-glob)
	assert.Equal(t, []byte("b"), <-glob)
	select {
	case msg := <-exact:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	cancel()
	select {
	case _, ok := <-exact:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.NoError(t, bus.Publish(context.Background(), domain.ChannelSignal, []byte("late")))
}

func TestMemoryBusStreams(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(2)
	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, domain.StreamExecutions, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "2-0", msgs[0].ID)
	assert.Equal(t, []byte("three"), msgs[1].Payload)

	msgs, err = bus.StreamRead(ctx, domain.StreamExecutions, "2-0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "3-0", msgs[0].ID)

	msgs, err = bus.StreamRead(ctx, "missing", "", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
