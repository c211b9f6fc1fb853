package monitor

import (
	"testing"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLatency() (*Latency, *stepClock) {
	clock := &stepClock{t: t0}
	l := NewLatency(24*time.Hour, nil, nil)
	l.now = clock.now
	return l, clock
}

func TestStageMeasuresSincePreviousMark(t *testing.T) {
	l, clock := newTestLatency()
	l.Start("o1")

	clock.advance(5 * time.Millisecond)
	d, err := l.Stage("o1", domain.StageOrderRouting)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, d)

	clock.advance(30 * time.Millisecond)
	d, err = l.Stage("o1", domain.StageOrderSent)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Millisecond, d)

	l.Complete("o1")
	assert.Equal(t, 0, l.InFlight())

	_, err = l.Stage("o1", domain.StageOrderAck)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatsPercentiles(t *testing.T) {
	l, clock := newTestLatency()
	for i := 1; i <= 100; i++ {
		id := "o"
		l.Start(id)
		clock.advance(time.Duration(i) * time.Millisecond)
		_, err := l.Stage(id, domain.StageOrderAck)
		require.NoError(t, err)
	}

	st := l.Stats(domain.StageOrderAck, time.Hour)
	assert.Equal(t, 100, st.Count)
	assert.Equal(t, 50*time.Millisecond, st.P50)
	assert.Equal(t, 95*time.Millisecond, st.P95)
	assert.Equal(t, 99*time.Millisecond, st.P99)
	assert.Equal(t, 100*time.Millisecond, st.Max)
	assert.Equal(t, 50500*time.Microsecond, st.Avg)

	empty := l.Stats(domain.StageOrderFill, time.Hour)
	assert.Equal(t, 0, empty.Count)
}

func TestStatsLookback(t *testing.T) {
	l, clock := newTestLatency()
	l.StartAt("a", clock.t)
	clock.advance(300 * time.Millisecond)
	_, _ = l.Stage("a", domain.StageOrderFill)

	clock.advance(10 * time.Minute)
	l.Start("b")
	clock.advance(20 * time.Millisecond)
	_, _ = l.Stage("b", domain.StageOrderFill)

	st := l.Stats(domain.StageOrderFill, 5*time.Minute)
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, 20*time.Millisecond, st.Max)
	assert.Len(t, l.AllStats(time.Hour), len(domain.LatencyStages))
}

func TestCheckAlerts(t *testing.T) {
	l, clock := newTestLatency()

	l.Start("o1")
	clock.advance(15 * time.Millisecond)
	_, _ = l.Stage("o1", domain.StageOrderRouting) // over 10ms
	clock.advance(50 * time.Millisecond)
	_, _ = l.Stage("o1", domain.StageOrderSent) // under 100ms

	alerts := l.CheckAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "ALERT: ORDER_ROUTING latency exceeded 10ms threshold", alerts[0])

	clock.advance(6 * time.Minute)
	assert.Empty(t, l.CheckAlerts())
}
