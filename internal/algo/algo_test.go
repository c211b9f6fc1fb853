package algo

import (
	"testing"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 6, 3, 9, 15, 0, 0, time.UTC)

func drain(s *Schedule) []domain.OrderSlice {
	var out []domain.OrderSlice
	for {
		sl, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, sl)
	}
}

func TestTWAPDistributesRemainder(t *testing.T) {
	twap := NewTWAP(DefaultConfig())
	sched := twap.Slice(Request{Quantity: 103, Price: 250, Side: domain.SideBuy, Start: start, End: start.Add(2 * time.Hour)})

	slices := drain(sched)
	require.Len(t, slices, 8)
	for i, sl := range slices {
		want := 12
		if i < 7 {
			want = 13
		}
		assert.Equal(t, want, sl.Quantity, "slice %d", i)
		assert.Equal(t, start.Add(time.Duration(i)*15*time.Minute), sl.ScheduledTime)
		assert.Equal(t, 250.0, sl.LimitPrice)
	}
}

func TestTWAPConservesQuantity(t *testing.T) {
	twap := NewTWAP(DefaultConfig())
	for _, qty := range []int{1, 7, 19, 20, 21, 99, 100, 101, 997, 5000} {
		for _, window := range []time.Duration{time.Minute, 14 * time.Minute, 45 * time.Minute, 2 * time.Hour, 7 * time.Hour, 24 * time.Hour} {
			sched := twap.Slice(Request{Quantity: qty, Price: 10, Start: start, End: start.Add(window)})
			assert.Equal(t, qty, sched.Total(), "qty=%d window=%s", qty, window)
			assert.LessOrEqual(t, sched.Len(), 20)
		}
	}
}

func TestTWAPCapsIntervals(t *testing.T) {
	sched := NewTWAP(DefaultConfig()).Slice(Request{Quantity: 400, Price: 10, Start: start, End: start.Add(10 * time.Hour)})
	assert.Equal(t, 20, sched.Len())
	assert.Equal(t, 400, sched.Total())
}

func TestVWAPFullDayFollowsCurve(t *testing.T) {
	sched := NewVWAP(DefaultConfig()).Slice(Request{Quantity: 1000, Price: 100, Start: start, End: start.Add(6 * time.Hour)})
	slices := drain(sched)
	require.Len(t, slices, 12)
	for i, sl := range slices {
		assert.InDelta(t, 1000*DefaultVolumeCurve[i], float64(sl.Quantity), 1, "slice %d", i)
		assert.Equal(t, start.Add(time.Duration(i)*30*time.Minute), sl.ScheduledTime)
	}
	assert.LessOrEqual(t, sched.Total(), 1000)
	assert.GreaterOrEqual(t, sched.Total(), 988)
}

func TestVWAPShortWindowSamplesCurve(t *testing.T) {
	sched := NewVWAP(DefaultConfig()).Slice(Request{Quantity: 1000, Price: 100, Start: start, End: start.Add(2 * time.Hour)})
	slices := drain(sched)
	require.Len(t, slices, 4)
	// Buckets 0, 3, 6 and 9 of the curve.
	for i, want := range []float64{20, 60, 150, 100} {
		assert.InDelta(t, want, float64(slices[i].Quantity), 1)
	}
	assert.LessOrEqual(t, sched.Total(), 1000)
}

func TestVWAPDropsZeroSlices(t *testing.T) {
	sched := NewVWAP(DefaultConfig()).Slice(Request{Quantity: 10, Price: 100, Start: start, End: start.Add(6 * time.Hour)})
	for _, sl := range drain(sched) {
		assert.Positive(t, sl.Quantity)
	}
	assert.Less(t, sched.Len(), 12)
}

func TestVWAPWindowBelowOneInterval(t *testing.T) {
	sched := NewVWAP(DefaultConfig()).Slice(Request{Quantity: 500, Price: 100, Start: start, End: start.Add(20 * time.Minute)})
	assert.Equal(t, 0, sched.Len())
}

func TestShortfall(t *testing.T) {
	is := NewShortfall(DefaultConfig())
	assert.InDelta(t, 0.3, is.ParticipationRate(1000, 100, 2), 1e-12)

	buy := drain(is.Slice(Request{Quantity: 1000, Price: 100, Side: domain.SideBuy, Start: start, End: start.Add(2 * time.Hour)}))
	require.Len(t, buy, 8)
	assert.Equal(t, 37, buy[0].Quantity)
	assert.Equal(t, 31, buy[7].Quantity)
	assert.InDelta(t, 100.03, buy[0].LimitPrice, 1e-9)
	for i := 1; i < len(buy); i++ {
		assert.True(t, buy[i].ScheduledTime.After(buy[i-1].ScheduledTime))
		assert.LessOrEqual(t, buy[i].LimitPrice, buy[i-1].LimitPrice)
		assert.Greater(t, buy[i].LimitPrice, 100.0)
	}

	sell := drain(is.Slice(Request{Quantity: 1000, Price: 100, Side: domain.SideSell, Start: start, End: start.Add(2 * time.Hour)}))
	require.Len(t, sell, 8)
	assert.InDelta(t, 99.97, sell[0].LimitPrice, 1e-9)
	for _, sl := range sell {
		assert.Less(t, sl.LimitPrice, 100.0)
	}
}

func TestShortfallLowParticipation(t *testing.T) {
	is := NewShortfall(DefaultConfig())
	// Large, long orders push participation below the cap.
	rate := is.ParticipationRate(1_000_000, 1000, 8)
	assert.Less(t, rate, 0.3)
	assert.Greater(t, rate, 0.0)
}

func TestScheduleIsNotRestartable(t *testing.T) {
	sched := NewTWAP(DefaultConfig()).Slice(Request{Quantity: 10, Price: 1, Start: start, End: start.Add(30 * time.Minute)})
	require.Equal(t, 2, sched.Len())
	assert.Len(t, drain(sched), 2)
	assert.Equal(t, 0, sched.Remaining())
	_, ok := sched.Next()
	assert.False(t, ok)
	assert.Len(t, sched.Slices(), 2)
}

func TestForName(t *testing.T) {
	for _, name := range []string{"twap", "VWAP", "IS"} {
		s, err := ForName(name, DefaultConfig())
		require.NoError(t, err)
		assert.NotEmpty(t, s.Name())
	}
	_, err := ForName("POV", DefaultConfig())
	assert.Error(t, err)
}
