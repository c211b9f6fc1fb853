package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// emaRSIParams shortens every window so a handful of ticks exercise the rules.
func emaRSIParams() map[string]float64 {
	return map[string]float64{
		"quantity":     5,
		"fastEma":      2,
		"slowEma":      3,
		"rsiPeriod":    4,
		"atrPeriod":    3,
		"volumePeriod": 3,
	}
}

// crossSeries falls into a fast/slow EMA cross on its last price with RSI
// 66.7 and the last volume at twice its average.
var (
	crossPrices  = []float64{100, 101, 103, 102, 101, 103}
	crossVolumes = []float64{100, 100, 100, 100, 100, 400}
)

func trackAll(h *History, symbol string, prices, volumes []float64) {
	for i, p := range prices {
		h.Track(symbol, p, volumes[i])
	}
}

func emaRSIInstance(params map[string]float64) domain.StrategyInstance {
	return domain.StrategyInstance{ID: "s1", Type: domain.StrategyEMARSI, Symbol: "NIFTY", Parameters: params, Active: true}
}

func TestEMARSIValidate(t *testing.T) {
	ev := EMARSI{}
	require.NoError(t, ev.Validate(emaRSIParams()))
	require.NoError(t, ev.Validate(map[string]float64{"quantity": 1}))

	tests := []struct {
		name   string
		params map[string]float64
	}{
		{"no quantity", map[string]float64{}},
		{"fast not shorter", map[string]float64{"quantity": 1, "fastEma": 21}},
		{"zero period", map[string]float64{"quantity": 1, "rsiPeriod": 0}},
		{"bad risk reward", map[string]float64{"quantity": 1, "riskReward": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ev.Validate(tt.params), domain.ErrInvalidOrder)
		})
	}
}

func TestEMARSIEntry(t *testing.T) {
	h := NewHistory(DefaultHistoryLimit)
	trackAll(h, "NIFTY", crossPrices, crossVolumes)
	tick := domain.MarketTick{Symbol: "NIFTY", Price: 103, Volume: 400}

	sig, err := EMARSI{}.Evaluate(context.Background(), emaRSIInstance(emaRSIParams()), tick, h)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.Equal(t, 5, sig.Quantity)
	assert.Equal(t, "EMA bullish crossover with RSI confirmation", sig.Reason)

	// ATR is 2% of the 3-period SMA of 102.
	require.NotNil(t, sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	assert.InDelta(t, 103-2.04, *sig.StopLoss, 1e-9)
	assert.InDelta(t, 103+2*2.04, *sig.TakeProfit, 1e-9)

	params := emaRSIParams()
	params["riskBudget"] = 1000
	params["riskReward"] = 3
	sig, err = EMARSI{}.Evaluate(context.Background(), emaRSIInstance(params), tick, h)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, 490, sig.Quantity)
	assert.InDelta(t, 103+3*2.04, *sig.TakeProfit, 1e-9)
}

func TestEMARSIEntryFilters(t *testing.T) {
	tests := []struct {
		name    string
		prices  []float64
		volumes []float64
	}{
		{"volume at average", crossPrices, []float64{100, 100, 100, 100, 100, 100}},
		{"no fresh cross", []float64{100, 101, 103, 102}, []float64{100, 100, 100, 400}},
		{"rsi too weak", []float64{110, 104, 102, 101, 103}, []float64{100, 100, 100, 100, 400}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(DefaultHistoryLimit)
			trackAll(h, "NIFTY", tt.prices, tt.volumes)
			last := len(tt.prices) - 1
			tick := domain.MarketTick{Symbol: "NIFTY", Price: tt.prices[last], Volume: tt.volumes[last]}

			sig, err := EMARSI{}.Evaluate(context.Background(), emaRSIInstance(emaRSIParams()), tick, h)
			require.NoError(t, err)
			assert.Nil(t, sig)
		})
	}
}

func TestEMARSIExits(t *testing.T) {
	stop, target := 100.96, 107.08
	tests := []struct {
		name   string
		price  float64
		reason string
	}{
		{"take profit", 108, "Take Profit"},
		{"stop loss", 100, "Stop Loss"},
		{"trend reversal", 101.5, "Trend Reversal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(DefaultHistoryLimit)
			trackAll(h, "NIFTY", append(append([]float64{}, crossPrices...), 102, tt.price), append(append([]float64{}, crossVolumes...), 100, 100))

			inst := emaRSIInstance(emaRSIParams())
			inst.InPosition = true
			inst.StopLoss, inst.TakeProfit = &stop, &target
			sig, err := EMARSI{}.Evaluate(context.Background(), inst, domain.MarketTick{Symbol: "NIFTY", Price: tt.price}, h)
			require.NoError(t, err)
			require.NotNil(t, sig)
			assert.Equal(t, domain.SideSell, sig.Side)
			assert.Equal(t, tt.reason, sig.Reason)
		})
	}

	// Between the levels with the fast EMA still on top: hold.
	h := NewHistory(DefaultHistoryLimit)
	trackAll(h, "NIFTY", append(append([]float64{}, crossPrices...), 102), append(append([]float64{}, crossVolumes...), 100))
	inst := emaRSIInstance(emaRSIParams())
	inst.InPosition = true
	inst.StopLoss, inst.TakeProfit = &stop, &target
	sig, err := EMARSI{}.Evaluate(context.Background(), inst, domain.MarketTick{Symbol: "NIFTY", Price: 102}, h)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEngineKeepsEntryLevelsForExit(t *testing.T) {
	e := newTestEngine(t, nil)
	inst, err := e.Deploy(context.Background(), domain.StrategySpec{
		Type:       domain.StrategyEMARSI,
		Symbol:     "NIFTY",
		OwnerID:    "owner-1",
		Parameters: emaRSIParams(),
	})
	require.NoError(t, err)

	var sigs []domain.Signal
	for i, p := range crossPrices {
		sigs = append(sigs, e.HandleTick(context.Background(), domain.MarketTick{Symbol: "NIFTY", Price: p, Volume: crossVolumes[i]})...)
	}
	require.Len(t, sigs, 1)
	buy := sigs[0]
	assert.Equal(t, domain.SideBuy, buy.Side)

	got, err := e.Get(inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TakeProfit)
	assert.InDelta(t, *buy.TakeProfit, *got.TakeProfit, 1e-9)
	assert.InDelta(t, *buy.StopLoss, *got.StopLoss, 1e-9)
	e.ConfirmExecution(buy, true)

	sigs = e.HandleTick(context.Background(), domain.MarketTick{Symbol: "NIFTY", Price: 108, Volume: 100})
	require.Len(t, sigs, 1)
	assert.Equal(t, "Take Profit", sigs[0].Reason)
	e.ConfirmExecution(sigs[0], true)

	got, err = e.Get(inst.ID)
	require.NoError(t, err)
	assert.False(t, got.InPosition)
	assert.Nil(t, got.StopLoss)
	assert.Nil(t, got.TakeProfit)
	assert.Equal(t, 2, got.ExecutedTrades)
}
