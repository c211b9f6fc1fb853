package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRisk(t *testing.T, cfg RiskConfig) (*RiskService, *MemoryRiskState) {
	t.Helper()
	state := NewMemoryRiskState()
	return NewRiskService(state, cfg, slog.New(slog.DiscardHandler)), state
}

func rejectionReason(t *testing.T, err error) domain.RejectReason {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrRejectedByRisk)
	var rr *domain.RiskRejection
	require.True(t, errors.As(err, &rr))
	return rr.Reason
}

func TestValidateOrderSizeRejectedBeforeLaterChecks(t *testing.T) {
	risk, _ := newTestRisk(t, DefaultRiskConfig())
	sig := domain.Signal{Symbol: "NIFTY", Side: domain.SideBuy, Price: 120, Quantity: 100}
	inst := domain.StrategyInstance{ID: "s1", OwnerID: "desk"}

	_, err := risk.Validate(context.Background(), sig, inst)
	assert.Equal(t, domain.RejectOrderSize, rejectionReason(t, err))
	assert.Contains(t, err.Error(), "order size")
}

func TestValidateChecks(t *testing.T) {
	ctx := context.Background()
	cfg := RiskConfig{MaxDailyLoss: 1000, MaxDailyTrades: 2, MaxOrderNotional: 10000, MaxPositionNotional: 20000}
	sig := domain.Signal{Symbol: "NIFTY", Side: domain.SideBuy, Price: 100, Quantity: 50}

	tests := []struct {
		name  string
		setup func(*MemoryRiskState)
		inst  domain.StrategyInstance
		want  domain.RejectReason
	}{
		{
			name:  "daily loss floor",
			setup: func(s *MemoryRiskState) { _ = s.AddPnL(ctx, "desk", -1000) },
			inst:  domain.StrategyInstance{OwnerID: "desk"},
			want:  domain.RejectDailyLoss,
		},
		{
			name: "daily trade cap",
			setup: func(s *MemoryRiskState) {
				_ = s.AddTrade(ctx, "desk", 10)
				_ = s.AddTrade(ctx, "desk", 10)
			},
			inst: domain.StrategyInstance{OwnerID: "desk"},
			want: domain.RejectDailyTrades,
		},
		{
			name:  "position notional",
			setup: func(s *MemoryRiskState) { _ = s.AddTrade(ctx, "desk", 16000) },
			inst:  domain.StrategyInstance{OwnerID: "desk"},
			want:  domain.RejectPositionSize,
		},
		{
			name:  "strategy max loss",
			setup: func(*MemoryRiskState) {},
			inst:  domain.StrategyInstance{OwnerID: "desk", PnL: -500, Parameters: map[string]float64{"maxLoss": 500}},
			want:  domain.RejectStrategyMaxLoss,
		},
		{
			name:  "strategy max trades",
			setup: func(*MemoryRiskState) {},
			inst:  domain.StrategyInstance{OwnerID: "desk", ExecutedTrades: 3, Parameters: map[string]float64{"maxTrades": 3}},
			want:  domain.RejectStrategyMaxTrade,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk, state := newTestRisk(t, cfg)
			tt.setup(state)
			_, err := risk.Validate(ctx, sig, tt.inst)
			assert.Equal(t, tt.want, rejectionReason(t, err))
		})
	}
}

func TestValidatePassesAndHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	risk, state := newTestRisk(t, DefaultRiskConfig())
	sig := domain.Signal{Symbol: "NIFTY", Side: domain.SideSell, Price: 100, Quantity: 10}
	inst := domain.StrategyInstance{OwnerID: "desk", Parameters: map[string]float64{"maxLoss": 500, "maxTrades": 5}}

	got, err := risk.Validate(ctx, sig, inst)
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	c, err := state.Counters(ctx, "desk")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskCounters{}, c)
}

func TestRecordFillAndResetDaily(t *testing.T) {
	ctx := context.Background()
	risk, _ := newTestRisk(t, DefaultRiskConfig())

	require.NoError(t, risk.RecordFill(ctx, "desk", 1500))
	require.NoError(t, risk.RecordPnL(ctx, "desk", -10000))

	tripped, err := risk.IsCircuitBreakerTriggered(ctx, "desk")
	require.NoError(t, err)
	assert.True(t, tripped)

	require.NoError(t, risk.ResetDaily(ctx))
	c, err := risk.Counters(ctx, "desk")
	require.NoError(t, err)
	assert.Equal(t, 0, c.DailyTrades)
	assert.Equal(t, 0.0, c.DailyPnL)
	assert.Equal(t, 1500.0, c.OpenNotional)

	tripped, err = risk.IsCircuitBreakerTriggered(ctx, "desk")
	require.NoError(t, err)
	assert.False(t, tripped)
}
