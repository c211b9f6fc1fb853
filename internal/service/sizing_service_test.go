package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSizer(t *testing.T) (*SizingService, *MemoryRiskState) {
	t.Helper()
	state := NewMemoryRiskState()
	return NewSizingService(state, nil, DefaultSizingConfig(), slog.New(slog.DiscardHandler)), state
}

func sizeReq(pop float64, avail int64) domain.SizeRequest {
	return domain.SizeRequest{
		Prediction:       domain.Prediction{ProbabilityOfProfit: pop, Confidence: 0.8},
		MaxProfit:        decimal.NewFromInt(100),
		MaxLoss:          decimal.NewFromInt(100),
		AvailableCapital: decimal.NewFromInt(avail),
		OwnerID:          "desk",
		LotSize:          25,
	}
}

func TestSizeKelly(t *testing.T) {
	sizer, _ := newTestSizer(t)

	res, err := sizer.Size(context.Background(), sizeReq(0.7, 100000))
	require.NoError(t, err)

	assert.True(t, res.KellyFraction.Equal(decimal.RequireFromString("0.1")), res.KellyFraction.String())
	assert.True(t, res.KellyCapital.Equal(decimal.NewFromInt(10000)))
	assert.True(t, res.StaticLimitedCapital.Equal(decimal.NewFromInt(10000)))
	assert.True(t, res.RiskLimitedCapital.Equal(decimal.NewFromInt(10000)))
	assert.True(t, res.FinalSize.Equal(res.RiskLimitedCapital))
	assert.Equal(t, int64(400), res.LotCount)
}

func TestSizeStaticCap(t *testing.T) {
	sizer, _ := newTestSizer(t)

	res, err := sizer.Size(context.Background(), sizeReq(0.9, 10_000_000))
	require.NoError(t, err)
	assert.True(t, res.StaticLimitedCapital.Equal(decimal.NewFromInt(50000)))
	assert.True(t, res.KellyCapital.GreaterThan(res.StaticLimitedCapital))
}

func TestSizeKellyNonNegative(t *testing.T) {
	sizer, _ := newTestSizer(t)
	for _, pop := range []float64{0, 0.1, 0.3, 0.5} {
		res, err := sizer.Size(context.Background(), sizeReq(pop, 100000))
		require.NoError(t, err)
		assert.False(t, res.KellyFraction.IsNegative(), "pop=%v", pop)
		assert.Equal(t, int64(0), res.LotCount, "pop=%v", pop)
	}
}

func TestSizeMinimumOneLot(t *testing.T) {
	sizer, _ := newTestSizer(t)
	res, err := sizer.Size(context.Background(), sizeReq(0.7, 100))
	require.NoError(t, err)
	assert.True(t, res.FinalSize.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(1), res.LotCount)
}

func TestSizeRejectsNonPositiveMaxLoss(t *testing.T) {
	sizer, _ := newTestSizer(t)
	req := sizeReq(0.7, 100000)
	req.MaxLoss = decimal.Zero
	_, err := sizer.Size(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestSizeDeltaLimit(t *testing.T) {
	sizer, _ := newTestSizer(t)
	req := sizeReq(0.7, 100000)
	req.DeltaPerUnit = decimal.RequireFromString("0.2")

	res, err := sizer.Size(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.RiskLimitedCapital.Equal(decimal.NewFromInt(5000)), res.RiskLimitedCapital.String())
	assert.True(t, res.RiskLimitedCapital.LessThan(res.StaticLimitedCapital))

	post := res.FinalSize.Mul(req.DeltaPerUnit)
	assert.True(t, post.LessThanOrEqual(decimal.NewFromInt(1000)))
}

func TestSizeVegaLimitWithExistingExposure(t *testing.T) {
	ctx := context.Background()
	sizer, state := newTestSizer(t)
	require.NoError(t, state.AddGreeks(ctx, "desk", 0, 400))

	req := sizeReq(0.7, 100000)
	req.VegaPerUnit = decimal.RequireFromString("0.05")

	res, err := sizer.Size(ctx, req)
	require.NoError(t, err)
	// 400 + 10000*0.05 = 900; excess 400 over 500 -> reduce by 8000.
	assert.True(t, res.RiskLimitedCapital.Equal(decimal.NewFromInt(2000)), res.RiskLimitedCapital.String())
}

func TestSizeAndReserveSerializesOwner(t *testing.T) {
	ctx := context.Background()
	sizer, _ := newTestSizer(t)
	req := sizeReq(0.7, 100000)
	req.DeltaPerUnit = decimal.RequireFromString("0.02") // 200 delta per full position

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sizer.SizeAndReserve(ctx, req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	risk, err := sizer.PortfolioRisk(ctx, "desk")
	require.NoError(t, err)
	assert.InDelta(t, 1000, risk.CurrentDelta, 1e-9)
	assert.InDelta(t, 1.0, risk.DeltaUtilization, 1e-9)
}

func TestCommitAccumulates(t *testing.T) {
	ctx := context.Background()
	sizer, _ := newTestSizer(t)
	require.NoError(t, sizer.Commit(ctx, "desk", 100, -50))
	require.NoError(t, sizer.Commit(ctx, "desk", -20, 10))

	risk, err := sizer.PortfolioRisk(ctx, "desk")
	require.NoError(t, err)
	assert.InDelta(t, 80, risk.CurrentDelta, 1e-9)
	assert.InDelta(t, -40, risk.CurrentVega, 1e-9)
	assert.InDelta(t, 0.08, risk.VegaUtilization, 1e-9)
}
