package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeAccuracy(t *testing.T) {
	ctx := context.Background()
	svc := NewOutcomeService(NewMemoryOutcomeStore(), slog.New(slog.DiscardHandler))
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	cases := []struct {
		pop float64
		pnl float64
	}{
		{0.7, 120},  // hit
		{0.8, -40},  // miss
		{0.3, -10},  // hit
		{0.65, 300}, // hit
	}
	for _, c := range cases {
		o, err := svc.RecordPrediction(ctx, domain.TradeOutcome{StrategyID: "ic", ProbabilityOfProfit: c.pop})
		require.NoError(t, err)
		require.NotEmpty(t, o.ID)
		require.NoError(t, svc.RecordOutcome(ctx, o.ID, c.pnl))
	}
	// Still open; excluded.
	_, err := svc.RecordPrediction(ctx, domain.TradeOutcome{StrategyID: "ic", ProbabilityOfProfit: 0.9})
	require.NoError(t, err)

	acc, n, err := svc.Accuracy(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.InDelta(t, 0.75, acc, 1e-9)
}

func TestRecordOutcomeUnknownID(t *testing.T) {
	svc := NewOutcomeService(NewMemoryOutcomeStore(), slog.New(slog.DiscardHandler))
	err := svc.RecordOutcome(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
