package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

type fakeLedger struct {
	inst domain.StrategyInstance
	pnl  float64
}

func (f *fakeLedger) Get(id string) (domain.StrategyInstance, error) {
	if id != f.inst.ID {
		return domain.StrategyInstance{}, domain.ErrStrategyNotFound
	}
	return f.inst, nil
}

func (f *fakeLedger) UpdatePnL(_ string, pnl float64) error {
	f.pnl += pnl
	return nil
}

type fakeReturns struct {
	got map[string]float64
	err error
}

func (f *fakeReturns) RecordReturn(_ context.Context, id string, r float64) error {
	if f.err != nil {
		return f.err
	}
	f.got[id] = r
	return nil
}

func TestPnLServiceFansOut(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	ledger := &fakeLedger{inst: domain.StrategyInstance{ID: "s1", OwnerID: "desk"}}
	risk, state := newTestRisk(t, DefaultRiskConfig())
	returns := &fakeReturns{got: map[string]float64{}}
	outcomes := NewOutcomeService(NewMemoryOutcomeStore(), logger)
	pred, err := outcomes.RecordPrediction(ctx, domain.TradeOutcome{StrategyID: "s1", ProbabilityOfProfit: 0.7})
	require.NoError(t, err)

	svc := NewPnLService(ledger, risk, returns, outcomes, logger)
	r := 0.012
	require.NoError(t, svc.Record(ctx, PnLReport{StrategyID: "s1", PnL: -250, Return: &r, OutcomeID: pred.ID}))

	assert.Equal(t, -250.0, ledger.pnl)
	counters, err := state.Counters(ctx, "desk")
	require.NoError(t, err)
	assert.Equal(t, -250.0, counters.DailyPnL)
	assert.Equal(t, 0.012, returns.got["s1"])
	closed, err := outcomes.store.GetByID(ctx, pred.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.RealizedPnL)
	assert.Equal(t, -250.0, *closed.RealizedPnL)
}

func TestPnLServiceErrors(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	ledger := &fakeLedger{inst: domain.StrategyInstance{ID: "s1", OwnerID: "desk"}}
	risk, _ := newTestRisk(t, DefaultRiskConfig())

	svc := NewPnLService(ledger, risk, nil, nil, logger)
	assert.ErrorIs(t, svc.Record(ctx, PnLReport{StrategyID: "nope", PnL: 1}), domain.ErrStrategyNotFound)
	assert.ErrorIs(t, svc.Record(ctx, PnLReport{StrategyID: "s1", PnL: math.NaN()}), domain.ErrInvalidOrder)

	// Later sinks still run after one fails; the strategy update sticks.
	boom := errors.New("store down")
	svc = NewPnLService(ledger, risk, &fakeReturns{err: boom}, NewOutcomeService(NewMemoryOutcomeStore(), logger), logger)
	r := 0.01
	err := svc.Record(ctx, PnLReport{StrategyID: "s1", PnL: 10, Return: &r, OutcomeID: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 10.0, ledger.pnl)
}
