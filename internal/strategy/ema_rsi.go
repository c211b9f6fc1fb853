package strategy

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

const (
	defaultFastEMA      = 9
	defaultSlowEMA      = 21
	defaultATRPeriod    = 14
	defaultVolumePeriod = 20
	defaultRiskReward   = 2.0

	// atrRate approximates the average true range as a share of the SMA.
	atrRate = 0.02
)

// EMARSI enters when the fast EMA has just crossed above the slow EMA, RSI
// sits between 50 and 70 and volume beats its average. The BUY carries an
// ATR stop below entry and a take-profit riskReward ATRs above it. A position
// is closed at either level or when the fast EMA drops below the slow one.
//
// Optional parameters: fastEma, slowEma, rsiPeriod, atrPeriod, volumePeriod,
// riskReward, and riskBudget, which sizes the BUY as riskBudget/ATR units.
type EMARSI struct{}

func (EMARSI) Type() domain.StrategyType { return domain.StrategyEMARSI }

func (EMARSI) Validate(params map[string]float64) error {
	if err := requireQuantity(params); err != nil {
		return err
	}
	for _, name := range []string{"fastEma", "slowEma", "rsiPeriod", "atrPeriod", "volumePeriod"} {
		if v, ok := params[name]; ok && v < 1 {
			return fmt.Errorf("%s must be at least 1: %w", name, domain.ErrInvalidOrder)
		}
	}
	fast, slow := paramOr(params, "fastEma", defaultFastEMA), paramOr(params, "slowEma", defaultSlowEMA)
	if fast >= slow {
		return fmt.Errorf("fastEma %v must be shorter than slowEma %v: %w", fast, slow, domain.ErrInvalidOrder)
	}
	if rr, ok := params["riskReward"]; ok && rr <= 0 {
		return fmt.Errorf("riskReward must be positive: %w", domain.ErrInvalidOrder)
	}
	return nil
}

func (EMARSI) Evaluate(_ context.Context, inst domain.StrategyInstance, tick domain.MarketTick, hist *History) (*domain.Signal, error) {
	prices := hist.Prices(tick.Symbol)
	fastPeriod := int(inst.ParamOr("fastEma", defaultFastEMA))
	slowPeriod := int(inst.ParamOr("slowEma", defaultSlowEMA))
	fast, okFast := EMA(prices, fastPeriod)
	slow, okSlow := EMA(prices, slowPeriod)
	if !okFast || !okSlow {
		return nil, nil
	}

	if inst.InPosition {
		switch {
		case inst.TakeProfit != nil && tick.Price >= *inst.TakeProfit:
			return exit(inst, tick, "Take Profit"), nil
		case inst.StopLoss != nil && tick.Price <= *inst.StopLoss:
			return exit(inst, tick, "Stop Loss"), nil
		case fast < slow:
			return exit(inst, tick, "Trend Reversal"), nil
		}
		return nil, nil
	}

	if fast <= slow {
		return nil, nil
	}
	prior := prices[:len(prices)-1]
	prevFast, okFast := EMA(prior, fastPeriod)
	prevSlow, okSlow := EMA(prior, slowPeriod)
	if !okFast || !okSlow || prevFast > prevSlow {
		return nil, nil
	}

	rsi, ok := RSI(prices, int(inst.ParamOr("rsiPeriod", defaultRSIPeriod)))
	if !ok || rsi <= 50 || rsi >= 70 {
		return nil, nil
	}
	volAvg, ok := SMA(hist.Volumes(tick.Symbol), int(inst.ParamOr("volumePeriod", defaultVolumePeriod)))
	if !ok || tick.Volume <= volAvg {
		return nil, nil
	}
	sma, ok := SMA(prices, int(inst.ParamOr("atrPeriod", defaultATRPeriod)))
	if !ok {
		return nil, nil
	}
	atr := sma * atrRate

	sig := entry(inst, tick, "EMA bullish crossover with RSI confirmation")
	stop := tick.Price - atr
	target := tick.Price + atr*inst.ParamOr("riskReward", defaultRiskReward)
	sig.StopLoss, sig.TakeProfit = &stop, &target
	if budget := inst.ParamOr("riskBudget", 0); budget > 0 && atr > 0 {
		if qty := int(budget / atr); qty >= 1 {
			sig.Quantity = qty
		}
	}
	return sig, nil
}

func paramOr(params map[string]float64, name string, def float64) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return def
}
