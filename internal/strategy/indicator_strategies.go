package strategy

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

const (
	defaultRSIPeriod      = 14
	defaultOversold       = 30.0
	defaultOverbought     = 70.0
	defaultBreakoutPeriod = 20
)

// MovingAverageCrossover buys when the fastMA-period SMA is above the
// slowMA-period SMA and sells when it falls back below.
type MovingAverageCrossover struct{}

func (MovingAverageCrossover) Type() domain.StrategyType { return domain.StrategyMovingAverageCrossover }

func (MovingAverageCrossover) Validate(params map[string]float64) error {
	if err := requireQuantity(params); err != nil {
		return err
	}
	fast, slow := params["fastMA"], params["slowMA"]
	if fast < 1 || slow < 1 {
		return fmt.Errorf("fastMA and slowMA must be at least 1: %w", domain.ErrInvalidOrder)
	}
	if fast >= slow {
		return fmt.Errorf("fastMA %v must be shorter than slowMA %v: %w", fast, slow, domain.ErrInvalidOrder)
	}
	return nil
}

func (MovingAverageCrossover) Evaluate(_ context.Context, inst domain.StrategyInstance, tick domain.MarketTick, hist *History) (*domain.Signal, error) {
	prices := hist.Prices(tick.Symbol)
	fast, okFast := SMA(prices, int(inst.ParamOr("fastMA", 0)))
	slow, okSlow := SMA(prices, int(inst.ParamOr("slowMA", 0)))
	if !okFast || !okSlow {
		return nil, nil
	}
	switch {
	case fast > slow && !inst.InPosition:
		return entry(inst, tick, "Fast MA crossed above Slow MA"), nil
	case fast < slow && inst.InPosition:
		return exit(inst, tick, "Fast MA crossed below Slow MA"), nil
	}
	return nil, nil
}

// RSIThreshold buys an oversold symbol and sells it once overbought.
// Parameters period, oversold and overbought default to 14, 30 and 70.
type RSIThreshold struct{}

func (RSIThreshold) Type() domain.StrategyType { return domain.StrategyRSI }

func (RSIThreshold) Validate(params map[string]float64) error {
	if err := requireQuantity(params); err != nil {
		return err
	}
	if p, ok := params["period"]; ok && p < 1 {
		return fmt.Errorf("period must be at least 1: %w", domain.ErrInvalidOrder)
	}
	return nil
}

func (RSIThreshold) Evaluate(_ context.Context, inst domain.StrategyInstance, tick domain.MarketTick, hist *History) (*domain.Signal, error) {
	rsi, ok := RSI(hist.Prices(tick.Symbol), int(inst.ParamOr("period", defaultRSIPeriod)))
	if !ok {
		return nil, nil
	}
	switch {
	case rsi < inst.ParamOr("oversold", defaultOversold) && !inst.InPosition:
		return entry(inst, tick, "RSI oversold"), nil
	case rsi > inst.ParamOr("overbought", defaultOverbought) && inst.InPosition:
		return exit(inst, tick, "RSI overbought"), nil
	}
	return nil, nil
}

// MACDCrossover trades the MACD line against its signal line.
type MACDCrossover struct{}

func (MACDCrossover) Type() domain.StrategyType { return domain.StrategyMACD }

func (MACDCrossover) Validate(params map[string]float64) error {
	return requireQuantity(params)
}

func (MACDCrossover) Evaluate(_ context.Context, inst domain.StrategyInstance, tick domain.MarketTick, hist *History) (*domain.Signal, error) {
	macd, signal, ok := MACD(hist.Prices(tick.Symbol))
	if !ok {
		return nil, nil
	}
	switch {
	case macd > signal && !inst.InPosition:
		return entry(inst, tick, "MACD bullish crossover"), nil
	case macd < signal && inst.InPosition:
		return exit(inst, tick, "MACD bearish crossover"), nil
	}
	return nil, nil
}

// Breakout buys when price clears the prior period's high and sells when it
// breaks the prior period's low. The current tick is not part of the range.
type Breakout struct{}

func (Breakout) Type() domain.StrategyType { return domain.StrategyBreakout }

func (Breakout) Validate(params map[string]float64) error {
	if err := requireQuantity(params); err != nil {
		return err
	}
	if p, ok := params["period"]; ok && p < 1 {
		return fmt.Errorf("period must be at least 1: %w", domain.ErrInvalidOrder)
	}
	return nil
}

func (Breakout) Evaluate(_ context.Context, inst domain.StrategyInstance, tick domain.MarketTick, hist *History) (*domain.Signal, error) {
	prices := hist.Prices(tick.Symbol)
	if len(prices) < 2 {
		return nil, nil
	}
	prior := prices[:len(prices)-1]
	period := int(inst.ParamOr("period", defaultBreakoutPeriod))
	resistance, okHi := Resistance(prior, period)
	support, okLo := Support(prior, period)
	if !okHi || !okLo {
		return nil, nil
	}
	switch {
	case tick.Price > resistance && !inst.InPosition:
		return entry(inst, tick, fmt.Sprintf("Breakout above resistance %.2f", resistance)), nil
	case tick.Price < support && inst.InPosition:
		return exit(inst, tick, fmt.Sprintf("Breakdown below support %.2f", support)), nil
	}
	return nil, nil
}

func requireQuantity(params map[string]float64) error {
	if params["quantity"] < 1 {
		return fmt.Errorf("quantity must be at least 1: %w", domain.ErrInvalidOrder)
	}
	return nil
}

// entry builds a BUY at the tick price carrying the instance's optional
// stopLoss and takeProfit levels.
func entry(inst domain.StrategyInstance, tick domain.MarketTick, reason string) *domain.Signal {
	sig := &domain.Signal{
		Symbol:   tick.Symbol,
		Side:     domain.SideBuy,
		Price:    tick.Price,
		Quantity: int(inst.ParamOr("quantity", 0)),
		Reason:   reason,
	}
	if v, ok := inst.Param("stopLoss"); ok {
		sig.StopLoss = &v
	}
	if v, ok := inst.Param("takeProfit"); ok {
		sig.TakeProfit = &v
	}
	return sig
}

func exit(inst domain.StrategyInstance, tick domain.MarketTick, reason string) *domain.Signal {
	return &domain.Signal{
		Symbol:   tick.Symbol,
		Side:     domain.SideSell,
		Price:    tick.Price,
		Quantity: int(inst.ParamOr("quantity", 0)),
		Reason:   reason,
	}
}
