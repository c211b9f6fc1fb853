package domain

import "time"

// StrategyType names one of the closed set of evaluator implementations.
type StrategyType string

const (
	StrategyMovingAverageCrossover StrategyType = "moving_average_crossover"
	StrategyRSI                    StrategyType = "rsi"
	StrategyMACD                   StrategyType = "macd"
	StrategyBreakout               StrategyType = "breakout"
	StrategyIronCondor             StrategyType = "iron_condor"
	StrategyEMARSI                 StrategyType = "ema_rsi"
)

// StrategySpec is the deployment request for a strategy instance.
type StrategySpec struct {
	Type       StrategyType       `json:"type"`
	Symbol     string             `json:"symbol"`
	OwnerID    string             `json:"owner_id"`
	Parameters map[string]float64 `json:"parameters"`
}

// StrategyInstance is a deployed strategy. The engine owns it; external
// callers only ever see copies.
type StrategyInstance struct {
	ID             string             `json:"id"`
	Type           StrategyType       `json:"type"`
	Symbol         string             `json:"symbol"`
	OwnerID        string             `json:"owner_id"`
	Parameters     map[string]float64 `json:"parameters"`
	Active         bool               `json:"active"`
	InPosition     bool               `json:"in_position"`
	PnL            float64            `json:"pnl"`
	ExecutedTrades int                `json:"executed_trades"`
	DeployedAt     time.Time          `json:"deployed_at"`

	// Exit levels carried by the BUY that opened the current position.
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

// Param returns a named parameter and whether it was set.
func (s StrategyInstance) Param(name string) (float64, bool) {
	v, ok := s.Parameters[name]
	return v, ok
}

// ParamOr returns a named parameter or def when it is unset.
func (s StrategyInstance) ParamOr(name string, def float64) float64 {
	if v, ok := s.Parameters[name]; ok {
		return v
	}
	return def
}

// Clone returns a deep copy safe to hand outside the engine.
func (s StrategyInstance) Clone() StrategyInstance {
	out := s
	if s.Parameters != nil {
		out.Parameters = make(map[string]float64, len(s.Parameters))
		for k, v := range s.Parameters {
			out.Parameters[k] = v
		}
	}
	out.StopLoss = copyLevel(s.StopLoss)
	out.TakeProfit = copyLevel(s.TakeProfit)
	return out
}

func copyLevel(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
