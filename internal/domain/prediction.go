package domain

import "time"

// Prediction is the ML gateway's answer. Reason is "fallback" whenever the
// model could not be consulted.
type Prediction struct {
	ProbabilityOfProfit float64 `json:"probabilityOfProfit"`
	Confidence          float64 `json:"confidence"`
	ModelVersion        string  `json:"modelVersion"`
	Reason              string  `json:"reason"`
}

// ShouldTrade is the ML gate.
func (p Prediction) ShouldTrade() bool {
	return p.ProbabilityOfProfit > 0.6 && p.Confidence > 0.5
}

// IsHighConfidence reports confidence above 0.7.
func (p Prediction) IsHighConfidence() bool {
	return p.Confidence > 0.7
}

// IsFallback reports whether the prediction is the degraded default.
func (p Prediction) IsFallback() bool {
	return p.Reason == FallbackReason
}

// FallbackReason marks the deterministic degraded prediction.
const FallbackReason = "fallback"

// FallbackPrediction is returned when the model is unavailable.
func FallbackPrediction() Prediction {
	return Prediction{
		ProbabilityOfProfit: 0.5,
		Confidence:          0.3,
		ModelVersion:        FallbackReason,
		Reason:              FallbackReason,
	}
}

// TradeOutcome links a prediction to the trade's realized result.
type TradeOutcome struct {
	ID                  string             `json:"id"`
	StrategyID          string             `json:"strategy_id"`
	OwnerID             string             `json:"owner_id"`
	ProbabilityOfProfit float64            `json:"probability_of_profit"`
	Confidence          float64            `json:"confidence"`
	ModelVersion        string             `json:"model_version"`
	Features            map[string]float64 `json:"features"`
	PositionSize        float64            `json:"position_size"`
	RealizedPnL         *float64           `json:"realized_pnl,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	ClosedAt            *time.Time         `json:"closed_at,omitempty"`
}
