package strategy

import (
	"context"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Evaluator is the per-type trading logic behind a deployed strategy. It is
// selected once at deployment from the Registry.
//
// Evaluate receives a copy of the instance and the symbol's price history,
// which already includes the current tick. It returns nil when the tick
// produces no trade. The engine stamps the signal's ID, strategy and
// timestamp.
type Evaluator interface {
	Type() domain.StrategyType
	Validate(params map[string]float64) error
	Evaluate(ctx context.Context, inst domain.StrategyInstance, tick domain.MarketTick, hist *History) (*domain.Signal, error)
}

// Predictor scores a feature vector. It never fails; a degraded model returns
// the fallback prediction.
type Predictor interface {
	Predict(ctx context.Context, features map[string]float64) domain.Prediction
}

// Sizer computes a Kelly position size without reserving exposure.
type Sizer interface {
	Size(ctx context.Context, req domain.SizeRequest) (domain.PositionSizeResult, error)
}

// OutcomeRecorder stores predictions for later accuracy tracking.
type OutcomeRecorder interface {
	RecordPrediction(ctx context.Context, o domain.TradeOutcome) (domain.TradeOutcome, error)
}
