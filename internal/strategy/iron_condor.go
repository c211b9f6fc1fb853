package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// IronCondor enters a short iron condor when the ML model predicts a
// favorable outcome and the Kelly sizer allows at least one lot. The signal
// price is the configured net credit and its quantity is the lot count.
//
// Parameters: netCredit, maxProfit, maxLoss, availableCapital (required);
// daysToExpiry, strikeWidth, putStrikeDistance, callStrikeDistance,
// profitProbability, deltaPerUnit, vegaPerUnit, lotSize (optional).
type IronCondor struct {
	predictor Predictor
	sizer     Sizer
	outcomes  OutcomeRecorder
	logger    *slog.Logger
}

// NewIronCondor creates the evaluator. outcomes may be nil, in which case
// predictions are not recorded.
func NewIronCondor(predictor Predictor, sizer Sizer, outcomes OutcomeRecorder, logger *slog.Logger) *IronCondor {
	return &IronCondor{
		predictor: predictor,
		sizer:     sizer,
		outcomes:  outcomes,
		logger:    logger.With(slog.String("strategy", "iron_condor")),
	}
}

func (ic *IronCondor) Type() domain.StrategyType { return domain.StrategyIronCondor }

func (ic *IronCondor) Validate(params map[string]float64) error {
	for _, name := range []string{"netCredit", "maxProfit", "maxLoss", "availableCapital"} {
		if params[name] <= 0 {
			return fmt.Errorf("%s must be positive: %w", name, domain.ErrInvalidOrder)
		}
	}
	return nil
}

func (ic *IronCondor) Evaluate(ctx context.Context, inst domain.StrategyInstance, tick domain.MarketTick, hist *History) (*domain.Signal, error) {
	if inst.InPosition {
		return nil, nil
	}

	features := ic.features(inst, tick, hist)
	pred := ic.predictor.Predict(ctx, features)
	if !pred.ShouldTrade() {
		ic.logger.DebugContext(ctx, "ml gate rejected trade",
			slog.String("symbol", tick.Symbol),
			slog.Float64("pop", pred.ProbabilityOfProfit),
			slog.Float64("confidence", pred.Confidence),
		)
		return nil, nil
	}

	sized, err := ic.sizer.Size(ctx, domain.SizeRequest{
		Prediction:       pred,
		MaxProfit:        decimal.NewFromFloat(inst.ParamOr("maxProfit", 0)),
		MaxLoss:          decimal.NewFromFloat(inst.ParamOr("maxLoss", 0)),
		AvailableCapital: decimal.NewFromFloat(inst.ParamOr("availableCapital", 0)),
		OwnerID:          inst.OwnerID,
		DeltaPerUnit:     decimal.NewFromFloat(inst.ParamOr("deltaPerUnit", 0)),
		VegaPerUnit:      decimal.NewFromFloat(inst.ParamOr("vegaPerUnit", 0)),
		LotSize:          int64(inst.ParamOr("lotSize", 1)),
	})
	if err != nil {
		return nil, fmt.Errorf("iron condor: size: %w", err)
	}
	if sized.LotCount == 0 {
		ic.logger.InfoContext(ctx, "position size too small", slog.String("symbol", tick.Symbol))
		return nil, nil
	}

	if ic.outcomes != nil {
		size, _ := sized.FinalSize.Float64()
		_, err := ic.outcomes.RecordPrediction(ctx, domain.TradeOutcome{
			StrategyID:          inst.ID,
			OwnerID:             inst.OwnerID,
			ProbabilityOfProfit: pred.ProbabilityOfProfit,
			Confidence:          pred.Confidence,
			ModelVersion:        pred.ModelVersion,
			Features:            features,
			PositionSize:        size,
		})
		if err != nil {
			ic.logger.WarnContext(ctx, "record prediction failed",
				slog.String("strategy_id", inst.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &domain.Signal{
		Symbol:   tick.Symbol,
		Side:     domain.SideBuy,
		Price:    inst.ParamOr("netCredit", 0),
		Quantity: int(sized.LotCount),
		Reason:   fmt.Sprintf("Iron Condor: ML POP=%.2f, Kelly lots=%d", pred.ProbabilityOfProfit, sized.LotCount),
	}, nil
}

// features builds the model input from the tick, the strategy geometry and
// the symbol's recent history.
func (ic *IronCondor) features(inst domain.StrategyInstance, tick domain.MarketTick, hist *History) map[string]float64 {
	prices := hist.Prices(tick.Symbol)
	vol, ok := Volatility(prices)
	if !ok {
		vol = 0.2
	}
	return map[string]float64{
		"underlying_price":     tick.Price,
		"volume":               tick.Volume,
		"volatility":           vol,
		"days_to_expiry":       inst.ParamOr("daysToExpiry", 0),
		"strike_width":         inst.ParamOr("strikeWidth", 0),
		"put_strike_distance":  inst.ParamOr("putStrikeDistance", 0),
		"call_strike_distance": inst.ParamOr("callStrikeDistance", 0),
		"max_profit":           inst.ParamOr("maxProfit", 0),
		"max_loss":             inst.ParamOr("maxLoss", 0),
		"profit_probability":   inst.ParamOr("profitProbability", 0),
		"market_trend":         marketTrend(prices, tick.Price),
		"volatility_rank":      volatilityRank(prices),
	}
}

// marketTrend is 1 when price is at or above the history mean, -1 below it.
func marketTrend(prices []float64, price float64) float64 {
	mean, ok := SMA(prices, len(prices))
	if !ok || price >= mean {
		return 1
	}
	return -1
}

// volatilityRank is the share of past absolute returns no larger than the
// latest one. It is 0.5 without enough history.
func volatilityRank(prices []float64) float64 {
	rets := returns(prices)
	if len(rets) < 2 {
		return 0.5
	}
	last := math.Abs(rets[len(rets)-1])
	var below int
	for _, r := range rets[:len(rets)-1] {
		if math.Abs(r) <= last {
			below++
		}
	}
	return float64(below) / float64(len(rets)-1)
}
