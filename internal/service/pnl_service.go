package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// StrategyLedger is the strategy engine's PnL surface.
type StrategyLedger interface {
	Get(id string) (domain.StrategyInstance, error)
	UpdatePnL(id string, pnl float64) error
}

// ReturnRecorder receives a strategy's daily return.
type ReturnRecorder interface {
	RecordReturn(ctx context.Context, strategyID string, r float64) error
}

// PnLReport is one realized result reported for a strategy. Return and
// OutcomeID are optional.
type PnLReport struct {
	StrategyID string   `json:"strategy_id"`
	PnL        float64  `json:"pnl"`
	Return     *float64 `json:"return,omitempty"`
	OutcomeID  string   `json:"outcome_id,omitempty"`
}

// PnLService fans a realized result out to everything that tracks it: the
// strategy's cumulative PnL, the owner's daily loss counter, the allocator's
// return series and the ML outcome log.
type PnLService struct {
	strategies StrategyLedger
	risk       *RiskService
	returns    ReturnRecorder  // optional
	outcomes   *OutcomeService // optional
	logger     *slog.Logger
}

// NewPnLService creates a PnLService. returns and outcomes may be nil.
func NewPnLService(strategies StrategyLedger, risk *RiskService, returns ReturnRecorder, outcomes *OutcomeService, logger *slog.Logger) *PnLService {
	return &PnLService{
		strategies: strategies,
		risk:       risk,
		returns:    returns,
		outcomes:   outcomes,
		logger:     logger.With(slog.String("component", "pnl_service")),
	}
}

// Record applies rep. The strategy must exist; once its PnL is updated the
// remaining sinks are all attempted and their failures joined.
func (s *PnLService) Record(ctx context.Context, rep PnLReport) error {
	if math.IsNaN(rep.PnL) || math.IsInf(rep.PnL, 0) {
		return fmt.Errorf("pnl_service: pnl must be finite: %w", domain.ErrInvalidOrder)
	}
	inst, err := s.strategies.Get(rep.StrategyID)
	if err != nil {
		return fmt.Errorf("pnl_service: %w", err)
	}
	if err := s.strategies.UpdatePnL(inst.ID, rep.PnL); err != nil {
		return fmt.Errorf("pnl_service: update strategy: %w", err)
	}

	var errs []error
	if err := s.risk.RecordPnL(ctx, inst.OwnerID, rep.PnL); err != nil {
		errs = append(errs, err)
	}
	if rep.Return != nil && s.returns != nil {
		if err := s.returns.RecordReturn(ctx, inst.ID, *rep.Return); err != nil {
			errs = append(errs, err)
		}
	}
	if rep.OutcomeID != "" && s.outcomes != nil {
		if err := s.outcomes.RecordOutcome(ctx, rep.OutcomeID, rep.PnL); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.InfoContext(ctx, "pnl_service: result recorded",
		slog.String("strategy_id", inst.ID),
		slog.String("owner_id", inst.OwnerID),
		slog.Float64("pnl", rep.PnL),
		slog.Int("failed_sinks", len(errs)),
	)
	if len(errs) > 0 {
		return fmt.Errorf("pnl_service: %w", errors.Join(errs...))
	}
	return nil
}
