package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// RiskConfig holds the tunable parameters for pre-trade risk checks.
type RiskConfig struct {
	MaxDailyLoss        float64 // positive; applied as a floor of -MaxDailyLoss
	MaxDailyTrades      int
	MaxOrderNotional    float64
	MaxPositionNotional float64
}

// DefaultRiskConfig returns the stock limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyLoss:        10000,
		MaxDailyTrades:      100,
		MaxOrderNotional:    10000,
		MaxPositionNotional: 100000,
	}
}

// RiskService provides pre-trade risk checks to ensure orders stay within
// configured risk limits before being submitted. It never mutates counters on
// its own; callers report fills and PnL after the fact.
type RiskService struct {
	state  domain.RiskStateStore
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(state domain.RiskStateStore, cfg RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		state:  state,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// Validate checks sig against the owner's daily counters and the strategy's
// own caps. The first failed check short-circuits with a *domain.RiskRejection.
//
// Checks performed, in order:
//  1. Daily realized loss above the floor
//  2. Daily trade count below the cap
//  3. Single-order notional within the cap
//  4. Implied position notional within the cap
//  5. Strategy maxLoss parameter
//  6. Strategy maxTrades parameter
func (s *RiskService) Validate(ctx context.Context, sig domain.Signal, inst domain.StrategyInstance) (domain.Signal, error) {
	counters, err := s.state.Counters(ctx, inst.OwnerID)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("risk_service: load counters: %w", err)
	}

	// Check 1: daily loss floor.
	if floor := -s.cfg.MaxDailyLoss; counters.DailyPnL <= floor {
		return domain.Signal{}, s.reject(ctx, sig, inst, domain.RejectDailyLoss,
			fmt.Sprintf("daily pnl %.2f breached floor %.2f", counters.DailyPnL, floor))
	}

	// Check 2: daily trade count.
	if counters.DailyTrades >= s.cfg.MaxDailyTrades {
		return domain.Signal{}, s.reject(ctx, sig, inst, domain.RejectDailyTrades,
			fmt.Sprintf("daily trades %d reached cap %d", counters.DailyTrades, s.cfg.MaxDailyTrades))
	}

	// Check 3: order size.
	orderValue := sig.Notional()
	if orderValue > s.cfg.MaxOrderNotional {
		return domain.Signal{}, s.reject(ctx, sig, inst, domain.RejectOrderSize,
			fmt.Sprintf("order size %.2f exceeds max %.2f", orderValue, s.cfg.MaxOrderNotional))
	}

	// Check 4: position size.
	if implied := counters.OpenNotional + orderValue; implied > s.cfg.MaxPositionNotional {
		return domain.Signal{}, s.reject(ctx, sig, inst, domain.RejectPositionSize,
			fmt.Sprintf("position size %.2f exceeds max %.2f", implied, s.cfg.MaxPositionNotional))
	}

	// Check 5: strategy max loss.
	if maxLoss, ok := inst.Param("maxLoss"); ok && inst.PnL <= -maxLoss {
		return domain.Signal{}, s.reject(ctx, sig, inst, domain.RejectStrategyMaxLoss,
			fmt.Sprintf("strategy pnl %.2f breached max loss %.2f", inst.PnL, maxLoss))
	}

	// Check 6: strategy max trades.
	if maxTrades, ok := inst.Param("maxTrades"); ok && float64(inst.ExecutedTrades) >= maxTrades {
		return domain.Signal{}, s.reject(ctx, sig, inst, domain.RejectStrategyMaxTrade,
			fmt.Sprintf("strategy trades %d reached max %d", inst.ExecutedTrades, int(maxTrades)))
	}

	return sig, nil
}

func (s *RiskService) reject(ctx context.Context, sig domain.Signal, inst domain.StrategyInstance, reason domain.RejectReason, msg string) error {
	s.logger.WarnContext(ctx, "risk_service: signal rejected",
		slog.String("reason", string(reason)),
		slog.String("strategy_id", inst.ID),
		slog.String("owner_id", inst.OwnerID),
		slog.String("symbol", sig.Symbol),
		slog.String("detail", msg),
	)
	return &domain.RiskRejection{Reason: reason, Message: msg}
}

// RecordFill counts a confirmed fill against the owner's daily trade count and
// open notional.
func (s *RiskService) RecordFill(ctx context.Context, ownerID string, notional float64) error {
	if err := s.state.AddTrade(ctx, ownerID, notional); err != nil {
		return fmt.Errorf("risk_service: record fill: %w", err)
	}
	return nil
}

// RecordPnL adds realized PnL to the owner's daily total.
func (s *RiskService) RecordPnL(ctx context.Context, ownerID string, pnl float64) error {
	if err := s.state.AddPnL(ctx, ownerID, pnl); err != nil {
		return fmt.Errorf("risk_service: record pnl: %w", err)
	}
	return nil
}

// IsCircuitBreakerTriggered reports whether the owner has breached the daily
// loss floor.
func (s *RiskService) IsCircuitBreakerTriggered(ctx context.Context, ownerID string) (bool, error) {
	counters, err := s.state.Counters(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("risk_service: load counters: %w", err)
	}
	return counters.DailyPnL <= -s.cfg.MaxDailyLoss, nil
}

// Counters exposes the owner's current daily counters.
func (s *RiskService) Counters(ctx context.Context, ownerID string) (domain.RiskCounters, error) {
	return s.state.Counters(ctx, ownerID)
}

// ResetDaily clears every owner's daily counters.
func (s *RiskService) ResetDaily(ctx context.Context) error {
	if err := s.state.ResetDaily(ctx); err != nil {
		return fmt.Errorf("risk_service: reset daily: %w", err)
	}
	s.logger.InfoContext(ctx, "risk_service: daily counters reset")
	return nil
}
