package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/shopspring/decimal"
)

// SizingConfig holds the Kelly coefficient and portfolio ceilings.
type SizingConfig struct {
	KellyFraction     float64
	MaxSinglePosition float64
	MaxPortfolioDelta float64
	MaxPortfolioVega  float64
	// LockTTL bounds how long a cross-process owner lock may be held.
	LockTTL time.Duration
}

// DefaultSizingConfig returns the stock sizing parameters.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		KellyFraction:     0.25,
		MaxSinglePosition: 50000,
		MaxPortfolioDelta: 1000,
		MaxPortfolioVega:  500,
		LockTTL:           5 * time.Second,
	}
}

// lockRetryDelay is the poll interval while waiting on a held owner lock.
const lockRetryDelay = 10 * time.Millisecond

// SizingService computes Kelly position sizes constrained by each owner's
// portfolio delta and vega. Reads and writes of one owner's Greeks are
// serialized so concurrent sizing never sees stale exposure.
type SizingService struct {
	state  domain.RiskStateStore
	locks  domain.LockManager // optional, extends serialization across processes
	cfg    SizingConfig
	logger *slog.Logger

	kelly     decimal.Decimal
	maxSingle decimal.Decimal
	maxDelta  decimal.Decimal
	maxVega   decimal.Decimal

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewSizingService creates a SizingService. locks may be nil.
func NewSizingService(state domain.RiskStateStore, locks domain.LockManager, cfg SizingConfig, logger *slog.Logger) *SizingService {
	return &SizingService{
		state:     state,
		locks:     locks,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sizing_service")),
		kelly:     decimal.NewFromFloat(cfg.KellyFraction),
		maxSingle: decimal.NewFromFloat(cfg.MaxSinglePosition),
		maxDelta:  decimal.NewFromFloat(cfg.MaxPortfolioDelta),
		maxVega:   decimal.NewFromFloat(cfg.MaxPortfolioVega),
		owners:    make(map[string]*sync.Mutex),
	}
}

// Size computes the position size for req against the owner's current Greeks.
// It does not reserve the resulting exposure; see SizeAndReserve.
func (s *SizingService) Size(ctx context.Context, req domain.SizeRequest) (domain.PositionSizeResult, error) {
	unlock, err := s.lockOwner(ctx, req.OwnerID)
	if err != nil {
		return domain.PositionSizeResult{}, err
	}
	defer unlock()
	return s.size(ctx, req)
}

// SizeAndReserve sizes req and commits the resulting delta and vega to the
// owner's portfolio inside the same critical section.
func (s *SizingService) SizeAndReserve(ctx context.Context, req domain.SizeRequest) (domain.PositionSizeResult, error) {
	unlock, err := s.lockOwner(ctx, req.OwnerID)
	if err != nil {
		return domain.PositionSizeResult{}, err
	}
	defer unlock()

	res, err := s.size(ctx, req)
	if err != nil {
		return res, err
	}
	if res.LotCount == 0 {
		return res, nil
	}
	delta, _ := res.FinalSize.Mul(req.DeltaPerUnit).Float64()
	vega, _ := res.FinalSize.Mul(req.VegaPerUnit).Float64()
	if err := s.state.AddGreeks(ctx, req.OwnerID, delta, vega); err != nil {
		return res, fmt.Errorf("sizing_service: reserve greeks: %w", err)
	}
	return res, nil
}

// Commit adds a filled position's Greeks to the owner's portfolio.
func (s *SizingService) Commit(ctx context.Context, ownerID string, delta, vega float64) error {
	unlock, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.state.AddGreeks(ctx, ownerID, delta, vega); err != nil {
		return fmt.Errorf("sizing_service: commit greeks: %w", err)
	}
	s.logger.DebugContext(ctx, "sizing_service: portfolio greeks updated",
		slog.String("owner_id", ownerID),
		slog.Float64("delta_change", delta),
		slog.Float64("vega_change", vega),
	)
	return nil
}

// PortfolioRisk reports the owner's current exposure and how much of each
// ceiling is used.
func (s *SizingService) PortfolioRisk(ctx context.Context, ownerID string) (domain.PortfolioRiskState, error) {
	delta, vega, err := s.state.Greeks(ctx, ownerID)
	if err != nil {
		return domain.PortfolioRiskState{}, fmt.Errorf("sizing_service: load greeks: %w", err)
	}
	out := domain.PortfolioRiskState{OwnerID: ownerID, CurrentDelta: delta, CurrentVega: vega}
	if s.cfg.MaxPortfolioDelta > 0 {
		out.DeltaUtilization = abs(delta) / s.cfg.MaxPortfolioDelta
	}
	if s.cfg.MaxPortfolioVega > 0 {
		out.VegaUtilization = abs(vega) / s.cfg.MaxPortfolioVega
	}
	return out, nil
}

func (s *SizingService) size(ctx context.Context, req domain.SizeRequest) (domain.PositionSizeResult, error) {
	if !req.MaxLoss.IsPositive() {
		return domain.PositionSizeResult{}, fmt.Errorf("sizing_service: max loss must be positive: %w", domain.ErrInvalidOrder)
	}

	// Kelly: f = (p*b - (1-p)) / b, scaled by the fractional coefficient.
	p := decimal.NewFromFloat(req.Prediction.ProbabilityOfProfit)
	b := req.MaxProfit.DivRound(req.MaxLoss, 4)
	f := decimal.Zero
	if b.IsPositive() {
		f = p.Mul(b).Sub(decimal.NewFromInt(1).Sub(p)).Div(b).Mul(s.kelly)
		f = decimal.Max(f, decimal.Zero)
	}

	kellyCapital := req.AvailableCapital.Mul(f)
	staticLimited := decimal.Min(kellyCapital, s.maxSingle)

	curDelta, curVega, err := s.state.Greeks(ctx, req.OwnerID)
	if err != nil {
		return domain.PositionSizeResult{}, fmt.Errorf("sizing_service: load greeks: %w", err)
	}

	riskLimited := staticLimited
	if reduced, ok := limitByGreek(riskLimited, decimal.NewFromFloat(curDelta), req.DeltaPerUnit, s.maxDelta); ok {
		riskLimited = reduced
		s.logger.WarnContext(ctx, "sizing_service: position reduced by delta limit",
			slog.String("owner_id", req.OwnerID),
			slog.String("size", riskLimited.StringFixed(2)),
		)
	}
	if reduced, ok := limitByGreek(riskLimited, decimal.NewFromFloat(curVega), req.VegaPerUnit, s.maxVega); ok {
		riskLimited = reduced
		s.logger.WarnContext(ctx, "sizing_service: position reduced by vega limit",
			slog.String("owner_id", req.OwnerID),
			slog.String("size", riskLimited.StringFixed(2)),
		)
	}

	res := domain.PositionSizeResult{
		FinalSize:            riskLimited,
		KellyFraction:        f,
		KellyCapital:         kellyCapital,
		StaticLimitedCapital: staticLimited,
		RiskLimitedCapital:   riskLimited,
		LotCount:             lotCount(riskLimited, req.LotSize),
	}

	s.logger.InfoContext(ctx, "sizing_service: position sized",
		slog.String("owner_id", req.OwnerID),
		slog.String("kelly", kellyCapital.StringFixed(2)),
		slog.String("static", staticLimited.StringFixed(2)),
		slog.String("risk_limited", riskLimited.StringFixed(2)),
		slog.Int64("lots", res.LotCount),
	)
	return res, nil
}

// limitByGreek shrinks size so |current + size*perUnit| lands on ceiling.
// ok is false when no reduction was needed.
func limitByGreek(size, current, perUnit, ceiling decimal.Decimal) (decimal.Decimal, bool) {
	if perUnit.IsZero() {
		return size, false
	}
	next := current.Add(size.Mul(perUnit)).Abs()
	if next.LessThanOrEqual(ceiling) {
		return size, false
	}
	excess := next.Sub(ceiling)
	reduction := excess.Div(perUnit.Abs())
	return decimal.Max(size.Sub(reduction), decimal.Zero), true
}

// lotCount floors size against the lot, never returning zero for a positive
// size.
func lotCount(size decimal.Decimal, lotSize int64) int64 {
	if !size.IsPositive() {
		return 0
	}
	if lotSize <= 0 {
		lotSize = 1
	}
	lots := size.Div(decimal.NewFromInt(lotSize)).Floor().IntPart()
	if lots < 1 {
		return 1
	}
	return lots
}

// lockOwner serializes work for one owner in-process and, when a
// LockManager is configured, across processes.
func (s *SizingService) lockOwner(ctx context.Context, ownerID string) (func(), error) {
	s.mu.Lock()
	m, ok := s.owners[ownerID]
	if !ok {
		m = &sync.Mutex{}
		s.owners[ownerID] = m
	}
	s.mu.Unlock()

	m.Lock()
	if s.locks == nil {
		return m.Unlock, nil
	}

	key := "sizing:" + ownerID
	for {
		release, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return func() {
				release()
				m.Unlock()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			m.Unlock()
			return nil, fmt.Errorf("sizing_service: acquire owner lock: %w", err)
		}
		select {
		case <-ctx.Done():
			m.Unlock()
			return nil, fmt.Errorf("sizing_service: acquire owner lock: %w", ctx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
