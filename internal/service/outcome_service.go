package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/google/uuid"
)

// OutcomeService links ML predictions to realized trade results so model
// accuracy can be tracked over time.
type OutcomeService struct {
	store  domain.OutcomeStore
	now    func() time.Time
	logger *slog.Logger
}

// NewOutcomeService creates an OutcomeService backed by store.
func NewOutcomeService(store domain.OutcomeStore, logger *slog.Logger) *OutcomeService {
	return &OutcomeService{
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "outcome_service")),
	}
}

// RecordPrediction stores the prediction made when a position was opened and
// returns the stored record with its assigned ID.
func (s *OutcomeService) RecordPrediction(ctx context.Context, o domain.TradeOutcome) (domain.TradeOutcome, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}
	o.RealizedPnL = nil
	o.ClosedAt = nil
	if err := s.store.Create(ctx, o); err != nil {
		return domain.TradeOutcome{}, fmt.Errorf("outcome_service: record prediction: %w", err)
	}
	s.logger.DebugContext(ctx, "outcome_service: prediction recorded",
		slog.String("id", o.ID),
		slog.String("strategy_id", o.StrategyID),
		slog.Float64("pop", o.ProbabilityOfProfit),
	)
	return o, nil
}

// RecordOutcome closes a recorded prediction with its realized PnL.
func (s *OutcomeService) RecordOutcome(ctx context.Context, id string, realizedPnL float64) error {
	if err := s.store.Close(ctx, id, realizedPnL, s.now().UTC()); err != nil {
		return fmt.Errorf("outcome_service: record outcome %s: %w", id, err)
	}
	return nil
}

// Accuracy returns the share of closed trades in [from, to] whose profitable
// result matched a predicted pop above 0.5, along with the sample size.
func (s *OutcomeService) Accuracy(ctx context.Context, from, to time.Time) (float64, int, error) {
	closed, err := s.store.ListClosed(ctx, domain.ListOpts{Since: &from, Until: &to})
	if err != nil {
		return 0, 0, fmt.Errorf("outcome_service: list closed: %w", err)
	}
	if len(closed) == 0 {
		return 0, 0, nil
	}
	hits := 0
	for _, o := range closed {
		if o.RealizedPnL == nil {
			continue
		}
		if (*o.RealizedPnL > 0) == (o.ProbabilityOfProfit > 0.5) {
			hits++
		}
	}
	return float64(hits) / float64(len(closed)), len(closed), nil
}

// MemoryOutcomeStore is an in-process domain.OutcomeStore.
type MemoryOutcomeStore struct {
	mu   sync.RWMutex
	rows map[string]domain.TradeOutcome
}

var _ domain.OutcomeStore = (*MemoryOutcomeStore)(nil)

// NewMemoryOutcomeStore returns an empty store.
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{rows: make(map[string]domain.TradeOutcome)}
}

func (m *MemoryOutcomeStore) Create(_ context.Context, o domain.TradeOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[o.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.rows[o.ID] = o
	return nil
}

func (m *MemoryOutcomeStore) Close(_ context.Context, id string, realizedPnL float64, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.RealizedPnL = &realizedPnL
	o.ClosedAt = &closedAt
	m.rows[id] = o
	return nil
}

func (m *MemoryOutcomeStore) GetByID(_ context.Context, id string) (domain.TradeOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.rows[id]
	if !ok {
		return domain.TradeOutcome{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *MemoryOutcomeStore) ListClosed(_ context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TradeOutcome
	for _, o := range m.rows {
		if o.ClosedAt == nil {
			continue
		}
		if opts.Since != nil && o.ClosedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && o.ClosedAt.After(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
