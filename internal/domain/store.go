package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExecutionStore persists the append-only TCA log.
type ExecutionStore interface {
	Append(ctx context.Context, m ExecutionMetrics) error
	ListRange(ctx context.Context, from, to time.Time) ([]ExecutionMetrics, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionMetrics, error)
}

// OutcomeStore persists ML predictions and their realized outcomes.
type OutcomeStore interface {
	Create(ctx context.Context, o TradeOutcome) error
	Close(ctx context.Context, id string, realizedPnL float64, closedAt time.Time) error
	GetByID(ctx context.Context, id string) (TradeOutcome, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]TradeOutcome, error)
}

// DailyReturn is one recorded return of a strategy.
type DailyReturn struct {
	StrategyID string
	Return     float64
	RecordedAt time.Time
}

// PerformanceStore persists per-strategy daily returns.
type PerformanceStore interface {
	Append(ctx context.Context, r DailyReturn) error
	ListRecent(ctx context.Context, strategyID string, limit int) ([]DailyReturn, error)
	ListStrategies(ctx context.Context) ([]string, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// StrategyStore persists deployed strategy configurations so they survive a
// restart. Position state is not stored; restored strategies start flat.
type StrategyStore interface {
	Upsert(ctx context.Context, inst StrategyInstance) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]StrategyInstance, error)
}
