package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// PerformanceStore implements domain.PerformanceStore using PostgreSQL.
type PerformanceStore struct {
	pool *pgxpool.Pool
}

var _ domain.PerformanceStore = (*PerformanceStore)(nil)

// NewPerformanceStore creates a new PerformanceStore backed by the given connection pool.
func NewPerformanceStore(pool *pgxpool.Pool) *PerformanceStore {
	return &PerformanceStore{pool: pool}
}

// Append records one strategy return.
func (s *PerformanceStore) Append(ctx context.Context, r domain.DailyReturn) error {
	const query = `INSERT INTO strategy_returns (strategy_id, return, recorded_at) VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, query, r.StrategyID, r.Return, r.RecordedAt); err != nil {
		return fmt.Errorf("postgres: append return %s: %w", r.StrategyID, err)
	}
	return nil
}

// ListRecent returns the latest limit returns of a strategy, oldest first.
func (s *PerformanceStore) ListRecent(ctx context.Context, strategyID string, limit int) ([]domain.DailyReturn, error) {
	const query = `
		SELECT strategy_id, return, recorded_at FROM (
			SELECT id, strategy_id, return, recorded_at FROM strategy_returns
			WHERE strategy_id = $1
			ORDER BY recorded_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY recorded_at ASC, id ASC`

	if limit <= 0 {
		limit = 252
	}
	rows, err := s.pool.Query(ctx, query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list returns %s: %w", strategyID, err)
	}
	defer rows.Close()

	var out []domain.DailyReturn
	for rows.Next() {
		var r domain.DailyReturn
		if err := rows.Scan(&r.StrategyID, &r.Return, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan return: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list returns rows: %w", err)
	}
	return out, nil
}

// ListStrategies returns every strategy ID with at least one recorded return.
func (s *PerformanceStore) ListStrategies(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT strategy_id FROM strategy_returns ORDER BY strategy_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list return strategies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list return strategies rows: %w", err)
	}
	return ids, nil
}
