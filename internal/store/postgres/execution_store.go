package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates a new ExecutionStore backed by the given connection pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `order_id, broker_id, algorithm, symbol, arrival_price, execution_price,
	quantity, commission, signal_time, execution_time, slippage, implementation_shortfall, latency_ms`

// Append records one execution. Re-recording an order ID is a no-op.
func (s *ExecutionStore) Append(ctx context.Context, m domain.ExecutionMetrics) error {
	const query = `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		m.OrderID, m.BrokerID, m.Algorithm, m.Symbol, m.ArrivalPrice, m.ExecutionPrice,
		m.Quantity, m.Commission, m.SignalTime, m.ExecutionTime, m.Slippage,
		m.ImplementationShortfall, m.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("postgres: append execution %s: %w", m.OrderID, err)
	}
	return nil
}

// ListRange returns executions with execution_time in [from, to], oldest first.
func (s *ExecutionStore) ListRange(ctx context.Context, from, to time.Time) ([]domain.ExecutionMetrics, error) {
	const query = `SELECT ` + executionColumns + ` FROM executions
		WHERE execution_time >= $1 AND execution_time <= $2
		ORDER BY execution_time ASC`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListBefore returns executions older than before, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionMetrics, error) {
	const query = `SELECT ` + executionColumns + ` FROM executions
		WHERE execution_time < $1
		ORDER BY execution_time ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before: %w", err)
	}
	return collectExecutions(rows)
}

// DeleteBefore removes executions older than before and reports how many
// rows were deleted. It is called after those rows have been archived.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE execution_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionMetrics, error) {
	defer rows.Close()

	var out []domain.ExecutionMetrics
	for rows.Next() {
		var m domain.ExecutionMetrics
		if err := rows.Scan(
			&m.OrderID, &m.BrokerID, &m.Algorithm, &m.Symbol, &m.ArrivalPrice, &m.ExecutionPrice,
			&m.Quantity, &m.Commission, &m.SignalTime, &m.ExecutionTime, &m.Slippage,
			&m.ImplementationShortfall, &m.LatencyMs,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}
