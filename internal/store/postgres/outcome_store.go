package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

var _ domain.OutcomeStore = (*OutcomeStore)(nil)

// NewOutcomeStore creates a new OutcomeStore backed by the given connection pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

const outcomeColumns = `id, strategy_id, owner_id, pop, confidence, model_version, features,
	position_size, realized_pnl, created_at, closed_at`

// uniqueViolation is the SQLSTATE postgres reports for duplicate keys.
const uniqueViolation = "23505"

// Create inserts an open prediction. The features map is stored as JSONB.
func (s *OutcomeStore) Create(ctx context.Context, o domain.TradeOutcome) error {
	features, err := json.Marshal(o.Features)
	if err != nil {
		return fmt.Errorf("postgres: marshal outcome features %s: %w", o.ID, err)
	}

	const query = `
		INSERT INTO trade_outcomes (id, strategy_id, owner_id, pop, confidence, model_version,
			features, position_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.StrategyID, o.OwnerID, o.ProbabilityOfProfit, o.Confidence, o.ModelVersion,
		features, o.PositionSize, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create outcome %s: %w", o.ID, err)
	}
	return nil
}

// Close records the realized PnL of a prediction.
func (s *OutcomeStore) Close(ctx context.Context, id string, realizedPnL float64, closedAt time.Time) error {
	const query = `UPDATE trade_outcomes SET realized_pnl = $2, closed_at = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, realizedPnL, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close outcome %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single outcome.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (domain.TradeOutcome, error) {
	const query = `SELECT ` + outcomeColumns + ` FROM trade_outcomes WHERE id = $1`

	o, err := scanOutcome(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeOutcome{}, domain.ErrNotFound
		}
		return domain.TradeOutcome{}, fmt.Errorf("postgres: get outcome %s: %w", id, err)
	}
	return o, nil
}

// ListClosed returns closed outcomes filtered on closed_at, oldest first.
func (s *OutcomeStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	query, args := listQuery(
		`SELECT `+outcomeColumns+` FROM trade_outcomes WHERE closed_at IS NOT NULL`,
		nil, "closed_at", "ASC", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closed outcomes rows: %w", err)
	}
	return out, nil
}

func scanOutcome(row pgx.Row) (domain.TradeOutcome, error) {
	var o domain.TradeOutcome
	var features []byte

	if err := row.Scan(
		&o.ID, &o.StrategyID, &o.OwnerID, &o.ProbabilityOfProfit, &o.Confidence, &o.ModelVersion,
		&features, &o.PositionSize, &o.RealizedPnL, &o.CreatedAt, &o.ClosedAt,
	); err != nil {
		return domain.TradeOutcome{}, err
	}
	if features != nil {
		if err := json.Unmarshal(features, &o.Features); err != nil {
			return domain.TradeOutcome{}, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	return o, nil
}
