package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Upsert inserts or updates a deployed strategy. Parameters are stored as JSONB.
func (s *StrategyStore) Upsert(ctx context.Context, inst domain.StrategyInstance) error {
	params, err := json.Marshal(inst.Parameters)
	if err != nil {
		return fmt.Errorf("postgres: marshal strategy params %s: %w", inst.ID, err)
	}

	const query = `
		INSERT INTO strategies (id, type, symbol, owner_id, parameters, active, pnl, deployed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			parameters = EXCLUDED.parameters,
			active     = EXCLUDED.active,
			pnl        = EXCLUDED.pnl,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		inst.ID, string(inst.Type), inst.Symbol, inst.OwnerID, params, inst.Active, inst.PnL, inst.DeployedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy %s: %w", inst.ID, err)
	}
	return nil
}

// Delete removes a strategy. Deleting an unknown ID returns domain.ErrNotFound.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all saved strategies ordered by deployment time.
func (s *StrategyStore) List(ctx context.Context) ([]domain.StrategyInstance, error) {
	const query = `SELECT id, type, symbol, owner_id, parameters, active, pnl, deployed_at
		FROM strategies ORDER BY deployed_at, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyInstance
	for rows.Next() {
		var inst domain.StrategyInstance
		var typ string
		var params []byte

		if err := rows.Scan(&inst.ID, &typ, &inst.Symbol, &inst.OwnerID, &params, &inst.Active, &inst.PnL, &inst.DeployedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		inst.Type = domain.StrategyType(typ)
		if params != nil {
			if err := json.Unmarshal(params, &inst.Parameters); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal strategy params %s: %w", inst.ID, err)
			}
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return out, nil
}
