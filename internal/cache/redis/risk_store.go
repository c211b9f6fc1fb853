package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const riskOwnersKey = "risk:owners"

// Hash fields of "risk:{owner}".
const (
	fieldDailyPnL     = "daily_pnl"
	fieldDailyTrades  = "daily_trades"
	fieldOpenNotional = "open_notional"
	fieldDelta        = "delta"
	fieldVega         = "vega"
)

// RiskStore implements domain.RiskStateStore on Redis hashes so several
// processes share one view of each owner's intraday counters and portfolio
// Greeks. Every mutation is an atomic HINCRBY/HINCRBYFLOAT.
type RiskStore struct {
	rdb *redis.Client
}

// NewRiskStore creates a RiskStore backed by the given Client.
func NewRiskStore(c *Client) *RiskStore {
	return &RiskStore{rdb: c.Underlying()}
}

func riskKey(ownerID string) string {
	return "risk:" + ownerID
}

// Counters returns ownerID's daily counters. Unknown owners have zero
// counters.
func (rs *RiskStore) Counters(ctx context.Context, ownerID string) (domain.RiskCounters, error) {
	vals, err := rs.rdb.HMGet(ctx, riskKey(ownerID), fieldDailyPnL, fieldDailyTrades, fieldOpenNotional).Result()
	if err != nil {
		return domain.RiskCounters{}, fmt.Errorf("redis: risk counters %s: %w", ownerID, err)
	}
	return domain.RiskCounters{
		DailyPnL:     floatField(vals[0]),
		DailyTrades:  int(floatField(vals[1])),
		OpenNotional: floatField(vals[2]),
	}, nil
}

// AddPnL adds pnl to the owner's realized daily result.
func (rs *RiskStore) AddPnL(ctx context.Context, ownerID string, pnl float64) error {
	pipe := rs.rdb.TxPipeline()
	pipe.SAdd(ctx, riskOwnersKey, ownerID)
	pipe.HIncrByFloat(ctx, riskKey(ownerID), fieldDailyPnL, pnl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add pnl %s: %w", ownerID, err)
	}
	return nil
}

// AddTrade counts one trade and adds its notional to the open position.
func (rs *RiskStore) AddTrade(ctx context.Context, ownerID string, notional float64) error {
	key := riskKey(ownerID)
	pipe := rs.rdb.TxPipeline()
	pipe.SAdd(ctx, riskOwnersKey, ownerID)
	pipe.HIncrBy(ctx, key, fieldDailyTrades, 1)
	pipe.HIncrByFloat(ctx, key, fieldOpenNotional, notional)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add trade %s: %w", ownerID, err)
	}
	return nil
}

// ResetDaily zeroes every owner's daily PnL and trade count. Open notional
// and Greeks carry over.
func (rs *RiskStore) ResetDaily(ctx context.Context) error {
	owners, err := rs.rdb.SMembers(ctx, riskOwnersKey).Result()
	if err != nil {
		return fmt.Errorf("redis: reset daily: list owners: %w", err)
	}
	if len(owners) == 0 {
		return nil
	}
	pipe := rs.rdb.TxPipeline()
	for _, owner := range owners {
		pipe.HSet(ctx, riskKey(owner), fieldDailyPnL, "0", fieldDailyTrades, "0")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: reset daily: %w", err)
	}
	return nil
}

// Greeks returns the owner's aggregate delta and vega.
func (rs *RiskStore) Greeks(ctx context.Context, ownerID string) (float64, float64, error) {
	vals, err := rs.rdb.HMGet(ctx, riskKey(ownerID), fieldDelta, fieldVega).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: greeks %s: %w", ownerID, err)
	}
	return floatField(vals[0]), floatField(vals[1]), nil
}

// AddGreeks adjusts the owner's aggregate delta and vega.
func (rs *RiskStore) AddGreeks(ctx context.Context, ownerID string, delta, vega float64) error {
	key := riskKey(ownerID)
	pipe := rs.rdb.TxPipeline()
	pipe.SAdd(ctx, riskOwnersKey, ownerID)
	pipe.HIncrByFloat(ctx, key, fieldDelta, delta)
	pipe.HIncrByFloat(ctx, key, fieldVega, vega)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add greeks %s: %w", ownerID, err)
	}
	return nil
}

// floatField parses an HMGET value; missing or malformed fields read as 0.
func floatField(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Compile-time interface check.
var _ domain.RiskStateStore = (*RiskStore)(nil)
