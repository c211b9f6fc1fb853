package domain

import "time"

// Side is the direction of a strategy signal or order.
type Side string

const (
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
	SideHold  Side = "HOLD"
	SideClose Side = "CLOSE"
)

// Signal is emitted by a strategy evaluation and consumed once by the
// orchestrator. It is never mutated after creation.
type Signal struct {
	ID         string // UUID for dedup
	StrategyID string
	Symbol     string
	Side       Side
	Price      float64
	Quantity   int
	StopLoss   *float64
	TakeProfit *float64
	Reason     string
	Timestamp  time.Time
}

// Notional is price times quantity.
func (s Signal) Notional() float64 {
	return s.Price * float64(s.Quantity)
}

// MarketTick is a single price observation for a symbol.
type MarketTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}
