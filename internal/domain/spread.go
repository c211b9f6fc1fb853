package domain

import "time"

// SpreadLeg is one leg of a multi-leg spread.
type SpreadLeg struct {
	LegID            string         `json:"leg_id"`
	Contract         OptionContract `json:"contract"`
	Side             Side           `json:"side"`
	Quantity         int            `json:"quantity"`
	TheoreticalPrice float64        `json:"theoretical_price"`
}

// Credit is the signed premium of the leg: positive when selling.
func (l SpreadLeg) Credit() float64 {
	if l.Side == SideSell {
		return l.TheoreticalPrice
	}
	return -l.TheoreticalPrice
}

// SpreadStatus is the state of a spread execution.
type SpreadStatus string

const (
	SpreadPending   SpreadStatus = "PENDING"
	SpreadPartial   SpreadStatus = "PARTIAL"
	SpreadCompleted SpreadStatus = "COMPLETED"
	SpreadHedging   SpreadStatus = "HEDGING"
	SpreadFailed    SpreadStatus = "FAILED"
)

// LegFill records the outcome of one leg.
type LegFill struct {
	LegID       string    `json:"leg_id"`
	OrderID     string    `json:"order_id"`
	BrokerID    string    `json:"broker_id,omitempty"`
	MarketPrice float64   `json:"market_price"`
	LimitPrice  float64   `json:"limit_price"`
	FilledPrice float64   `json:"filled_price"`
	Attempts    int       `json:"attempts"`
	Filled      bool      `json:"filled"`
	HedgeNeeded bool      `json:"hedge_needed"`
	FilledAt    time.Time `json:"filled_at"`
}

// SpreadExecution is the tracked state of one spread.
type SpreadExecution struct {
	ID          string         `json:"id"`
	Legs        []SpreadLeg    `json:"legs"`
	Fills       []LegFill      `json:"fills"`
	MinCredit   float64        `json:"min_credit"`
	NetCredit   float64        `json:"net_credit"`
	Status      SpreadStatus   `json:"status"`
	Transitions []SpreadStatus `json:"transitions"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
