package domain

import (
	"context"
	"fmt"
	"time"
)

// OptionType is CALL or PUT.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// OptionContract identifies a listed option.
type OptionContract struct {
	Symbol   string     `json:"symbol"`
	Expiry   string     `json:"expiry"`
	Strike   float64    `json:"strike"`
	Type     OptionType `json:"option_type"`
	Exchange string     `json:"exchange"`
}

// Key is the stable lookup key used for per-contract liquidity data.
func (c OptionContract) Key() string {
	return fmt.Sprintf("%s_%s_%s_%.2f", c.Symbol, c.Expiry, c.Type, c.Strike)
}

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderSpec is what the core hands to a broker adapter.
type OrderSpec struct {
	OrderID    string
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   int
	LimitPrice float64
	// SessionToken is opaque broker credential material; never interpreted.
	SessionToken string
}

// OrderStatus is the broker-reported state of an order.
type OrderStatus string

const (
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderAck is a broker's response to PlaceOrder.
type OrderAck struct {
	OrderID     string
	BrokerID    string
	Status      OrderStatus
	FilledQty   int
	FilledPrice float64
	Message     string
	AckedAt     time.Time
}

// Filled reports whether the ack carries a fill.
func (a OrderAck) Filled() bool {
	return a.Status == OrderStatusFilled && a.FilledQty > 0
}

// BrokerAdapter is the narrow boundary to a broker integration.
type BrokerAdapter interface {
	PlaceOrder(ctx context.Context, brokerID string, spec OrderSpec) (OrderAck, error)
	GetQuote(ctx context.Context, symbol string) (float64, error)
}

// OrderSlice is one child order produced by a slicing algorithm.
type OrderSlice struct {
	Quantity      int       `json:"quantity"`
	ScheduledTime time.Time `json:"scheduled_time"`
	LimitPrice    float64   `json:"limit_price"`
}

// BrokerEndpoint is a broker connection's health and cost profile.
type BrokerEndpoint struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	LatencyMs       float64   `json:"latency_ms"`
	UptimePercent   float64   `json:"uptime_percent"`
	FillRate        float64   `json:"fill_rate"`
	FeeLevel        float64   `json:"fee_level"`
	LastHealthCheck time.Time `json:"last_health_check"`
}

// BrokerOrderStats is the smoothed order feedback for one broker. It is kept
// apart from BrokerEndpoint, which only health checks update.
type BrokerOrderStats struct {
	Orders       int       `json:"orders"`
	LatencyMs    float64   `json:"latency_ms"`
	FillRate     float64   `json:"fill_rate"`
	LastObserved time.Time `json:"last_observed"`
}
