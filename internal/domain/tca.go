package domain

import "time"

// ExecutionMetrics is one append-only TCA record. Slippage, ImplementationShortfall
// and LatencyMs are derived when the record is captured.
type ExecutionMetrics struct {
	OrderID                 string    `json:"order_id"`
	BrokerID                string    `json:"broker_id"`
	Algorithm               string    `json:"algorithm"`
	Symbol                  string    `json:"symbol"`
	ArrivalPrice            float64   `json:"arrival_price"`
	ExecutionPrice          float64   `json:"execution_price"`
	Quantity                int       `json:"quantity"`
	Commission              float64   `json:"commission"`
	SignalTime              time.Time `json:"signal_time"`
	ExecutionTime           time.Time `json:"execution_time"`
	Slippage                float64   `json:"slippage"`
	ImplementationShortfall float64   `json:"implementation_shortfall"`
	LatencyMs               int64     `json:"latency_ms"`
}

// TCAReport aggregates execution quality over a window. BrokerID or
// Algorithm is "ALL" when the report is not grouped by it.
type TCAReport struct {
	BrokerID                   string    `json:"broker_id"`
	Algorithm                  string    `json:"algorithm"`
	From                       time.Time `json:"from"`
	To                         time.Time `json:"to"`
	AvgSlippage                float64   `json:"avg_slippage"`
	AvgImplementationShortfall float64   `json:"avg_implementation_shortfall"`
	AvgLatencyMs               float64   `json:"avg_latency_ms"`
	OrderCount                 int       `json:"order_count"`
}

// LatencyStage is one step of the order lifecycle.
type LatencyStage string

const (
	StageSignalGeneration LatencyStage = "SIGNAL_GENERATION"
	StageOrderRouting     LatencyStage = "ORDER_ROUTING"
	StageOrderSent        LatencyStage = "ORDER_SENT"
	StageOrderAck         LatencyStage = "ORDER_ACK"
	StageOrderFill        LatencyStage = "ORDER_FILL"
)

// LatencyStages lists every stage in lifecycle order.
var LatencyStages = []LatencyStage{
	StageSignalGeneration,
	StageOrderRouting,
	StageOrderSent,
	StageOrderAck,
	StageOrderFill,
}

// LatencySample is one measured stage duration.
type LatencySample struct {
	OrderID    string
	Stage      LatencyStage
	Elapsed    time.Duration
	RecordedAt time.Time
}

// LatencyStats summarizes samples of one stage over a lookback window.
type LatencyStats struct {
	Stage LatencyStage  `json:"stage"`
	Count int           `json:"count"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}
