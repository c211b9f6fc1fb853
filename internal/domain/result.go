package domain

// Execution result statuses reported by the orchestrator.
const (
	ResultExecuted       = "executed"
	ResultSliced         = "sliced_executed"
	ResultSpreadExecuted = "spread_executed"
	ResultSkipped        = "skipped"
	ResultError          = "error"
)

// ExecutionResult is the structured outcome of one signal pipeline. Failures
// never escape the orchestrator as errors; they land here with Status "error".
type ExecutionResult struct {
	SignalID    string    `json:"signal_id"`
	OrderID     string    `json:"order_id"`
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol"`
	Status      string    `json:"status"`
	Kind        ErrorKind `json:"kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	BrokerID    string    `json:"broker_id,omitempty"`
	Algorithm   string    `json:"algorithm,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	FilledQty   int       `json:"filled_qty"`
	AvgPrice    float64   `json:"avg_price"`
	Slices      int       `json:"slices,omitempty"`
}

// OK reports whether the pipeline completed without error.
func (r ExecutionResult) OK() bool {
	return r.Status != ResultError
}
