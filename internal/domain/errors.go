package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrLockHeld           = errors.New("lock already held")
	ErrStrategyNotFound   = errors.New("strategy not found")
	ErrRejectedByRisk     = errors.New("rejected by risk")
	ErrBrokerUnavailable  = errors.New("no healthy broker available")
	ErrLegExecutionFailed = errors.New("leg execution failed")
	ErrInsufficientCredit = errors.New("spread credit below minimum")
	ErrPredictionRejected = errors.New("prediction rejected")
	ErrOrderRejected      = errors.New("order rejected by broker")
)

// RejectReason identifies which risk check refused a signal.
type RejectReason string

const (
	RejectDailyLoss        RejectReason = "daily_loss_limit"
	RejectDailyTrades      RejectReason = "daily_trade_limit"
	RejectOrderSize        RejectReason = "order_size_limit"
	RejectPositionSize     RejectReason = "position_size_limit"
	RejectStrategyMaxLoss  RejectReason = "strategy_max_loss"
	RejectStrategyMaxTrade RejectReason = "strategy_max_trades"
)

// RiskRejection is returned by the risk gate. It matches ErrRejectedByRisk
// under errors.Is.
type RiskRejection struct {
	Reason  RejectReason
	Message string
}

func (r *RiskRejection) Error() string {
	return fmt.Sprintf("risk: %s: %s", r.Reason, r.Message)
}

// Is reports whether target is ErrRejectedByRisk.
func (r *RiskRejection) Is(target error) bool {
	return target == ErrRejectedByRisk
}

// ErrorKind classifies an orchestrator failure for callers and metrics.
type ErrorKind string

const (
	KindRejectedByRisk     ErrorKind = "rejected_by_risk"
	KindBrokerUnavailable  ErrorKind = "broker_unavailable"
	KindLegExecutionFailed ErrorKind = "leg_execution_failed"
	KindPredictionRejected ErrorKind = "prediction_rejected"
	KindOrderRejected      ErrorKind = "order_rejected"
	KindInternal           ErrorKind = "internal"
)

// ClassifyError maps an error to its ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrRejectedByRisk):
		return KindRejectedByRisk
	case errors.Is(err, ErrBrokerUnavailable):
		return KindBrokerUnavailable
	case errors.Is(err, ErrLegExecutionFailed), errors.Is(err, ErrInsufficientCredit):
		return KindLegExecutionFailed
	case errors.Is(err, ErrPredictionRejected):
		return KindPredictionRejected
	case errors.Is(err, ErrOrderRejected):
		return KindOrderRejected
	default:
		return KindInternal
	}
}
