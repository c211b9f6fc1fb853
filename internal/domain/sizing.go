package domain

import "github.com/shopspring/decimal"

// PositionSizeResult is the audit trail of a sizing decision. LotCount of zero
// means do not trade.
type PositionSizeResult struct {
	FinalSize            decimal.Decimal `json:"final_size"`
	KellyFraction        decimal.Decimal `json:"kelly_fraction"`
	KellyCapital         decimal.Decimal `json:"kelly_capital"`
	StaticLimitedCapital decimal.Decimal `json:"static_limited_capital"`
	RiskLimitedCapital   decimal.Decimal `json:"risk_limited_capital"`
	LotCount             int64           `json:"lot_count"`
}

// SizeRequest carries the inputs of a sizing decision.
type SizeRequest struct {
	Prediction       Prediction
	MaxProfit        decimal.Decimal
	MaxLoss          decimal.Decimal
	AvailableCapital decimal.Decimal
	OwnerID          string
	DeltaPerUnit     decimal.Decimal
	VegaPerUnit      decimal.Decimal
	LotSize          int64
}

// PortfolioRiskState is an owner's aggregate Greek exposure.
type PortfolioRiskState struct {
	OwnerID          string  `json:"owner_id"`
	CurrentDelta     float64 `json:"current_delta"`
	CurrentVega      float64 `json:"current_vega"`
	DeltaUtilization float64 `json:"delta_utilization"`
	VegaUtilization  float64 `json:"vega_utilization"`
}
