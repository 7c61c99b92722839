package domain

import "time"

// Verdict is the evaluator's go/no-go decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// RejectReason enumerates why an opportunity or execution did not proceed.
// Reasons are returned as values, not raised as errors, so callers can log
// and continue with the next cycle.
type RejectReason string

const (
	ReasonNone                  RejectReason = ""
	ReasonStaleData             RejectReason = "stale_data"
	ReasonInsufficientLiquidity RejectReason = "insufficient_liquidity"
	ReasonBridgeUnavailable     RejectReason = "bridge_unavailable"
	ReasonBelowProfitThreshold  RejectReason = "below_profit_threshold"
	ReasonRiskThresholdExceeded RejectReason = "risk_threshold_exceeded"
	ReasonCircuitBreakerHalted  RejectReason = "circuit_breaker_halted"
	ReasonExtremeGas            RejectReason = "extreme_gas"
	ReasonExpiredBeforeExec     RejectReason = "expired_before_execution"
	ReasonSlippageExceeded      RejectReason = "slippage_exceeded"
	ReasonReverted              RejectReason = "reverted"
	ReasonStepTimeout           RejectReason = "step_timeout"
	ReasonCancelled             RejectReason = "cancelled"
	ReasonRecoveryFailed        RejectReason = "recovery_failed"
)

// GasBand categorizes a gas price within its chain class. Higher bands apply
// a strictly higher minimum-profit floor; GasBandExtreme always rejects.
type GasBand string

const (
	GasBandUltraLow GasBand = "ultra_low"
	GasBandLow      GasBand = "low"
	GasBandMedium   GasBand = "medium"
	GasBandHigh     GasBand = "high"
	GasBandExtreme  GasBand = "extreme"
)

// RiskAssessment is the evaluator's fully-costed decision on one Opportunity.
// It is produced exactly once per Opportunity and never mutated.
type RiskAssessment struct {
	OpportunityID string
	Seq           uint64
	Asset         string
	RouteKey      string

	GrossSpreadUSD  float64
	GasCostUSD      float64
	SlippageUSD     float64
	BridgeFeeUSD    float64
	RiskDiscountUSD float64
	NetProfitUSD    float64

	TradeSizeUSD float64
	// ExtractionRisk scores the chance a third party intercepts the profit,
	// in [0, 1].
	ExtractionRisk float64
	SourceGasBand  GasBand
	TargetGasBand  GasBand

	Verdict     Verdict
	Reason      RejectReason
	EvaluatedAt time.Time
}

// Approved reports whether the assessment cleared every gate.
func (a RiskAssessment) Approved() bool {
	return a.Verdict == VerdictApprove
}

// ProfitPerUnit returns net profit per unit of capital committed. Used for
// the capital-efficiency tie-break between approved opportunities on the
// same asset.
func (a RiskAssessment) ProfitPerUnit() float64 {
	if a.TradeSizeUSD <= 0 {
		return 0
	}
	return a.NetProfitUSD / a.TradeSizeUSD
}
