package domain

import "time"

// StepKind identifies the kind of operation an execution step performs.
type StepKind string

const (
	StepSwap   StepKind = "swap"
	StepBridge StepKind = "bridge"
)

// SwapSide is the direction of a swap relative to the asset being arbitraged.
type SwapSide string

const (
	SwapBuy  SwapSide = "buy"
	SwapSell SwapSide = "sell"
)

// ExecutionStep is one planned operation in an execution: a swap on a chain
// or a bridge transfer between chains.
type ExecutionStep struct {
	Kind  StepKind
	Venue Venue
	Chain Chain
	Asset string
	Side  SwapSide
	// TargetChain is set for bridge steps only.
	TargetChain Chain

	AmountUSD       float64
	ExpectedCostUSD float64
	MaxSlippagePct  float64
	// Irreversible marks steps whose success leaves funds in a non-original
	// state: a later failure then requires the recovery path rather than a
	// clean abort.
	Irreversible bool
}

// ExecutionPlan is the ordered step list built from an approved assessment.
type ExecutionPlan struct {
	OpportunityID string
	RouteKey      string
	Steps         []ExecutionStep
}

// ExecStatus is the coordinator's state-machine state for one execution.
type ExecStatus string

const (
	ExecPlanned         ExecStatus = "planned"
	ExecStepInFlight    ExecStatus = "step_in_flight"
	ExecBridgeInFlight  ExecStatus = "bridge_in_flight"
	ExecRecovering      ExecStatus = "recovering"
	ExecSucceeded       ExecStatus = "succeeded"
	ExecPartiallyFailed ExecStatus = "partially_failed"
	ExecFailed          ExecStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecSucceeded, ExecPartiallyFailed, ExecFailed:
		return true
	}
	return false
}

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StepOutcome records what happened to one step.
type StepOutcome struct {
	Status    StepStatus
	FilledUSD float64
	CostUSD   float64
	Reason    RejectReason
	StartedAt time.Time
	EndedAt   time.Time
}

// ExecutionState is owned exclusively by the coordinator for the lifetime of
// one execution. State transitions are the only mutations allowed.
type ExecutionState struct {
	ID            string
	OpportunityID string
	RouteKey      string
	Asset         string

	Status    ExecStatus
	StepIndex int
	Outcomes  []StepOutcome

	RealizedCostUSD   float64
	RealizedProfitUSD float64

	FailureReason     RejectReason
	RecoveryAttempted bool
	RecoverySucceeded bool
	// NeedsManualIntervention is set when the single automatic recovery
	// attempt also failed; the position must be unwound by an operator.
	NeedsManualIntervention bool

	StartedAt time.Time
	SettledAt time.Time
}

// StepReceipt is the handle returned when a step has been submitted to an
// external system but not yet confirmed.
type StepReceipt struct {
	Ref         string
	Kind        StepKind
	SubmittedAt time.Time
}

// StepResult is the confirmed outcome of a submitted step. Status is
// StepPending until the external system reports a terminal state.
type StepResult struct {
	Ref       string
	Status    StepStatus
	FilledUSD float64
	CostUSD   float64
	Reason    RejectReason
}

// SwapRequest describes one swap submitted to a venue adapter.
type SwapRequest struct {
	Venue          Venue
	Chain          Chain
	Asset          string
	Side           SwapSide
	AmountUSD      float64
	MaxSlippagePct float64
}
