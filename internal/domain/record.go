package domain

import "time"

// PerformanceRecord is the append-only outcome of one execution. Exactly one
// record is emitted per terminal execution state.
type PerformanceRecord struct {
	ID            string
	OpportunityID string
	RouteKey      string
	Asset         string

	ProfitUSD float64
	Duration  time.Duration
	Succeeded bool

	FailureReason     RejectReason
	RecoveryAttempted bool
	RecoverySucceeded bool
	ManualIntervention bool

	RecordedAt time.Time
}

// Loss reports whether the record represents a realized loss.
func (r PerformanceRecord) Loss() bool {
	return r.ProfitUSD < 0
}

// CircuitBreakerState is a read-only snapshot of the breaker, exposed to the
// evaluator and to operator tooling. The monitor is its single writer.
type CircuitBreakerState struct {
	Halted bool
	Reason string

	ConsecutiveLosses int
	WindowFailureRate float64
	DailyLossUSD      float64

	HaltedAt time.Time
	ResumeAt time.Time
}
