// Package coordinator owns the execution lifecycle of approved
// opportunities: planning steps, submitting them to venue and bridge
// adapters, confirming them with bounded polling, and driving the recovery
// path when a step fails after capital has moved. Every execution settles
// into exactly one performance record.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Recorder settles terminal executions into the performance ledger.
type Recorder interface {
	Record(ctx context.Context, rec domain.PerformanceRecord) error
}

// BreakerReader exposes the current circuit breaker state.
type BreakerReader interface {
	State() domain.CircuitBreakerState
}

// Config holds execution parameters.
type Config struct {
	// MaxConcurrent bounds simultaneously running executions.
	MaxConcurrent int

	SwapTimeout   time.Duration
	BridgeTimeout time.Duration

	// Confirmation polling starts at PollInitial and grows by PollMultiplier
	// per attempt, capped at PollMax.
	PollInitial    time.Duration
	PollMax        time.Duration
	PollMultiplier float64

	// RecoveryAttempts is how many automatic recovery swaps are tried after
	// a post-irreversible failure before surfacing manual intervention.
	RecoveryAttempts int

	// RouteLockTTL bounds how long the distributed route lock outlives a
	// crashed process.
	RouteLockTTL time.Duration
}

type Coordinator struct {
	cfg      Config
	trades   domain.TradeExecutor
	bridges  domain.BridgeExecutor
	locks    domain.LockManager
	breaker  BreakerReader
	recorder Recorder
	logger   *slog.Logger

	sem *semaphore.Weighted
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a coordinator. locks may be nil for single-process deployments;
// the in-memory route registry still enforces per-route mutual exclusion.
func New(cfg Config, trades domain.TradeExecutor, bridges domain.BridgeExecutor, locks domain.LockManager, breaker BreakerReader, recorder Recorder, logger *slog.Logger) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Coordinator{
		cfg:      cfg,
		trades:   trades,
		bridges:  bridges,
		locks:    locks,
		breaker:  breaker,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "coordinator")),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Execute runs one approved opportunity end to end and returns its terminal
// state. At most one execution per route runs at a time; a second call for
// an in-flight route fails immediately with ErrRouteLocked.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity, a domain.RiskAssessment) (domain.ExecutionState, error) {
	routeKey := opp.RouteKey()

	release, err := c.acquireRoute(ctx, routeKey)
	if err != nil {
		return domain.ExecutionState{}, err
	}
	defer release()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return domain.ExecutionState{}, fmt.Errorf("coordinator: acquire slot: %w", err)
	}
	defer c.sem.Release(1)

	state := domain.ExecutionState{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		RouteKey:      routeKey,
		Asset:         opp.Asset,
		Status:        domain.ExecPlanned,
		StartedAt:     c.now(),
	}

	// Re-validate before touching any external system: an opportunity that
	// sat in a queue past its deadline, or a breaker halt since approval,
	// aborts cleanly.
	if opp.Expired(c.now()) {
		return c.settle(ctx, failedState(state, domain.ReasonExpiredBeforeExec))
	}
	if c.breaker != nil && c.breaker.State().Halted {
		return c.settle(ctx, failedState(state, domain.ReasonCircuitBreakerHalted))
	}

	plan := BuildPlan(opp, a)
	return c.run(ctx, plan, opp, state)
}

// run drives the plan's steps in order. After the first irreversible step
// fills, the execution decouples from caller cancellation: abandoning moved
// capital mid-flight is worse than finishing.
func (c *Coordinator) run(ctx context.Context, plan domain.ExecutionPlan, opp domain.Opportunity, state domain.ExecutionState) (domain.ExecutionState, error) {
	base := ctx
	committed := false

	var buyFilledUSD, sellFilledUSD float64

	for i, step := range plan.Steps {
		state.StepIndex = i
		if step.Kind == domain.StepBridge {
			state.Status = domain.ExecBridgeInFlight
		} else {
			state.Status = domain.ExecStepInFlight
		}

		outcome := c.runStep(base, step, opp)
		state.Outcomes = append(state.Outcomes, outcome)
		state.RealizedCostUSD += outcome.CostUSD

		if outcome.Status != domain.StepSucceeded {
			if !committed {
				state.RealizedProfitUSD = -state.RealizedCostUSD
				return c.settle(base, failedState(state, outcome.Reason))
			}
			return c.recover(base, plan, opp, state, i, outcome.Reason, buyFilledUSD)
		}

		switch {
		case step.Kind == domain.StepSwap && step.Side == domain.SwapBuy:
			buyFilledUSD += outcome.FilledUSD
		case step.Kind == domain.StepSwap && step.Side == domain.SwapSell:
			sellFilledUSD += outcome.FilledUSD
		}

		if step.Irreversible && !committed {
			committed = true
			base = context.WithoutCancel(ctx)
		}
	}

	state.Status = domain.ExecSucceeded
	state.RealizedProfitUSD = sellFilledUSD - buyFilledUSD - state.RealizedCostUSD
	return c.settle(base, state)
}

// recover attempts to unwind a position stranded by a failure after an
// irreversible step: sell the held asset back on the chain where it
// currently sits. One automatic attempt; if that also fails, the execution
// is surfaced for manual intervention rather than retried, since repeated
// automatic unwinds in this failure mode compound losses.
func (c *Coordinator) recover(ctx context.Context, plan domain.ExecutionPlan, opp domain.Opportunity, state domain.ExecutionState, failedStep int, reason domain.RejectReason, buyFilledUSD float64) (domain.ExecutionState, error) {
	state.Status = domain.ExecRecovering
	state.FailureReason = reason
	state.RecoveryAttempted = c.cfg.RecoveryAttempts > 0

	c.logger.Warn("step failed after capital moved, attempting recovery",
		slog.String("execution_id", state.ID),
		slog.String("route", state.RouteKey),
		slog.Int("failed_step", failedStep),
		slog.String("reason", string(reason)),
	)

	venue, chain := c.holdingSite(plan, opp, failedStep)
	recoveryStep := domain.ExecutionStep{
		Kind:      domain.StepSwap,
		Venue:     venue,
		Chain:     chain,
		Asset:     opp.Asset,
		Side:      domain.SwapSell,
		AmountUSD: buyFilledUSD,
		// The unwind takes whatever price the book gives.
		MaxSlippagePct: 1,
		Irreversible:   true,
	}

	recovered := false
	for attempt := 0; attempt < c.cfg.RecoveryAttempts; attempt++ {
		outcome := c.runStep(ctx, recoveryStep, opp)
		state.Outcomes = append(state.Outcomes, outcome)
		state.RealizedCostUSD += outcome.CostUSD
		if outcome.Status == domain.StepSucceeded {
			recovered = true
			state.RealizedProfitUSD = outcome.FilledUSD - buyFilledUSD - state.RealizedCostUSD
			break
		}
	}

	state.Status = domain.ExecPartiallyFailed
	state.RecoverySucceeded = recovered
	if !recovered {
		state.NeedsManualIntervention = true
		state.RealizedProfitUSD = -state.RealizedCostUSD
		c.logger.Error("recovery failed, manual intervention required",
			slog.String("execution_id", state.ID),
			slog.String("route", state.RouteKey),
		)
	}
	return c.settle(ctx, state)
}

// holdingSite returns where the bought asset sits when the given step
// failed: still on the source chain if the bridge never settled, on the
// target chain once it did.
func (c *Coordinator) holdingSite(plan domain.ExecutionPlan, opp domain.Opportunity, failedStep int) (domain.Venue, domain.Chain) {
	for i := failedStep - 1; i >= 0; i-- {
		if plan.Steps[i].Kind == domain.StepBridge {
			return opp.TargetVenue, opp.TargetChain
		}
	}
	return opp.SourceVenue, opp.SourceChain
}

// runStep submits one step and polls its confirmation to a terminal result
// within the step-kind timeout.
func (c *Coordinator) runStep(ctx context.Context, step domain.ExecutionStep, opp domain.Opportunity) domain.StepOutcome {
	outcome := domain.StepOutcome{Status: domain.StepFailed, StartedAt: c.now()}

	timeout := c.cfg.SwapTimeout
	var submit func(context.Context) (domain.StepReceipt, error)
	var confirm func(context.Context, domain.StepReceipt) (domain.StepResult, error)

	if step.Kind == domain.StepBridge {
		timeout = c.cfg.BridgeTimeout
		quote := domain.BridgeQuote{
			SourceChain: step.Chain,
			TargetChain: step.TargetChain,
			Asset:       step.Asset,
			AmountUSD:   step.AmountUSD,
			FeeUSD:      step.ExpectedCostUSD,
		}
		if opp.Bridge != nil {
			quote = *opp.Bridge
		}
		submit = func(ctx context.Context) (domain.StepReceipt, error) {
			return c.bridges.SubmitTransfer(ctx, quote)
		}
		confirm = c.bridges.ConfirmTransfer
	} else {
		req := domain.SwapRequest{
			Venue:          step.Venue,
			Chain:          step.Chain,
			Asset:          step.Asset,
			Side:           step.Side,
			AmountUSD:      step.AmountUSD,
			MaxSlippagePct: step.MaxSlippagePct,
		}
		submit = func(ctx context.Context) (domain.StepReceipt, error) {
			return c.trades.SubmitSwap(ctx, req)
		}
		confirm = c.trades.ConfirmSwap
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := submit(stepCtx)
	if err != nil {
		outcome.Reason = reasonFromError(err)
		outcome.EndedAt = c.now()
		return outcome
	}

	result, err := c.awaitConfirmation(stepCtx, receipt, confirm)
	outcome.EndedAt = c.now()
	if err != nil {
		outcome.Reason = reasonFromError(err)
		return outcome
	}

	outcome.Status = result.Status
	outcome.FilledUSD = result.FilledUSD
	outcome.CostUSD = result.CostUSD
	outcome.Reason = result.Reason
	return outcome
}

// awaitConfirmation polls the confirmation endpoint with an increasing
// interval until the result is terminal or the step context expires.
// Transient confirmation errors keep polling; only the deadline fails the
// step.
func (c *Coordinator) awaitConfirmation(ctx context.Context, receipt domain.StepReceipt, confirm func(context.Context, domain.StepReceipt) (domain.StepResult, error)) (domain.StepResult, error) {
	delay := c.cfg.PollInitial
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		result, err := confirm(ctx, receipt)
		if err == nil && result.Status != domain.StepPending {
			return result, nil
		}
		if err != nil {
			c.logger.Debug("confirmation attempt failed",
				slog.String("ref", receipt.Ref), slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			// A cancelled parent is a shutdown, not a timed-out step.
			if errors.Is(ctx.Err(), context.Canceled) {
				return domain.StepResult{}, fmt.Errorf("coordinator: step %s: %w", receipt.Ref, ctx.Err())
			}
			return domain.StepResult{}, fmt.Errorf("coordinator: step %s: %w", receipt.Ref, domain.ErrStepTimeout)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * c.cfg.PollMultiplier)
		if delay > c.cfg.PollMax {
			delay = c.cfg.PollMax
		}
		timer.Reset(delay)
	}
}

// settle finalizes the execution and emits its single performance record.
func (c *Coordinator) settle(ctx context.Context, state domain.ExecutionState) (domain.ExecutionState, error) {
	state.SettledAt = c.now()

	rec := domain.PerformanceRecord{
		ID:                 uuid.NewString(),
		OpportunityID:      state.OpportunityID,
		RouteKey:           state.RouteKey,
		Asset:              state.Asset,
		ProfitUSD:          state.RealizedProfitUSD,
		Duration:           state.SettledAt.Sub(state.StartedAt),
		Succeeded:          state.Status == domain.ExecSucceeded,
		FailureReason:      state.FailureReason,
		RecoveryAttempted:  state.RecoveryAttempted,
		RecoverySucceeded:  state.RecoverySucceeded,
		ManualIntervention: state.NeedsManualIntervention,
		RecordedAt:         state.SettledAt,
	}

	// The record must land even if the caller is gone.
	if err := c.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		return state, fmt.Errorf("coordinator: settle execution %s: %w", state.ID, err)
	}
	return state, nil
}

// acquireRoute takes the in-memory route slot and, when a lock manager is
// configured, the distributed route lock as well.
func (c *Coordinator) acquireRoute(ctx context.Context, routeKey string) (func(), error) {
	c.mu.Lock()
	if _, busy := c.inflight[routeKey]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("coordinator: route %s: %w", routeKey, domain.ErrRouteLocked)
	}
	c.inflight[routeKey] = struct{}{}
	c.mu.Unlock()

	releaseLocal := func() {
		c.mu.Lock()
		delete(c.inflight, routeKey)
		c.mu.Unlock()
	}

	if c.locks == nil {
		return releaseLocal, nil
	}

	unlock, err := c.locks.Acquire(ctx, "route:"+routeKey, c.cfg.RouteLockTTL)
	if err != nil {
		releaseLocal()
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("coordinator: route %s: %w", routeKey, domain.ErrRouteLocked)
		}
		return nil, fmt.Errorf("coordinator: route lock %s: %w", routeKey, err)
	}

	return func() {
		unlock()
		releaseLocal()
	}, nil
}

// failedState marks an execution failed before any external call was made.
func failedState(state domain.ExecutionState, reason domain.RejectReason) domain.ExecutionState {
	state.Status = domain.ExecFailed
	state.FailureReason = reason
	return state
}

func reasonFromError(err error) domain.RejectReason {
	switch {
	case errors.Is(err, domain.ErrStepTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonStepTimeout
	case errors.Is(err, domain.ErrSlippageExceeded):
		return domain.ReasonSlippageExceeded
	case errors.Is(err, domain.ErrReverted):
		return domain.ReasonReverted
	case errors.Is(err, domain.ErrBridgeUnavailable):
		return domain.ReasonBridgeUnavailable
	case errors.Is(err, context.Canceled):
		return domain.ReasonCancelled
	default:
		return domain.ReasonStepTimeout
	}
}
