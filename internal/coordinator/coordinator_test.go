package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.PerformanceRecord
}

func (r *fakeRecorder) Record(ctx context.Context, rec domain.PerformanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) all() []domain.PerformanceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PerformanceRecord, len(r.records))
	copy(out, r.records)
	return out
}

type fakeBreaker struct {
	halted bool
}

func (f *fakeBreaker) State() domain.CircuitBreakerState {
	return domain.CircuitBreakerState{Halted: f.halted}
}

// stepScript controls how one submitted step behaves.
type stepScript struct {
	submitErr error
	// pending is how many confirmation polls report in-flight before the
	// terminal result is returned.
	pending int
	result  domain.StepResult
	// block, when non-nil, makes confirmation hang until the channel is
	// closed or the step context expires.
	block chan struct{}
}

type scriptedSteps struct {
	prefix string

	mu      sync.Mutex
	scripts []*stepScript
	next    int
	byRef   map[string]*stepScript

	submitted chan string
}

func newScriptedSteps(prefix string, scripts ...*stepScript) *scriptedSteps {
	return &scriptedSteps{
		prefix:    prefix,
		scripts:   scripts,
		byRef:     make(map[string]*stepScript),
		submitted: make(chan string, 16),
	}
}

func (s *scriptedSteps) submit(kind domain.StepKind) (domain.StepReceipt, error) {
	s.mu.Lock()
	if s.next >= len(s.scripts) {
		s.mu.Unlock()
		return domain.StepReceipt{}, fmt.Errorf("unexpected %s submission %d", s.prefix, s.next)
	}
	script := s.scripts[s.next]
	ref := fmt.Sprintf("%s-%d", s.prefix, s.next)
	s.next++
	s.byRef[ref] = script
	s.mu.Unlock()

	if script.submitErr != nil {
		return domain.StepReceipt{}, script.submitErr
	}
	s.submitted <- ref
	return domain.StepReceipt{Ref: ref, Kind: kind, SubmittedAt: time.Now()}, nil
}

func (s *scriptedSteps) confirm(ctx context.Context, receipt domain.StepReceipt) (domain.StepResult, error) {
	s.mu.Lock()
	script := s.byRef[receipt.Ref]
	s.mu.Unlock()
	if script == nil {
		return domain.StepResult{}, fmt.Errorf("unknown receipt %s", receipt.Ref)
	}

	if script.block != nil {
		select {
		case <-script.block:
		case <-ctx.Done():
			return domain.StepResult{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if script.pending > 0 {
		script.pending--
		return domain.StepResult{Ref: receipt.Ref, Status: domain.StepPending}, nil
	}
	result := script.result
	result.Ref = receipt.Ref
	return result, nil
}

type fakeTrades struct {
	*scriptedSteps

	mu   sync.Mutex
	reqs []domain.SwapRequest
}

func newFakeTrades(scripts ...*stepScript) *fakeTrades {
	return &fakeTrades{scriptedSteps: newScriptedSteps("swap", scripts...)}
}

func (f *fakeTrades) SubmitSwap(ctx context.Context, req domain.SwapRequest) (domain.StepReceipt, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.submit(domain.StepSwap)
}

func (f *fakeTrades) ConfirmSwap(ctx context.Context, receipt domain.StepReceipt) (domain.StepResult, error) {
	return f.confirm(ctx, receipt)
}

func (f *fakeTrades) requests() []domain.SwapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SwapRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

type fakeBridges struct {
	*scriptedSteps
}

func newFakeBridges(scripts ...*stepScript) *fakeBridges {
	return &fakeBridges{scriptedSteps: newScriptedSteps("bridge", scripts...)}
}

func (f *fakeBridges) SubmitTransfer(ctx context.Context, quote domain.BridgeQuote) (domain.StepReceipt, error) {
	return f.submit(domain.StepBridge)
}

func (f *fakeBridges) ConfirmTransfer(ctx context.Context, receipt domain.StepReceipt) (domain.StepResult, error) {
	return f.confirm(ctx, receipt)
}

func testCoordinatorConfig() Config {
	return Config{
		MaxConcurrent:    3,
		SwapTimeout:      500 * time.Millisecond,
		BridgeTimeout:    100 * time.Millisecond,
		PollInitial:      time.Millisecond,
		PollMax:          5 * time.Millisecond,
		PollMultiplier:   1.6,
		RecoveryAttempts: 1,
		RouteLockTTL:     time.Minute,
	}
}

func newTestCoordinator(trades domain.TradeExecutor, bridges domain.BridgeExecutor, breaker BreakerReader, rec Recorder) *Coordinator {
	return New(testCoordinatorConfig(), trades, bridges, nil, breaker, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sameChainOpp() domain.Opportunity {
	now := time.Now()
	return domain.Opportunity{
		ID:             "opp-1",
		Seq:            1,
		Asset:          "WETH/USDC",
		SourceVenue:    "uniswap",
		SourceChain:    domain.ChainEthereum,
		TargetVenue:    "sushiswap",
		TargetChain:    domain.ChainEthereum,
		TradeSizeUSD:   200,
		GrossSpreadUSD: 5,
		DetectedAt:     now,
		Deadline:       now.Add(time.Minute),
	}
}

func crossChainOpp() domain.Opportunity {
	opp := sameChainOpp()
	opp.ID = "opp-2"
	opp.TargetVenue = "camelot"
	opp.TargetChain = domain.ChainArbitrum
	opp.Bridge = &domain.BridgeQuote{
		SourceChain: domain.ChainEthereum,
		TargetChain: domain.ChainArbitrum,
		Asset:       "WETH/USDC",
		AmountUSD:   200,
		FeeUSD:      2.50,
		Available:   true,
		ObservedAt:  time.Now(),
	}
	return opp
}

func approvedAssessment(opp domain.Opportunity) domain.RiskAssessment {
	return domain.RiskAssessment{
		OpportunityID: opp.ID,
		RouteKey:      opp.RouteKey(),
		Asset:         opp.Asset,
		TradeSizeUSD:  opp.TradeSizeUSD,
		SlippageUSD:   0.40,
		GasCostUSD:    0.10,
		Verdict:       domain.VerdictApprove,
	}
}

func swapSuccess(filled, cost float64) *stepScript {
	return &stepScript{result: domain.StepResult{Status: domain.StepSucceeded, FilledUSD: filled, CostUSD: cost}}
}

func TestExecuteSameChainSuccess(t *testing.T) {
	trades := newFakeTrades(
		swapSuccess(200, 0.05), // buy
		swapSuccess(205, 0.05), // sell
	)
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, newFakeBridges(), &fakeBreaker{}, rec)

	opp := sameChainOpp()
	state, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if err != nil {
		t.Fatal(err)
	}

	if state.Status != domain.ExecSucceeded {
		t.Fatalf("status = %s, want %s", state.Status, domain.ExecSucceeded)
	}
	if math.Abs(state.RealizedProfitUSD-4.90) > 1e-9 {
		t.Errorf("profit = %v, want 4.90", state.RealizedProfitUSD)
	}

	reqs := trades.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d swaps, want 2", len(reqs))
	}
	if reqs[0].Side != domain.SwapBuy || reqs[0].Venue != "uniswap" {
		t.Errorf("first swap = %s at %s, want buy at uniswap", reqs[0].Side, reqs[0].Venue)
	}
	if reqs[1].Side != domain.SwapSell || reqs[1].Venue != "sushiswap" {
		t.Errorf("second swap = %s at %s, want sell at sushiswap", reqs[1].Side, reqs[1].Venue)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("got %d performance records, want exactly 1", len(records))
	}
	if !records[0].Succeeded || math.Abs(records[0].ProfitUSD-4.90) > 1e-9 {
		t.Errorf("record = %+v, want succeeded with profit 4.90", records[0])
	}
}

func TestExecuteCrossChainSuccess(t *testing.T) {
	trades := newFakeTrades(
		swapSuccess(200, 0.05),
		swapSuccess(206, 0.05),
	)
	bridges := newFakeBridges(&stepScript{
		pending: 3,
		result:  domain.StepResult{Status: domain.StepSucceeded, FilledUSD: 200, CostUSD: 2.50},
	})
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, bridges, &fakeBreaker{}, rec)

	opp := crossChainOpp()
	state, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if err != nil {
		t.Fatal(err)
	}

	if state.Status != domain.ExecSucceeded {
		t.Fatalf("status = %s, want %s", state.Status, domain.ExecSucceeded)
	}
	// 206 received - 200 spent - (0.05 + 2.50 + 0.05) costs.
	if math.Abs(state.RealizedProfitUSD-3.40) > 1e-9 {
		t.Errorf("profit = %v, want 3.40", state.RealizedProfitUSD)
	}
	if len(state.Outcomes) != 3 {
		t.Fatalf("got %d step outcomes, want 3", len(state.Outcomes))
	}
}

func TestExecuteBridgeTimeoutTriggersRecovery(t *testing.T) {
	trades := newFakeTrades(
		swapSuccess(200, 0.05), // buy leg
		swapSuccess(200, 0.05), // recovery sell on source chain
	)
	// The bridge never confirms within its timeout.
	bridges := newFakeBridges(&stepScript{pending: 1 << 20})
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, bridges, &fakeBreaker{}, rec)

	opp := crossChainOpp()
	state, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if err != nil {
		t.Fatal(err)
	}

	if state.Status != domain.ExecPartiallyFailed {
		t.Fatalf("status = %s, want %s", state.Status, domain.ExecPartiallyFailed)
	}
	if state.FailureReason != domain.ReasonStepTimeout {
		t.Errorf("failure reason = %s, want %s", state.FailureReason, domain.ReasonStepTimeout)
	}
	if !state.RecoveryAttempted || !state.RecoverySucceeded {
		t.Errorf("recovery attempted=%v succeeded=%v, want both true", state.RecoveryAttempted, state.RecoverySucceeded)
	}
	if state.NeedsManualIntervention {
		t.Error("manual intervention flagged though recovery succeeded")
	}
	// Realized loss is the gas of both swaps; the bridge fee was never paid.
	if math.Abs(state.RealizedProfitUSD-(-0.10)) > 1e-9 {
		t.Errorf("profit = %v, want -0.10", state.RealizedProfitUSD)
	}

	reqs := trades.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d swaps, want buy plus recovery sell", len(reqs))
	}
	if reqs[1].Side != domain.SwapSell || reqs[1].Chain != domain.ChainEthereum {
		t.Errorf("recovery swap = %s on %s, want sell on ethereum", reqs[1].Side, reqs[1].Chain)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("got %d performance records, want exactly 1", len(records))
	}
	if records[0].Succeeded {
		t.Error("record marked succeeded")
	}
	if !records[0].RecoveryAttempted || !records[0].RecoverySucceeded {
		t.Errorf("record recovery flags = %+v, want attempted and succeeded", records[0])
	}
}

func TestExecuteFailedRecoveryNeedsManualIntervention(t *testing.T) {
	trades := newFakeTrades(
		swapSuccess(200, 0.05),
		&stepScript{result: domain.StepResult{Status: domain.StepFailed, CostUSD: 0.02, Reason: domain.ReasonReverted}},
	)
	bridges := newFakeBridges(&stepScript{pending: 1 << 20})
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, bridges, &fakeBreaker{}, rec)

	opp := crossChainOpp()
	state, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if err != nil {
		t.Fatal(err)
	}

	if state.Status != domain.ExecPartiallyFailed {
		t.Fatalf("status = %s, want %s", state.Status, domain.ExecPartiallyFailed)
	}
	if !state.NeedsManualIntervention {
		t.Fatal("expected manual intervention after failed recovery")
	}
	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("got %d performance records, want exactly 1", len(records))
	}
	if !records[0].ManualIntervention {
		t.Error("record missing manual intervention flag")
	}
}

func TestExecuteFirstSwapFailureAbortsCleanly(t *testing.T) {
	trades := newFakeTrades(&stepScript{
		result: domain.StepResult{Status: domain.StepFailed, CostUSD: 0.05, Reason: domain.ReasonSlippageExceeded},
	})
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, newFakeBridges(), &fakeBreaker{}, rec)

	opp := sameChainOpp()
	state, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if err != nil {
		t.Fatal(err)
	}

	if state.Status != domain.ExecFailed {
		t.Fatalf("status = %s, want %s", state.Status, domain.ExecFailed)
	}
	if state.FailureReason != domain.ReasonSlippageExceeded {
		t.Errorf("failure reason = %s, want %s", state.FailureReason, domain.ReasonSlippageExceeded)
	}
	if state.RecoveryAttempted {
		t.Error("recovery attempted though nothing irreversible had happened")
	}
	if len(trades.requests()) != 1 {
		t.Fatalf("got %d swaps, want 1", len(trades.requests()))
	}
}

func TestExecuteExpiredBeforeExecution(t *testing.T) {
	trades := newFakeTrades()
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, newFakeBridges(), &fakeBreaker{}, rec)

	opp := sameChainOpp()
	opp.Deadline = time.Now().Add(-time.Second)

	state, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if err != nil {
		t.Fatal(err)
	}

	if state.Status != domain.ExecFailed {
		t.Fatalf("status = %s, want %s", state.Status, domain.ExecFailed)
	}
	if state.FailureReason != domain.ReasonExpiredBeforeExec {
		t.Errorf("failure reason = %s, want %s", state.FailureReason, domain.ReasonExpiredBeforeExec)
	}
	if len(trades.requests()) != 0 {
		t.Error("expired opportunity reached an external system")
	}
	if len(rec.all()) != 1 {
		t.Fatalf("got %d performance records, want exactly 1", len(rec.all()))
	}
}

func TestExecuteHaltedBreakerBlocksNewExecutions(t *testing.T) {
	trades := newFakeTrades()
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, newFakeBridges(), &fakeBreaker{halted: true}, rec)

	opp := sameChainOpp()
	state, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if err != nil {
		t.Fatal(err)
	}

	if state.FailureReason != domain.ReasonCircuitBreakerHalted {
		t.Fatalf("failure reason = %s, want %s", state.FailureReason, domain.ReasonCircuitBreakerHalted)
	}
	if len(trades.requests()) != 0 {
		t.Error("halted breaker did not block the execution")
	}
}

func TestExecuteRouteMutualExclusion(t *testing.T) {
	gate := make(chan struct{})
	trades := newFakeTrades(
		&stepScript{block: gate, result: domain.StepResult{Status: domain.StepSucceeded, FilledUSD: 200, CostUSD: 0.05}},
		swapSuccess(205, 0.05),
	)
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, newFakeBridges(), &fakeBreaker{}, rec)

	opp := sameChainOpp()
	done := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
		done <- err
	}()

	// Wait until the first execution is inside its buy leg.
	select {
	case <-trades.submitted:
	case <-time.After(time.Second):
		t.Fatal("first execution never submitted")
	}

	_, err := c.Execute(context.Background(), opp, approvedAssessment(opp))
	if !errors.Is(err, domain.ErrRouteLocked) {
		t.Fatalf("second execution err = %v, want ErrRouteLocked", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// The route frees up once the first execution settles.
	trades2 := newFakeTrades(swapSuccess(200, 0.05), swapSuccess(205, 0.05))
	c2 := newTestCoordinator(trades2, newFakeBridges(), &fakeBreaker{}, rec)
	if _, err := c2.Execute(context.Background(), opp, approvedAssessment(opp)); err != nil {
		t.Fatal(err)
	}
}

func TestBuildPlan(t *testing.T) {
	t.Run("same chain", func(t *testing.T) {
		opp := sameChainOpp()
		plan := BuildPlan(opp, approvedAssessment(opp))
		if len(plan.Steps) != 2 {
			t.Fatalf("got %d steps, want 2", len(plan.Steps))
		}
		if plan.Steps[0].Side != domain.SwapBuy || plan.Steps[1].Side != domain.SwapSell {
			t.Error("steps are not buy then sell")
		}
		// Tolerance is twice the modeled slippage fraction.
		if math.Abs(plan.Steps[0].MaxSlippagePct-0.004) > 1e-9 {
			t.Errorf("max slippage = %v, want 0.004", plan.Steps[0].MaxSlippagePct)
		}
	})

	t.Run("cross chain inserts bridge step", func(t *testing.T) {
		opp := crossChainOpp()
		plan := BuildPlan(opp, approvedAssessment(opp))
		if len(plan.Steps) != 3 {
			t.Fatalf("got %d steps, want 3", len(plan.Steps))
		}
		bridge := plan.Steps[1]
		if bridge.Kind != domain.StepBridge {
			t.Fatalf("middle step kind = %s, want bridge", bridge.Kind)
		}
		if bridge.Chain != domain.ChainEthereum || bridge.TargetChain != domain.ChainArbitrum {
			t.Errorf("bridge route = %s -> %s", bridge.Chain, bridge.TargetChain)
		}
	})
}

func TestExecuteBoundsConcurrentExecutions(t *testing.T) {
	gate := make(chan struct{})
	scripts := make([]*stepScript, 6)
	for i := range scripts {
		scripts[i] = &stepScript{block: gate, result: domain.StepResult{Status: domain.StepSucceeded, FilledUSD: 200, CostUSD: 0.05}}
	}
	trades := newFakeTrades(scripts...)
	rec := &fakeRecorder{}
	cfg := testCoordinatorConfig()
	cfg.MaxConcurrent = 2
	c := New(cfg, trades, newFakeBridges(), nil, &fakeBreaker{}, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Three distinct routes so the per-route lock is not what serializes.
	opps := make([]domain.Opportunity, 3)
	for i, venue := range []domain.Venue{"sushiswap", "camelot", "balancer"} {
		opp := sameChainOpp()
		opp.ID = fmt.Sprintf("opp-%d", i)
		opp.TargetVenue = venue
		opps[i] = opp
	}

	var wg sync.WaitGroup
	for _, opp := range opps {
		opp := opp
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Execute(context.Background(), opp, approvedAssessment(opp)); err != nil {
				t.Error(err)
			}
		}()
	}

	// Two buy legs reach the executor while the pool is full.
	for i := 0; i < 2; i++ {
		select {
		case <-trades.submitted:
		case <-time.After(time.Second):
			t.Fatalf("execution %d never submitted", i)
		}
	}

	// The third must wait for a slot, not submit.
	select {
	case ref := <-trades.submitted:
		t.Fatalf("%s submitted while the pool was full", ref)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	wg.Wait()

	if got := len(rec.all()); got != 3 {
		t.Fatalf("got %d performance records, want 3", got)
	}
}

func TestExecuteShutdownCancellationIsNotATimeout(t *testing.T) {
	// The buy leg's confirmation hangs until the caller's context dies.
	trades := newFakeTrades(&stepScript{block: make(chan struct{})})
	rec := &fakeRecorder{}
	c := newTestCoordinator(trades, newFakeBridges(), &fakeBreaker{}, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opp := sameChainOpp()
	done := make(chan domain.ExecutionState, 1)
	go func() {
		state, err := c.Execute(ctx, opp, approvedAssessment(opp))
		if err != nil {
			t.Error(err)
		}
		done <- state
	}()

	select {
	case <-trades.submitted:
	case <-time.After(time.Second):
		t.Fatal("buy leg never submitted")
	}
	cancel()

	var state domain.ExecutionState
	select {
	case state = <-done:
	case <-time.After(time.Second):
		t.Fatal("execution did not settle after cancellation")
	}

	if state.Status != domain.ExecFailed {
		t.Fatalf("status = %s, want %s", state.Status, domain.ExecFailed)
	}
	if state.FailureReason != domain.ReasonCancelled {
		t.Errorf("failure reason = %s, want %s", state.FailureReason, domain.ReasonCancelled)
	}
	if state.RecoveryAttempted {
		t.Error("recovery attempted though nothing irreversible had happened")
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("got %d performance records, want exactly 1", len(records))
	}
	if records[0].FailureReason != domain.ReasonCancelled {
		t.Errorf("record reason = %s, want %s", records[0].FailureReason, domain.ReasonCancelled)
	}
}
