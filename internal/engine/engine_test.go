package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

type fakeScanner struct {
	opps []domain.Opportunity
}

func (f *fakeScanner) Scan(ctx context.Context) ([]domain.Opportunity, error) {
	return f.opps, nil
}

type fakeEvaluator struct {
	byID map[string]domain.RiskAssessment
}

func (f *fakeEvaluator) Evaluate(opp domain.Opportunity) domain.RiskAssessment {
	return f.byID[opp.ID]
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
}

func (f *fakeExecutor) Execute(ctx context.Context, opp domain.Opportunity, a domain.RiskAssessment) (domain.ExecutionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, opp.ID)
	return domain.ExecutionState{Status: domain.ExecSucceeded}, nil
}

func (f *fakeExecutor) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	copy(out, f.executed)
	return out
}

type memAssessments struct {
	mu   sync.Mutex
	rows []domain.RiskAssessment
}

func (m *memAssessments) Insert(ctx context.Context, a domain.RiskAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}

func (m *memAssessments) ListRecent(ctx context.Context, limit int) ([]domain.RiskAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RiskAssessment(nil), m.rows...), nil
}

func opp(id, asset string, seq uint64) domain.Opportunity {
	return domain.Opportunity{
		ID:       id,
		Seq:      seq,
		Asset:    asset,
		Deadline: time.Now().Add(time.Minute),
	}
}

func approved(id string, seq uint64, net, size float64) domain.RiskAssessment {
	return domain.RiskAssessment{
		OpportunityID: id,
		Seq:           seq,
		NetProfitUSD:  net,
		TradeSizeUSD:  size,
		Verdict:       domain.VerdictApprove,
	}
}

func rejected(id string) domain.RiskAssessment {
	return domain.RiskAssessment{
		OpportunityID: id,
		Verdict:       domain.VerdictReject,
		Reason:        domain.ReasonBelowProfitThreshold,
	}
}

func newTestEngine(s Scanner, ev Evaluator, ex Executor, store domain.AssessmentStore) *Engine {
	return New(s, ev, ex, store, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTickDispatchesOnlyApproved(t *testing.T) {
	scanner := &fakeScanner{opps: []domain.Opportunity{
		opp("good", "WETH/USDC", 1),
		opp("bad", "WBTC/USDC", 2),
	}}
	evaluator := &fakeEvaluator{byID: map[string]domain.RiskAssessment{
		"good": approved("good", 1, 5, 200),
		"bad":  rejected("bad"),
	}}
	executor := &fakeExecutor{}
	store := &memAssessments{}

	e := newTestEngine(scanner, evaluator, executor, store)
	e.Tick(context.Background())
	e.Wait()

	ids := executor.ids()
	if len(ids) != 1 || ids[0] != "good" {
		t.Fatalf("executed = %v, want only [good]", ids)
	}

	rows, _ := store.ListRecent(context.Background(), 10)
	if len(rows) != 2 {
		t.Fatalf("persisted %d assessments, want 2 (approved and rejected)", len(rows))
	}
}

func TestTickTieBreaksByCapitalEfficiency(t *testing.T) {
	scanner := &fakeScanner{opps: []domain.Opportunity{
		opp("big", "WETH/USDC", 1),
		opp("efficient", "WETH/USDC", 2),
	}}
	evaluator := &fakeEvaluator{byID: map[string]domain.RiskAssessment{
		// $6 on $1000 committed (0.6%) loses to $4 on $200 (2%).
		"big":       approved("big", 1, 6, 1000),
		"efficient": approved("efficient", 2, 4, 200),
	}}
	executor := &fakeExecutor{}

	e := newTestEngine(scanner, evaluator, executor, &memAssessments{})
	e.Tick(context.Background())
	e.Wait()

	ids := executor.ids()
	if len(ids) != 1 || ids[0] != "efficient" {
		t.Fatalf("executed = %v, want only [efficient]", ids)
	}
}

func TestTickDispatchesAcrossAssets(t *testing.T) {
	scanner := &fakeScanner{opps: []domain.Opportunity{
		opp("eth", "WETH/USDC", 1),
		opp("btc", "WBTC/USDC", 2),
	}}
	evaluator := &fakeEvaluator{byID: map[string]domain.RiskAssessment{
		"eth": approved("eth", 1, 5, 200),
		"btc": approved("btc", 2, 3, 200),
	}}
	executor := &fakeExecutor{}

	e := newTestEngine(scanner, evaluator, executor, &memAssessments{})
	e.Tick(context.Background())
	e.Wait()

	if got := len(executor.ids()); got != 2 {
		t.Fatalf("executed %d opportunities, want one per asset", got)
	}
}
