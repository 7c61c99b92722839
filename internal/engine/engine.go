// Package engine runs the detection loop: each tick scans for candidates,
// evaluates them, persists every decision, and dispatches the winners to the
// execution coordinator. Executions run in the background so a slow bridge
// never stalls detection.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

type Scanner interface {
	Scan(ctx context.Context) ([]domain.Opportunity, error)
}

type Evaluator interface {
	Evaluate(opp domain.Opportunity) domain.RiskAssessment
}

type Executor interface {
	Execute(ctx context.Context, opp domain.Opportunity, a domain.RiskAssessment) (domain.ExecutionState, error)
}

type Engine struct {
	scanner     Scanner
	evaluator   Evaluator
	executor    Executor
	assessments domain.AssessmentStore
	interval    time.Duration
	logger      *slog.Logger

	wg sync.WaitGroup
}

func New(scanner Scanner, evaluator Evaluator, executor Executor, assessments domain.AssessmentStore, interval time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		scanner:     scanner,
		evaluator:   evaluator,
		executor:    executor,
		assessments: assessments,
		interval:    interval,
		logger:      logger.With(slog.String("component", "engine")),
	}
}

// Run ticks the detection loop until the context is cancelled, then waits
// for in-flight executions to settle. Scanner and evaluator failures are
// local to their tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one scan-evaluate-dispatch cycle. When several approved
// opportunities compete for the same asset in a tick, the one with the
// highest net profit per committed dollar wins; the rest are dropped and
// will be re-detected if still live.
func (e *Engine) Tick(ctx context.Context) {
	opps, err := e.scanner.Scan(ctx)
	if err != nil {
		e.logger.Warn("scan failed", slog.Any("error", err))
		return
	}
	if len(opps) == 0 {
		return
	}

	type candidate struct {
		opp domain.Opportunity
		a   domain.RiskAssessment
	}
	best := make(map[string]candidate)

	for _, opp := range opps {
		a := e.evaluator.Evaluate(opp)

		if e.assessments != nil {
			if err := e.assessments.Insert(ctx, a); err != nil {
				e.logger.Warn("assessment persist failed",
					slog.String("opportunity_id", a.OpportunityID), slog.Any("error", err))
			}
		}
		if !a.Approved() {
			continue
		}

		cur, ok := best[opp.Asset]
		if !ok || better(a, cur.a) {
			best[opp.Asset] = candidate{opp: opp, a: a}
		}
	}

	if e.executor == nil {
		// Detection-only deployments evaluate and persist but never trade.
		for _, c := range best {
			e.logger.Info("approved opportunity (execution disabled)",
				slog.String("opportunity_id", c.opp.ID),
				slog.String("route", c.a.RouteKey),
				slog.Float64("net_profit_usd", c.a.NetProfitUSD),
			)
		}
		return
	}

	for _, c := range best {
		e.dispatch(ctx, c.opp, c.a)
	}
}

// better orders approved assessments for the per-asset tie-break: capital
// efficiency first, absolute profit next, recency last.
func better(a, b domain.RiskAssessment) bool {
	if a.ProfitPerUnit() != b.ProfitPerUnit() {
		return a.ProfitPerUnit() > b.ProfitPerUnit()
	}
	if a.NetProfitUSD != b.NetProfitUSD {
		return a.NetProfitUSD > b.NetProfitUSD
	}
	return a.Seq > b.Seq
}

func (e *Engine) dispatch(ctx context.Context, opp domain.Opportunity, a domain.RiskAssessment) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		state, err := e.executor.Execute(ctx, opp, a)
		switch {
		case errors.Is(err, domain.ErrRouteLocked):
			e.logger.Debug("route busy, opportunity dropped",
				slog.String("route", a.RouteKey))
		case err != nil:
			e.logger.Error("execution error",
				slog.String("opportunity_id", opp.ID), slog.Any("error", err))
		default:
			e.logger.Info("execution finished",
				slog.String("opportunity_id", opp.ID),
				slog.String("status", string(state.Status)),
				slog.Float64("profit_usd", state.RealizedProfitUSD),
			)
		}
	}()
}

// Wait blocks until all dispatched executions have settled.
func (e *Engine) Wait() {
	e.wg.Wait()
}
