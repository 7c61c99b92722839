// Package evaluator decides whether detected opportunities survive a full
// cost and risk model. Evaluation is pure with respect to its inputs: the
// opportunity carries the market snapshot it was detected against, so
// re-evaluating the same opportunity yields the same assessment.
package evaluator

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// BreakerReader exposes the current circuit breaker state.
type BreakerReader interface {
	State() domain.CircuitBreakerState
}

// Config carries the evaluation model parameters.
type Config struct {
	MinProfitUSD  float64
	MinProfitFrac float64

	QuoteStaleAfter  time.Duration
	GasStaleAfter    time.Duration
	BridgeStaleAfter time.Duration

	Layer1Bands        BandThresholds
	Layer2Bands        BandThresholds
	BandProfitFloorUSD map[domain.GasBand]float64

	SlippageBaseBps    float64
	SlippageImpactCoef float64

	ObviousSpreadPct   float64
	RiskDiscountFactor float64
	RiskRejectScore    float64
}

type Evaluator struct {
	cfg       Config
	breaker   BreakerReader
	incidents *IncidentRegister
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg Config, breaker BreakerReader, incidents *IncidentRegister, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:       cfg,
		breaker:   breaker,
		incidents: incidents,
		logger:    logger.With(slog.String("component", "evaluator")),
		now:       time.Now,
	}
}

// Evaluate scores one opportunity against the cost and risk model and
// returns a full assessment. The assessment is produced for every input,
// approved or not, so the decision trail can be persisted.
func (e *Evaluator) Evaluate(opp domain.Opportunity) domain.RiskAssessment {
	now := e.now()
	a := domain.RiskAssessment{
		OpportunityID:  opp.ID,
		Seq:            opp.Seq,
		Asset:          opp.Asset,
		RouteKey:       opp.RouteKey(),
		GrossSpreadUSD: opp.GrossSpreadUSD,
		TradeSizeUSD:   opp.TradeSizeUSD,
		EvaluatedAt:    now,
	}

	if e.breaker != nil && e.breaker.State().Halted {
		return e.reject(a, domain.ReasonCircuitBreakerHalted)
	}

	if opp.SourceQuote.Stale(now, e.cfg.QuoteStaleAfter) ||
		opp.TargetQuote.Stale(now, e.cfg.QuoteStaleAfter) ||
		opp.SourceGas.Stale(now, e.cfg.GasStaleAfter) ||
		opp.TargetGas.Stale(now, e.cfg.GasStaleAfter) {
		return e.reject(a, domain.ReasonStaleData)
	}

	depth := shallowerDepth(opp)
	if depth <= 0 || opp.TradeSizeUSD > depth {
		return e.reject(a, domain.ReasonInsufficientLiquidity)
	}

	a.SourceGasBand = e.bandFor(opp.SourceGas)
	a.TargetGasBand = e.bandFor(opp.TargetGas)
	if a.SourceGasBand == domain.GasBandExtreme || a.TargetGasBand == domain.GasBandExtreme {
		return e.reject(a, domain.ReasonExtremeGas)
	}

	a.GasCostUSD = opp.SourceGas.SwapCostUSD() + opp.TargetGas.SwapCostUSD()

	if opp.CrossChain() {
		b := opp.Bridge
		if b == nil || !b.Available || b.Stale(now, e.cfg.BridgeStaleAfter) {
			return e.reject(a, domain.ReasonBridgeUnavailable)
		}
		a.BridgeFeeUSD = b.FeeUSD
	}

	a.SlippageUSD = e.slippageUSD(opp)

	a.ExtractionRisk = e.extractionRisk(opp, now)
	if a.ExtractionRisk >= e.cfg.RiskRejectScore {
		return e.reject(a, domain.ReasonRiskThresholdExceeded)
	}
	a.RiskDiscountUSD = a.ExtractionRisk * opp.TradeSizeUSD * e.cfg.RiskDiscountFactor

	a.NetProfitUSD = a.GrossSpreadUSD - a.GasCostUSD - a.SlippageUSD - a.BridgeFeeUSD - a.RiskDiscountUSD

	floor := e.cfg.MinProfitUSD
	if f := e.bandFloorUSD(a.SourceGasBand); f > floor {
		floor = f
	}
	if f := e.bandFloorUSD(a.TargetGasBand); f > floor {
		floor = f
	}
	if a.NetProfitUSD < floor || a.NetProfitUSD < opp.TradeSizeUSD*e.cfg.MinProfitFrac {
		return e.reject(a, domain.ReasonBelowProfitThreshold)
	}

	a.Verdict = domain.VerdictApprove
	a.Reason = domain.ReasonNone
	e.logger.Debug("opportunity approved",
		slog.String("opportunity_id", a.OpportunityID),
		slog.String("route", a.RouteKey),
		slog.Float64("net_profit_usd", a.NetProfitUSD),
	)
	return a
}

func (e *Evaluator) reject(a domain.RiskAssessment, reason domain.RejectReason) domain.RiskAssessment {
	a.Verdict = domain.VerdictReject
	a.Reason = reason
	e.logger.Debug("opportunity rejected",
		slog.String("opportunity_id", a.OpportunityID),
		slog.String("route", a.RouteKey),
		slog.String("reason", string(reason)),
	)
	return a
}
