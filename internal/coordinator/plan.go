package coordinator

import (
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// BuildPlan turns an approved assessment into an ordered step list.
//
// Same-chain: buy at the source venue, sell at the target venue. Cross-chain:
// buy at the source venue, bridge to the target chain, sell at the target
// venue. Every step past the first leaves capital away from its origin, so
// all steps are irreversible once the first swap fills.
func BuildPlan(opp domain.Opportunity, a domain.RiskAssessment) domain.ExecutionPlan {
	// Per-step tolerance: twice the modeled slippage for the whole trade.
	// An execution walking past this is worse than the model's worst case
	// and should fail rather than fill.
	maxSlippagePct := 0.0
	if a.TradeSizeUSD > 0 {
		maxSlippagePct = 2 * a.SlippageUSD / a.TradeSizeUSD
	}
	perLegGasUSD := a.GasCostUSD / 2

	steps := []domain.ExecutionStep{
		{
			Kind:            domain.StepSwap,
			Venue:           opp.SourceVenue,
			Chain:           opp.SourceChain,
			Asset:           opp.Asset,
			Side:            domain.SwapBuy,
			AmountUSD:       opp.TradeSizeUSD,
			ExpectedCostUSD: perLegGasUSD,
			MaxSlippagePct:  maxSlippagePct,
			Irreversible:    true,
		},
	}

	if opp.CrossChain() {
		steps = append(steps, domain.ExecutionStep{
			Kind:            domain.StepBridge,
			Chain:           opp.SourceChain,
			TargetChain:     opp.TargetChain,
			Asset:           opp.Asset,
			AmountUSD:       opp.TradeSizeUSD,
			ExpectedCostUSD: a.BridgeFeeUSD,
			Irreversible:    true,
		})
	}

	steps = append(steps, domain.ExecutionStep{
		Kind:            domain.StepSwap,
		Venue:           opp.TargetVenue,
		Chain:           opp.TargetChain,
		Asset:           opp.Asset,
		Side:            domain.SwapSell,
		AmountUSD:       opp.TradeSizeUSD,
		ExpectedCostUSD: perLegGasUSD,
		MaxSlippagePct:  maxSlippagePct,
		Irreversible:    true,
	})

	return domain.ExecutionPlan{
		OpportunityID: opp.ID,
		RouteKey:      opp.RouteKey(),
		Steps:         steps,
	}
}
