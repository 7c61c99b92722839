package evaluator

import "github.com/alanyoungcy/dexarb/internal/domain"

// slippageUSD models expected price impact for executing both legs of an
// opportunity. The base term covers spread-crossing cost; the impact term
// grows quadratically with trade size relative to the shallower book, which
// dominates how much the execution price walks away from the quote.
func (e *Evaluator) slippageUSD(opp domain.Opportunity) float64 {
	depth := shallowerDepth(opp)
	if depth <= 0 {
		return opp.TradeSizeUSD
	}
	ratio := opp.TradeSizeUSD / depth
	fraction := e.cfg.SlippageBaseBps/10000 + ratio*ratio*e.cfg.SlippageImpactCoef
	return opp.TradeSizeUSD * fraction
}

func shallowerDepth(opp domain.Opportunity) float64 {
	d := opp.SourceQuote.LiquidityDepth
	if opp.TargetQuote.LiquidityDepth < d {
		d = opp.TargetQuote.LiquidityDepth
	}
	return d
}
