package domain

import (
	"fmt"
	"time"
)

// Opportunity is a candidate arbitrage detected by the scanner: the same asset
// priced differently on two venues, with everything needed to cost the trade
// captured at detection time. An Opportunity is never mutated after creation;
// re-scanning the same route produces a new Opportunity with a higher Seq.
type Opportunity struct {
	ID  string
	Seq uint64

	Asset       string
	SourceVenue Venue
	SourceChain Chain
	TargetVenue Venue
	TargetChain Chain

	// TradeSizeUSD is capped at detection time to a fraction of the shallower
	// side's liquidity, so price impact is bounded by construction.
	TradeSizeUSD   float64
	GrossSpreadPct float64
	GrossSpreadUSD float64

	// Observations the candidate was computed from.
	SourceQuote Quote
	TargetQuote Quote
	SourceGas   GasEstimate
	TargetGas   GasEstimate
	// Bridge is nil for same-chain opportunities, and may be nil for a
	// cross-chain candidate when no bridge quote was available; the
	// evaluator rejects the latter.
	Bridge *BridgeQuote

	DetectedAt time.Time
	// Deadline is the freshness bound: past it the Opportunity must be
	// re-validated or discarded, never executed.
	Deadline time.Time
}

// CrossChain reports whether capturing the spread requires a bridge transfer.
func (o Opportunity) CrossChain() bool {
	return o.SourceChain != o.TargetChain
}

// RouteKey identifies the (asset, source venue, target venue) route. At most
// one execution may be in flight per route at any time.
func (o Opportunity) RouteKey() string {
	return fmt.Sprintf("%s|%s|%s", o.Asset, o.SourceVenue, o.TargetVenue)
}

// Expired reports whether the freshness deadline has passed.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.Deadline)
}
