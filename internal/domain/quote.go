package domain

import "time"

// Chain identifies a blockchain network.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
	ChainBase     Chain = "base"
	ChainPolygon  Chain = "polygon"
)

// ChainClass groups chains by their gas-cost regime. Layer-2 chains run at a
// materially lower absolute gas cost than mainnet, so gas bands are defined
// per class rather than globally.
type ChainClass string

const (
	ChainClassLayer1 ChainClass = "layer1"
	ChainClassLayer2 ChainClass = "layer2"
)

// classOf maps known chains to their class. Unknown chains are treated as
// layer-1 so the stricter gas bands apply.
var classOf = map[Chain]ChainClass{
	ChainEthereum: ChainClassLayer1,
	ChainArbitrum: ChainClassLayer2,
	ChainOptimism: ChainClassLayer2,
	ChainBase:     ChainClassLayer2,
	ChainPolygon:  ChainClassLayer2,
}

// Class returns the gas-cost class of the chain.
func (c Chain) Class() ChainClass {
	if cl, ok := classOf[c]; ok {
		return cl
	}
	return ChainClassLayer1
}

// Venue identifies a trading venue (a DEX deployment on a specific chain).
type Venue string

// Quote is one immutable price/liquidity observation for an asset on a venue.
// Newer quotes for the same (venue, asset) supersede older ones; a Quote is
// never mutated after it is recorded.
type Quote struct {
	Venue      Venue
	Chain      Chain
	Asset      string
	Bid        float64
	Ask        float64
	Mid        float64
	// LiquidityDepth is the quote-asset notional available near the top of
	// the book, used for trade sizing and slippage estimation.
	LiquidityDepth float64
	Confidence     float64
	ObservedAt     time.Time
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// Stale reports whether the quote is older than the given bound.
func (q Quote) Stale(now time.Time, bound time.Duration) bool {
	return q.Age(now) > bound
}

// GasEstimate is one observation of the cost of executing a swap on a chain.
type GasEstimate struct {
	Chain        Chain
	PriceGwei    float64
	SwapGasUnits uint64
	// NativeUSD is the USD price of the chain's native gas token, needed to
	// express gas cost in quote-asset terms.
	NativeUSD  float64
	ObservedAt time.Time
}

// SwapCostUSD returns the USD cost of one swap at this gas price.
func (g GasEstimate) SwapCostUSD() float64 {
	return g.PriceGwei * 1e-9 * float64(g.SwapGasUnits) * g.NativeUSD
}

// Stale reports whether the estimate is older than the given bound. A stale
// GasEstimate must not be used in a trading decision.
func (g GasEstimate) Stale(now time.Time, bound time.Duration) bool {
	return now.Sub(g.ObservedAt) > bound
}

// BridgeQuote is one observation of the cost and availability of moving value
// between two chains. It is only consulted for cross-chain opportunities.
type BridgeQuote struct {
	SourceChain    Chain
	TargetChain    Chain
	Asset          string
	AmountUSD      float64
	FeeUSD         float64
	SettlementTime time.Duration
	Available      bool
	ObservedAt     time.Time
}

// Stale reports whether the bridge quote is older than the given bound.
func (b BridgeQuote) Stale(now time.Time, bound time.Duration) bool {
	return now.Sub(b.ObservedAt) > bound
}
