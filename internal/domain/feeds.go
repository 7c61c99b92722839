package domain

import "context"

// PriceFeed fetches the current quote for an asset on a venue. Implementations
// return ErrStaleData or ErrUnavailable when no usable observation exists.
type PriceFeed interface {
	GetQuote(ctx context.Context, asset string, venue Venue, chain Chain) (Quote, error)
}

// GasFeed fetches the current gas estimate for a chain.
type GasFeed interface {
	GetGasEstimate(ctx context.Context, chain Chain) (GasEstimate, error)
}

// BridgeFeed fetches a quote for moving value between two chains.
// Implementations return ErrBridgeUnavailable when the route is down.
type BridgeFeed interface {
	GetQuote(ctx context.Context, asset string, source, target Chain, amountUSD float64) (BridgeQuote, error)
}

// TradeExecutor submits swaps to a venue and reports their confirmation
// status. SubmitSwap returns as soon as the operation is accepted by the
// external system; the caller polls ConfirmSwap until the result is terminal.
type TradeExecutor interface {
	SubmitSwap(ctx context.Context, req SwapRequest) (StepReceipt, error)
	ConfirmSwap(ctx context.Context, receipt StepReceipt) (StepResult, error)
}

// BridgeExecutor submits bridge transfers and reports their settlement status.
type BridgeExecutor interface {
	SubmitTransfer(ctx context.Context, quote BridgeQuote) (StepReceipt, error)
	ConfirmTransfer(ctx context.Context, receipt StepReceipt) (StepResult, error)
}
