package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// PaperConfig tunes the simulated execution venue.
type PaperConfig struct {
	// SwapLatency and BridgeLatency delay confirmation, so the coordinator's
	// polling and timeout paths run for real against simulated fills.
	SwapLatency   time.Duration
	BridgeLatency time.Duration
	// SwapGasUSD is charged per simulated swap.
	SwapGasUSD float64
}

type paperOrder struct {
	req         domain.SwapRequest
	submittedAt time.Time
	askAtSubmit float64
	bidAtSubmit float64
}

// PaperTradeExecutor simulates swap execution against live cached quotes.
// Buys accumulate a per-asset position in units; sells liquidate it at the
// current bid, so the realized spread comes from real market movement rather
// than a scripted outcome.
type PaperTradeExecutor struct {
	cfg    PaperConfig
	quotes domain.QuoteCache

	mu       sync.Mutex
	orders   map[string]paperOrder
	position map[string]float64 // asset -> units held
}

var _ domain.TradeExecutor = (*PaperTradeExecutor)(nil)

func NewPaperTradeExecutor(cfg PaperConfig, quotes domain.QuoteCache) *PaperTradeExecutor {
	return &PaperTradeExecutor{
		cfg:      cfg,
		quotes:   quotes,
		orders:   make(map[string]paperOrder),
		position: make(map[string]float64),
	}
}

func (p *PaperTradeExecutor) SubmitSwap(ctx context.Context, req domain.SwapRequest) (domain.StepReceipt, error) {
	q, err := p.quotes.GetQuote(ctx, req.Venue, req.Asset)
	if err != nil {
		return domain.StepReceipt{}, fmt.Errorf("feed: paper submit: %w", err)
	}

	ref := "paper-" + uuid.NewString()
	p.mu.Lock()
	p.orders[ref] = paperOrder{
		req:         req,
		submittedAt: time.Now(),
		askAtSubmit: q.Ask,
		bidAtSubmit: q.Bid,
	}
	p.mu.Unlock()

	return domain.StepReceipt{Ref: ref, Kind: domain.StepSwap, SubmittedAt: time.Now()}, nil
}

func (p *PaperTradeExecutor) ConfirmSwap(ctx context.Context, receipt domain.StepReceipt) (domain.StepResult, error) {
	p.mu.Lock()
	order, ok := p.orders[receipt.Ref]
	p.mu.Unlock()
	if !ok {
		return domain.StepResult{}, fmt.Errorf("feed: paper confirm: unknown ref %s: %w", receipt.Ref, domain.ErrNotFound)
	}

	if time.Since(order.submittedAt) < p.cfg.SwapLatency {
		return domain.StepResult{Ref: receipt.Ref, Status: domain.StepPending}, nil
	}

	q, err := p.quotes.GetQuote(ctx, order.req.Venue, order.req.Asset)
	if err != nil {
		// The quote vanished mid-flight; fill at the submission snapshot.
		q = domain.Quote{Ask: order.askAtSubmit, Bid: order.bidAtSubmit}
	}

	result := domain.StepResult{Ref: receipt.Ref, Status: domain.StepSucceeded, CostUSD: p.cfg.SwapGasUSD}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, receipt.Ref)

	switch order.req.Side {
	case domain.SwapBuy:
		if order.req.MaxSlippagePct > 0 && q.Ask > order.askAtSubmit*(1+order.req.MaxSlippagePct) {
			result.Status = domain.StepFailed
			result.Reason = domain.ReasonSlippageExceeded
			return result, nil
		}
		p.position[order.req.Asset] += order.req.AmountUSD / q.Ask
		result.FilledUSD = order.req.AmountUSD
	case domain.SwapSell:
		if order.req.MaxSlippagePct > 0 && q.Bid < order.bidAtSubmit*(1-order.req.MaxSlippagePct) {
			result.Status = domain.StepFailed
			result.Reason = domain.ReasonSlippageExceeded
			return result, nil
		}
		units := p.position[order.req.Asset]
		if units == 0 {
			units = order.req.AmountUSD / q.Bid
		}
		p.position[order.req.Asset] = 0
		result.FilledUSD = units * q.Bid
	}
	return result, nil
}

// PaperBridgeExecutor simulates bridge transfers: the full amount arrives
// after the configured latency, at the quoted fee.
type PaperBridgeExecutor struct {
	cfg PaperConfig

	mu        sync.Mutex
	transfers map[string]paperTransfer
}

type paperTransfer struct {
	quote       domain.BridgeQuote
	submittedAt time.Time
}

var _ domain.BridgeExecutor = (*PaperBridgeExecutor)(nil)

func NewPaperBridgeExecutor(cfg PaperConfig) *PaperBridgeExecutor {
	return &PaperBridgeExecutor{
		cfg:       cfg,
		transfers: make(map[string]paperTransfer),
	}
}

func (p *PaperBridgeExecutor) SubmitTransfer(ctx context.Context, quote domain.BridgeQuote) (domain.StepReceipt, error) {
	if !quote.Available {
		return domain.StepReceipt{}, fmt.Errorf("feed: paper bridge: %w", domain.ErrBridgeUnavailable)
	}

	ref := "paper-bridge-" + uuid.NewString()
	p.mu.Lock()
	p.transfers[ref] = paperTransfer{quote: quote, submittedAt: time.Now()}
	p.mu.Unlock()

	return domain.StepReceipt{Ref: ref, Kind: domain.StepBridge, SubmittedAt: time.Now()}, nil
}

func (p *PaperBridgeExecutor) ConfirmTransfer(ctx context.Context, receipt domain.StepReceipt) (domain.StepResult, error) {
	p.mu.Lock()
	transfer, ok := p.transfers[receipt.Ref]
	p.mu.Unlock()
	if !ok {
		return domain.StepResult{}, fmt.Errorf("feed: paper bridge confirm: unknown ref %s: %w", receipt.Ref, domain.ErrNotFound)
	}

	latency := p.cfg.BridgeLatency
	if transfer.quote.SettlementTime > 0 && transfer.quote.SettlementTime < latency {
		latency = transfer.quote.SettlementTime
	}
	if time.Since(transfer.submittedAt) < latency {
		return domain.StepResult{Ref: receipt.Ref, Status: domain.StepPending}, nil
	}

	p.mu.Lock()
	delete(p.transfers, receipt.Ref)
	p.mu.Unlock()

	return domain.StepResult{
		Ref:       receipt.Ref,
		Status:    domain.StepSucceeded,
		FilledUSD: transfer.quote.AmountUSD,
		CostUSD:   transfer.quote.FeeUSD,
	}, nil
}
