package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// BridgeRoute is one cross-chain route whose bridge quote is kept warm.
type BridgeRoute struct {
	Asset     string
	Source    domain.Chain
	Target    domain.Chain
	AmountUSD float64
}

// Refresher keeps the gas and bridge caches warm by polling the feeds on
// their configured intervals. The scanner only ever reads caches, so feed
// latency and rate limits stay out of the detection path.
type Refresher struct {
	gasFeed    domain.GasFeed
	bridgeFeed domain.BridgeFeed

	gasCache    domain.GasCache
	bridgeCache domain.BridgeQuoteCache

	chains []domain.Chain
	routes []BridgeRoute

	gasInterval    time.Duration
	bridgeInterval time.Duration
	logger         *slog.Logger
}

func NewRefresher(
	gasFeed domain.GasFeed, bridgeFeed domain.BridgeFeed,
	gasCache domain.GasCache, bridgeCache domain.BridgeQuoteCache,
	chains []domain.Chain, routes []BridgeRoute,
	gasInterval, bridgeInterval time.Duration,
	logger *slog.Logger,
) *Refresher {
	return &Refresher{
		gasFeed:        gasFeed,
		bridgeFeed:     bridgeFeed,
		gasCache:       gasCache,
		bridgeCache:    bridgeCache,
		chains:         chains,
		routes:         routes,
		gasInterval:    gasInterval,
		bridgeInterval: bridgeInterval,
		logger:         logger.With(slog.String("component", "refresher")),
	}
}

// Run polls both feeds until the context is cancelled. A failed refresh for
// one chain or route never blocks the others; the stale entry simply ages
// out of its cache.
func (r *Refresher) Run(ctx context.Context) error {
	r.refreshGas(ctx)
	r.refreshBridges(ctx)

	gasTicker := time.NewTicker(r.gasInterval)
	defer gasTicker.Stop()
	bridgeTicker := time.NewTicker(r.bridgeInterval)
	defer bridgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gasTicker.C:
			r.refreshGas(ctx)
		case <-bridgeTicker.C:
			r.refreshBridges(ctx)
		}
	}
}

func (r *Refresher) refreshGas(ctx context.Context) {
	for _, chain := range r.chains {
		estimate, err := r.gasFeed.GetGasEstimate(ctx, chain)
		if err != nil {
			r.logger.Warn("gas refresh failed",
				slog.String("chain", string(chain)), slog.Any("error", err))
			continue
		}
		if err := r.gasCache.SetEstimate(ctx, estimate); err != nil {
			r.logger.Warn("gas cache write failed",
				slog.String("chain", string(chain)), slog.Any("error", err))
		}
	}
}

func (r *Refresher) refreshBridges(ctx context.Context) {
	for _, route := range r.routes {
		quote, err := r.bridgeFeed.GetQuote(ctx, route.Asset, route.Source, route.Target, route.AmountUSD)
		if err != nil {
			r.logger.Warn("bridge refresh failed",
				slog.String("source", string(route.Source)),
				slog.String("target", string(route.Target)),
				slog.Any("error", err))
			continue
		}
		if err := r.bridgeCache.SetQuote(ctx, quote); err != nil {
			r.logger.Warn("bridge cache write failed",
				slog.String("source", string(route.Source)),
				slog.String("target", string(route.Target)),
				slog.Any("error", err))
		}
	}
}
