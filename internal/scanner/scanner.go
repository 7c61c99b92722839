// Package scanner detects candidate arbitrage opportunities by comparing
// cached quotes for the same asset across venues. It produces immutable
// Opportunity snapshots; costing them is the evaluator's job.
package scanner

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// WatchTarget is one (asset, venue, chain) tuple the scanner monitors.
// Venue names must be unique across chains within a watch list (the quote
// cache keys by venue); a venue deployed on several chains needs a distinct
// name per deployment, e.g. "uniswap-arbitrum". Quotes observed on a
// different chain than the one watched are discarded.
type WatchTarget struct {
	Asset string
	Venue domain.Venue
	Chain domain.Chain
}

// Config holds the detection parameters.
type Config struct {
	// CrossChain enables pairs whose venues live on different chains.
	CrossChain bool
	// NoiseFloorPct discards spreads too small to ever cover costs,
	// expressed as a fraction of the buy price.
	NoiseFloorPct   float64
	QuoteStaleAfter time.Duration
	MinTradeSizeUSD float64
	MaxTradeSizeUSD float64
	// LiquidityFraction caps trade size to this fraction of the shallower
	// side's depth.
	LiquidityFraction float64
	// FreshnessWindow sets each opportunity's execution deadline relative
	// to detection time.
	FreshnessWindow time.Duration
}

type Scanner struct {
	cfg     Config
	watch   []WatchTarget
	quotes  domain.QuoteCache
	gas     domain.GasCache
	bridges domain.BridgeQuoteCache
	logger  *slog.Logger

	seq atomic.Uint64
	now func() time.Time
}

func New(cfg Config, watch []WatchTarget, quotes domain.QuoteCache, gas domain.GasCache, bridges domain.BridgeQuoteCache, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		watch:   watch,
		quotes:  quotes,
		gas:     gas,
		bridges: bridges,
		logger:  logger.With(slog.String("component", "scanner")),
		now:     time.Now,
	}
}

// Scan runs one detection pass over every watched asset and returns the
// surviving candidates, at most one per route. Quotes that are missing or
// stale simply exclude their pairs; a scan never fails on a cold cache.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Opportunity, error) {
	now := s.now()
	byRoute := make(map[string]domain.Opportunity)

	for asset, targets := range s.groupByAsset() {
		quotes := s.freshQuotes(ctx, asset, targets)
		if len(quotes) < 2 {
			continue
		}

		for i, src := range targets {
			for j, dst := range targets {
				if i == j {
					continue
				}
				sq, ok := quotes[src.Venue]
				if !ok {
					continue
				}
				dq, ok := quotes[dst.Venue]
				if !ok {
					continue
				}
				opp, ok := s.candidate(ctx, now, src, dst, sq, dq)
				if !ok {
					continue
				}
				// Re-detections of an already-seen route keep the highest
				// sequence number.
				if prev, seen := byRoute[opp.RouteKey()]; !seen || opp.Seq > prev.Seq {
					byRoute[opp.RouteKey()] = opp
				}
			}
		}
	}

	out := make([]domain.Opportunity, 0, len(byRoute))
	for _, opp := range byRoute {
		out = append(out, opp)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// candidate builds one directed opportunity (buy at src's ask, sell at dst's
// bid) if the pair clears detection filters.
func (s *Scanner) candidate(ctx context.Context, now time.Time, src, dst WatchTarget, sq, dq domain.Quote) (domain.Opportunity, bool) {
	if src.Chain != dst.Chain && !s.cfg.CrossChain {
		return domain.Opportunity{}, false
	}
	if sq.Ask <= 0 || dq.Bid <= sq.Ask {
		return domain.Opportunity{}, false
	}
	spreadPct := (dq.Bid - sq.Ask) / sq.Ask
	if spreadPct <= s.cfg.NoiseFloorPct {
		return domain.Opportunity{}, false
	}

	depth := sq.LiquidityDepth
	if dq.LiquidityDepth < depth {
		depth = dq.LiquidityDepth
	}
	size := depth * s.cfg.LiquidityFraction
	if size > s.cfg.MaxTradeSizeUSD {
		size = s.cfg.MaxTradeSizeUSD
	}
	if size < s.cfg.MinTradeSizeUSD {
		return domain.Opportunity{}, false
	}

	srcGas, err := s.gas.GetEstimate(ctx, src.Chain)
	if err != nil {
		s.logger.Debug("no gas estimate", slog.String("chain", string(src.Chain)))
		return domain.Opportunity{}, false
	}
	dstGas := srcGas
	if dst.Chain != src.Chain {
		dstGas, err = s.gas.GetEstimate(ctx, dst.Chain)
		if err != nil {
			s.logger.Debug("no gas estimate", slog.String("chain", string(dst.Chain)))
			return domain.Opportunity{}, false
		}
	}

	opp := domain.Opportunity{
		ID:             uuid.NewString(),
		Seq:            s.seq.Add(1),
		Asset:          src.Asset,
		SourceVenue:    src.Venue,
		SourceChain:    src.Chain,
		TargetVenue:    dst.Venue,
		TargetChain:    dst.Chain,
		TradeSizeUSD:   size,
		GrossSpreadPct: spreadPct,
		GrossSpreadUSD: size * spreadPct,
		SourceQuote:    sq,
		TargetQuote:    dq,
		SourceGas:      srcGas,
		TargetGas:      dstGas,
		DetectedAt:     now,
		Deadline:       now.Add(s.cfg.FreshnessWindow),
	}

	if opp.CrossChain() {
		// A missing bridge quote still yields a candidate; the evaluator
		// rejects it with an explicit reason rather than it vanishing here.
		if bq, err := s.bridges.GetQuote(ctx, src.Asset, src.Chain, dst.Chain); err == nil {
			opp.Bridge = &bq
		}
	}
	return opp, true
}

// freshQuotes fetches quotes for the asset's venues and drops entries that
// are stale or were observed on a different chain than the one watched.
func (s *Scanner) freshQuotes(ctx context.Context, asset string, targets []WatchTarget) map[domain.Venue]domain.Quote {
	venues := make([]domain.Venue, 0, len(targets))
	wantChain := make(map[domain.Venue]domain.Chain, len(targets))
	for _, t := range targets {
		venues = append(venues, t.Venue)
		wantChain[t.Venue] = t.Chain
	}
	quotes, err := s.quotes.GetQuotes(ctx, asset, venues)
	if err != nil {
		s.logger.Warn("quote fetch failed", slog.String("asset", asset), slog.Any("error", err))
		return nil
	}

	now := s.now()
	fresh := make(map[domain.Venue]domain.Quote, len(quotes))
	for venue, q := range quotes {
		if q.Stale(now, s.cfg.QuoteStaleAfter) {
			continue
		}
		if q.Chain != wantChain[venue] {
			s.logger.Warn("quote chain mismatch, dropping",
				slog.String("venue", string(venue)),
				slog.String("quote_chain", string(q.Chain)),
				slog.String("watched_chain", string(wantChain[venue])),
			)
			continue
		}
		fresh[venue] = q
	}
	return fresh
}

func (s *Scanner) groupByAsset() map[string][]WatchTarget {
	grouped := make(map[string][]WatchTarget)
	for _, t := range s.watch {
		grouped[t.Asset] = append(grouped[t.Asset], t)
	}
	return grouped
}
