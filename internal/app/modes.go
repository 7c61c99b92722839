package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/coordinator"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/engine"
	"github.com/alanyoungcy/dexarb/internal/evaluator"
	"github.com/alanyoungcy/dexarb/internal/feed"
	"github.com/alanyoungcy/dexarb/internal/ledger"
	"github.com/alanyoungcy/dexarb/internal/monitor"
	"github.com/alanyoungcy/dexarb/internal/notify"
	"github.com/alanyoungcy/dexarb/internal/scanner"
	"github.com/alanyoungcy/dexarb/internal/server"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
)

// archiveInterval is how often the ledger archiver sweeps aged records.
const archiveInterval = 24 * time.Hour

// RunMode starts the full pipeline against the live execution gateway:
// price/gas/bridge feeds, the detection engine, the execution coordinator,
// the ledger archiver, and (if enabled) the operator API.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	limiter := feedLimiter(a.cfg.Feeds)
	gateway := feed.NewExecHTTPGateway(
		a.cfg.Feeds.ExecutionURL, a.cfg.Feeds.ExecutionKey,
		a.cfg.Feeds.RequestTimeout.Duration, limiter,
	)
	return a.runEngine(ctx, deps, gateway, gateway, limiter)
}

// PaperMode runs the full pipeline against live market data but simulated
// execution: fills settle against current cached quotes instead of real
// swaps, so strategy parameters can be validated without capital at risk.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	paperCfg := feed.PaperConfig{
		SwapLatency:   500 * time.Millisecond,
		BridgeLatency: 5 * time.Second,
		SwapGasUSD:    0.10,
	}
	trades := feed.NewPaperTradeExecutor(paperCfg, deps.QuoteCache)
	bridges := feed.NewPaperBridgeExecutor(paperCfg)
	return a.runEngine(ctx, deps, trades, bridges, feedLimiter(a.cfg.Feeds))
}

// MonitorMode runs feeds, scanner, and evaluator without any execution.
// Every assessment is still persisted, so the decision trail accumulates
// while no orders leave the process.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	breaker := a.buildBreaker(ctx, deps)
	eng := engine.New(
		a.buildScanner(deps),
		a.buildEvaluator(breaker),
		nil, // detection only
		deps.AssessmentStore,
		a.cfg.Scanner.Interval.Duration,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeeds(ctx, g, deps, feedLimiter(a.cfg.Feeds)); err != nil {
		return err
	}
	a.startServer(ctx, g, deps, breaker)
	g.Go(func() error { return eng.Run(ctx) })
	return g.Wait()
}

// ServerMode serves the operator API over the postgres stores only; no
// feeds, no engine. Useful for inspecting a deployment's history while the
// trading process is stopped.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	breaker := monitor.NewBreaker(breakerConfig(a.cfg.Breaker), a.logger)
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, breaker)
	return g.Wait()
}

// runEngine assembles the shared run/paper pipeline around the given
// executors and blocks until the context is cancelled.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, trades domain.TradeExecutor, bridges domain.BridgeExecutor, limiter *rate.Limiter) error {
	breaker := a.buildBreaker(ctx, deps)
	incidents := evaluator.NewIncidentRegister(a.cfg.Evaluator.IncidentWindow.Duration)

	led := ledger.New(deps.PerformanceStore, deps.SignalBus, 0, a.logger)
	led.AddObserver(breaker)
	led.AddObserver(incidents)
	led.AddObserver(settledNotifier{n: deps.Notifier})

	coord := coordinator.New(
		coordinatorConfig(a.cfg.Coordinator),
		trades, bridges,
		deps.LockManager,
		breaker,
		led,
		a.logger,
	)

	eng := engine.New(
		a.buildScanner(deps),
		a.buildEvaluatorWithIncidents(breaker, incidents),
		coord,
		deps.AssessmentStore,
		a.cfg.Scanner.Interval.Duration,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeeds(ctx, g, deps, limiter); err != nil {
		return err
	}
	a.startServer(ctx, g, deps, breaker)
	if deps.Archiver != nil {
		g.Go(func() error {
			deps.Archiver.Run(ctx, archiveInterval)
			return nil
		})
	}
	g.Go(func() error { return eng.Run(ctx) })
	return g.Wait()
}

// buildBreaker constructs the circuit breaker, restores today's realized
// loss from the ledger so a restart cannot reset the daily limit, and hooks
// halt notifications.
func (a *App) buildBreaker(ctx context.Context, deps *Dependencies) *monitor.Breaker {
	breaker := monitor.NewBreaker(breakerConfig(a.cfg.Breaker), a.logger)

	now := time.Now().UTC()
	if loss, err := deps.PerformanceStore.DailyLossUSD(ctx, now); err != nil {
		a.logger.WarnContext(ctx, "could not restore daily loss, breaker starts at zero",
			slog.Any("error", err))
	} else if loss > 0 {
		breaker.Seed(loss, now)
		a.logger.InfoContext(ctx, "restored daily loss", slog.Float64("loss_usd", loss))
	}

	notifier := deps.Notifier
	breaker.OnHalt(func(state domain.CircuitBreakerState) {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.BreakerHalted(nctx, state); err != nil {
			a.logger.Warn("halt notification failed", slog.Any("error", err))
		}
	})
	return breaker
}

func (a *App) buildScanner(deps *Dependencies) *scanner.Scanner {
	watch := make([]scanner.WatchTarget, 0, len(a.cfg.Scanner.Watch))
	for _, w := range a.cfg.Scanner.Watch {
		watch = append(watch, scanner.WatchTarget{
			Asset: w.Asset,
			Venue: domain.Venue(w.Venue),
			Chain: domain.Chain(w.Chain),
		})
	}
	return scanner.New(scanner.Config{
		CrossChain:        a.cfg.Scanner.CrossChain,
		NoiseFloorPct:     a.cfg.Scanner.NoiseFloorPct,
		QuoteStaleAfter:   a.cfg.Scanner.QuoteStaleAfter.Duration,
		MinTradeSizeUSD:   a.cfg.Scanner.MinTradeSizeUSD,
		MaxTradeSizeUSD:   a.cfg.Scanner.MaxTradeSizeUSD,
		LiquidityFraction: a.cfg.Scanner.LiquidityFraction,
		FreshnessWindow:   a.cfg.Scanner.FreshnessWindow.Duration,
	}, watch, deps.QuoteCache, deps.GasCache, deps.BridgeCache, a.logger)
}

func (a *App) buildEvaluator(breaker evaluator.BreakerReader) *evaluator.Evaluator {
	incidents := evaluator.NewIncidentRegister(a.cfg.Evaluator.IncidentWindow.Duration)
	return a.buildEvaluatorWithIncidents(breaker, incidents)
}

func (a *App) buildEvaluatorWithIncidents(breaker evaluator.BreakerReader, incidents *evaluator.IncidentRegister) *evaluator.Evaluator {
	ec := a.cfg.Evaluator
	floors := make(map[domain.GasBand]float64, len(ec.BandProfitFloorUSD))
	for band, floor := range ec.BandProfitFloorUSD {
		floors[domain.GasBand(band)] = floor
	}
	return evaluator.New(evaluator.Config{
		MinProfitUSD:       ec.MinProfitUSD,
		MinProfitFrac:      ec.MinProfitPct,
		QuoteStaleAfter:    a.cfg.Scanner.QuoteStaleAfter.Duration,
		GasStaleAfter:      ec.GasStaleAfter.Duration,
		BridgeStaleAfter:   ec.BridgeStaleAfter.Duration,
		Layer1Bands:        bandThresholds(ec.Layer1Bands),
		Layer2Bands:        bandThresholds(ec.Layer2Bands),
		BandProfitFloorUSD: floors,
		SlippageBaseBps:    ec.SlippageBaseBps,
		SlippageImpactCoef: ec.SlippageImpactCoef,
		ObviousSpreadPct:   ec.ObviousSpreadPct,
		RiskDiscountFactor: ec.RiskDiscountFactor,
		RiskRejectScore:    ec.RiskRejectScore,
	}, breaker, incidents, a.logger)
}

// startFeeds connects every configured venue websocket and starts the
// gas/bridge refresh loop. Websocket feeds reconnect on their own after the
// initial connection succeeds; a venue that cannot connect at startup fails
// the whole mode.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies, limiter *rate.Limiter) error {
	for _, v := range a.cfg.Feeds.Venues {
		pf := feed.NewWSPriceFeed(
			domain.Venue(v.Venue), domain.Chain(v.Chain),
			v.WsURL, v.Assets,
			deps.QuoteCache, a.logger,
		)
		if err := pf.Connect(ctx); err != nil {
			return fmt.Errorf("app: connect price feed %s: %w", v.Venue, err)
		}
		g.Go(func() error {
			<-ctx.Done()
			_ = pf.Close()
			return nil
		})
	}

	gasFeed := feed.NewGasHTTPFeed(a.cfg.Feeds.GasURL, a.cfg.Feeds.RequestTimeout.Duration, limiter)
	bridgeFeed := feed.NewBridgeHTTPFeed(a.cfg.Feeds.BridgeURL, a.cfg.Feeds.RequestTimeout.Duration, limiter)

	refresher := feed.NewRefresher(
		gasFeed, bridgeFeed,
		deps.GasCache, deps.BridgeCache,
		a.watchedChains(), a.bridgeRoutes(),
		a.cfg.Feeds.GasInterval.Duration, a.cfg.Feeds.BridgeInterval.Duration,
		a.logger,
	)
	g.Go(func() error { return refresher.Run(ctx) })
	return nil
}

// startServer registers the operator API goroutines when the server is
// enabled in config.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, breaker handler.BreakerControl) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(
		server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Status: handler.NewStatusHandler(breaker, deps.PerformanceStore, deps.AssessmentStore, a.logger),
		},
		a.logger,
	)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// watchedChains returns the distinct chains appearing in the watch list.
func (a *App) watchedChains() []domain.Chain {
	seen := make(map[domain.Chain]bool)
	var chains []domain.Chain
	for _, w := range a.cfg.Scanner.Watch {
		c := domain.Chain(w.Chain)
		if !seen[c] {
			seen[c] = true
			chains = append(chains, c)
		}
	}
	return chains
}

// bridgeRoutes derives the bridge routes worth quoting from the watch list:
// every ordered pair of distinct chains trading the same asset. Quotes are
// requested at the maximum trade size, the worst case for fees.
func (a *App) bridgeRoutes() []feed.BridgeRoute {
	if !a.cfg.Scanner.CrossChain {
		return nil
	}

	byAsset := make(map[string][]domain.Chain)
	for _, w := range a.cfg.Scanner.Watch {
		c := domain.Chain(w.Chain)
		found := false
		for _, existing := range byAsset[w.Asset] {
			if existing == c {
				found = true
				break
			}
		}
		if !found {
			byAsset[w.Asset] = append(byAsset[w.Asset], c)
		}
	}

	var routes []feed.BridgeRoute
	for asset, chains := range byAsset {
		for _, src := range chains {
			for _, dst := range chains {
				if src == dst {
					continue
				}
				routes = append(routes, feed.BridgeRoute{
					Asset:     asset,
					Source:    src,
					Target:    dst,
					AmountUSD: a.cfg.Scanner.MaxTradeSizeUSD,
				})
			}
		}
	}
	return routes
}

func feedLimiter(fc config.FeedsConfig) *rate.Limiter {
	perSec := fc.RateLimitPerSec
	if perSec <= 0 {
		perSec = 5
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

func coordinatorConfig(cc config.CoordinatorConfig) coordinator.Config {
	return coordinator.Config{
		MaxConcurrent:    cc.MaxConcurrent,
		SwapTimeout:      cc.SwapTimeout.Duration,
		BridgeTimeout:    cc.BridgeTimeout.Duration,
		PollInitial:      cc.PollInitial.Duration,
		PollMax:          cc.PollMax.Duration,
		PollMultiplier:   cc.PollMultiplier,
		RecoveryAttempts: cc.RecoveryAttempts,
		RouteLockTTL:     cc.RouteLockTTL.Duration,
	}
}

func breakerConfig(bc config.BreakerConfig) monitor.Config {
	return monitor.Config{
		MaxConsecutiveLosses: bc.MaxConsecutiveLosses,
		AllocatedCapitalUSD:  bc.AllocatedCapitalUSD,
		MaxDailyLossFrac:     bc.MaxDailyLossFrac,
		FailureRateWindow:    bc.FailureRateWindow,
		MaxFailureRate:       bc.MaxFailureRate,
		Cooldown:             bc.Cooldown.Duration,
	}
}

func bandThresholds(g config.GasBandsConfig) evaluator.BandThresholds {
	return evaluator.BandThresholds{
		UltraLowMax: g.UltraLowMaxGwei,
		LowMax:      g.LowMaxGwei,
		MediumMax:   g.MediumMaxGwei,
		HighMax:     g.HighMaxGwei,
	}
}

// settledNotifier forwards ledger records to the notification channels
// without blocking the recording path.
type settledNotifier struct {
	n *notify.Notifier
}

func (s settledNotifier) Observe(rec domain.PerformanceRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.n.ExecutionSettled(ctx, rec)
	}()
}
