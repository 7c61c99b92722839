package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/dexarb/internal/blob/s3"
	"github.com/alanyoungcy/dexarb/internal/cache/redis"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/notify"
	"github.com/alanyoungcy/dexarb/internal/store/postgres"
)

// Dependencies bundles the external resources shared by the operating modes:
// postgres stores, redis caches, optional blob storage, and notification
// channels. Fields gated off by the mode or configuration are nil.
type Dependencies struct {
	// Postgres-backed stores.
	PerformanceStore *postgres.PerformanceStore
	AssessmentStore  *postgres.AssessmentStore

	// Redis-backed caches and coordination primitives.
	QuoteCache  *redis.QuoteCache
	GasCache    *redis.GasCache
	BridgeCache *redis.BridgeQuoteCache
	LockManager *redis.LockManager
	SignalBus   *redis.SignalBus

	// Blob storage for the ledger archiver (nil unless s3.enabled).
	Archiver *s3blob.Archiver

	// Notifier is never nil; with no senders configured it is a no-op.
	Notifier *notify.Notifier
}

// needsRedis reports whether the mode requires the quote/gas/bridge caches.
// Server mode serves postgres snapshots only.
func needsRedis(mode string) bool {
	return mode != "server"
}

// Wire connects to every external resource the configured mode needs and
// returns the dependency bundle plus a cleanup function that closes the
// resources in reverse order. On error, everything already opened is closed
// before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	log := logger.With(slog.String("component", "wire"))
	mode := strings.ToLower(cfg.Mode)

	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// ── Postgres ──
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	closers = append(closers, pg.Close)
	log.InfoContext(ctx, "connected to postgres", slog.String("database", cfg.Postgres.Database))

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: run migrations: %w", err)
		}
		log.InfoContext(ctx, "migrations applied")
	}

	deps.PerformanceStore = postgres.NewPerformanceStore(pg.Pool())
	deps.AssessmentStore = postgres.NewAssessmentStore(pg.Pool())

	// ── Redis ──
	if needsRedis(mode) {
		rdb, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: connect redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		log.InfoContext(ctx, "connected to redis", slog.String("addr", cfg.Redis.Addr))

		ttl := cfg.Redis.QuoteTTL.Duration
		deps.QuoteCache = redis.NewQuoteCache(rdb, ttl)
		deps.GasCache = redis.NewGasCache(rdb, ttl)
		deps.BridgeCache = redis.NewBridgeQuoteCache(rdb, ttl)
		deps.LockManager = redis.NewLockManager(rdb)
		deps.SignalBus = redis.NewSignalBus(rdb)
	}

	// ── Blob storage ──
	if cfg.S3.Enabled && mode != "server" {
		blob, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: connect blob storage: %w", err)
		}
		closers = append(closers, func() { _ = blob.Close() })
		log.InfoContext(ctx, "connected to blob storage", slog.String("bucket", cfg.S3.Bucket))

		retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(blob), deps.PerformanceStore, retention, logger)
	}

	// ── Notifications ──
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		log.InfoContext(ctx, "telegram notifications enabled")
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		log.InfoContext(ctx, "discord notifications enabled")
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
