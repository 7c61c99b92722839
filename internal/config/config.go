// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables.
type Config struct {
	Scanner     ScannerConfig     `toml:"scanner"`
	Evaluator   EvaluatorConfig   `toml:"evaluator"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Feeds       FeedsConfig       `toml:"feeds"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WatchEntry is one (asset, venue, chain) tuple the scanner monitors.
type WatchEntry struct {
	Asset string `toml:"asset"`
	Venue string `toml:"venue"`
	Chain string `toml:"chain"`
}

// ScannerConfig holds opportunity-scanner parameters.
type ScannerConfig struct {
	Watch             []WatchEntry `toml:"watch"`
	Interval          duration     `toml:"interval"`
	CrossChain        bool         `toml:"cross_chain"`
	NoiseFloorPct     float64      `toml:"noise_floor_pct"`
	QuoteStaleAfter   duration     `toml:"quote_stale_after"`
	MinTradeSizeUSD   float64      `toml:"min_trade_size_usd"`
	MaxTradeSizeUSD   float64      `toml:"max_trade_size_usd"`
	LiquidityFraction float64      `toml:"liquidity_fraction"`
	FreshnessWindow   duration     `toml:"freshness_window"`
}

// GasBandsConfig holds the gwei thresholds separating gas bands for one chain
// class. Prices above HighMaxGwei fall into the extreme band, which always
// rejects.
type GasBandsConfig struct {
	UltraLowMaxGwei float64 `toml:"ultra_low_max_gwei"`
	LowMaxGwei      float64 `toml:"low_max_gwei"`
	MediumMaxGwei   float64 `toml:"medium_max_gwei"`
	HighMaxGwei     float64 `toml:"high_max_gwei"`
}

// EvaluatorConfig holds the profitability and risk gates.
type EvaluatorConfig struct {
	MinProfitUSD     float64 `toml:"min_profit_usd"`
	MinProfitPct     float64 `toml:"min_profit_pct"`
	GasStaleAfter    duration `toml:"gas_stale_after"`
	BridgeStaleAfter duration `toml:"bridge_stale_after"`

	Layer1Bands GasBandsConfig `toml:"layer1_bands"`
	Layer2Bands GasBandsConfig `toml:"layer2_bands"`
	// BandProfitFloorUSD is the additional minimum-profit floor applied per
	// gas band; higher bands carry strictly higher floors.
	BandProfitFloorUSD map[string]float64 `toml:"band_profit_floor_usd"`

	SlippageBaseBps    float64 `toml:"slippage_base_bps"`
	SlippageImpactCoef float64 `toml:"slippage_impact_coef"`

	ObviousSpreadPct   float64 `toml:"obvious_spread_pct"`
	RiskDiscountFactor float64 `toml:"risk_discount_factor"`
	RiskRejectScore    float64 `toml:"risk_reject_score"`
	IncidentWindow     duration `toml:"incident_window"`
}

// CoordinatorConfig holds execution parameters.
type CoordinatorConfig struct {
	MaxConcurrent    int      `toml:"max_concurrent"`
	SwapTimeout      duration `toml:"swap_timeout"`
	BridgeTimeout    duration `toml:"bridge_timeout"`
	PollInitial      duration `toml:"poll_initial"`
	PollMax          duration `toml:"poll_max"`
	PollMultiplier   float64  `toml:"poll_multiplier"`
	RecoveryAttempts int      `toml:"recovery_attempts"`
	RouteLockTTL     duration `toml:"route_lock_ttl"`
}

// BreakerConfig holds circuit-breaker thresholds.
type BreakerConfig struct {
	MaxConsecutiveLosses int      `toml:"max_consecutive_losses"`
	AllocatedCapitalUSD  float64  `toml:"allocated_capital_usd"`
	MaxDailyLossFrac     float64  `toml:"max_daily_loss_frac"`
	FailureRateWindow    int      `toml:"failure_rate_window"`
	MaxFailureRate       float64  `toml:"max_failure_rate"`
	Cooldown             duration `toml:"cooldown"`
}

// VenueFeedConfig describes one venue's websocket market-data endpoint.
type VenueFeedConfig struct {
	Venue  string   `toml:"venue"`
	Chain  string   `toml:"chain"`
	WsURL  string   `toml:"ws_url"`
	Assets []string `toml:"assets"`
}

// FeedsConfig holds external data-feed endpoints and refresh cadence.
type FeedsConfig struct {
	Venues []VenueFeedConfig `toml:"venues"`

	GasURL          string   `toml:"gas_url"`
	GasInterval     duration `toml:"gas_interval"`
	BridgeURL       string   `toml:"bridge_url"`
	BridgeInterval  duration `toml:"bridge_interval"`
	ExecutionURL    string   `toml:"execution_url"`
	ExecutionKey    string   `toml:"execution_key"`
	RequestTimeout  duration `toml:"request_timeout"`
	RateLimitPerSec float64  `toml:"rate_limit_per_sec"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the ledger
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// ServerConfig holds operator HTTP API parameters. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Scanner: ScannerConfig{
			Interval:          duration{2 * time.Second},
			CrossChain:        true,
			NoiseFloorPct:     0.002,
			QuoteStaleAfter:   duration{5 * time.Second},
			MinTradeSizeUSD:   25.0,
			MaxTradeSizeUSD:   500.0,
			LiquidityFraction: 0.25,
			FreshnessWindow:   duration{10 * time.Second},
		},
		Evaluator: EvaluatorConfig{
			MinProfitUSD:     0.50,
			MinProfitPct:     0.02,
			GasStaleAfter:    duration{30 * time.Second},
			BridgeStaleAfter: duration{60 * time.Second},
			Layer1Bands: GasBandsConfig{
				UltraLowMaxGwei: 10,
				LowMaxGwei:      25,
				MediumMaxGwei:   60,
				HighMaxGwei:     150,
			},
			Layer2Bands: GasBandsConfig{
				UltraLowMaxGwei: 0.05,
				LowMaxGwei:      0.25,
				MediumMaxGwei:   1.0,
				HighMaxGwei:     5.0,
			},
			BandProfitFloorUSD: map[string]float64{
				string(domain.GasBandUltraLow): 0,
				string(domain.GasBandLow):      0.25,
				string(domain.GasBandMedium):   1.00,
				string(domain.GasBandHigh):     5.00,
			},
			SlippageBaseBps:    10,
			SlippageImpactCoef: 0.1,
			ObviousSpreadPct:   0.05,
			RiskDiscountFactor: 0.01,
			RiskRejectScore:    0.8,
			IncidentWindow:     duration{1 * time.Hour},
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent:    3,
			SwapTimeout:      duration{45 * time.Second},
			BridgeTimeout:    duration{10 * time.Minute},
			PollInitial:      duration{200 * time.Millisecond},
			PollMax:          duration{3 * time.Second},
			PollMultiplier:   1.6,
			RecoveryAttempts: 1,
			RouteLockTTL:     duration{15 * time.Minute},
		},
		Breaker: BreakerConfig{
			MaxConsecutiveLosses: 5,
			AllocatedCapitalUSD:  5000.0,
			MaxDailyLossFrac:     0.02,
			FailureRateWindow:    20,
			MaxFailureRate:       0.5,
			Cooldown:             duration{30 * time.Minute},
		},
		Feeds: FeedsConfig{
			GasInterval:     duration{15 * time.Second},
			BridgeInterval:  duration{30 * time.Second},
			RequestTimeout:  duration{5 * time.Second},
			RateLimitPerSec: 5,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			QuoteTTL:   duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexarb-ledger",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_halted", "manual_intervention", "execution_settled"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"paper":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// bandsOrdered reports whether the gwei thresholds are strictly increasing.
func (g GasBandsConfig) ordered() bool {
	return g.UltraLowMaxGwei > 0 &&
		g.LowMaxGwei > g.UltraLowMaxGwei &&
		g.MediumMaxGwei > g.LowMaxGwei &&
		g.HighMaxGwei > g.MediumMaxGwei
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, paper, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Scanner
	if c.Mode != "server" && len(c.Scanner.Watch) == 0 {
		errs = append(errs, "scanner: watch list must not be empty")
	}
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.NoiseFloorPct < 0 {
		errs = append(errs, "scanner: noise_floor_pct must be >= 0")
	}
	if c.Scanner.MinTradeSizeUSD <= 0 {
		errs = append(errs, "scanner: min_trade_size_usd must be > 0")
	}
	if c.Scanner.MaxTradeSizeUSD < c.Scanner.MinTradeSizeUSD {
		errs = append(errs, "scanner: max_trade_size_usd must be >= min_trade_size_usd")
	}
	if c.Scanner.LiquidityFraction <= 0 || c.Scanner.LiquidityFraction > 1 {
		errs = append(errs, "scanner: liquidity_fraction must be in (0, 1]")
	}

	// Evaluator
	if c.Evaluator.MinProfitUSD < 0 {
		errs = append(errs, "evaluator: min_profit_usd must be >= 0")
	}
	if c.Evaluator.MinProfitPct < 0 || c.Evaluator.MinProfitPct > 1 {
		errs = append(errs, "evaluator: min_profit_pct must be in [0, 1]")
	}
	if !c.Evaluator.Layer1Bands.ordered() {
		errs = append(errs, "evaluator: layer1_bands thresholds must be strictly increasing")
	}
	if !c.Evaluator.Layer2Bands.ordered() {
		errs = append(errs, "evaluator: layer2_bands thresholds must be strictly increasing")
	}
	if c.Evaluator.RiskRejectScore <= 0 || c.Evaluator.RiskRejectScore > 1 {
		errs = append(errs, "evaluator: risk_reject_score must be in (0, 1]")
	}

	// Coordinator
	if c.Coordinator.MaxConcurrent < 1 {
		errs = append(errs, "coordinator: max_concurrent must be >= 1")
	}
	if c.Coordinator.SwapTimeout.Duration <= 0 {
		errs = append(errs, "coordinator: swap_timeout must be > 0")
	}
	if c.Coordinator.BridgeTimeout.Duration <= 0 {
		errs = append(errs, "coordinator: bridge_timeout must be > 0")
	}
	if c.Coordinator.PollMultiplier <= 1 {
		errs = append(errs, "coordinator: poll_multiplier must be > 1")
	}
	if c.Coordinator.RecoveryAttempts < 0 {
		errs = append(errs, "coordinator: recovery_attempts must be >= 0")
	}

	// Breaker
	if c.Breaker.MaxConsecutiveLosses < 1 {
		errs = append(errs, "breaker: max_consecutive_losses must be >= 1")
	}
	if c.Breaker.AllocatedCapitalUSD <= 0 {
		errs = append(errs, "breaker: allocated_capital_usd must be > 0")
	}
	if c.Breaker.MaxDailyLossFrac <= 0 || c.Breaker.MaxDailyLossFrac > 1 {
		errs = append(errs, "breaker: max_daily_loss_frac must be in (0, 1]")
	}
	if c.Breaker.FailureRateWindow < 1 {
		errs = append(errs, "breaker: failure_rate_window must be >= 1")
	}
	if c.Breaker.MaxFailureRate <= 0 || c.Breaker.MaxFailureRate > 1 {
		errs = append(errs, "breaker: max_failure_rate must be in (0, 1]")
	}

	// Feeds
	if strings.ToLower(c.Mode) == "run" && c.Feeds.ExecutionURL == "" {
		errs = append(errs, "feeds: execution_url must be set in run mode")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
