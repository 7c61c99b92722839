package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Evaluator gates ──
	setFloat64(&cfg.Evaluator.MinProfitUSD, "DEXARB_EVALUATOR_MIN_PROFIT_USD")
	setFloat64(&cfg.Evaluator.MinProfitPct, "DEXARB_EVALUATOR_MIN_PROFIT_PCT")
	setFloat64(&cfg.Evaluator.RiskRejectScore, "DEXARB_EVALUATOR_RISK_REJECT_SCORE")
	setFloat64(&cfg.Evaluator.RiskDiscountFactor, "DEXARB_EVALUATOR_RISK_DISCOUNT_FACTOR")

	// ── Scanner ──
	setDuration(&cfg.Scanner.Interval, "DEXARB_SCANNER_INTERVAL")
	setBool(&cfg.Scanner.CrossChain, "DEXARB_SCANNER_CROSS_CHAIN")
	setFloat64(&cfg.Scanner.NoiseFloorPct, "DEXARB_SCANNER_NOISE_FLOOR_PCT")
	setFloat64(&cfg.Scanner.MinTradeSizeUSD, "DEXARB_SCANNER_MIN_TRADE_SIZE_USD")
	setFloat64(&cfg.Scanner.MaxTradeSizeUSD, "DEXARB_SCANNER_MAX_TRADE_SIZE_USD")

	// ── Coordinator ──
	setInt(&cfg.Coordinator.MaxConcurrent, "DEXARB_COORDINATOR_MAX_CONCURRENT")
	setDuration(&cfg.Coordinator.SwapTimeout, "DEXARB_COORDINATOR_SWAP_TIMEOUT")
	setDuration(&cfg.Coordinator.BridgeTimeout, "DEXARB_COORDINATOR_BRIDGE_TIMEOUT")
	setInt(&cfg.Coordinator.RecoveryAttempts, "DEXARB_COORDINATOR_RECOVERY_ATTEMPTS")

	// ── Breaker ──
	setInt(&cfg.Breaker.MaxConsecutiveLosses, "DEXARB_BREAKER_MAX_CONSECUTIVE_LOSSES")
	setFloat64(&cfg.Breaker.AllocatedCapitalUSD, "DEXARB_BREAKER_ALLOCATED_CAPITAL_USD")
	setFloat64(&cfg.Breaker.MaxDailyLossFrac, "DEXARB_BREAKER_MAX_DAILY_LOSS_FRAC")
	setDuration(&cfg.Breaker.Cooldown, "DEXARB_BREAKER_COOLDOWN")

	// ── Feeds ──
	setStr(&cfg.Feeds.GasURL, "DEXARB_FEEDS_GAS_URL")
	setStr(&cfg.Feeds.BridgeURL, "DEXARB_FEEDS_BRIDGE_URL")
	setStr(&cfg.Feeds.ExecutionURL, "DEXARB_FEEDS_EXECUTION_URL")
	setStr(&cfg.Feeds.ExecutionKey, "DEXARB_FEEDS_EXECUTION_KEY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXARB_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXARB_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "DEXARB_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEXARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEXARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXARB_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DEXARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
