package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// The default watch list is empty; server mode is the only mode that
	// does not require one.
	cfg.Mode = "server"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate in server mode: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() Config {
		cfg := Defaults()
		cfg.Mode = "paper"
		cfg.Scanner.Watch = []WatchEntry{{Asset: "WETH", Venue: "uniswap", Chain: "ethereum"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "yolo" },
			wantErr: "unknown mode",
		},
		{
			name:    "empty watch list",
			mutate:  func(c *Config) { c.Scanner.Watch = nil },
			wantErr: "watch list",
		},
		{
			name:    "max below min trade size",
			mutate:  func(c *Config) { c.Scanner.MaxTradeSizeUSD = 10 },
			wantErr: "max_trade_size_usd",
		},
		{
			name:    "liquidity fraction out of range",
			mutate:  func(c *Config) { c.Scanner.LiquidityFraction = 1.5 },
			wantErr: "liquidity_fraction",
		},
		{
			name: "unordered gas bands",
			mutate: func(c *Config) {
				c.Evaluator.Layer1Bands.LowMaxGwei = c.Evaluator.Layer1Bands.MediumMaxGwei + 1
			},
			wantErr: "layer1_bands",
		},
		{
			name:    "poll multiplier must grow",
			mutate:  func(c *Config) { c.Coordinator.PollMultiplier = 1.0 },
			wantErr: "poll_multiplier",
		},
		{
			name:    "daily loss fraction out of range",
			mutate:  func(c *Config) { c.Breaker.MaxDailyLossFrac = 0 },
			wantErr: "max_daily_loss_frac",
		},
		{
			name: "run mode requires execution url",
			mutate: func(c *Config) {
				c.Mode = "run"
				c.Feeds.ExecutionURL = ""
			},
			wantErr: "execution_url",
		},
		{
			name: "s3 enabled requires bucket",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = ""
			},
			wantErr: "bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"unknown mode", "unknown log_level", "redis"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error missing %q: %v", want, err)
		}
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
mode = "monitor"
log_level = "debug"

[scanner]
interval = "7s"
min_trade_size_usd = 50.0

[[scanner.watch]]
asset = "WETH"
venue = "uniswap"
chain = "ethereum"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want monitor", cfg.Mode)
	}
	if cfg.Scanner.Interval.Duration != 7*time.Second {
		t.Errorf("Interval = %v, want 7s", cfg.Scanner.Interval.Duration)
	}
	if cfg.Scanner.MinTradeSizeUSD != 50.0 {
		t.Errorf("MinTradeSizeUSD = %v, want 50", cfg.Scanner.MinTradeSizeUSD)
	}
	// Untouched fields keep their defaults.
	if cfg.Scanner.MaxTradeSizeUSD != 500.0 {
		t.Errorf("MaxTradeSizeUSD = %v, want default 500", cfg.Scanner.MaxTradeSizeUSD)
	}
	if cfg.Coordinator.PollMultiplier != 1.6 {
		t.Errorf("PollMultiplier = %v, want default 1.6", cfg.Coordinator.PollMultiplier)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
mode = "paper"

[[scanner.watch]]
asset = "WETH"
venue = "uniswap"
chain = "ethereum"
`)

	t.Setenv("DEXARB_MODE", "monitor")
	t.Setenv("DEXARB_SCANNER_INTERVAL", "3s")
	t.Setenv("DEXARB_BREAKER_ALLOCATED_CAPITAL_USD", "10000")
	t.Setenv("DEXARB_REDIS_PASSWORD", "hunter2")
	t.Setenv("DEXARB_NOTIFY_EVENTS", "breaker_halted, manual_intervention")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want env override monitor", cfg.Mode)
	}
	if cfg.Scanner.Interval.Duration != 3*time.Second {
		t.Errorf("Interval = %v, want 3s", cfg.Scanner.Interval.Duration)
	}
	if cfg.Breaker.AllocatedCapitalUSD != 10000 {
		t.Errorf("AllocatedCapitalUSD = %v, want 10000", cfg.Breaker.AllocatedCapitalUSD)
	}
	if cfg.Redis.Password != "hunter2" {
		t.Errorf("Redis.Password = %q, want hunter2", cfg.Redis.Password)
	}
	want := []string{"breaker_halted", "manual_intervention"}
	if len(cfg.Notify.Events) != len(want) {
		t.Fatalf("Notify.Events = %v, want %v", cfg.Notify.Events, want)
	}
	for i, e := range want {
		if cfg.Notify.Events[i] != e {
			t.Errorf("Notify.Events[%d] = %q, want %q", i, cfg.Notify.Events[i], e)
		}
	}
}

func TestEnvOverrideIgnoresInvalidValues(t *testing.T) {
	path := writeTempConfig(t, `
mode = "paper"

[[scanner.watch]]
asset = "WETH"
venue = "uniswap"
chain = "ethereum"
`)

	t.Setenv("DEXARB_SCANNER_INTERVAL", "not-a-duration")
	t.Setenv("DEXARB_COORDINATOR_MAX_CONCURRENT", "many")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scanner.Interval.Duration != 2*time.Second {
		t.Errorf("Interval = %v, want default 2s kept", cfg.Scanner.Interval.Duration)
	}
	if cfg.Coordinator.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %v, want default 3 kept", cfg.Coordinator.MaxConcurrent)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("parsed %v, want 90s", d.Duration)
	}
	out, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(out) != "1m30s" {
		t.Errorf("marshaled %q, want 1m30s", out)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
