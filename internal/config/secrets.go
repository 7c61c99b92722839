package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Feeds
	out.Feeds = cfg.Feeds
	redact(&out.Feeds.ExecutionKey)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Scanner.Watch != nil {
		out.Scanner.Watch = make([]WatchEntry, len(cfg.Scanner.Watch))
		copy(out.Scanner.Watch, cfg.Scanner.Watch)
	}
	if cfg.Feeds.Venues != nil {
		out.Feeds.Venues = make([]VenueFeedConfig, len(cfg.Feeds.Venues))
		copy(out.Feeds.Venues, cfg.Feeds.Venues)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Evaluator.BandProfitFloorUSD != nil {
		out.Evaluator.BandProfitFloorUSD = make(map[string]float64, len(cfg.Evaluator.BandProfitFloorUSD))
		for k, v := range cfg.Evaluator.BandProfitFloorUSD {
			out.Evaluator.BandProfitFloorUSD[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
