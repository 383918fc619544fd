package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	out.ZeroEx = cfg.ZeroEx
	redact(&out.ZeroEx.APIKey)

	out.Position = cfg.Position
	redact(&out.Position.CronSecret)

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.ZeroEx.ChainHosts != nil {
		out.ZeroEx.ChainHosts = make(map[string]string, len(cfg.ZeroEx.ChainHosts))
		for k, v := range cfg.ZeroEx.ChainHosts {
			out.ZeroEx.ChainHosts[k] = v
		}
	}
	if cfg.RFQ.VenueExpirySeconds != nil {
		out.RFQ.VenueExpirySeconds = make(map[string]int, len(cfg.RFQ.VenueExpirySeconds))
		for k, v := range cfg.RFQ.VenueExpirySeconds {
			out.RFQ.VenueExpirySeconds[k] = v
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
