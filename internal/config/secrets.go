package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallets — keys and passwords are the most sensitive values here.
	out.Wallets.Liquidator = redactWallets(cfg.Wallets.Liquidator)
	out.Wallets.Arbitrage = redactWallets(cfg.Wallets.Arbitrage)

	// DB
	out.DB = cfg.DB
	redact(&out.DB.DSN)
	redact(&out.DB.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Tokens != nil {
		out.Tokens = make(map[string]string, len(cfg.Tokens))
		for k, v := range cfg.Tokens {
			out.Tokens[k] = v
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

func redactWallets(in []WalletEntry) []WalletEntry {
	out := make([]WalletEntry, len(in))
	for i, w := range in {
		out[i] = w
		redact(&out[i].PrivateKey)
		redact(&out[i].KeyPassword)
	}
	return out
}
