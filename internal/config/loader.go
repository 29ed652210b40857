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
// built-in defaults, applies MARGINCALL_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known MARGINCALL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Structured fields (wallet lists, the token map) have no env form.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "MARGINCALL_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "MARGINCALL_CHAIN_ID")
	setStr(&cfg.Chain.ProtocolAddress, "MARGINCALL_CHAIN_PROTOCOL_ADDRESS")
	setStr(&cfg.Chain.SwapsAddress, "MARGINCALL_CHAIN_SWAPS_ADDRESS")
	setStr(&cfg.Chain.PriceFeedAddress, "MARGINCALL_CHAIN_PRICE_FEED_ADDRESS")
	setStr(&cfg.Chain.NativeWrapper, "MARGINCALL_CHAIN_NATIVE_WRAPPER")

	// ── Scanner ──
	setInt64(&cfg.Scanner.PageSize, "MARGINCALL_SCANNER_PAGE_SIZE")
	setDuration(&cfg.Scanner.PageDelay, "MARGINCALL_SCANNER_PAGE_DELAY")
	setDuration(&cfg.Scanner.RoundInterval, "MARGINCALL_SCANNER_ROUND_INTERVAL")

	// ── Liquidator ──
	setDuration(&cfg.Liquidator.RoundInterval, "MARGINCALL_LIQUIDATOR_ROUND_INTERVAL")
	setDuration(&cfg.Liquidator.DispatchDelay, "MARGINCALL_LIQUIDATOR_DISPATCH_DELAY")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "MARGINCALL_ARBITRAGE_ENABLED")
	setStr(&cfg.Arbitrage.SourceToken, "MARGINCALL_ARBITRAGE_SOURCE_TOKEN")
	setStr(&cfg.Arbitrage.DestToken, "MARGINCALL_ARBITRAGE_DEST_TOKEN")
	setStr(&cfg.Arbitrage.Amount, "MARGINCALL_ARBITRAGE_AMOUNT")
	setFloat64(&cfg.Arbitrage.ThresholdPct, "MARGINCALL_ARBITRAGE_THRESHOLD_PCT")
	setDuration(&cfg.Arbitrage.RoundInterval, "MARGINCALL_ARBITRAGE_ROUND_INTERVAL")

	// ── DB ──
	setStr(&cfg.DB.DSN, "MARGINCALL_DB_DSN")
	setStr(&cfg.DB.Host, "MARGINCALL_DB_HOST")
	setInt(&cfg.DB.Port, "MARGINCALL_DB_PORT")
	setStr(&cfg.DB.Database, "MARGINCALL_DB_DATABASE")
	setStr(&cfg.DB.User, "MARGINCALL_DB_USER")
	setStr(&cfg.DB.Password, "MARGINCALL_DB_PASSWORD")
	setStr(&cfg.DB.SSLMode, "MARGINCALL_DB_SSL_MODE")
	setInt(&cfg.DB.PoolMaxConns, "MARGINCALL_DB_POOL_MAX_CONNS")
	setInt(&cfg.DB.PoolMinConns, "MARGINCALL_DB_POOL_MIN_CONNS")
	setBool(&cfg.DB.RunMigrations, "MARGINCALL_DB_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARGINCALL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARGINCALL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARGINCALL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARGINCALL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARGINCALL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARGINCALL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARGINCALL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARGINCALL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARGINCALL_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARGINCALL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARGINCALL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARGINCALL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARGINCALL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARGINCALL_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "MARGINCALL_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "MARGINCALL_S3_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARGINCALL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARGINCALL_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARGINCALL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARGINCALL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARGINCALL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARGINCALL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Network, "MARGINCALL_NETWORK")
	setStr(&cfg.LogLevel, "MARGINCALL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
