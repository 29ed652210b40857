// Package config defines the top-level configuration for the margincall bot
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARGINCALL_* environment
// variables.
type Config struct {
	Chain      ChainConfig       `toml:"chain"`
	Tokens     map[string]string `toml:"tokens"`
	Wallets    WalletsConfig     `toml:"wallets"`
	Scanner    ScannerConfig     `toml:"scanner"`
	Liquidator LiquidatorConfig  `toml:"liquidator"`
	Arbitrage  ArbitrageConfig   `toml:"arbitrage"`
	DB         DBConfig          `toml:"db"`
	Redis      RedisConfig       `toml:"redis"`
	S3         S3Config          `toml:"s3"`
	Server     ServerConfig      `toml:"server"`
	Notify     NotifyConfig      `toml:"notify"`

	// Network is the chain label used in alert text and the instance lock
	// key (e.g. "mainnet", "testnet").
	Network  string `toml:"network"`
	LogLevel string `toml:"log_level"`
}

// ChainConfig holds RPC endpoint and contract addresses.
type ChainConfig struct {
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	ProtocolAddress  string `toml:"protocol_address"`
	SwapsAddress     string `toml:"swaps_address"`
	PriceFeedAddress string `toml:"price_feed_address"`
	// NativeWrapper is the wrapped-native token address. Calls spending this
	// token forward native value instead of an ERC-20 transfer.
	NativeWrapper string `toml:"native_wrapper"`
}

// WalletEntry is one funded account. Either a raw hex private key or an
// encrypted key file (plus password) must be set.
type WalletEntry struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// WalletsConfig holds the wallet pools per purpose.
type WalletsConfig struct {
	Liquidator []WalletEntry `toml:"liquidator"`
	Arbitrage  []WalletEntry `toml:"arbitrage"`
	// BalanceRefreshInterval controls how often wallet balance snapshots are
	// refreshed from the chain.
	BalanceRefreshInterval duration `toml:"balance_refresh_interval"`
}

// ScannerConfig holds position-scan loop parameters.
type ScannerConfig struct {
	PageSize int64 `toml:"page_size"`
	// PageDelay is the pause between consecutive page queries within one
	// scan cycle, to avoid overloading the node.
	PageDelay duration `toml:"page_delay"`
	// RoundInterval is the pause after a full cycle before rescanning.
	RoundInterval duration `toml:"round_interval"`
}

// LiquidatorConfig holds liquidation loop parameters.
type LiquidatorConfig struct {
	RoundInterval duration `toml:"round_interval"`
	// DispatchDelay is the fixed pause between liquidation dispatches within
	// one round, to respect node rate limits.
	DispatchDelay duration `toml:"dispatch_delay"`
}

// ArbitrageConfig holds the AMM-vs-oracle arbitrage loop parameters.
type ArbitrageConfig struct {
	Enabled bool `toml:"enabled"`
	// SourceToken and DestToken are symbols resolved through the Tokens map.
	SourceToken string `toml:"source_token"`
	DestToken   string `toml:"dest_token"`
	// Amount is the fixed notional per round in source-token base units,
	// as a decimal string.
	Amount string `toml:"amount"`
	// ThresholdPct triggers a trade when |amm-oracle|/min*100 meets it.
	ThresholdPct  float64  `toml:"threshold_pct"`
	RoundInterval duration `toml:"round_interval"`
}

// DBConfig holds PostgreSQL connection parameters.
type DBConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object-storage parameters for the history archiver. The
// archiver is disabled when Enabled is false.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds the status HTTP/WebSocket server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds operator notification channel credentials.
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
		Chain: ChainConfig{
			RPCURL:  "http://localhost:8545",
			ChainID: 30,
		},
		Tokens: map[string]string{},
		Wallets: WalletsConfig{
			BalanceRefreshInterval: duration{2 * time.Minute},
		},
		Scanner: ScannerConfig{
			PageSize:      10,
			PageDelay:     duration{1 * time.Second},
			RoundInterval: duration{1 * time.Minute},
		},
		Liquidator: LiquidatorConfig{
			RoundInterval: duration{30 * time.Second},
			DispatchDelay: duration{1 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			Enabled:       false,
			ThresholdPct:  2.0,
			RoundInterval: duration{1 * time.Minute},
		},
		DB: DBConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "margincall",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:         false,
			Region:          "us-east-1",
			Bucket:          "margincall-data",
			ForcePathStyle:  true,
			RetentionDays:   90,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"liquidation_success", "liquidation_failed", "liquidation_manual", "no_wallet", "arbitrage_executed"},
		},
		Network:  "mainnet",
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.TrimSpace(c.Network) == "" {
		errs = append(errs, "network label must not be empty")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	for name, addr := range map[string]string{
		"protocol_address":   c.Chain.ProtocolAddress,
		"swaps_address":      c.Chain.SwapsAddress,
		"price_feed_address": c.Chain.PriceFeedAddress,
		"native_wrapper":     c.Chain.NativeWrapper,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: %s %q is not a valid address", name, addr))
		}
	}

	// Tokens
	for sym, addr := range c.Tokens {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("tokens: %s = %q is not a valid address", sym, addr))
		}
	}

	// Wallets
	if len(c.Wallets.Liquidator) == 0 {
		errs = append(errs, "wallets: at least one liquidator wallet must be configured")
	}
	for i, w := range append(append([]WalletEntry{}, c.Wallets.Liquidator...), c.Wallets.Arbitrage...) {
		if w.PrivateKey == "" && w.EncryptedKeyPath == "" {
			errs = append(errs, fmt.Sprintf("wallets: entry %d: either private_key or encrypted_key_path must be set", i))
		}
		if w.EncryptedKeyPath != "" && w.KeyPassword == "" {
			errs = append(errs, fmt.Sprintf("wallets: entry %d: key_password is required when encrypted_key_path is set", i))
		}
	}

	// Scanner
	if c.Scanner.PageSize <= 0 {
		errs = append(errs, "scanner: page_size must be > 0")
	}

	// Arbitrage
	if c.Arbitrage.Enabled {
		if c.Arbitrage.ThresholdPct <= 0 {
			errs = append(errs, "arbitrage: threshold_pct must be > 0 when enabled")
		}
		if _, ok := c.Tokens[c.Arbitrage.SourceToken]; !ok {
			errs = append(errs, fmt.Sprintf("arbitrage: source_token %q is not in the tokens map", c.Arbitrage.SourceToken))
		}
		if _, ok := c.Tokens[c.Arbitrage.DestToken]; !ok {
			errs = append(errs, fmt.Sprintf("arbitrage: dest_token %q is not in the tokens map", c.Arbitrage.DestToken))
		}
		if _, ok := new(big.Int).SetString(c.Arbitrage.Amount, 10); !ok || c.Arbitrage.Amount == "" {
			errs = append(errs, fmt.Sprintf("arbitrage: amount %q is not a valid integer", c.Arbitrage.Amount))
		}
		if len(c.Wallets.Arbitrage) == 0 {
			errs = append(errs, "wallets: an arbitrage wallet is required when arbitrage is enabled")
		}
	}

	// DB
	if strings.TrimSpace(c.DB.DSN) == "" {
		if c.DB.Host == "" {
			errs = append(errs, "db: host must not be empty (or set db.dsn)")
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Sprintf("db: port must be 1-65535, got %d", c.DB.Port))
		}
		if c.DB.Database == "" {
			errs = append(errs, "db: database must not be empty")
		}
	}
	if c.DB.PoolMaxConns < 1 {
		errs = append(errs, "db: pool_max_conns must be >= 1")
	}
	if c.DB.PoolMinConns < 0 {
		errs = append(errs, "db: pool_min_conns must be >= 0")
	}
	if c.DB.PoolMinConns > c.DB.PoolMaxConns {
		errs = append(errs, "db: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
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

// TokenAddress resolves a token symbol through the Tokens map.
func (c *Config) TokenAddress(symbol string) (common.Address, error) {
	addr, ok := c.Tokens[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("config: token %q is not in the tokens map", symbol)
	}
	return common.HexToAddress(addr), nil
}
