package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const zeroAddr = "0x0000000000000000000000000000000000000000"

// validConfig returns a Config that passes Validate.
func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.ProtocolAddress = zeroAddr
	cfg.Chain.SwapsAddress = zeroAddr
	cfg.Chain.PriceFeedAddress = zeroAddr
	cfg.Chain.NativeWrapper = zeroAddr
	cfg.Wallets.Liquidator = []WalletEntry{{PrivateKey: "aa"}}
	return cfg
}

func TestValidateAccepts(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.RPCURL = ""
	cfg.Chain.ProtocolAddress = "not-an-address"
	cfg.Scanner.PageSize = 0
	cfg.Wallets.Liquidator = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{
		"rpc_url",
		"protocol_address",
		"page_size",
		"liquidator wallet",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateArbitrageRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Arbitrage.Enabled = true
	cfg.Arbitrage.SourceToken = "XUSD"
	cfg.Arbitrage.DestToken = "WRBTC"
	cfg.Arbitrage.Amount = "nope"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"source_token", "dest_token", "amount", "arbitrage wallet"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}

	cfg.Tokens = map[string]string{"XUSD": zeroAddr, "WRBTC": zeroAddr}
	cfg.Arbitrage.Amount = "1000000000000000000"
	cfg.Wallets.Arbitrage = []WalletEntry{{PrivateKey: "bb"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Wallets.Liquidator = []WalletEntry{{EncryptedKeyPath: "/tmp/key"}}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("Validate() = %v, want key_password error", err)
	}
}

func TestTokenAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Tokens = map[string]string{"XUSD": zeroAddr}

	if _, err := cfg.TokenAddress("XUSD"); err != nil {
		t.Fatalf("TokenAddress(XUSD) error = %v", err)
	}
	if _, err := cfg.TokenAddress("DOC"); err == nil {
		t.Fatal("TokenAddress(DOC) = nil error, want unknown-token error")
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
network = "testnet"

[scanner]
page_size  = 25
page_delay = "3s"

[chain]
rpc_url = "http://node:4444"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MARGINCALL_CHAIN_RPC_URL", "http://override:4444")
	t.Setenv("MARGINCALL_SCANNER_ROUND_INTERVAL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network != "testnet" {
		t.Errorf("Network = %q, want testnet", cfg.Network)
	}
	if cfg.Scanner.PageSize != 25 {
		t.Errorf("PageSize = %d, want 25", cfg.Scanner.PageSize)
	}
	if cfg.Scanner.PageDelay.Duration != 3*time.Second {
		t.Errorf("PageDelay = %v, want 3s", cfg.Scanner.PageDelay.Duration)
	}
	// Env wins over the file.
	if cfg.Chain.RPCURL != "http://override:4444" {
		t.Errorf("RPCURL = %q, want env override", cfg.Chain.RPCURL)
	}
	if cfg.Scanner.RoundInterval.Duration != 90*time.Second {
		t.Errorf("RoundInterval = %v, want 90s", cfg.Scanner.RoundInterval.Duration)
	}
	// Untouched fields keep defaults.
	if cfg.DB.Port != 5432 {
		t.Errorf("DB.Port = %d, want default 5432", cfg.DB.Port)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Wallets.Liquidator = []WalletEntry{{PrivateKey: "deadbeef"}}

	red := RedactedConfig(&cfg)
	if red.DB.Password == "hunter2" || red.Redis.Password == "hunter2" ||
		red.S3.SecretKey == "hunter2" || red.Notify.TelegramToken == "123:abc" {
		t.Error("RedactedConfig left a secret in place")
	}
	for _, w := range red.Wallets.Liquidator {
		if w.PrivateKey == "deadbeef" {
			t.Error("RedactedConfig left a wallet key in place")
		}
	}
	// The original must be untouched.
	if cfg.DB.Password != "hunter2" {
		t.Error("RedactedConfig mutated the input")
	}
}
