package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"margincall/internal/arbitrage"
	s3blob "margincall/internal/blob/s3"
	"margincall/internal/cache/redis"
	"margincall/internal/chain"
	"margincall/internal/config"
	"margincall/internal/crypto"
	"margincall/internal/domain"
	"margincall/internal/liquidator"
	"margincall/internal/notify"
	"margincall/internal/scanner"
	"margincall/internal/server"
	"margincall/internal/server/ws"
	"margincall/internal/store/postgres"
	"margincall/internal/wallet"
)

// Dependencies bundles every component the run loop needs. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Chain     *chain.Client
	Book      *scanner.Book
	Allocator *wallet.Allocator

	Scanner    *scanner.Scanner
	Liquidator *liquidator.Liquidator
	Arbitrage  *arbitrage.Engine

	LiquidationStore domain.LiquidationStore
	ArbitrageStore   domain.ArbitrageStore
	RateCache        domain.RateCache
	LockManager      domain.LockManager

	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
	Hub      *ws.Hub
	Server   *server.Server
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.DB.DSN,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		Database: cfg.DB.Database,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		SSLMode:  cfg.DB.SSLMode,
		MaxConns: cfg.DB.PoolMaxConns,
		MinConns: cfg.DB.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.DB.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.LiquidationStore = postgres.NewLiquidationStore(pool)
	deps.ArbitrageStore = postgres.NewArbitrageStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateCache = redis.NewRateCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// Single-instance guard: two bots on the same network would race each
	// other's liquidations. The lock has no TTL and is released on shutdown.
	unlock, err := deps.LockManager.Acquire(ctx, "margincall:"+cfg.Network, 0)
	if err != nil {
		cleanup()
		if err == domain.ErrLockHeld {
			return nil, nil, fmt.Errorf("wire: another instance is already running for network %q", cfg.Network)
		}
		return nil, nil, fmt.Errorf("wire: instance lock: %w", err)
	}
	closers = append(closers, unlock)

	// --- Chain client and wallets ---
	chainID := big.NewInt(cfg.Chain.ChainID)
	keys := chain.NewKeyring()

	liqAddrs, err := addSigners(keys, cfg.Wallets.Liquidator, chainID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: liquidator wallets: %w", err)
	}
	arbAddrs, err := addSigners(keys, cfg.Wallets.Arbitrage, chainID)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: arbitrage wallets: %w", err)
	}

	chainClient, err := chain.New(ctx, chain.Config{
		RPCURL:        cfg.Chain.RPCURL,
		ChainID:       cfg.Chain.ChainID,
		Protocol:      common.HexToAddress(cfg.Chain.ProtocolAddress),
		Swaps:         common.HexToAddress(cfg.Chain.SwapsAddress),
		PriceFeed:     common.HexToAddress(cfg.Chain.PriceFeedAddress),
		NativeWrapper: common.HexToAddress(cfg.Chain.NativeWrapper),
	}, keys, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	tokens := make([]common.Address, 0, len(cfg.Tokens))
	for _, addr := range cfg.Tokens {
		tokens = append(tokens, common.HexToAddress(addr))
	}
	alloc := wallet.New(chainClient, tokens, common.HexToAddress(cfg.Chain.NativeWrapper),
		cfg.Wallets.BalanceRefreshInterval.Duration, logger)
	for _, addr := range liqAddrs {
		alloc.Register(domain.PurposeLiquidator, addr)
	}
	for _, addr := range arbAddrs {
		alloc.Register(domain.PurposeArbitrage, addr)
	}
	deps.Allocator = alloc

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Status server ---
	// The hub is only created alongside the server; a typed-nil hub handed
	// to the loops as an interface would defeat their nil checks.
	var liqHub liquidator.Broadcaster
	var arbHub arbitrage.Broadcaster
	deps.Book = scanner.NewBook()
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(logger)
		liqHub, arbHub = deps.Hub, deps.Hub
		deps.Server = server.NewServer(server.Config{
			Port:    cfg.Server.Port,
			Network: cfg.Network,
		}, deps.Book, alloc, deps.LiquidationStore, deps.ArbitrageStore, deps.Hub, logger)
	}

	// --- Loops ---
	deps.Scanner = scanner.New(deps.Book, chainClient, scanner.Config{
		PageSize:      cfg.Scanner.PageSize,
		PageDelay:     cfg.Scanner.PageDelay.Duration,
		RoundInterval: cfg.Scanner.RoundInterval.Duration,
	}, logger)

	deps.Liquidator = liquidator.New(deps.Book, alloc, chainClient, deps.LiquidationStore,
		deps.Notifier, liqHub, liquidator.Config{
			RoundInterval: cfg.Liquidator.RoundInterval.Duration,
			DispatchDelay: cfg.Liquidator.DispatchDelay.Duration,
			Network:       cfg.Network,
		}, logger)

	if cfg.Arbitrage.Enabled {
		source, err := cfg.TokenAddress(cfg.Arbitrage.SourceToken)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: arbitrage: %w", err)
		}
		dest, err := cfg.TokenAddress(cfg.Arbitrage.DestToken)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: arbitrage: %w", err)
		}
		amount, ok := new(big.Int).SetString(cfg.Arbitrage.Amount, 10)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: arbitrage: amount %q is not a valid integer", cfg.Arbitrage.Amount)
		}

		deps.Arbitrage = arbitrage.New(chainClient, alloc, deps.ArbitrageStore, deps.RateCache,
			deps.Notifier, arbHub, arbitrage.Config{
				SourceToken:   source,
				DestToken:     dest,
				Amount:        amount,
				ThresholdPct:  cfg.Arbitrage.ThresholdPct,
				RoundInterval: cfg.Arbitrage.RoundInterval.Duration,
				Network:       cfg.Network,
			}, logger)
	}

	// --- S3 history archiver ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
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
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client),
			deps.LiquidationStore, deps.ArbitrageStore,
			retention, cfg.S3.ArchiveInterval.Duration, logger)
	}

	return deps, cleanup, nil
}

// addSigners resolves every wallet entry's private key, adds a signer to the
// keyring, and returns the derived addresses in entry order.
func addSigners(keys *chain.Keyring, entries []config.WalletEntry, chainID *big.Int) ([]common.Address, error) {
	addrs := make([]common.Address, 0, len(entries))
	for i, entry := range entries {
		keyHex, err := crypto.LoadKey(crypto.KeySource{
			PrivateKey:       entry.PrivateKey,
			EncryptedKeyPath: entry.EncryptedKeyPath,
			KeyPassword:      entry.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		signer, err := chain.NewSigner(keyHex, chainID)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		keys.Add(signer)
		addrs = append(addrs, signer.Address())
	}
	return addrs, nil
}
