package domain

import (
	"context"
	"io"
	"math/big"
	"time"
)

// LiquidationStore persists liquidation outcome records. Inserts are
// fire-and-forget from the bot's perspective: failures are logged by the
// caller, never retried.
type LiquidationStore interface {
	Insert(ctx context.Context, rec LiquidationRecord) error
	ListRecent(ctx context.Context, limit int) ([]LiquidationRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]LiquidationRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArbitrageStore persists arbitrage trade records.
type ArbitrageStore interface {
	Insert(ctx context.Context, rec ArbitrageRecord) error
	ListRecent(ctx context.Context, limit int) ([]ArbitrageRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbitrageRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RateCache stores the latest quoted return per conversion pair and quote
// source ("amm" or "oracle"). It is a status surface, not a decision input:
// the arbitrage engine always quotes live.
type RateCache interface {
	SetRate(ctx context.Context, pair, source string, rate *big.Int, ts time.Time) error
	GetRate(ctx context.Context, pair, source string) (*big.Int, time.Time, error)
}

// LockManager provides distributed locks. The bot uses one lock per network
// label as a single-instance guard.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned release
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
