// Package wallet manages the funded accounts the bot spends from. Wallets
// are grouped into purpose pools (liquidator, arbitrage) and handed out one
// target at a time, so two loops never spend from the same wallet against
// the same target concurrently.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"margincall/internal/domain"
)

// ErrTargetBusy is returned by Acquire when another caller already holds a
// reservation for the same (purpose, target) pair.
var ErrTargetBusy = errors.New("wallet: target already reserved")

// BalanceSource reads wallet balances from the chain.
type BalanceSource interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// nativeKey indexes the native coin balance inside a wallet's balance map.
var nativeKey = common.Address{}

type walletState struct {
	addr     common.Address
	balances map[common.Address]*big.Int
}

type busyKey struct {
	purpose string
	target  string
}

// Allocator hands wallets out of purpose pools based on cached balance
// snapshots. Snapshots are refreshed on an interval; between refreshes the
// allocator tolerates staleness rather than querying the chain per request.
type Allocator struct {
	mu    sync.Mutex
	pools map[string][]*walletState
	busy  map[busyKey]common.Address
	// held counts live reservations per wallet; a wallet with any live
	// reservation is skipped by Get and Acquire.
	held map[common.Address]int

	src           BalanceSource
	tokens        []common.Address
	nativeWrapper common.Address
	refreshEvery  time.Duration
	logger        *slog.Logger
}

// New creates an Allocator tracking the given tokens for every registered
// wallet. Balances start empty; call RefreshBalances (or Run) before
// allocating.
func New(src BalanceSource, tokens []common.Address, nativeWrapper common.Address, refreshEvery time.Duration, logger *slog.Logger) *Allocator {
	return &Allocator{
		pools:         make(map[string][]*walletState),
		busy:          make(map[busyKey]common.Address),
		held:          make(map[common.Address]int),
		src:           src,
		tokens:        tokens,
		nativeWrapper: nativeWrapper,
		refreshEvery:  refreshEvery,
		logger:        logger.With(slog.String("component", "wallet")),
	}
}

// Register adds a wallet address to a purpose pool. Pool order is allocation
// order.
func (a *Allocator) Register(purpose string, addr common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pools[purpose] = append(a.pools[purpose], &walletState{
		addr:     addr,
		balances: make(map[common.Address]*big.Int),
	})
}

// Busy reports whether some caller currently holds a reservation for the
// (purpose, target) pair.
func (a *Allocator) Busy(purpose, target string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, held := a.busy[busyKey{purpose, target}]
	return held
}

// Reserve marks the (purpose, target) pair as held by the given wallet.
// Reserving an already-held pair moves it to the new wallet.
func (a *Allocator) Reserve(purpose, target string, addr common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := busyKey{purpose, target}
	if prev, held := a.busy[key]; held {
		a.unhold(prev)
	}
	a.busy[key] = addr
	a.held[addr]++
}

// Release drops the reservation for the (purpose, target) pair. Releasing a
// pair that is not held is a no-op.
func (a *Allocator) Release(purpose, target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := busyKey{purpose, target}
	if addr, held := a.busy[key]; held {
		delete(a.busy, key)
		a.unhold(addr)
	}
}

// unhold decrements a wallet's live-reservation count. Caller holds a.mu.
func (a *Allocator) unhold(addr common.Address) {
	if a.held[addr] <= 1 {
		delete(a.held, addr)
		return
	}
	a.held[addr]--
}

// Get returns the first wallet in the purpose pool whose cached balance of
// token covers minAmount, without reserving anything. Returns
// domain.ErrNoWallet when the pool is empty or no wallet has the funds.
func (a *Allocator) Get(purpose string, token common.Address, minAmount *big.Int) (domain.Wallet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ws := a.pick(purpose, token, minAmount)
	if ws == nil {
		return domain.Wallet{}, domain.ErrNoWallet
	}
	return domain.Wallet{Address: ws.addr, Purpose: purpose}, nil
}

// Acquire atomically selects a funded wallet and reserves the (purpose,
// target) pair for it, so a check-then-reserve race cannot hand the same
// target to two callers. Returns ErrTargetBusy when the pair is already
// held and domain.ErrNoWallet when no wallet has the funds.
func (a *Allocator) Acquire(purpose string, token common.Address, minAmount *big.Int, target string) (domain.Wallet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := busyKey{purpose, target}
	if _, held := a.busy[key]; held {
		return domain.Wallet{}, ErrTargetBusy
	}
	ws := a.pick(purpose, token, minAmount)
	if ws == nil {
		return domain.Wallet{}, domain.ErrNoWallet
	}
	a.busy[key] = ws.addr
	a.held[ws.addr]++
	return domain.Wallet{Address: ws.addr, Purpose: purpose}, nil
}

// pick scans the purpose pool for an idle wallet whose snapshot covers
// minAmount. Caller holds a.mu. Spending the native wrapper costs native
// coin, so that token resolves to the native balance.
func (a *Allocator) pick(purpose string, token common.Address, minAmount *big.Int) *walletState {
	key := token
	if token == a.nativeWrapper {
		key = nativeKey
	}
	for _, ws := range a.pools[purpose] {
		if a.held[ws.addr] > 0 {
			continue
		}
		bal, ok := ws.balances[key]
		if !ok {
			continue
		}
		if minAmount == nil || bal.Cmp(minAmount) >= 0 {
			return ws
		}
	}
	return nil
}

// RefreshBalances re-reads every wallet's native and tracked-token balances.
// Individual read failures are logged and leave the previous snapshot in
// place.
func (a *Allocator) RefreshBalances(ctx context.Context) {
	a.mu.Lock()
	wallets := make([]*walletState, 0)
	for _, pool := range a.pools {
		wallets = append(wallets, pool...)
	}
	a.mu.Unlock()

	for _, ws := range wallets {
		if bal, err := a.src.NativeBalance(ctx, ws.addr); err != nil {
			a.logger.Warn("native balance read failed",
				slog.String("wallet", ws.addr.Hex()), slog.Any("error", err))
		} else {
			a.setBalance(ws, nativeKey, bal)
		}
		for _, token := range a.tokens {
			if token == a.nativeWrapper {
				continue
			}
			bal, err := a.src.TokenBalance(ctx, token, ws.addr)
			if err != nil {
				a.logger.Warn("token balance read failed",
					slog.String("wallet", ws.addr.Hex()),
					slog.String("token", token.Hex()),
					slog.Any("error", err))
				continue
			}
			a.setBalance(ws, token, bal)
		}
	}
}

func (a *Allocator) setBalance(ws *walletState, key common.Address, bal *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ws.balances[key] = bal
}

// Run refreshes balances once immediately and then on the configured
// interval until ctx is cancelled.
func (a *Allocator) Run(ctx context.Context) error {
	a.RefreshBalances(ctx)

	every := a.refreshEvery
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.RefreshBalances(ctx)
		}
	}
}

// BalanceSnapshot is one wallet's cached balances, for status reporting.
type BalanceSnapshot struct {
	Address  common.Address            `json:"address"`
	Purpose  string                    `json:"purpose"`
	Native   *big.Int                  `json:"native"`
	Balances map[common.Address]string `json:"balances"`
}

// Snapshot returns a copy of every wallet's cached balances.
func (a *Allocator) Snapshot() []BalanceSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []BalanceSnapshot
	for purpose, pool := range a.pools {
		for _, ws := range pool {
			snap := BalanceSnapshot{
				Address:  ws.addr,
				Purpose:  purpose,
				Balances: make(map[common.Address]string, len(ws.balances)),
			}
			for token, bal := range ws.balances {
				if token == nativeKey {
					snap.Native = new(big.Int).Set(bal)
					continue
				}
				snap.Balances[token] = bal.String()
			}
			out = append(out, snap)
		}
	}
	return out
}
