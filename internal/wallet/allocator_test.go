package wallet

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"margincall/internal/domain"
)

type fakeBalances struct {
	native map[common.Address]*big.Int
	tokens map[common.Address]map[common.Address]*big.Int
	err    error
}

func (f *fakeBalances) NativeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if bal, ok := f.native[owner]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBalances) TokenBalance(_ context.Context, token, owner common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if byToken, ok := f.tokens[owner]; ok {
		if bal, ok := byToken[token]; ok {
			return bal, nil
		}
	}
	return big.NewInt(0), nil
}

var (
	wallet1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	wallet2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenA  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	wrapper = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
)

func newTestAllocator(t *testing.T, src *fakeBalances) *Allocator {
	t.Helper()
	a := New(src, []common.Address{tokenA, wrapper}, wrapper, time.Minute, slog.Default())
	a.Register(domain.PurposeLiquidator, wallet1)
	a.Register(domain.PurposeLiquidator, wallet2)
	a.RefreshBalances(context.Background())
	return a
}

func TestGetPicksFundedWallet(t *testing.T) {
	src := &fakeBalances{
		native: map[common.Address]*big.Int{wallet1: big.NewInt(10), wallet2: big.NewInt(10)},
		tokens: map[common.Address]map[common.Address]*big.Int{
			wallet1: {tokenA: big.NewInt(50)},
			wallet2: {tokenA: big.NewInt(500)},
		},
	}
	a := newTestAllocator(t, src)

	w, err := a.Get(domain.PurposeLiquidator, tokenA, big.NewInt(100))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Address != wallet2 {
		t.Fatalf("Get picked %s, want %s", w.Address.Hex(), wallet2.Hex())
	}
}

func TestGetNoFundedWallet(t *testing.T) {
	src := &fakeBalances{
		tokens: map[common.Address]map[common.Address]*big.Int{
			wallet1: {tokenA: big.NewInt(1)},
			wallet2: {tokenA: big.NewInt(2)},
		},
	}
	a := newTestAllocator(t, src)

	if _, err := a.Get(domain.PurposeLiquidator, tokenA, big.NewInt(100)); !errors.Is(err, domain.ErrNoWallet) {
		t.Fatalf("Get err = %v, want ErrNoWallet", err)
	}
}

func TestNativeWrapperUsesNativeBalance(t *testing.T) {
	src := &fakeBalances{
		native: map[common.Address]*big.Int{wallet1: big.NewInt(1000)},
		tokens: map[common.Address]map[common.Address]*big.Int{},
	}
	a := newTestAllocator(t, src)

	w, err := a.Get(domain.PurposeLiquidator, wrapper, big.NewInt(500))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Address != wallet1 {
		t.Fatalf("Get picked %s, want %s", w.Address.Hex(), wallet1.Hex())
	}
}

func TestAcquireReservesTarget(t *testing.T) {
	src := &fakeBalances{
		tokens: map[common.Address]map[common.Address]*big.Int{
			wallet1: {tokenA: big.NewInt(100)},
			wallet2: {tokenA: big.NewInt(100)},
		},
	}
	a := newTestAllocator(t, src)

	w, err := a.Acquire(domain.PurposeLiquidator, tokenA, big.NewInt(10), "loan-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !a.Busy(domain.PurposeLiquidator, "loan-1") {
		t.Fatal("target not marked busy after Acquire")
	}

	if _, err := a.Acquire(domain.PurposeLiquidator, tokenA, big.NewInt(10), "loan-1"); !errors.Is(err, ErrTargetBusy) {
		t.Fatalf("second Acquire err = %v, want ErrTargetBusy", err)
	}

	// The reserved wallet must not serve any other target while held.
	w2, err := a.Acquire(domain.PurposeLiquidator, tokenA, big.NewInt(10), "loan-2")
	if err != nil {
		t.Fatalf("Acquire loan-2: %v", err)
	}
	if w2.Address == w.Address {
		t.Fatal("busy wallet handed out for a second target")
	}

	// Both wallets held: the pool is exhausted.
	if _, err := a.Acquire(domain.PurposeLiquidator, tokenA, big.NewInt(10), "loan-3"); !errors.Is(err, domain.ErrNoWallet) {
		t.Fatalf("Acquire with exhausted pool err = %v, want ErrNoWallet", err)
	}

	a.Release(domain.PurposeLiquidator, "loan-1")
	if a.Busy(domain.PurposeLiquidator, "loan-1") {
		t.Fatal("target still busy after Release")
	}
	if _, err := a.Acquire(domain.PurposeLiquidator, tokenA, big.NewInt(10), "loan-1"); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestNoDoubleAllocationUnderConcurrency(t *testing.T) {
	src := &fakeBalances{
		tokens: map[common.Address]map[common.Address]*big.Int{
			wallet1: {tokenA: big.NewInt(100)},
			wallet2: {tokenA: big.NewInt(100)},
		},
	}
	a := newTestAllocator(t, src)

	const workers = 32
	var wg sync.WaitGroup
	var wins int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Acquire(domain.PurposeLiquidator, tokenA, big.NewInt(10), "contested"); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d goroutines acquired the same target, want exactly 1", wins)
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	src := &fakeBalances{
		tokens: map[common.Address]map[common.Address]*big.Int{
			wallet1: {tokenA: big.NewInt(100)},
		},
	}
	a := newTestAllocator(t, src)

	src.err = errors.New("rpc down")
	a.RefreshBalances(context.Background())

	// Stale balances still serve allocations.
	if _, err := a.Get(domain.PurposeLiquidator, tokenA, big.NewInt(100)); err != nil {
		t.Fatalf("Get after failed refresh: %v", err)
	}
}
