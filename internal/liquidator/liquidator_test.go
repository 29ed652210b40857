package liquidator

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"margincall/internal/chain"
	"margincall/internal/domain"
	"margincall/internal/notify"
	"margincall/internal/scanner"
	"margincall/internal/wallet"
)

var (
	walletAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	loanToken  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	collToken  = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	wrapper    = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	loanID     = common.Hash{0x01}
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeLedger struct {
	mu sync.Mutex

	nonce    uint64
	nonceErr error

	liquidations    []chain.LiquidateParams
	liquidateRcpt   *types.Receipt
	liquidateErr    error
	dispatched      chan struct{}
	dispatchedOnce  sync.Once
	recheckLoan     chain.Loan
	recheckErr      error
	path            []common.Address
	pathErr         error
	conversions     []chain.ConvertParams
	convertErr      error
	tokenBalances   []*big.Int
	nativeBalances  []*big.Int
	balanceReadFail bool
}

func (f *fakeLedger) PendingNonce(context.Context, common.Address) (uint64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakeLedger) Liquidate(_ context.Context, p chain.LiquidateParams) (*types.Receipt, error) {
	f.mu.Lock()
	f.liquidations = append(f.liquidations, p)
	f.mu.Unlock()
	if f.dispatched != nil {
		f.dispatchedOnce.Do(func() { close(f.dispatched) })
	}
	return f.liquidateRcpt, f.liquidateErr
}

func (f *fakeLedger) LoanByID(context.Context, common.Hash) (chain.Loan, error) {
	return f.recheckLoan, f.recheckErr
}

func (f *fakeLedger) IsNativeWrapper(token common.Address) bool {
	return token == wrapper
}

func (f *fakeLedger) ConversionPath(context.Context, common.Address, common.Address) ([]common.Address, error) {
	return f.path, f.pathErr
}

func (f *fakeLedger) ConvertByPath(_ context.Context, p chain.ConvertParams) (*types.Receipt, error) {
	f.mu.Lock()
	f.conversions = append(f.conversions, p)
	f.mu.Unlock()
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (f *fakeLedger) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return f.nextBalance(&f.tokenBalances)
}

func (f *fakeLedger) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return f.nextBalance(&f.nativeBalances)
}

func (f *fakeLedger) nextBalance(queue *[]*big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceReadFail {
		return nil, errors.New("rpc down")
	}
	if len(*queue) == 0 {
		return big.NewInt(0), nil
	}
	bal := (*queue)[0]
	*queue = (*queue)[1:]
	return bal, nil
}

func (f *fakeLedger) dispatchedParams() []chain.LiquidateParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.LiquidateParams(nil), f.liquidations...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeStore struct {
	mu      sync.Mutex
	records []domain.LiquidationRecord
}

func (f *fakeStore) Insert(_ context.Context, rec domain.LiquidationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) ListRecent(context.Context, int) ([]domain.LiquidationRecord, error) {
	return nil, nil
}

func (f *fakeStore) ListBefore(context.Context, time.Time) ([]domain.LiquidationRecord, error) {
	return nil, nil
}

func (f *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type staticBalances struct{ amount *big.Int }

func (s staticBalances) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return s.amount, nil
}

func (s staticBalances) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return s.amount, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func word(v []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(v):], v)
	return out
}

// minedReceipt builds a receipt carrying a decodable Liquidate log.
func minedReceipt(repay, seized int64) *types.Receipt {
	topic := ethcrypto.Keccak256Hash(
		[]byte("Liquidate(address,address,bytes32,address,address,address,uint256,uint256,uint256,uint256)"))
	var data []byte
	data = append(data, word(common.HexToAddress("0x99").Bytes())...) // lender
	data = append(data, word(loanToken.Bytes())...)
	data = append(data, word(collToken.Bytes())...)
	data = append(data, word(big.NewInt(repay).Bytes())...)
	data = append(data, word(big.NewInt(seized).Bytes())...)
	data = append(data, word(big.NewInt(1).Bytes())...) // collateralToLoanRate
	data = append(data, word(big.NewInt(0).Bytes())...) // currentMargin
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.Hash{0xfe},
		Logs: []*types.Log{{
			Topics: []common.Hash{
				topic,
				common.BytesToHash(common.HexToAddress("0x42").Bytes()), // user
				common.BytesToHash(walletAddr.Bytes()),                  // liquidator
				loanID,
			},
			Data: data,
		}},
	}
}

func candidate(token common.Address, closeAmount int64) domain.Position {
	return domain.Position{
		LoanID:          loanID,
		LoanToken:       token,
		CollateralToken: collToken,
		MaxLiquidatable: big.NewInt(closeAmount),
		MaxSeizable:     big.NewInt(closeAmount * 2),
	}
}

func newAllocator(t *testing.T) *wallet.Allocator {
	t.Helper()
	a := wallet.New(staticBalances{big.NewInt(1_000_000)},
		[]common.Address{loanToken, collToken}, wrapper, time.Minute, slog.Default())
	a.Register(domain.PurposeLiquidator, walletAddr)
	a.RefreshBalances(context.Background())
	return a
}

func newLiquidator(t *testing.T, book *scanner.Book, ledger *fakeLedger, store *fakeStore, n *fakeNotifier) *Liquidator {
	t.Helper()
	return New(book, newAllocator(t), ledger, store, n, nil, Config{
		RoundInterval: time.Millisecond,
		DispatchDelay: time.Millisecond,
		Network:       "testnet",
	}, slog.Default())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSuccessfulDispatchSettles(t *testing.T) {
	book := scanner.NewBook()
	book.ApplyPage([]domain.Position{candidate(loanToken, 500)})

	ledger := &fakeLedger{
		nonce:         7,
		liquidateRcpt: minedReceipt(500, 1000),
		path:          []common.Address{collToken, common.HexToAddress("0xcc"), loanToken},
		tokenBalances: []*big.Int{big.NewInt(100), big.NewInt(105)},
	}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	l := newLiquidator(t, book, ledger, store, notifier)

	l.process(context.Background(), candidate(loanToken, 500))

	dispatched := ledger.dispatchedParams()
	if len(dispatched) != 1 {
		t.Fatalf("liquidations dispatched = %d, want 1", len(dispatched))
	}
	p := dispatched[0]
	if p.Nonce != 7 || p.CloseAmount.Int64() != 500 || p.Wallet != walletAddr {
		t.Fatalf("unexpected dispatch params: %+v", p)
	}
	if p.Value != nil {
		t.Fatal("ERC20 loan token must not carry call value")
	}

	if !notifier.has(notify.EventLiquidationSuccess) {
		t.Fatal("missing success notification")
	}

	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	rec := store.records[0]
	if rec.Profit == nil || rec.Profit.Int64() != 5 {
		t.Fatalf("profit = %v, want 5", rec.Profit)
	}
	if rec.LoanID != loanID || rec.Amount.Int64() != 500 || rec.CollateralSeized.Int64() != 1000 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// The candidate was claimed at dispatch and must be gone.
	if _, candidates := book.Stats(); candidates != 0 {
		t.Fatalf("candidates = %d, want 0", candidates)
	}
	// The wallet is free again.
	if _, err := l.alloc.Acquire(domain.PurposeLiquidator, loanToken, big.NewInt(1), "next"); err != nil {
		t.Fatalf("wallet not released: %v", err)
	}
}

func TestNativeWrapperLoanCarriesValue(t *testing.T) {
	book := scanner.NewBook()
	cand := candidate(wrapper, 500)
	book.ApplyPage([]domain.Position{cand})

	ledger := &fakeLedger{
		liquidateRcpt: minedReceipt(500, 1000),
		pathErr:       errors.New("no path"), // skip swap-back, not under test
	}
	l := newLiquidator(t, book, ledger, &fakeStore{}, &fakeNotifier{})

	l.process(context.Background(), cand)

	dispatched := ledger.dispatchedParams()
	if len(dispatched) != 1 {
		t.Fatalf("liquidations dispatched = %d, want 1", len(dispatched))
	}
	if dispatched[0].Value == nil || dispatched[0].Value.Int64() != 500 {
		t.Fatalf("native-wrapper loan value = %v, want 500", dispatched[0].Value)
	}
}

func TestFailureStillEligibleEscalates(t *testing.T) {
	book := scanner.NewBook()
	cand := candidate(loanToken, 500)
	book.ApplyPage([]domain.Position{cand})

	ledger := &fakeLedger{
		liquidateErr: errors.New("execution reverted"),
		recheckLoan:  chain.Loan{MaxLiquidatable: big.NewInt(500)},
	}
	notifier := &fakeNotifier{}
	l := newLiquidator(t, book, ledger, &fakeStore{}, notifier)

	l.process(context.Background(), cand)

	if !notifier.has(notify.EventLiquidationFailed) {
		t.Fatal("missing failure notification")
	}
	if !notifier.has(notify.EventLiquidationManual) {
		t.Fatal("still-eligible failure must escalate")
	}
	// Optimistic removal holds even on failure; the rescan re-adds it.
	if _, candidates := book.Stats(); candidates != 0 {
		t.Fatalf("candidates = %d, want 0", candidates)
	}
}

func TestFailureNoLongerEligibleStaysSilent(t *testing.T) {
	book := scanner.NewBook()
	cand := candidate(loanToken, 500)
	book.ApplyPage([]domain.Position{cand})

	ledger := &fakeLedger{
		liquidateErr: errors.New("execution reverted"),
		recheckLoan:  chain.Loan{MaxLiquidatable: big.NewInt(0)},
	}
	notifier := &fakeNotifier{}
	l := newLiquidator(t, book, ledger, &fakeStore{}, notifier)

	l.process(context.Background(), cand)

	if notifier.has(notify.EventLiquidationManual) {
		t.Fatal("resolved loan must not escalate")
	}
}

func TestNoWalletDefersCandidate(t *testing.T) {
	book := scanner.NewBook()
	cand := candidate(loanToken, 500)
	book.ApplyPage([]domain.Position{cand})

	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}
	l := New(book, func() *wallet.Allocator {
		a := wallet.New(staticBalances{big.NewInt(1)}, // underfunded
			[]common.Address{loanToken}, wrapper, time.Minute, slog.Default())
		a.Register(domain.PurposeLiquidator, walletAddr)
		a.RefreshBalances(context.Background())
		return a
	}(), ledger, &fakeStore{}, notifier, nil, Config{Network: "testnet"}, slog.Default())

	l.process(context.Background(), cand)

	if !notifier.has(notify.EventNoWallet) {
		t.Fatal("missing no-wallet notification")
	}
	if len(ledger.dispatchedParams()) != 0 {
		t.Fatal("underfunded pool must not dispatch")
	}
	// Deferred, not dropped.
	if _, candidates := book.Stats(); candidates != 1 {
		t.Fatalf("candidates = %d, want 1", candidates)
	}
}

func TestScanThenLiquidateEndToEnd(t *testing.T) {
	book := scanner.NewBook()
	// A scan page delivers one healthy position and one underwater loan.
	book.ApplyPage([]domain.Position{
		{LoanID: common.Hash{0x33}, LoanToken: loanToken, MaxLiquidatable: big.NewInt(0)},
		candidate(loanToken, 500),
	})

	ledger := &fakeLedger{
		liquidateRcpt: minedReceipt(500, 1000),
		path:          []common.Address{collToken, common.HexToAddress("0xcc"), loanToken},
		tokenBalances: []*big.Int{big.NewInt(0), big.NewInt(20)},
		dispatched:    make(chan struct{}),
	}
	store := &fakeStore{}
	l := newLiquidator(t, book, ledger, store, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	select {
	case <-ledger.dispatched:
	case <-time.After(5 * time.Second):
		t.Fatal("liquidation was never dispatched")
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if got := len(ledger.dispatchedParams()); got != 1 {
		t.Fatalf("liquidations dispatched = %d, want 1 (healthy loan must be skipped)", got)
	}

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.records)
		store.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("records = %d, want 1", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
