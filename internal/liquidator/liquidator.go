// Package liquidator drains the scanner's candidate set: for each
// liquidatable loan it allocates a funded wallet, submits the liquidation,
// and on success swaps the seized collateral back to the loan token and
// persists the realized profit.
package liquidator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"margincall/internal/chain"
	"margincall/internal/domain"
	"margincall/internal/notify"
	"margincall/internal/scanner"
	"margincall/internal/wallet"
)

// Ledger is the slice of the chain client the liquidation loop uses.
type Ledger interface {
	PendingNonce(ctx context.Context, owner common.Address) (uint64, error)
	Liquidate(ctx context.Context, p chain.LiquidateParams) (*types.Receipt, error)
	LoanByID(ctx context.Context, loanID common.Hash) (chain.Loan, error)
	IsNativeWrapper(token common.Address) bool
	ConversionPath(ctx context.Context, source, target common.Address) ([]common.Address, error)
	ConvertByPath(ctx context.Context, p chain.ConvertParams) (*types.Receipt, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Broadcaster pushes settled records to connected status clients.
type Broadcaster interface {
	Publish(v any)
}

// Config holds the liquidation loop parameters.
type Config struct {
	RoundInterval time.Duration
	// DispatchDelay is the fixed pause between consecutive dispatches
	// within one round.
	DispatchDelay time.Duration
	// Network labels operator alerts (e.g. "mainnet", "testnet").
	Network string
}

// Liquidator runs the dispatch loop.
type Liquidator struct {
	book     *scanner.Book
	alloc    *wallet.Allocator
	ledger   Ledger
	store    domain.LiquidationStore
	notifier Notifier
	hub      Broadcaster
	cfg      Config
	logger   *slog.Logger
}

// New creates a Liquidator. hub may be nil when the status server is
// disabled.
func New(book *scanner.Book, alloc *wallet.Allocator, ledger Ledger, store domain.LiquidationStore, notifier Notifier, hub Broadcaster, cfg Config, logger *slog.Logger) *Liquidator {
	return &Liquidator{
		book:     book,
		alloc:    alloc,
		ledger:   ledger,
		store:    store,
		notifier: notifier,
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "liquidator")),
	}
}

// Run processes candidates until ctx is cancelled. Each round takes a
// snapshot of the candidate set and dispatches them one by one with a fixed
// pause in between, then sleeps the round interval.
func (l *Liquidator) Run(ctx context.Context) error {
	for {
		for _, cand := range l.book.Candidates() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.process(ctx, cand) {
				if err := sleep(ctx, l.cfg.DispatchDelay); err != nil {
					return err
				}
			}
		}
		if err := sleep(ctx, l.cfg.RoundInterval); err != nil {
			return err
		}
	}
}

// process handles one candidate. Returns true when a transaction was
// dispatched (successfully or not), so the caller applies the dispatch
// pause only for real submissions.
func (l *Liquidator) process(ctx context.Context, cand domain.Position) bool {
	target := cand.LoanID.Hex()

	w, err := l.alloc.Acquire(domain.PurposeLiquidator, cand.LoanToken, cand.MaxLiquidatable, target)
	switch {
	case errors.Is(err, wallet.ErrTargetBusy):
		// Another dispatch already owns this loan.
		return false
	case errors.Is(err, domain.ErrNoWallet):
		l.logger.Warn("no funded wallet for candidate",
			slog.String("loan_id", target),
			slog.String("loan_token", cand.LoanToken.Hex()),
			slog.String("close_amount", amountString(cand.MaxLiquidatable)))
		l.notify(ctx, notify.EventNoWallet, "No funded wallet",
			fmt.Sprintf("[%s] loan %s needs %s of %s but no wallet can cover it",
				l.cfg.Network, target, amountString(cand.MaxLiquidatable), cand.LoanToken.Hex()))
		// Candidate stays in the book and is retried next round.
		return false
	case err != nil:
		l.logger.Error("wallet allocation failed", slog.String("loan_id", target), slog.Any("error", err))
		return false
	}

	nonce, err := l.ledger.PendingNonce(ctx, w.Address)
	if err != nil {
		l.logger.Warn("nonce fetch failed, deferring candidate",
			slog.String("loan_id", target), slog.Any("error", err))
		l.alloc.Release(domain.PurposeLiquidator, target)
		return false
	}

	// Claim the candidate before submitting. The removal is optimistic: if
	// the transaction fails and the loan is still underwater, the next scan
	// cycle puts it back.
	if _, ok := l.book.Claim(cand.LoanID); !ok {
		l.alloc.Release(domain.PurposeLiquidator, target)
		return false
	}

	params := chain.LiquidateParams{
		LoanID:      cand.LoanID,
		Wallet:      w.Address,
		CloseAmount: cand.MaxLiquidatable,
		Nonce:       nonce,
	}
	// The repay amount rides as call value only for native-wrapper loans;
	// everything else is pulled via allowance.
	if l.ledger.IsNativeWrapper(cand.LoanToken) {
		params.Value = cand.MaxLiquidatable
	}

	receipt, err := l.ledger.Liquidate(ctx, params)
	l.alloc.Release(domain.PurposeLiquidator, target)

	if err != nil {
		l.handleFailure(ctx, cand, err)
		return true
	}

	l.logger.Info("liquidation mined",
		slog.String("loan_id", target),
		slog.String("wallet", w.Address.Hex()),
		slog.String("tx", receipt.TxHash.Hex()))
	l.notify(ctx, notify.EventLiquidationSuccess, "Liquidation executed",
		fmt.Sprintf("[%s] loan %s liquidated, tx %s", l.cfg.Network, target, receipt.TxHash.Hex()))

	l.settle(ctx, w.Address, receipt)
	return true
}

// handleFailure re-checks the loan after a failed dispatch. A loan that is
// no longer liquidatable was raced by someone else or repaid, which is not
// an incident; one that is still underwater needs a human.
func (l *Liquidator) handleFailure(ctx context.Context, cand domain.Position, dispatchErr error) {
	target := cand.LoanID.Hex()
	l.logger.Warn("liquidation failed",
		slog.String("loan_id", target), slog.Any("error", dispatchErr))
	l.notify(ctx, notify.EventLiquidationFailed, "Liquidation failed",
		fmt.Sprintf("[%s] loan %s: %v", l.cfg.Network, target, dispatchErr))

	loan, err := l.ledger.LoanByID(ctx, cand.LoanID)
	if err == nil && (loan.MaxLiquidatable == nil || loan.MaxLiquidatable.Sign() == 0) {
		// Resolved on-chain in the meantime. Nothing to escalate.
		l.logger.Info("loan no longer liquidatable after failure", slog.String("loan_id", target))
		return
	}
	if err != nil {
		l.logger.Warn("eligibility re-check failed", slog.String("loan_id", target), slog.Any("error", err))
	}

	l.notify(ctx, notify.EventLiquidationManual, "Manual liquidation required",
		fmt.Sprintf("[%s] loan %s failed to liquidate but is still eligible", l.cfg.Network, target))
}

// settle reconciles a mined liquidation: decode the Liquidate log, swap the
// seized collateral back to the loan token, compute the realized profit and
// persist the record. Persistence is fire-and-forget.
func (l *Liquidator) settle(ctx context.Context, walletAddr common.Address, receipt *types.Receipt) {
	ev, err := chain.DecodeLiquidate(receipt)
	if err != nil {
		l.logger.Warn("settle: no decodable Liquidate log",
			slog.String("tx", receipt.TxHash.Hex()), slog.Any("error", err))
		return
	}

	rec := domain.LiquidationRecord{
		ID:               uuid.NewString(),
		LoanID:           ev.LoanID,
		Liquidator:       ev.Liquidator,
		LoanToken:        ev.LoanToken,
		CollateralToken:  ev.CollateralToken,
		Amount:           ev.RepayAmount,
		CollateralSeized: ev.CollateralWithdrawAmount,
		Profit:           l.swapBack(ctx, walletAddr, ev),
		TxHash:           receipt.TxHash,
		CreatedAt:        time.Now().UTC(),
	}

	if err := l.store.Insert(ctx, rec); err != nil {
		l.logger.Error("liquidation record insert failed",
			slog.String("loan_id", rec.LoanID.Hex()), slog.Any("error", err))
	}
	if l.hub != nil {
		l.hub.Publish(rec)
	}
}

// swapBack converts the seized collateral to the loan token and returns the
// loan-token balance delta, or nil when any step fails (the record is then
// persisted unreconciled).
func (l *Liquidator) swapBack(ctx context.Context, walletAddr common.Address, ev *chain.LiquidateEvent) *big.Int {
	path, err := l.ledger.ConversionPath(ctx, ev.CollateralToken, ev.LoanToken)
	if err != nil || len(path) == 0 {
		l.logger.Warn("settle: no conversion path",
			slog.String("collateral", ev.CollateralToken.Hex()),
			slog.String("loan_token", ev.LoanToken.Hex()),
			slog.Any("error", err))
		return nil
	}

	before, err := l.balance(ctx, ev.LoanToken, walletAddr)
	if err != nil {
		l.logger.Warn("settle: balance read failed", slog.Any("error", err))
		return nil
	}

	if _, err := l.ledger.ConvertByPath(ctx, chain.ConvertParams{
		Path:   path,
		Amount: ev.CollateralWithdrawAmount,
		Wallet: walletAddr,
	}); err != nil {
		l.logger.Warn("settle: collateral swap-back failed",
			slog.String("loan_id", ev.LoanID.Hex()), slog.Any("error", err))
		return nil
	}

	after, err := l.balance(ctx, ev.LoanToken, walletAddr)
	if err != nil {
		l.logger.Warn("settle: balance read failed", slog.Any("error", err))
		return nil
	}

	return new(big.Int).Sub(after, before)
}

// balance reads the wallet's holdings of token, falling through to the
// native balance when token is the native wrapper (the swap network unwraps
// on delivery).
func (l *Liquidator) balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if l.ledger.IsNativeWrapper(token) {
		return l.ledger.NativeBalance(ctx, owner)
	}
	return l.ledger.TokenBalance(ctx, token, owner)
}

func (l *Liquidator) notify(ctx context.Context, event, title, message string) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Notify(ctx, event, title, message); err != nil {
		l.logger.Warn("notification failed", slog.String("event", event), slog.Any("error", err))
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// sleep waits d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
