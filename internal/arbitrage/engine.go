// Package arbitrage watches one token pair for divergence between the AMM's
// quoted rate and the price oracle, and trades the cheaper side when the
// spread clears the configured threshold.
package arbitrage

import (
	"context"
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
	"margincall/internal/wallet"
)

// tradePathHops is the only conversion path shape the engine will trade:
// source, pool anchor, target. Longer routes carry pool risk the spread
// math does not account for.
const tradePathHops = 3

// Ledger is the slice of the chain client the arbitrage loop uses.
type Ledger interface {
	ConversionPath(ctx context.Context, source, target common.Address) ([]common.Address, error)
	RateByPath(ctx context.Context, path []common.Address, amount *big.Int) (*big.Int, error)
	OracleReturn(ctx context.Context, source, dest common.Address, amount *big.Int) (*big.Int, error)
	ConvertByPath(ctx context.Context, p chain.ConvertParams) (*types.Receipt, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Broadcaster pushes executed trades to connected status clients.
type Broadcaster interface {
	Publish(v any)
}

// Config holds the arbitrage loop parameters.
type Config struct {
	SourceToken common.Address
	DestToken   common.Address
	// Amount is the fixed notional quoted (and spent when trading
	// source to dest) each round, in source-token base units.
	Amount *big.Int
	// ThresholdPct is the minimum AMM/oracle divergence, in percent, that
	// triggers a trade.
	ThresholdPct  float64
	RoundInterval time.Duration
	Network       string
}

// Engine runs the quote-compare-trade loop.
type Engine struct {
	ledger   Ledger
	alloc    *wallet.Allocator
	store    domain.ArbitrageStore
	rates    domain.RateCache
	notifier Notifier
	hub      Broadcaster
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine. rates and hub may be nil when redis or the status
// server are disabled.
func New(ledger Ledger, alloc *wallet.Allocator, store domain.ArbitrageStore, rates domain.RateCache, notifier Notifier, hub Broadcaster, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		ledger:   ledger,
		alloc:    alloc,
		store:    store,
		rates:    rates,
		notifier: notifier,
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "arbitrage")),
	}
}

// Run evaluates the pair once per round until ctx is cancelled. A round
// never returns an error upward; every failure mode degrades to "no
// opportunity this round".
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.round(ctx)
		if err := sleep(ctx, e.cfg.RoundInterval); err != nil {
			return err
		}
	}
}

// round quotes both sources for the fixed notional, records the quotes, and
// trades when the divergence clears the threshold.
func (e *Engine) round(ctx context.Context) {
	ammReturn := e.quoteAMM(ctx)
	oracleReturn := e.quoteOracle(ctx)
	e.recordRates(ctx, ammReturn, oracleReturn)

	// A zero on either side means that source could not quote; there is
	// nothing to compare against.
	if ammReturn.Sign() == 0 || oracleReturn.Sign() == 0 {
		return
	}

	deltaPct := divergencePct(ammReturn, oracleReturn)
	e.logger.Debug("quotes compared",
		slog.String("amm", ammReturn.String()),
		slog.String("oracle", oracleReturn.String()),
		slog.Float64("delta_pct", deltaPct))
	if deltaPct < e.cfg.ThresholdPct {
		return
	}

	// The AMM quoting under the oracle means the dest token is cheap on the
	// AMM: spend dest to buy source, sized by the smaller quote. The AMM
	// quoting over the oracle means source is cheap: spend the configured
	// notional of source.
	var from, to common.Address
	var size *big.Int
	if ammReturn.Cmp(oracleReturn) < 0 {
		from, to = e.cfg.DestToken, e.cfg.SourceToken
		size = ammReturn
	} else {
		from, to = e.cfg.SourceToken, e.cfg.DestToken
		size = e.cfg.Amount
	}

	e.trade(ctx, from, to, size, deltaPct)
}

// quoteAMM resolves the conversion path and quotes the fixed notional
// through it. Any failure degrades to a zero quote.
func (e *Engine) quoteAMM(ctx context.Context) *big.Int {
	path, err := e.ledger.ConversionPath(ctx, e.cfg.SourceToken, e.cfg.DestToken)
	if err != nil || len(path) == 0 {
		e.logger.Debug("amm path unavailable", slog.Any("error", err))
		return new(big.Int)
	}
	rate, err := e.ledger.RateByPath(ctx, path, e.cfg.Amount)
	if err != nil || rate == nil {
		e.logger.Debug("amm quote failed", slog.Any("error", err))
		return new(big.Int)
	}
	return rate
}

// quoteOracle asks the price feed for the expected return. Any failure
// degrades to a zero quote.
func (e *Engine) quoteOracle(ctx context.Context) *big.Int {
	ret, err := e.ledger.OracleReturn(ctx, e.cfg.SourceToken, e.cfg.DestToken, e.cfg.Amount)
	if err != nil || ret == nil {
		e.logger.Debug("oracle quote failed", slog.Any("error", err))
		return new(big.Int)
	}
	return ret
}

// trade executes one swap from → to of the given size and settles it.
func (e *Engine) trade(ctx context.Context, from, to common.Address, size *big.Int, deltaPct float64) {
	path, err := e.ledger.ConversionPath(ctx, from, to)
	if err != nil {
		e.logger.Warn("trade path resolution failed", slog.Any("error", err))
		return
	}
	if len(path) != tradePathHops {
		// Unexpected route shape; stand down without noise.
		e.logger.Debug("trade path not tradable",
			slog.Int("hops", len(path)),
			slog.String("from", from.Hex()),
			slog.String("to", to.Hex()))
		return
	}

	pair := pairLabel(from, to)
	w, err := e.alloc.Acquire(domain.PurposeArbitrage, from, size, pair)
	if err != nil {
		e.logger.Warn("no wallet for arbitrage trade",
			slog.String("pair", pair),
			slog.String("size", size.String()),
			slog.Any("error", err))
		return
	}
	defer e.alloc.Release(domain.PurposeArbitrage, pair)

	e.logger.Info("executing arbitrage",
		slog.String("pair", pair),
		slog.String("size", size.String()),
		slog.Float64("delta_pct", deltaPct),
		slog.String("wallet", w.Address.Hex()))

	receipt, err := e.ledger.ConvertByPath(ctx, chain.ConvertParams{
		Path:   path,
		Amount: size,
		Wallet: w.Address,
	})
	if err != nil {
		e.logger.Warn("arbitrage swap failed", slog.String("pair", pair), slog.Any("error", err))
		return
	}

	e.settle(ctx, receipt)
}

// settle decodes the Conversion log, computes profit against the oracle's
// implied return for the same input, and persists the record.
func (e *Engine) settle(ctx context.Context, receipt *types.Receipt) {
	ev, err := chain.DecodeConversion(receipt)
	if err != nil {
		e.logger.Warn("settle: no decodable Conversion log",
			slog.String("tx", receipt.TxHash.Hex()), slog.Any("error", err))
		return
	}

	rec := domain.ArbitrageRecord{
		ID:         uuid.NewString(),
		FromToken:  ev.FromToken,
		ToToken:    ev.ToToken,
		FromAmount: ev.Amount,
		ToAmount:   ev.Return,
		TxHash:     receipt.TxHash,
		CreatedAt:  time.Now().UTC(),
	}

	implied, err := e.ledger.OracleReturn(ctx, ev.FromToken, ev.ToToken, ev.Amount)
	if err != nil {
		e.logger.Warn("settle: oracle implied return unavailable", slog.Any("error", err))
	} else {
		rec.Profit = new(big.Int).Sub(ev.Return, implied)
	}

	if err := e.store.Insert(ctx, rec); err != nil {
		e.logger.Error("arbitrage record insert failed", slog.Any("error", err))
	}
	if e.hub != nil {
		e.hub.Publish(rec)
	}
	if e.notifier != nil {
		msg := fmt.Sprintf("[%s] swapped %s %s for %s %s, tx %s",
			e.cfg.Network, ev.Amount, ev.FromToken.Hex(), ev.Return, ev.ToToken.Hex(), receipt.TxHash.Hex())
		if err := e.notifier.Notify(ctx, notify.EventArbitrageExecuted, "Arbitrage executed", msg); err != nil {
			e.logger.Warn("notification failed", slog.Any("error", err))
		}
	}
}

// recordRates publishes the round's quotes to the rate cache. Best-effort;
// the cache is a status surface only.
func (e *Engine) recordRates(ctx context.Context, amm, oracle *big.Int) {
	if e.rates == nil {
		return
	}
	pair := pairLabel(e.cfg.SourceToken, e.cfg.DestToken)
	now := time.Now().UTC()
	if err := e.rates.SetRate(ctx, pair, "amm", amm, now); err != nil {
		e.logger.Debug("rate cache write failed", slog.Any("error", err))
	}
	if err := e.rates.SetRate(ctx, pair, "oracle", oracle, now); err != nil {
		e.logger.Debug("rate cache write failed", slog.Any("error", err))
	}
}

// divergencePct returns |a−b| / min(a,b) × 100. Both inputs must be
// positive.
func divergencePct(a, b *big.Int) float64 {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	min := a
	if b.Cmp(a) < 0 {
		min = b
	}
	pct := new(big.Float).Quo(
		new(big.Float).SetInt(new(big.Int).Mul(diff, big.NewInt(100))),
		new(big.Float).SetInt(min))
	out, _ := pct.Float64()
	return out
}

func pairLabel(from, to common.Address) string {
	return from.Hex() + ":" + to.Hex()
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
