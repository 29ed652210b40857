// Package chain wraps the JSON-RPC connection to the lending protocol, the
// AMM swap network and the price oracle behind a small typed surface. All
// amounts cross this boundary as *big.Int in base units; the package never
// interprets token decimals.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"margincall/internal/domain"
)

// Config carries the chain endpoints and contract addresses.
type Config struct {
	RPCURL        string
	ChainID       int64
	Protocol      common.Address
	Swaps         common.Address
	PriceFeed     common.Address
	NativeWrapper common.Address
}

// Client is the single gateway to on-chain state. It is safe for concurrent
// use; the underlying ethclient multiplexes requests over one connection.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	keys    *Keyring

	protocol *bind.BoundContract
	swaps    *bind.BoundContract
	feed     *bind.BoundContract
	erc20ABI abi.ABI

	swapsAddr     common.Address
	nativeWrapper common.Address

	logger *slog.Logger
}

// Loan mirrors the protocol's per-loan return tuple. Field names must match
// the ABI component names for unpacking.
type Loan struct {
	LoanId                   [32]byte
	LoanToken                common.Address
	CollateralToken          common.Address
	Principal                *big.Int
	Collateral               *big.Int
	InterestOwedPerDay       *big.Int
	InterestDepositRemaining *big.Int
	StartRate                *big.Int
	StartMargin              *big.Int
	MaintenanceMargin        *big.Int
	CurrentMargin            *big.Int
	MaxLoanTerm              *big.Int
	EndTimestamp             *big.Int
	MaxLiquidatable          *big.Int
	MaxSeizable              *big.Int
}

// New dials the RPC endpoint and binds the three protocol contracts.
func New(ctx context.Context, cfg Config, keys *Keyring, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	protocolABI, err := abi.JSON(strings.NewReader(protocolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse protocol abi: %w", err)
	}
	swapsABI, err := abi.JSON(strings.NewReader(swapsABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse swaps abi: %w", err)
	}
	feedABI, err := abi.JSON(strings.NewReader(feedABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse feed abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}

	return &Client{
		eth:           eth,
		chainID:       big.NewInt(cfg.ChainID),
		keys:          keys,
		protocol:      bind.NewBoundContract(cfg.Protocol, protocolABI, eth, eth, eth),
		swaps:         bind.NewBoundContract(cfg.Swaps, swapsABI, eth, eth, eth),
		feed:          bind.NewBoundContract(cfg.PriceFeed, feedABI, eth, eth, eth),
		erc20ABI:      erc20ABI,
		swapsAddr:     cfg.Swaps,
		nativeWrapper: cfg.NativeWrapper,
		logger:        logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Keys returns the wallet keyring the client signs with.
func (c *Client) Keys() *Keyring {
	return c.keys
}

// IsNativeWrapper reports whether token is the wrapped form of the chain's
// native coin. Liquidations of such loans carry the repay amount as call
// value instead of relying on an ERC20 allowance.
func (c *Client) IsNativeWrapper(token common.Address) bool {
	return token == c.nativeWrapper
}

// ---------------------------------------------------------------------------
// Lending protocol
// ---------------------------------------------------------------------------

// ActiveLoans fetches one page of unsafe active loans starting at the given
// cursor. The protocol returns fewer than count entries on the final page.
func (c *Client) ActiveLoans(ctx context.Context, start, count *big.Int) ([]Loan, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.protocol.Call(opts, &out, "getActiveLoans", start, count, true); err != nil {
		return nil, fmt.Errorf("chain: getActiveLoans start=%s: %w", start, err)
	}
	loans := *abi.ConvertType(out[0], new([]Loan)).(*[]Loan)
	return loans, nil
}

// Position maps the raw loan tuple to the domain type the scanning and
// liquidation loops work with.
func (l Loan) Position() domain.Position {
	return domain.Position{
		LoanID:            common.Hash(l.LoanId),
		LoanToken:         l.LoanToken,
		CollateralToken:   l.CollateralToken,
		Principal:         l.Principal,
		Collateral:        l.Collateral,
		CurrentMargin:     l.CurrentMargin,
		MaintenanceMargin: l.MaintenanceMargin,
		MaxLiquidatable:   l.MaxLiquidatable,
		MaxSeizable:       l.MaxSeizable,
	}
}

// ActivePositions fetches one page of unsafe loans as domain positions.
func (c *Client) ActivePositions(ctx context.Context, start, count *big.Int) ([]domain.Position, error) {
	loans, err := c.ActiveLoans(ctx, start, count)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, len(loans))
	for i, l := range loans {
		out[i] = l.Position()
	}
	return out, nil
}

// LoanByID fetches the current state of a single loan.
func (c *Client) LoanByID(ctx context.Context, loanID common.Hash) (Loan, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.protocol.Call(opts, &out, "getLoan", [32]byte(loanID)); err != nil {
		return Loan{}, fmt.Errorf("chain: getLoan %s: %w", loanID.Hex(), err)
	}
	loan := *abi.ConvertType(out[0], new(Loan)).(*Loan)
	return loan, nil
}

// LiquidateParams describes one liquidation submission.
type LiquidateParams struct {
	LoanID      common.Hash
	Wallet      common.Address // signs and receives the seized collateral
	CloseAmount *big.Int
	Nonce       uint64
	// Value is the native call value. Non-nil only when the loan token is
	// the native wrapper; otherwise repayment is pulled via allowance.
	Value *big.Int
}

// Liquidate submits a liquidation and waits for it to be mined. A mined
// transaction with a failed status is returned as an error alongside the
// receipt so the caller can still log the hash.
func (c *Client) Liquidate(ctx context.Context, p LiquidateParams) (*types.Receipt, error) {
	signer, ok := c.keys.Get(p.Wallet)
	if !ok {
		return nil, fmt.Errorf("chain: no signer for wallet %s", p.Wallet.Hex())
	}
	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	opts.Nonce = new(big.Int).SetUint64(p.Nonce)
	if p.Value != nil {
		opts.Value = p.Value
	}

	tx, err := c.protocol.Transact(opts, "liquidate", [32]byte(p.LoanID), p.Wallet, p.CloseAmount)
	if err != nil {
		return nil, fmt.Errorf("chain: liquidate %s: %w", p.LoanID.Hex(), err)
	}

	c.logger.Info("liquidation submitted",
		slog.String("loan_id", p.LoanID.Hex()),
		slog.String("wallet", p.Wallet.Hex()),
		slog.String("tx", tx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("chain: wait liquidate %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain: liquidate %s reverted (tx %s)", p.LoanID.Hex(), tx.Hash().Hex())
	}
	return receipt, nil
}

// ---------------------------------------------------------------------------
// AMM swap network
// ---------------------------------------------------------------------------

// ConversionPath resolves the hop sequence between two tokens. It returns
// domain.ErrNoConversionPath when the swap network knows no route.
func (c *Client) ConversionPath(ctx context.Context, source, target common.Address) ([]common.Address, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.swaps.Call(opts, &out, "conversionPath", source, target); err != nil {
		return nil, fmt.Errorf("chain: conversionPath %s->%s: %w", source.Hex(), target.Hex(), err)
	}
	path := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)
	if len(path) == 0 {
		return nil, fmt.Errorf("chain: conversionPath %s->%s: %w", source.Hex(), target.Hex(), domain.ErrNoConversionPath)
	}
	return path, nil
}

// RateByPath quotes the output amount for spending amount along path.
func (c *Client) RateByPath(ctx context.Context, path []common.Address, amount *big.Int) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.swaps.Call(opts, &out, "rateByPath", path, amount); err != nil {
		return nil, fmt.Errorf("chain: rateByPath: %w", err)
	}
	rate := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return rate, nil
}

// ConvertParams describes one swap submission.
type ConvertParams struct {
	Path      []common.Address
	Amount    *big.Int
	MinReturn *big.Int // defaults to 1 when nil
	Wallet    common.Address
	Nonce     uint64
}

// ConvertByPath executes a swap along the given path and waits for it to be
// mined. When the source token is an ERC20, the swap contract is approved
// for the spend amount first; when it is the native wrapper, the amount is
// attached as call value instead.
func (c *Client) ConvertByPath(ctx context.Context, p ConvertParams) (*types.Receipt, error) {
	if len(p.Path) == 0 {
		return nil, fmt.Errorf("chain: convertByPath: empty path")
	}
	signer, ok := c.keys.Get(p.Wallet)
	if !ok {
		return nil, fmt.Errorf("chain: no signer for wallet %s", p.Wallet.Hex())
	}

	source := p.Path[0]
	native := c.IsNativeWrapper(source)
	if !native {
		if err := c.Approve(ctx, source, p.Wallet, p.Amount); err != nil {
			return nil, err
		}
	}

	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	if p.Nonce != 0 {
		opts.Nonce = new(big.Int).SetUint64(p.Nonce)
	}
	if native {
		opts.Value = p.Amount
	}
	minReturn := p.MinReturn
	if minReturn == nil {
		minReturn = big.NewInt(1)
	}

	tx, err := c.swaps.Transact(opts, "convertByPath",
		p.Path, p.Amount, minReturn, p.Wallet, common.Address{}, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("chain: convertByPath: %w", err)
	}

	c.logger.Info("swap submitted",
		slog.String("wallet", p.Wallet.Hex()),
		slog.String("source", source.Hex()),
		slog.String("target", p.Path[len(p.Path)-1].Hex()),
		slog.String("tx", tx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("chain: wait convertByPath %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain: convertByPath reverted (tx %s)", tx.Hash().Hex())
	}
	return receipt, nil
}

// Approve grants the swap contract an allowance of amount over token, signed
// by owner, and waits for it to be mined.
func (c *Client) Approve(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	signer, ok := c.keys.Get(owner)
	if !ok {
		return fmt.Errorf("chain: no signer for wallet %s", owner.Hex())
	}
	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return err
	}

	bound := bind.NewBoundContract(token, c.erc20ABI, c.eth, c.eth, c.eth)
	tx, err := bound.Transact(opts, "approve", c.swapsAddr, amount)
	if err != nil {
		return fmt.Errorf("chain: approve %s: %w", token.Hex(), err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("chain: wait approve %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("chain: approve reverted (tx %s)", tx.Hash().Hex())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Price oracle
// ---------------------------------------------------------------------------

// OracleReturn asks the price feed what amount of dest the oracle implies
// for spending sourceAmount of source.
func (c *Client) OracleReturn(ctx context.Context, source, dest common.Address, sourceAmount *big.Int) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	if err := c.feed.Call(opts, &out, "queryReturn", source, dest, sourceAmount); err != nil {
		return nil, fmt.Errorf("chain: queryReturn %s->%s: %w", source.Hex(), dest.Hex(), err)
	}
	ret := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return ret, nil
}

// ---------------------------------------------------------------------------
// Balances and nonces
// ---------------------------------------------------------------------------

// TokenBalance reads the ERC20 balance of owner.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx}
	bound := bind.NewBoundContract(token, c.erc20ABI, c.eth, c.eth, c.eth)
	if err := bound.Call(opts, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s: %w", token.Hex(), err)
	}
	bal := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return bal, nil
}

// NativeBalance reads the native coin balance of owner.
func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceAt %s: %w", owner.Hex(), err)
	}
	return bal, nil
}

// PendingNonce returns the next nonce for owner including pending txs.
func (c *Client) PendingNonce(ctx context.Context, owner common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce %s: %w", owner.Hex(), err)
	}
	return nonce, nil
}
