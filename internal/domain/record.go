package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidationRecord is the persisted outcome of one successful liquidation,
// including the realized profit from swapping the seized collateral back to
// the loan token.
type LiquidationRecord struct {
	ID              string
	LoanID          common.Hash
	Liquidator      common.Address
	LoanToken       common.Address
	CollateralToken common.Address

	// Amount is the loan-token amount repaid in the liquidation call.
	Amount *big.Int
	// CollateralSeized is the collateral amount received for the repayment.
	CollateralSeized *big.Int
	// Profit is loan-token balance after minus before the collateral
	// swap-back. Nil when the swap-back could not be reconciled.
	Profit *big.Int

	TxHash    common.Hash
	CreatedAt time.Time
}

// ArbitrageRecord is the persisted outcome of one executed arbitrage swap.
type ArbitrageRecord struct {
	ID        string
	FromToken common.Address
	ToToken   common.Address

	FromAmount *big.Int
	ToAmount   *big.Int
	// Profit is the actual output minus the oracle-implied return for the
	// same input.
	Profit *big.Int

	TxHash    common.Hash
	CreatedAt time.Time
}
