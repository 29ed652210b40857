// Package domain defines the core types shared across the bot: loan
// positions, wallets, outcome records, sentinel errors, and the store/cache
// interfaces implemented by the persistence and caching layers.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one open loan on the lending protocol, as returned by the
// protocol's paginated active-loans query. Loan IDs are best-effort
// identifiers: a chain reorganization can reassign them, so duplicate or
// stale entries are tolerated and the scanner rebuilds the full set every
// cycle rather than expiring entries individually.
type Position struct {
	LoanID          common.Hash
	LoanToken       common.Address
	CollateralToken common.Address

	Principal  *big.Int
	Collateral *big.Int

	// CurrentMargin and MaintenanceMargin are protocol-scaled percentages
	// (1e18 = 1%). They are passed through for alerting only.
	CurrentMargin     *big.Int
	MaintenanceMargin *big.Int

	// MaxLiquidatable is the loan-token amount currently eligible for
	// liquidation. Zero means the position is healthy.
	MaxLiquidatable *big.Int
	// MaxSeizable is the collateral amount a liquidator would receive for
	// closing MaxLiquidatable.
	MaxSeizable *big.Int
}

// Liquidatable reports whether the position is currently eligible for a
// liquidation call.
func (p Position) Liquidatable() bool {
	return p.MaxLiquidatable != nil && p.MaxLiquidatable.Sign() > 0
}
