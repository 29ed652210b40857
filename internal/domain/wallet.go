package domain

import "github.com/ethereum/go-ethereum/common"

// Wallet purposes. Each purpose owns a separate pool of funded accounts in
// the allocator.
const (
	PurposeLiquidator = "liquidator"
	PurposeArbitrage  = "arbitrage"
)

// Wallet is a funded operational account scoped to a purpose. It is a
// snapshot handed out by the allocator; balances and busy-set state live
// inside the allocator and are not carried here.
type Wallet struct {
	Address common.Address
	Purpose string
}
