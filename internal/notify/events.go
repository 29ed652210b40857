package notify

// Event types the bot emits. The notify.events config list filters on these
// values.
const (
	// EventLiquidationSuccess fires when a liquidation transaction mines
	// successfully.
	EventLiquidationSuccess = "liquidation_success"
	// EventLiquidationFailed fires when a liquidation reverts or cannot be
	// submitted.
	EventLiquidationFailed = "liquidation_failed"
	// EventLiquidationManual fires when a failed liquidation is still
	// eligible on re-check and needs operator attention.
	EventLiquidationManual = "liquidation_manual"
	// EventNoWallet fires when no funded wallet is available for a
	// liquidation candidate.
	EventNoWallet = "no_wallet"
	// EventArbitrageExecuted fires when an arbitrage swap mines.
	EventArbitrageExecuted = "arbitrage_executed"
)
