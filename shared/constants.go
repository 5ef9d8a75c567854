// Package shared contains types and validation logic shared between the WASM workflow and native code
package shared

const (
	// Unit scaling
	EtherDecimals = 18
	LinkDecimals  = 18

	// Hex lengths (including 0x prefix)
	AddressHexLength = 42 // 20 bytes
	KeyHashHexLength = 66 // 32 bytes

	// Coordinator request limits
	MaxNumWords             = 500
	MaxCallbackGasLimit     = 2_500_000
	MaxRequestConfirmations = 200

	// Raffle constructor constants
	RaffleNumWords             = 1
	RaffleRequestConfirmations = 3

	// Deployment
	FundSubscriptionAmount = "3"    // LINK, development chains only
	DefaultEntranceFee     = "0.01" // ETH

	// Event kinds
	EventEntered              = "RaffleEntered"
	EventCalculationRequested = "RequestedRaffleWinner"
	EventWinnerPicked         = "WinnerPicked"

	// Raffle states as reported over the API
	StateOpen        = "OPEN"
	StateCalculating = "CALCULATING"
)
