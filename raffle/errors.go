package raffle

import (
	"fmt"
	"math/big"
)

// Error codes for external consumption
const (
	ErrCodeInsufficientPayment = "RAFFLE_NOT_ENOUGH_ETH_ENTERED"
	ErrCodeNotOpen             = "RAFFLE_NOT_OPEN"
	ErrCodeUpkeepNotNeeded     = "RAFFLE_UPKEEP_NOT_NEEDED"
	ErrCodeUnknownRequest      = "RAFFLE_UNKNOWN_REQUEST"
	ErrCodeTransferFailed      = "RAFFLE_TRANSFER_FAILED"
	ErrCodeOnlyCoordinator     = "ONLY_COORDINATOR_CAN_FULFILL"
	ErrCodeNoRandomWords       = "RAFFLE_NO_RANDOM_WORDS"
	ErrCodeRequestFailed       = "RAFFLE_RANDOMNESS_REQUEST_FAILED"
)

// Error is a raffle failure with a stable code and a safe message. The
// wrapped error, when present, is for logs only.
type Error struct {
	Code     string
	Message  string
	internal error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error for logging
func (e *Error) Unwrap() error {
	return e.internal
}

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is regardless of message detail
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrInsufficientPayment = &Error{Code: ErrCodeInsufficientPayment, Message: "not enough ETH entered"}
	ErrNotOpen             = &Error{Code: ErrCodeNotOpen, Message: "raffle is not open"}
	ErrUpkeepNotNeeded     = &Error{Code: ErrCodeUpkeepNotNeeded, Message: "upkeep not needed"}
	ErrUnknownRequest      = &Error{Code: ErrCodeUnknownRequest, Message: "unknown randomness request"}
	ErrTransferFailed      = &Error{Code: ErrCodeTransferFailed, Message: "prize transfer failed"}
	ErrOnlyCoordinator     = &Error{Code: ErrCodeOnlyCoordinator, Message: "only the coordinator can fulfill"}
	ErrNoRandomWords       = &Error{Code: ErrCodeNoRandomWords, Message: "no random words supplied"}
	ErrRequestFailed       = &Error{Code: ErrCodeRequestFailed, Message: "randomness request rejected"}
)

// UpkeepNotNeededError carries the diagnostic fields of a rejected upkeep
type UpkeepNotNeededError struct {
	Balance         *big.Int
	NumberOfPlayers int
	State           State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s: balance=%s players=%d state=%s",
		ErrCodeUpkeepNotNeeded, e.Balance, e.NumberOfPlayers, e.State)
}

// Is lets errors.Is(err, ErrUpkeepNotNeeded) match
func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}

func errInsufficientPayment(paid, fee *big.Int) error {
	return &Error{
		Code:    ErrCodeInsufficientPayment,
		Message: fmt.Sprintf("paid %s wei, entrance fee is %s wei", paid, fee),
	}
}

func errPaymentFailed(internal error) error {
	return &Error{
		Code:     ErrCodeInsufficientPayment,
		Message:  "payment could not be collected",
		internal: internal,
	}
}

func errUnknownRequest(id *big.Int) error {
	return &Error{
		Code:    ErrCodeUnknownRequest,
		Message: fmt.Sprintf("request %s is not pending", id),
	}
}

func errTransferFailed(internal error) error {
	return &Error{
		Code:     ErrCodeTransferFailed,
		Message:  "prize transfer failed",
		internal: internal,
	}
}

func errRequestFailed(internal error) error {
	return &Error{
		Code:     ErrCodeRequestFailed,
		Message:  "coordinator rejected the randomness request",
		internal: internal,
	}
}
