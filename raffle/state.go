package raffle

import "lottery/shared"

// State is the raffle lifecycle state
type State uint8

const (
	Open State = iota
	Calculating
)

func (s State) String() string {
	switch s {
	case Open:
		return shared.StateOpen
	case Calculating:
		return shared.StateCalculating
	default:
		return "UNKNOWN"
	}
}
