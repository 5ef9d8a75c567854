package deploy

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ConstructorArgs are the raffle's deployment parameters. The entrance fee is
// fixed in the contract source, so it is not part of the encoded constructor.
type ConstructorArgs struct {
	VRFCoordinator   common.Address
	EntranceFee      *big.Int
	GasLane          common.Hash
	SubscriptionID   uint64
	CallbackGasLimit uint32
	Interval         time.Duration
}

// constructor(vrfCoordinatorV2, gasLane, subscriptionId, callbackGasLimit, interval)
var constructorABI = mustArguments("address", "bytes32", "uint64", "uint32", "uint256")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", t, err))
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

// Encode ABI-encodes the arguments in constructor order, as block explorers
// expect for source verification
func (a ConstructorArgs) Encode() ([]byte, error) {
	return constructorABI.Pack(
		a.VRFCoordinator,
		[32]byte(a.GasLane),
		a.SubscriptionID,
		a.CallbackGasLimit,
		big.NewInt(int64(a.Interval/time.Second)),
	)
}

// EncodeHex is Encode without the 0x prefix
func (a ConstructorArgs) EncodeHex() (string, error) {
	b, err := a.Encode()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
