// Command vrfkey prints the oracle public key and gas lane derived from VRF_PRIVATE_KEY.
package main

import (
	"fmt"
	"os"

	"lottery/crypto"
)

func main() {
	privKey := os.Getenv("VRF_PRIVATE_KEY")
	if privKey == "" {
		fmt.Println("Error: VRF_PRIVATE_KEY environment variable not set")
		fmt.Println("\nUsage:")
		fmt.Println("  export VRF_PRIVATE_KEY=\"your_64_char_hex_key\"")
		fmt.Println("  go run ./cmd/vrfkey")
		os.Exit(1)
	}

	kd, err := crypto.DeriveKeys(privKey)
	if err != nil {
		fmt.Printf("Error deriving keys: %v\n", err)
		os.Exit(1)
	}
	defer kd.Zero()

	fmt.Println("╔════════════════════════════════════════════════════════════════════╗")
	fmt.Println("║               RAFFLE VRF ORACLE KEY DERIVATION                     ║")
	fmt.Println("╚════════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Public Key:   %s\n", kd.SchnorrPubkey)
	fmt.Printf("Key Hash:     %s\n", kd.KeyHash.Hex())
	fmt.Println()
	fmt.Println("Next Steps:")
	fmt.Println("  1. Use the key hash as the gas lane for this network, either in networks.yaml:")
	fmt.Println("     gas_lane: \"" + kd.KeyHash.Hex() + "\"")
	fmt.Println("     or in the environment:")
	fmt.Println("     export GAS_LANE=" + kd.KeyHash.Hex())
	fmt.Println()
	fmt.Println("  2. Start raffled with the same VRF_PRIVATE_KEY so fulfillments carry proofs.")
	fmt.Println()
}
