// Package ethsign signs and recovers EIP-191 personal messages
package ethsign

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// MessageHash returns keccak256("\x19Ethereum Signed Message:\n" || len || message)
func MessageHash(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)

	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(prefix))
	return hash.Sum(nil)
}

// SignEthereumMessage signs message and returns r || s || v with v in {27, 28}
func SignEthereumMessage(privKey *ecdsa.PrivateKey, message string) ([]byte, error) {
	if privKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	sig, err := crypto.Sign(MessageHash(message), privKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress returns the address that signed message
func RecoverAddress(message string, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(sig))
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[64])
	}

	pub, err := crypto.SigToPub(MessageHash(message), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// EnterMessage is the canonical text a player signs to enter a raffle
func EnterMessage(raffle, player common.Address, valueWei *big.Int, nonce string) string {
	return fmt.Sprintf("Enter raffle %s\nplayer: %s\nvalue: %s wei\nnonce: %s",
		raffle.Hex(), player.Hex(), valueWei.String(), nonce)
}
