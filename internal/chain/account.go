package chain

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is an externally owned account
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// NewAccount generates a fresh secp256k1 account
func NewAccount() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}, nil
}

// AccountFromHex loads an account from a hex private key
func AccountFromHex(privateKeyHex string) (*Account, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}, nil
}

// Nonces hands out per-account transaction nonces, used for contract addresses
type Nonces struct {
	mu   sync.Mutex
	next map[common.Address]uint64
}

// NewNonces returns an empty nonce tracker
func NewNonces() *Nonces {
	return &Nonces{next: make(map[common.Address]uint64)}
}

// Next returns the current nonce for addr and increments it
func (n *Nonces) Next(addr common.Address) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.next[addr]
	n.next[addr] = v + 1
	return v
}

// ContractAddress returns the address a CREATE from deployer lands at
func ContractAddress(deployer common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(deployer, nonce)
}
