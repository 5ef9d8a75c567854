package chain

import "time"

// Network bundles the ledger, clock and nonce tracker of one chain
type Network struct {
	ChainID uint64
	Name    string
	Ledger  *Ledger
	Clock   *Clock
	Nonces  *Nonces
}

// NewNetwork creates an empty chain starting at genesis
func NewNetwork(chainID uint64, name string, genesis time.Time) *Network {
	return &Network{
		ChainID: chainID,
		Name:    name,
		Ledger:  NewLedger(),
		Clock:   NewClock(genesis),
		Nonces:  NewNonces(),
	}
}
