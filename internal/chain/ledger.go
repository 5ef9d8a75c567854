// Package chain is a minimal in-process stand-in for an EVM network: account
// balances, value transfers and a block clock. It does not execute contracts.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientFunds is returned when the sender cannot cover a transfer
	ErrInsufficientFunds = errors.New("insufficient funds for transfer")
	// ErrTransferRejected is returned when the recipient refuses value
	ErrTransferRejected = errors.New("recipient rejected transfer")
)

// Ledger tracks wei balances. Transfers are atomic.
type Ledger struct {
	mu        sync.RWMutex
	balances  map[common.Address]*big.Int
	rejecting map[common.Address]bool
}

// NewLedger returns an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]bool),
	}
}

// Fund credits addr out of thin air (genesis allocation / faucet)
func (l *Ledger) Fund(addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
}

// BalanceOf returns a copy of addr's balance
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves amount from one account to another
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount %v", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rejecting[to] {
		return fmt.Errorf("%w: %s", ErrTransferRejected, to.Hex())
	}
	bal := l.balances[from]
	if bal == nil {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), bal, amount)
	}

	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

// RejectTransfers makes addr refuse incoming value, like a contract without a
// payable receive function
func (l *Ledger) RejectTransfers(addr common.Address, reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if reject {
		l.rejecting[addr] = true
	} else {
		delete(l.rejecting, addr)
	}
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	bal := l.balances[addr]
	if bal == nil {
		bal = new(big.Int)
	}
	l.balances[addr] = new(big.Int).Add(bal, amount)
}
