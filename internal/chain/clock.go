package chain

import (
	"context"
	"sync"
	"time"
)

// Clock is the block clock. Time only moves when blocks are mined or when
// IncreaseTime is called, like evm_increaseTime / evm_mine.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	offset time.Duration
	block  uint64
}

// NewClock starts a chain at genesis time
func NewClock(genesis time.Time) *Clock {
	return &Clock{now: genesis.Truncate(time.Second)}
}

// Now returns the latest block timestamp
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// BlockNumber returns the latest block number
func (c *Clock) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// IncreaseTime shifts the timestamp of the next mined block
func (c *Clock) IncreaseTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Mine seals a block. Each block is at least one second after its parent.
func (c *Clock) Mine() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := c.offset
	if step < time.Second {
		step = time.Second
	}
	c.offset = 0
	c.now = c.now.Add(step.Truncate(time.Second))
	c.block++
	return c.now
}

// MineBlocks mines n blocks and returns the final timestamp
func (c *Clock) MineBlocks(n int) time.Time {
	var t time.Time
	for i := 0; i < n; i++ {
		t = c.Mine()
	}
	if n <= 0 {
		return c.Now()
	}
	return t
}

// AutoMine seals a block every blockTime until ctx is canceled, advancing
// chain time by blockTime per block.
func (c *Clock) AutoMine(ctx context.Context, blockTime time.Duration) {
	if blockTime < time.Second {
		blockTime = time.Second
	}
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.IncreaseTime(blockTime)
			c.Mine()
		}
	}
}
