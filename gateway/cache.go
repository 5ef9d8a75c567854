package gateway

import (
	"sync"
	"time"
)

// TTLCache is a bounded set of keys that expire after a fixed TTL. It backs
// webhook de-duplication and entry nonce replay protection.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTTLCache starts a cache whose expired entries are swept every cleanupInterval.
// Call Close to stop the sweeper.
func NewTTLCache(ttl time.Duration, maxSize int, cleanupInterval time.Duration) *TTLCache {
	c := &TTLCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop(cleanupInterval)
	return c
}

// Contains reports whether key is present and unexpired
func (c *TTLCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiry, ok := c.entries[key]
	return ok && c.now().Before(expiry)
}

// Add inserts key. Returns false if it was already present and unexpired, or
// if the cache is full of live entries.
func (c *TTLCache) Add(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if expiry, ok := c.entries[key]; ok && now.Before(expiry) {
		return false
	}

	if len(c.entries) >= c.maxSize {
		c.cleanupExpiredLocked(now)
		if len(c.entries) >= c.maxSize {
			return false
		}
	}

	c.entries[key] = now.Add(c.ttl)
	return true
}

// Remove forgets key so a retry is accepted
func (c *TTLCache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Size returns the number of stored entries, expired or not
func (c *TTLCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper
func (c *TTLCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTLCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.cleanupExpiredLocked(c.now())
			c.mu.Unlock()
		}
	}
}

// must be called with c.mu held
func (c *TTLCache) cleanupExpiredLocked(now time.Time) {
	for key, expiry := range c.entries {
		if !now.Before(expiry) {
			delete(c.entries, key)
		}
	}
}
