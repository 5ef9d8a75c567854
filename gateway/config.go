package gateway

import (
	"fmt"
	"os"
	"time"
)

// Config holds gateway settings
type Config struct {
	Port            string        // listen address, ":8080" form
	AllowedOrigin   string        // Access-Control-Allow-Origin value
	RateLimit       float64       // entries per second per client IP
	RateBurst       int           // burst per client IP
	WebhookTTL      time.Duration // how long delivered request ids are remembered
	NonceTTL        time.Duration // how long entry nonces are remembered
	MaxCacheSize    int
	CleanupInterval time.Duration
	MaxPending      int    // readiness degrades near this many pending VRF requests
	UpkeepAPIKey    string // bearer token for POST /api/upkeep; empty disables the check
	Version         string
}

// DefaultConfig returns the gateway defaults
func DefaultConfig() Config {
	return Config{
		Port:            ":8080",
		AllowedOrigin:   "*",
		RateLimit:       5,
		RateBurst:       10,
		WebhookTTL:      1 * time.Hour,
		NonceTTL:        24 * time.Hour,
		MaxCacheSize:    10000,
		CleanupInterval: 5 * time.Minute,
		MaxPending:      100,
		Version:         "dev",
	}
}

// LoadConfig reads overrides from the environment on top of DefaultConfig
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = ":" + port
	}
	if origin := os.Getenv("CORS_ALLOWED_ORIGIN"); origin != "" {
		cfg.AllowedOrigin = origin
	}
	cfg.UpkeepAPIKey = os.Getenv("UPKEEP_API_KEY")

	if s := os.Getenv("RATE_LIMIT_PER_SECOND"); s != "" {
		if _, err := fmt.Sscanf(s, "%g", &cfg.RateLimit); err != nil {
			return cfg, fmt.Errorf("invalid RATE_LIMIT_PER_SECOND: %w", err)
		}
	}
	if s := os.Getenv("RATE_LIMIT_BURST"); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &cfg.RateBurst); err != nil {
			return cfg, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
		}
	}
	if s := os.Getenv("WEBHOOK_TTL_SECONDS"); s != "" {
		var seconds int
		if _, err := fmt.Sscanf(s, "%d", &seconds); err != nil {
			return cfg, fmt.Errorf("invalid WEBHOOK_TTL_SECONDS: %w", err)
		}
		cfg.WebhookTTL = time.Duration(seconds) * time.Second
	}
	if s := os.Getenv("CLEANUP_INTERVAL_SECONDS"); s != "" {
		var seconds int
		if _, err := fmt.Sscanf(s, "%d", &seconds); err != nil {
			return cfg, fmt.Errorf("invalid CLEANUP_INTERVAL_SECONDS: %w", err)
		}
		cfg.CleanupInterval = time.Duration(seconds) * time.Second
	}
	if s := os.Getenv("MAX_PENDING_REQUESTS"); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &cfg.MaxPending); err != nil {
			return cfg, fmt.Errorf("invalid MAX_PENDING_REQUESTS: %w", err)
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks ranges
func (c Config) Validate() error {
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %g", c.RateLimit)
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1, got %d", c.RateBurst)
	}
	if c.WebhookTTL <= 0 || c.NonceTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.MaxCacheSize < 1 {
		return fmt.Errorf("max cache size must be at least 1, got %d", c.MaxCacheSize)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval)
	}
	if c.MaxPending < 1 {
		return fmt.Errorf("max pending must be at least 1, got %d", c.MaxPending)
	}
	return nil
}
