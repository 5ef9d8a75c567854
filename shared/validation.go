package shared

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Compiled regexes for validation (compiled once for performance)
var (
	validHexRegex     = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	validDecimalRegex = regexp.MustCompile(`^[0-9]+$`)
)

// MaxNonceLength bounds client-chosen entry nonces
const MaxNonceLength = 64

// IsValidHex checks if string is non-empty hex (either case)
func IsValidHex(s string) bool {
	if s == "" {
		return false
	}
	return validHexRegex.MatchString(s)
}

// ValidateAddress checks a 0x-prefixed 20-byte hex address
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address required")
	}
	if len(addr) != AddressHexLength {
		return fmt.Errorf("address must be %d characters (0x + 40 hex), got %d", AddressHexLength, len(addr))
	}
	if !strings.HasPrefix(addr, "0x") {
		return fmt.Errorf("address must start with '0x'")
	}
	if !IsValidHex(addr[2:]) {
		return fmt.Errorf("address contains invalid hex character")
	}
	return nil
}

// IsValidKeyHash checks a 0x-prefixed 32-byte hex key hash (gas lane)
func IsValidKeyHash(h string) bool {
	return len(h) == KeyHashHexLength && strings.HasPrefix(h, "0x") && IsValidHex(h[2:])
}

// IsValidSignature checks a 0x-prefixed 65-byte hex signature
func IsValidSignature(sig string) bool {
	return len(sig) == 132 && strings.HasPrefix(sig, "0x") && IsValidHex(sig[2:])
}

// ParseWei parses a non-negative base-10 integer amount or id
func ParseWei(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("value required")
	}
	if !validDecimalRegex.MatchString(s) {
		return nil, fmt.Errorf("value must be a base-10 integer, got %q", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("value out of range: %q", s)
	}
	return v, nil
}
