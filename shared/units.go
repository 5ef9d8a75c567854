package shared

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseEther converts a decimal ether string ("0.2") to wei
func ParseEther(s string) (*big.Int, error) {
	return parseUnits(s, EtherDecimals)
}

// FormatEther renders wei as a decimal ether string
func FormatEther(wei *big.Int) string {
	return formatUnits(wei, EtherDecimals)
}

// ParseLink converts a decimal LINK string to juels
func ParseLink(s string) (*big.Int, error) {
	return parseUnits(s, LinkDecimals)
}

// FormatLink renders juels as a decimal LINK string
func FormatLink(juels *big.Int) string {
	return formatUnits(juels, LinkDecimals)
}

// MustParseEther is ParseEther for constants known to be valid
func MustParseEther(s string) *big.Int {
	v, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative, got %s", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

func formatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
