package service

import (
	"fmt"
	"math/big"
	"strconv"
)

// toBaseUnits converts a human-denominated amount to an integer string in
// the token's smallest unit.
func toBaseUnits(amount float64, decimals int) string {
	scaled := new(big.Float).SetFloat64(amount)
	scaled.Mul(scaled, pow10(decimals))
	out, _ := scaled.Int(nil)
	return out.String()
}

// fromBaseUnits converts an integer base-unit string to a human-denominated
// amount.
func fromBaseUnits(raw string, decimals int) (float64, error) {
	n, ok := new(big.Float).SetString(raw)
	if !ok {
		return 0, fmt.Errorf("bad base-unit amount %q", raw)
	}
	n.Quo(n, pow10(decimals))
	out, _ := n.Float64()
	return out, nil
}

func pow10(decimals int) *big.Float {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Float).SetInt(exp)
}

// parseUint parses a decimal string into a uint64, treating empty as zero.
func parseUint(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseBig parses a decimal string into a big.Int, treating empty or
// malformed input as zero.
func parseBig(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}
