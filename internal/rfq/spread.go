package rfq

import (
	"fmt"
	"math/big"
)

const bpsDenominator = 10_000

// parseAmount parses a non-negative base-10 integer string of arbitrary
// precision.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("must be non-negative: %q", s)
	}
	return n, nil
}

// ApplySpread widens a quoted amount by spreadBps basis points in the
// maker's favor, with exact integer arithmetic and floor division.
//
// When asBuy is true the amount is what the taker receives and is reduced:
// floor(amount * (10000 - bps) / 10000). When asBuy is false the amount is
// what the taker pays and is increased: floor(amount * (10000 + bps) / 10000).
// spreadBps of 0 is pass-through in both directions.
func ApplySpread(amount *big.Int, spreadBps int, asBuy bool) (*big.Int, error) {
	if spreadBps < 0 || spreadBps > bpsDenominator {
		return nil, fmt.Errorf("rfq: spread %d bps out of range [0,%d]", spreadBps, bpsDenominator)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("rfq: amount must be non-negative")
	}

	factor := int64(bpsDenominator - spreadBps)
	if !asBuy {
		factor = int64(bpsDenominator + spreadBps)
	}

	out := new(big.Int).Mul(amount, big.NewInt(factor))
	return out.Quo(out, big.NewInt(bpsDenominator)), nil
}

// ApplySpreadString is ApplySpread over decimal strings, as the amounts
// arrive and leave on the wire.
func ApplySpreadString(amount string, spreadBps int, asBuy bool) (string, error) {
	n, err := parseAmount(amount)
	if err != nil {
		return "", fmt.Errorf("rfq: %w", err)
	}
	out, err := ApplySpread(n, spreadBps, asBuy)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
