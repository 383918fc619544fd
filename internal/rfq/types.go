// Package rfq turns inbound quote requests into signed, spread-adjusted
// maker orders for downstream RFQ venues. Each venue has its own order
// schema and typed-data domain; the economic payload is identical.
package rfq

import (
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leverfi/leverbot/internal/domain"
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// QuoteRequest is the canonical quote request after venue-specific
// field-name normalization. Exactly one of SellAmount or BuyAmount must
// be set.
type QuoteRequest struct {
	ChainID    int64
	SellToken  string
	BuyToken   string
	SellAmount string
	BuyAmount  string
	Taker      string
}

// Validate rejects malformed requests before any upstream call is made.
func (r QuoteRequest) Validate() error {
	if r.ChainID <= 0 {
		return domain.NewValidationError("chainId", "must be a positive integer")
	}
	if !addressRe.MatchString(r.SellToken) {
		return domain.NewValidationError("sellToken", "must be a 0x-prefixed 20-byte hex address")
	}
	if !addressRe.MatchString(r.BuyToken) {
		return domain.NewValidationError("buyToken", "must be a 0x-prefixed 20-byte hex address")
	}
	if r.Taker != "" && !addressRe.MatchString(r.Taker) {
		return domain.NewValidationError("taker", "must be a 0x-prefixed 20-byte hex address")
	}
	switch {
	case r.SellAmount == "" && r.BuyAmount == "":
		return domain.NewValidationError("sellAmount", "one of sellAmount or buyAmount is required")
	case r.SellAmount != "" && r.BuyAmount != "":
		return domain.NewValidationError("sellAmount", "sellAmount and buyAmount are mutually exclusive")
	}
	if r.SellAmount != "" {
		if _, err := parseAmount(r.SellAmount); err != nil {
			return domain.NewValidationError("sellAmount", err.Error())
		}
	}
	if r.BuyAmount != "" {
		if _, err := parseAmount(r.BuyAmount); err != nil {
			return domain.NewValidationError("buyAmount", err.Error())
		}
	}
	return nil
}

// QuoteSummary is the human-facing price attached to a signed order. The
// amounts are the spread-adjusted values from the order, never the raw
// upstream price.
type QuoteSummary struct {
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	Gas        string `json:"gas"`
}

// QuoteResult is the signed order bundle returned to the caller.
type QuoteResult struct {
	Order     map[string]string `json:"order"`
	OrderHash string            `json:"orderHash"`
	Signature string            `json:"signature"`
	Quote     QuoteSummary      `json:"quote"`
}

// OrderParams carries the economic payload every venue's order is built
// from. MakingAmount is what the maker gives; TakingAmount is what the
// maker receives.
type OrderParams struct {
	ChainID      int64
	Maker        common.Address
	Taker        common.Address
	MakerAsset   common.Address
	TakerAsset   common.Address
	MakingAmount *big.Int
	TakingAmount *big.Int
	Expiry       int64
	Salt         *big.Int
}
