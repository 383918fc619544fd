package rfq

import (
	"math/big"

	"github.com/leverfi/leverbot/internal/crypto"
)

var universalFields = []crypto.Field{
	{Name: "maker", Type: "address"},
	{Name: "taker", Type: "address"},
	{Name: "makerAsset", Type: "address"},
	{Name: "takerAsset", Type: "address"},
	{Name: "makerAmount", Type: "uint256"},
	{Name: "takerAmount", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
}

// universalVenue issues orders in the canonical field naming, for
// consumers that verify signatures off-chain instead of through a venue
// router. The domain's verifying contract is the zero address.
type universalVenue struct{}

func (*universalVenue) Name() string { return "universal" }

func (*universalVenue) Build(p OrderParams) (typedOrder, error) {
	expiry := big.NewInt(p.Expiry)

	order := map[string]string{
		"maker":       p.Maker.Hex(),
		"taker":       p.Taker.Hex(),
		"makerAsset":  p.MakerAsset.Hex(),
		"takerAsset":  p.TakerAsset.Hex(),
		"makerAmount": p.MakingAmount.String(),
		"takerAmount": p.TakingAmount.String(),
		"salt":        p.Salt.String(),
		"expiry":      expiry.String(),
	}

	return typedOrder{
		order:       order,
		primaryType: "Order",
		fields:      universalFields,
		values: []any{
			p.Maker,
			p.Taker,
			p.MakerAsset,
			p.TakerAsset,
			p.MakingAmount,
			p.TakingAmount,
			p.Salt,
			expiry,
		},
		domain: crypto.Domain{
			Name:    "Leverbot RFQ",
			Version: "1",
			ChainID: p.ChainID,
		},
	}, nil
}
