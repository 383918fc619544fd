package rfq

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leverfi/leverbot/internal/crypto"
)

// paraSwapAugustus is the AugustusSwapper that verifies ParaSwap RFQ
// orders, deployed at the same address on every supported chain.
var paraSwapAugustus = common.HexToAddress("0xDEF171Fe48CF0148B1a80588e83D549d94446C18")

var paraSwapFields = []crypto.Field{
	{Name: "nonceAndMeta", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
	{Name: "makerAsset", Type: "address"},
	{Name: "takerAsset", Type: "address"},
	{Name: "maker", Type: "address"},
	{Name: "taker", Type: "address"},
	{Name: "makerAmount", Type: "uint256"},
	{Name: "takerAmount", Type: "uint256"},
}

// paraSwapVenue builds ParaSwap RFQ orders. A zero taker leaves the order
// open to any filler.
type paraSwapVenue struct{}

func (*paraSwapVenue) Name() string { return "paraswap" }

func (*paraSwapVenue) Build(p OrderParams) (typedOrder, error) {
	expiry := big.NewInt(p.Expiry)

	order := map[string]string{
		"nonceAndMeta": p.Salt.String(),
		"expiry":       expiry.String(),
		"makerAsset":   p.MakerAsset.Hex(),
		"takerAsset":   p.TakerAsset.Hex(),
		"maker":        p.Maker.Hex(),
		"taker":        p.Taker.Hex(),
		"makerAmount":  p.MakingAmount.String(),
		"takerAmount":  p.TakingAmount.String(),
	}

	return typedOrder{
		order:       order,
		primaryType: "Order",
		fields:      paraSwapFields,
		values: []any{
			p.Salt,
			expiry,
			p.MakerAsset,
			p.TakerAsset,
			p.Maker,
			p.Taker,
			p.MakingAmount,
			p.TakingAmount,
		},
		domain: crypto.Domain{
			Name:              "ParaSwap RFQ",
			Version:           "1",
			ChainID:           p.ChainID,
			VerifyingContract: paraSwapAugustus,
		},
	}, nil
}
