package rfq

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/leverfi/leverbot/internal/crypto"
)

// oneInchRouterV3 is the 1inch Limit Order Protocol v3 router, deployed at
// the same address on every supported chain.
var oneInchRouterV3 = common.HexToAddress("0x1111111254EEB25477B68fb85Ed929f73A960582")

var oneInchFields = []crypto.Field{
	{Name: "info", Type: "uint256"},
	{Name: "makerAsset", Type: "address"},
	{Name: "takerAsset", Type: "address"},
	{Name: "maker", Type: "address"},
	{Name: "allowedSender", Type: "address"},
	{Name: "makingAmount", Type: "uint256"},
	{Name: "takingAmount", Type: "uint256"},
}

// oneInchVenue builds OrderRFQ structures for the 1inch Limit Order
// Protocol. The expiry and nonce are packed into the single info word.
type oneInchVenue struct{}

func (*oneInchVenue) Name() string { return "1inch" }

func (*oneInchVenue) Build(p OrderParams) (typedOrder, error) {
	info := packInfo(p.Expiry, p.Salt)

	// A zero allowedSender leaves the order fillable by anyone; a concrete
	// taker restricts it.
	allowedSender := p.Taker

	order := map[string]string{
		"info":          info.String(),
		"makerAsset":    p.MakerAsset.Hex(),
		"takerAsset":    p.TakerAsset.Hex(),
		"maker":         p.Maker.Hex(),
		"allowedSender": allowedSender.Hex(),
		"makingAmount":  p.MakingAmount.String(),
		"takingAmount":  p.TakingAmount.String(),
	}

	return typedOrder{
		order:       order,
		primaryType: "OrderRFQ",
		fields:      oneInchFields,
		values: []any{
			info,
			p.MakerAsset,
			p.TakerAsset,
			p.Maker,
			allowedSender,
			p.MakingAmount,
			p.TakingAmount,
		},
		domain: crypto.Domain{
			Name:              "1inch Limit Order Protocol",
			Version:           "3",
			ChainID:           p.ChainID,
			VerifyingContract: oneInchRouterV3,
		},
	}, nil
}
