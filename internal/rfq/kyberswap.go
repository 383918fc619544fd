package rfq

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leverfi/leverbot/internal/crypto"
)

// kyberDefaultContract is the KyberSwap limit-order contract on mainnet,
// Base, Polygon, BSC, and Optimism. Arbitrum uses its own deployment.
var (
	kyberDefaultContract  = common.HexToAddress("0x3965947e4513e0e2c846a366657c66f7a8b7042f")
	kyberArbitrumContract = common.HexToAddress("0x227B0c196eA8db17A665EA6824D972A64202E936")
)

var kyberFields = []crypto.Field{
	{Name: "maker", Type: "address"},
	{Name: "takerAsset", Type: "address"},
	{Name: "makerAsset", Type: "address"},
	{Name: "takerAmount", Type: "uint256"},
	{Name: "makerAmount", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
}

// kyberSwapVenue builds KyberSwap limit orders with per-chain verifying
// contracts.
type kyberSwapVenue struct {
	contracts map[int64]common.Address
}

func newKyberSwapVenue(overrides map[int64]common.Address) *kyberSwapVenue {
	contracts := map[int64]common.Address{
		1:     kyberDefaultContract,
		10:    kyberDefaultContract,
		56:    kyberDefaultContract,
		137:   kyberDefaultContract,
		8453:  kyberDefaultContract,
		42161: kyberArbitrumContract,
	}
	for id, addr := range overrides {
		contracts[id] = addr
	}
	return &kyberSwapVenue{contracts: contracts}
}

func (*kyberSwapVenue) Name() string { return "kyberswap" }

func (v *kyberSwapVenue) Build(p OrderParams) (typedOrder, error) {
	contract, ok := v.contracts[p.ChainID]
	if !ok {
		return typedOrder{}, fmt.Errorf("no limit-order contract for chain %d", p.ChainID)
	}

	expiry := big.NewInt(p.Expiry)

	order := map[string]string{
		"maker":       p.Maker.Hex(),
		"takerAsset":  p.TakerAsset.Hex(),
		"makerAsset":  p.MakerAsset.Hex(),
		"takerAmount": p.TakingAmount.String(),
		"makerAmount": p.MakingAmount.String(),
		"salt":        p.Salt.String(),
		"expiry":      expiry.String(),
	}

	return typedOrder{
		order:       order,
		primaryType: "Order",
		fields:      kyberFields,
		values: []any{
			p.Maker,
			p.TakerAsset,
			p.MakerAsset,
			p.TakingAmount,
			p.MakingAmount,
			p.Salt,
			expiry,
		},
		domain: crypto.Domain{
			Name:              "KyberSwap Limit Order",
			Version:           "1",
			ChainID:           p.ChainID,
			VerifyingContract: contract,
		},
	}, nil
}
