package rfq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testWETH = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	testUSDC = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func TestQuoteRequestValidate(t *testing.T) {
	valid := QuoteRequest{
		ChainID:    1,
		SellToken:  testWETH,
		BuyToken:   testUSDC,
		SellAmount: "1000000000000000000",
	}

	testCases := []struct {
		name    string
		mutate  func(r *QuoteRequest)
		wantErr string
	}{
		{
			name:   "valid sell request",
			mutate: func(r *QuoteRequest) {},
		},
		{
			name: "valid buy request",
			mutate: func(r *QuoteRequest) {
				r.SellAmount = ""
				r.BuyAmount = "3000000000"
			},
		},
		{
			name: "valid with taker",
			mutate: func(r *QuoteRequest) {
				r.Taker = testUSDC
			},
		},
		{
			name:    "zero chain id",
			mutate:  func(r *QuoteRequest) { r.ChainID = 0 },
			wantErr: "chainId",
		},
		{
			name:    "bad sell token",
			mutate:  func(r *QuoteRequest) { r.SellToken = "0x123" },
			wantErr: "sellToken",
		},
		{
			name:    "bad buy token",
			mutate:  func(r *QuoteRequest) { r.BuyToken = "not-an-address" },
			wantErr: "buyToken",
		},
		{
			name:    "bad taker",
			mutate:  func(r *QuoteRequest) { r.Taker = "0xzz" },
			wantErr: "taker",
		},
		{
			name: "no amount",
			mutate: func(r *QuoteRequest) {
				r.SellAmount = ""
			},
			wantErr: "sellAmount",
		},
		{
			name: "both amounts",
			mutate: func(r *QuoteRequest) {
				r.BuyAmount = "1"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "non-numeric sell amount",
			mutate:  func(r *QuoteRequest) { r.SellAmount = "1.5" },
			wantErr: "sellAmount",
		},
		{
			name: "negative buy amount",
			mutate: func(r *QuoteRequest) {
				r.SellAmount = ""
				r.BuyAmount = "-1"
			},
			wantErr: "buyAmount",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			err := req.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
