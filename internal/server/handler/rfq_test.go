package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverfi/leverbot/internal/domain"
	"github.com/leverfi/leverbot/internal/rfq"
)

type fakeEngine struct {
	venue  string
	req    rfq.QuoteRequest
	result *rfq.QuoteResult
	err    error
}

func (f *fakeEngine) Quote(_ context.Context, venue string, req rfq.QuoteRequest) (*rfq.QuoteResult, error) {
	f.venue = venue
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newRFQTest() (*RFQHandler, *fakeEngine) {
	engine := &fakeEngine{result: &rfq.QuoteResult{OrderHash: "0xhash", Signature: "0xsig"}}
	return NewRFQHandler(engine, testLogger()), engine
}

func TestOneInchQuote(t *testing.T) {
	h, engine := newRFQTest()

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/1inch/quote?fromTokenAddress="+testWETH+"&toTokenAddress=0xUSDC&amount=1000&takerAddress="+testWallet+"&chainId=8453", nil)
	rec := httptest.NewRecorder()
	h.OneInch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1inch", engine.venue)
	assert.Equal(t, int64(8453), engine.req.ChainID)
	assert.Equal(t, testWETH, engine.req.SellToken)
	assert.Equal(t, "0xUSDC", engine.req.BuyToken)
	assert.Equal(t, "1000", engine.req.SellAmount)
	assert.Equal(t, testWallet, engine.req.Taker)
}

func TestOneInchAliasParams(t *testing.T) {
	h, engine := newRFQTest()

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/1inch/quote?fromToken="+testWETH+"&toToken=0xUSDC&amount=1000&fromAddress="+testWallet, nil)
	rec := httptest.NewRecorder()
	h.OneInch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testWETH, engine.req.SellToken)
	assert.Equal(t, testWallet, engine.req.Taker)
	// chainId defaults to mainnet when omitted.
	assert.Equal(t, int64(1), engine.req.ChainID)
}

func TestParaSwapSides(t *testing.T) {
	t.Run("sell side", func(t *testing.T) {
		h, engine := newRFQTest()
		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/paraswap/quote?from="+testWETH+"&to=0xUSDC&amount=1000&side=SELL&network=137", nil)
		rec := httptest.NewRecorder()
		h.ParaSwap(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "paraswap", engine.venue)
		assert.Equal(t, int64(137), engine.req.ChainID)
		assert.Equal(t, "1000", engine.req.SellAmount)
		assert.Empty(t, engine.req.BuyAmount)
	})

	t.Run("buy side", func(t *testing.T) {
		h, engine := newRFQTest()
		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/paraswap/quote?from="+testWETH+"&to=0xUSDC&amount=1000&side=buy", nil)
		rec := httptest.NewRecorder()
		h.ParaSwap(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1000", engine.req.BuyAmount)
		assert.Empty(t, engine.req.SellAmount)
	})
}

func TestKyberSwapQuote(t *testing.T) {
	h, engine := newRFQTest()

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/kyberswap/quote?sellToken="+testWETH+"&buyToken=0xUSDC&sellAmount=1000&taker="+testWallet, nil)
	rec := httptest.NewRecorder()
	h.KyberSwap(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kyberswap", engine.venue)
	assert.Equal(t, "1000", engine.req.SellAmount)
}

func TestUniversalQuote(t *testing.T) {
	h, engine := newRFQTest()

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/universal/quote?sellToken="+testWETH+"&buyToken=0xUSDC&buyAmount=2500&chainId=10", nil)
	rec := httptest.NewRecorder()
	h.Universal(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "universal", engine.venue)
	assert.Equal(t, int64(10), engine.req.ChainID)
	assert.Equal(t, "2500", engine.req.BuyAmount)
	assert.Empty(t, engine.req.SellAmount)
}

func TestRFQBadChainID(t *testing.T) {
	h, engine := newRFQTest()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/universal/quote?chainId=zero", nil)
	rec := httptest.NewRecorder()
	h.Universal(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.venue)
}

func TestRFQErrorMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown venue", domain.ErrNotFound, http.StatusNotFound},
		{"no liquidity", domain.ErrNoLiquidity, http.StatusBadGateway},
		{"bad request", domain.NewValidationError("sellAmount", "must be a positive integer"), http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, engine := newRFQTest()
			engine.err = tc.err

			req := httptest.NewRequest(http.MethodGet,
				"/api/v1/universal/quote?sellToken="+testWETH+"&buyToken=0xUSDC&sellAmount=1000", nil)
			rec := httptest.NewRecorder()
			h.Universal(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}
