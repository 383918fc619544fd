package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/leverfi/leverbot/internal/domain"
	"github.com/leverfi/leverbot/internal/rfq"
)

// QuoteEngine produces signed maker orders.
type QuoteEngine interface {
	Quote(ctx context.Context, venue string, req rfq.QuoteRequest) (*rfq.QuoteResult, error)
}

// RFQHandler serves signed quotes in each downstream venue's native
// request shape. Every endpoint normalizes its query parameters into the
// canonical request and delegates to the engine.
type RFQHandler struct {
	engine QuoteEngine
	logger *slog.Logger
}

// NewRFQHandler creates an RFQHandler.
func NewRFQHandler(engine QuoteEngine, logger *slog.Logger) *RFQHandler {
	return &RFQHandler{engine: engine, logger: logger}
}

// first returns the first non-empty named query value.
func first(q url.Values, names ...string) string {
	for _, n := range names {
		if v := q.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func parseChainID(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "chainId", Reason: "must be a positive integer"}
	}
	return id, nil
}

func (h *RFQHandler) quote(w http.ResponseWriter, r *http.Request, venue string, req rfq.QuoteRequest) {
	result, err := h.engine.Quote(r.Context(), venue, req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// OneInch quotes in the 1inch aggregator's parameter dialect.
// GET /api/v1/1inch/quote
func (h *RFQHandler) OneInch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, err := parseChainID(q.Get("chainId"), 1)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.quote(w, r, "1inch", rfq.QuoteRequest{
		ChainID:    chainID,
		SellToken:  first(q, "fromTokenAddress", "fromToken"),
		BuyToken:   first(q, "toTokenAddress", "toToken"),
		SellAmount: q.Get("amount"),
		Taker:      first(q, "takerAddress", "fromAddress"),
	})
}

// ParaSwap quotes in the ParaSwap parameter dialect. The side parameter
// picks which amount is fixed: SELL fixes the sell amount, BUY the buy
// amount.
// GET /api/v1/paraswap/quote
func (h *RFQHandler) ParaSwap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, err := parseChainID(q.Get("network"), 1)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	req := rfq.QuoteRequest{
		ChainID:   chainID,
		SellToken: q.Get("from"),
		BuyToken:  q.Get("to"),
		Taker:     q.Get("userAddress"),
	}
	if strings.EqualFold(q.Get("side"), "BUY") {
		req.BuyAmount = q.Get("amount")
	} else {
		req.SellAmount = q.Get("amount")
	}
	h.quote(w, r, "paraswap", req)
}

// KyberSwap quotes in the KyberSwap limit-order parameter dialect.
// GET /api/v1/kyberswap/quote
func (h *RFQHandler) KyberSwap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, err := parseChainID(q.Get("chainId"), 1)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.quote(w, r, "kyberswap", rfq.QuoteRequest{
		ChainID:    chainID,
		SellToken:  q.Get("sellToken"),
		BuyToken:   q.Get("buyToken"),
		SellAmount: q.Get("sellAmount"),
		Taker:      q.Get("taker"),
	})
}

// Universal quotes in the canonical parameter shape. Exactly one of
// sellAmount and buyAmount must be set.
// GET /api/v1/universal/quote
func (h *RFQHandler) Universal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, err := parseChainID(q.Get("chainId"), 1)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.quote(w, r, "universal", rfq.QuoteRequest{
		ChainID:    chainID,
		SellToken:  q.Get("sellToken"),
		BuyToken:   q.Get("buyToken"),
		SellAmount: q.Get("sellAmount"),
		BuyAmount:  q.Get("buyAmount"),
		Taker:      q.Get("taker"),
	})
}
