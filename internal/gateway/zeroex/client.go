// Package zeroex is the REST client for the 0x swap-aggregation API
// (Permit2 flavor). Every call is a live upstream round trip; responses
// are never cached and failed calls are never retried here, so stale
// prices cannot leak into position decisions.
package zeroex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/leverfi/leverbot/internal/domain"
)

const apiVersion = "v2"

// defaultHosts maps chain IDs to 0x API hosts. All supported chains are
// served from the unified host; the map exists so single chains can be
// repointed in config (e.g. at a proxy) without touching the rest.
var defaultHosts = map[int64]string{
	1:     "https://api.0x.org",
	10:    "https://api.0x.org",
	137:   "https://api.0x.org",
	8453:  "https://api.0x.org",
	42161: "https://api.0x.org",
}

// oneToken is 1e18, the sell amount used by TokenPrice lookups.
var oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Client is the 0x swap API client.
type Client struct {
	apiKey     string
	hosts      map[int64]string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHost overrides the API host for one chain.
func WithHost(chainID int64, host string) Option {
	return func(c *Client) { c.hosts[chainID] = host }
}

// NewClient creates a 0x API client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey: apiKey,
		hosts:  make(map[int64]string, len(defaultHosts)),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for id, host := range defaultHosts {
		c.hosts[id] = host
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Price fetches an indicative price. It does not reserve liquidity and
// cannot be executed.
func (c *Client) Price(ctx context.Context, params SwapParams) (PriceResponse, error) {
	var out PriceResponse
	if err := c.get(ctx, "/swap/permit2/price", params, &out); err != nil {
		return PriceResponse{}, fmt.Errorf("zeroex: price: %w", err)
	}
	return out, nil
}

// Quote fetches a firm quote including the transaction to broadcast.
func (c *Client) Quote(ctx context.Context, params SwapParams) (QuoteResponse, error) {
	var out QuoteResponse
	if err := c.get(ctx, "/swap/permit2/quote", params, &out); err != nil {
		return QuoteResponse{}, fmt.Errorf("zeroex: quote: %w", err)
	}
	return out, nil
}

// TokenPrice returns the price of one whole token (1e18 base units) in
// quote-token terms, e.g. USDC with 6 decimals. It prices a sell of 1e18
// token units and scales the buy amount down by the quote decimals.
func (c *Client) TokenPrice(ctx context.Context, chainID int64, token, quoteToken string, quoteDecimals int) (float64, error) {
	resp, err := c.Price(ctx, SwapParams{
		ChainID:    chainID,
		SellToken:  token,
		BuyToken:   quoteToken,
		SellAmount: oneToken.String(),
	})
	if err != nil {
		return 0, err
	}
	if !resp.LiquidityAvailable {
		return 0, fmt.Errorf("zeroex: token price %s: %w", token, domain.ErrNoLiquidity)
	}

	raw, err := strconv.ParseFloat(resp.BuyAmount, 64)
	if err != nil {
		return 0, fmt.Errorf("zeroex: token price %s: bad buyAmount %q: %w", token, resp.BuyAmount, err)
	}

	scale := 1.0
	for i := 0; i < quoteDecimals; i++ {
		scale *= 10
	}
	return raw / scale, nil
}

// get builds, sends, and decodes one GET request against the 0x API.
func (c *Client) get(ctx context.Context, path string, params SwapParams, out any) error {
	if err := validateParams(params); err != nil {
		return err
	}

	host, ok := c.hosts[params.ChainID]
	if !ok {
		return domain.NewValidationError("chainId", fmt.Sprintf("unsupported chain %d", params.ChainID))
	}

	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(params.ChainID, 10))
	q.Set("sellToken", params.SellToken)
	q.Set("buyToken", params.BuyToken)
	if params.SellAmount != "" {
		q.Set("sellAmount", params.SellAmount)
	} else {
		q.Set("buyAmount", params.BuyAmount)
	}
	if params.Taker != "" {
		q.Set("taker", params.Taker)
	}
	if params.SlippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(params.SlippageBps))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("0x-api-key", c.apiKey)
	req.Header.Set("0x-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstreamError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// validateParams enforces the exactly-one-amount rule before any bytes
// leave the process.
func validateParams(p SwapParams) error {
	if p.SellToken == "" {
		return domain.NewValidationError("sellToken", "must not be empty")
	}
	if p.BuyToken == "" {
		return domain.NewValidationError("buyToken", "must not be empty")
	}
	has := 0
	if p.SellAmount != "" {
		has++
	}
	if p.BuyAmount != "" {
		has++
	}
	if has != 1 {
		return domain.NewValidationError("sellAmount", "exactly one of sellAmount or buyAmount must be set")
	}
	return nil
}

// upstreamError converts a non-2xx 0x response into a domain.UpstreamError,
// pulling the message out of the JSON error envelope when present.
func upstreamError(status int, body []byte) error {
	var envelope struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	msg := string(body)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		msg = envelope.Message
		if envelope.Name != "" {
			msg = envelope.Name + ": " + envelope.Message
		}
	}
	return &domain.UpstreamError{Status: status, Message: msg}
}
