package rfq

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/leverfi/leverbot/internal/crypto"
	"github.com/leverfi/leverbot/internal/domain"
	"github.com/leverfi/leverbot/internal/gateway/zeroex"
)

// PriceSource provides indicative prices for quote construction. It is
// satisfied by *zeroex.Client.
type PriceSource interface {
	Price(ctx context.Context, params zeroex.SwapParams) (zeroex.PriceResponse, error)
}

// typedOrder is a venue order plus everything needed to sign it.
type typedOrder struct {
	order       map[string]string
	primaryType string
	fields      []crypto.Field
	values      []any
	domain      crypto.Domain
}

// Venue builds an order in one downstream protocol's schema from the
// canonical economic payload.
type Venue interface {
	Name() string
	Build(p OrderParams) (typedOrder, error)
}

// Options configures an Engine.
type Options struct {
	// SpreadBps is the process-wide spread in basis points, taken in the
	// maker's favor on every quote.
	SpreadBps int
	// ExpiryFor returns the order validity window for a venue.
	ExpiryFor func(venue string) time.Duration
	// KyberContracts optionally overrides the per-chain KyberSwap
	// verifying contracts.
	KyberContracts map[int64]common.Address
	Logger         *slog.Logger
}

// Engine fetches upstream prices, applies the spread, and produces signed
// venue orders. One Engine serves all venues; the signing key is fixed at
// construction.
type Engine struct {
	prices    PriceSource
	signer    *crypto.Signer
	spreadBps int
	expiryFor func(venue string) time.Duration
	venues    map[string]Venue
	log       *slog.Logger
}

// NewEngine creates an Engine with the full venue registry.
func NewEngine(prices PriceSource, signer *crypto.Signer, opts Options) (*Engine, error) {
	if signer == nil {
		return nil, &domain.ConfigError{Reason: "rfq engine requires a signing key"}
	}
	if opts.SpreadBps < 0 || opts.SpreadBps > bpsDenominator {
		return nil, &domain.ConfigError{Reason: fmt.Sprintf("spread %d bps out of range", opts.SpreadBps)}
	}
	if opts.ExpiryFor == nil {
		opts.ExpiryFor = func(string) time.Duration { return 5 * time.Minute }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		prices:    prices,
		signer:    signer,
		spreadBps: opts.SpreadBps,
		expiryFor: opts.ExpiryFor,
		venues:    make(map[string]Venue),
		log:       opts.Logger.With("component", "rfq"),
	}

	for _, v := range []Venue{
		&oneInchVenue{},
		&paraSwapVenue{},
		newKyberSwapVenue(opts.KyberContracts),
		&universalVenue{},
	} {
		e.venues[v.Name()] = v
	}

	return e, nil
}

// Venues returns the registered venue names.
func (e *Engine) Venues() []string {
	names := make([]string, 0, len(e.venues))
	for name := range e.venues {
		names = append(names, name)
	}
	return names
}

// Maker returns the maker address orders are issued under.
func (e *Engine) Maker() common.Address {
	return e.signer.Address()
}

// Quote prices the request against the upstream aggregator, applies the
// spread in the maker's favor, and returns a signed order for the named
// venue.
//
// The maker takes the taker's sell token and gives the buy token, so the
// order's takerAsset is the request's sellToken and its makerAsset is the
// buyToken. When the request fixes sellAmount, the maker's give is reduced
// by the spread; when it fixes buyAmount, the taker's pay is increased.
func (e *Engine) Quote(ctx context.Context, venue string, req QuoteRequest) (*QuoteResult, error) {
	v, ok := e.venues[venue]
	if !ok {
		return nil, fmt.Errorf("rfq: venue %q: %w", venue, domain.ErrNotFound)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	taker := e.signer.Address().Hex()
	if req.Taker != "" {
		taker = req.Taker
	}

	price, err := e.prices.Price(ctx, zeroex.SwapParams{
		ChainID:    req.ChainID,
		SellToken:  req.SellToken,
		BuyToken:   req.BuyToken,
		SellAmount: req.SellAmount,
		BuyAmount:  req.BuyAmount,
		Taker:      taker,
	})
	if err != nil {
		return nil, fmt.Errorf("rfq: %s: %w", venue, err)
	}
	if !price.LiquidityAvailable {
		return nil, fmt.Errorf("rfq: %s: %s/%s: %w", venue, req.SellToken, req.BuyToken, domain.ErrNoLiquidity)
	}

	making, taking, err := e.spreadAmounts(req, price)
	if err != nil {
		return nil, err
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	params := OrderParams{
		ChainID:      req.ChainID,
		Maker:        e.signer.Address(),
		MakerAsset:   common.HexToAddress(req.BuyToken),
		TakerAsset:   common.HexToAddress(req.SellToken),
		MakingAmount: making,
		TakingAmount: taking,
		Expiry:       time.Now().Add(e.expiryFor(venue)).Unix(),
		Salt:         salt,
	}
	if req.Taker != "" {
		params.Taker = common.HexToAddress(req.Taker)
	}

	to, err := v.Build(params)
	if err != nil {
		return nil, fmt.Errorf("rfq: %s: build order: %w", venue, err)
	}

	sig, err := e.signer.SignTypedData(to.domain, to.primaryType, to.fields, to.values)
	if err != nil {
		return nil, fmt.Errorf("rfq: %s: %w: %v", venue, domain.ErrSigningFailed, err)
	}
	hash, err := crypto.HashTypedData(to.domain, to.primaryType, to.fields, to.values)
	if err != nil {
		return nil, fmt.Errorf("rfq: %s: order hash: %w", venue, err)
	}

	e.log.InfoContext(ctx, "quote issued",
		"venue", venue,
		"chain_id", req.ChainID,
		"maker_asset", params.MakerAsset.Hex(),
		"taker_asset", params.TakerAsset.Hex(),
		"making_amount", making.String(),
		"taking_amount", taking.String(),
		"expiry", params.Expiry,
	)

	return &QuoteResult{
		Order:     to.order,
		OrderHash: "0x" + common.Bytes2Hex(hash),
		Signature: sig,
		Quote: QuoteSummary{
			SellAmount: taking.String(),
			BuyAmount:  making.String(),
			Gas:        price.Gas,
		},
	}, nil
}

// spreadAmounts derives the spread-adjusted making/taking amounts from the
// request and the upstream price.
func (e *Engine) spreadAmounts(req QuoteRequest, price zeroex.PriceResponse) (making, taking *big.Int, err error) {
	if req.SellAmount != "" {
		// Taker's pay is fixed; shrink the maker's give.
		taking, err = parseAmount(req.SellAmount)
		if err != nil {
			return nil, nil, domain.NewValidationError("sellAmount", err.Error())
		}
		quoted, err := parseAmount(price.BuyAmount)
		if err != nil {
			return nil, nil, fmt.Errorf("rfq: upstream buyAmount: %w", err)
		}
		making, err = ApplySpread(quoted, e.spreadBps, true)
		if err != nil {
			return nil, nil, err
		}
		return making, taking, nil
	}

	// Taker's receive is fixed; grow the taker's pay.
	making, err = parseAmount(req.BuyAmount)
	if err != nil {
		return nil, nil, domain.NewValidationError("buyAmount", err.Error())
	}
	quoted, err := parseAmount(price.SellAmount)
	if err != nil {
		return nil, nil, fmt.Errorf("rfq: upstream sellAmount: %w", err)
	}
	taking, err = ApplySpread(quoted, e.spreadBps, false)
	if err != nil {
		return nil, nil, err
	}
	return making, taking, nil
}
