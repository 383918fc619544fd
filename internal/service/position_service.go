// Package service implements the position lifecycle: open, monitor,
// evaluate, and atomically close leveraged positions.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/leverfi/leverbot/internal/domain"
	"github.com/leverfi/leverbot/internal/gateway/zeroex"
	"github.com/leverfi/leverbot/internal/monitor"
)

// Gateway is the upstream aggregator surface the service consumes. It is
// satisfied by *zeroex.Client.
type Gateway interface {
	Price(ctx context.Context, params zeroex.SwapParams) (zeroex.PriceResponse, error)
	Quote(ctx context.Context, params zeroex.SwapParams) (zeroex.QuoteResponse, error)
	TokenPrice(ctx context.Context, chainID int64, token, quoteToken string, quoteDecimals int) (float64, error)
}

// Broadcaster submits swap transactions and awaits confirmation. It is
// satisfied by *wallet.Wallet and is nil in confirm-flow deployments,
// where callers execute swaps themselves.
type Broadcaster interface {
	Address() common.Address
	Broadcast(ctx context.Context, to common.Address, data []byte, value *big.Int, gas uint64, gasPrice *big.Int) (string, error)
	WaitMined(ctx context.Context, txHash string) (*types.Receipt, error)
}

// Watcher registers positions for periodic evaluation. It is satisfied by
// *monitor.Scheduler.
type Watcher interface {
	Start(ctx context.Context, positionID string)
	Stop(positionID string)
}

// Settings carries the position-engine parameters from config.
type Settings struct {
	// ConfirmFlow persists new positions as pending and defers swap
	// execution to the caller. When false the service broadcasts directly.
	ConfirmFlow        bool
	ChainID            int64
	CollateralToken    string
	CollateralDecimals int
	QuoteToken         string
	QuoteTokenDecimals int
	MaxLeverage        float64
	CloseLockTTL       time.Duration
	// ConfirmWait bounds how long a direct close waits for inclusion.
	ConfirmWait time.Duration
}

// OpenRequest is the caller's input to Open.
type OpenRequest struct {
	Wallet       string
	TokenAddress string
	Decimals     int
	Collateral   float64
	Leverage     float64
	Direction    domain.Direction
	TakeProfit   *float64
	StopLoss     *float64
	TimeoutSec   int64
}

// OpenResult is a created position plus, in confirm-flow mode, the firm
// quote the caller must execute.
type OpenResult struct {
	Position domain.Position
	Quote    *zeroex.QuoteResponse
}

// CheckResult is one position's evaluation snapshot.
type CheckResult struct {
	PositionID string                `json:"positionId"`
	Status     domain.PositionStatus `json:"status"`
	Price      float64               `json:"price,omitempty"`
	Triggered  bool                  `json:"triggered"`
	Reason     domain.CloseReason    `json:"reason,omitempty"`
}

const eventChannel = "positions"
const eventStream = "stream:positions"

// PositionService owns the position lifecycle. All state transitions are
// persisted before events are published; publish and audit failures are
// logged, never fatal.
type PositionService struct {
	users     domain.UserStore
	positions domain.PositionStore
	trades    domain.TradeStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	locks     domain.LockManager
	gateway   Gateway
	wallet    Broadcaster
	watcher   Watcher
	settings  Settings
	logger    *slog.Logger
}

// NewPositionService creates a PositionService with all dependencies.
func NewPositionService(
	users domain.UserStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	locks domain.LockManager,
	gateway Gateway,
	wallet Broadcaster,
	watcher Watcher,
	settings Settings,
	logger *slog.Logger,
) *PositionService {
	if settings.CloseLockTTL <= 0 {
		settings.CloseLockTTL = 2 * time.Minute
	}
	if settings.ConfirmWait <= 0 {
		settings.ConfirmWait = 5 * time.Minute
	}
	if settings.CollateralDecimals == 0 {
		settings.CollateralDecimals = settings.QuoteTokenDecimals
	}
	return &PositionService{
		users:     users,
		positions: positions,
		trades:    trades,
		audit:     audit,
		bus:       bus,
		locks:     locks,
		gateway:   gateway,
		wallet:    wallet,
		watcher:   watcher,
		settings:  settings,
		logger:    logger,
	}
}

func (s *PositionService) validateOpen(req OpenRequest) error {
	if req.Wallet == "" {
		return domain.NewValidationError("wallet", "must not be empty")
	}
	if req.TokenAddress == "" {
		return domain.NewValidationError("tokenAddress", "must not be empty")
	}
	if req.Collateral <= 0 {
		return domain.NewValidationError("collateral", "must be positive")
	}
	if req.Leverage < 1 || req.Leverage > s.settings.MaxLeverage {
		return domain.NewValidationError("leverage",
			fmt.Sprintf("must be in [1, %g]", s.settings.MaxLeverage))
	}
	if req.Direction != domain.DirectionLong && req.Direction != domain.DirectionShort {
		return domain.NewValidationError("direction", "must be long or short")
	}
	if req.TimeoutSec < 0 {
		return domain.NewValidationError("timeoutSec", "must be non-negative")
	}
	if req.Decimals <= 0 {
		return domain.NewValidationError("decimals", "must be positive")
	}
	return nil
}

// Open creates a leveraged position. At most one live position may exist
// per (wallet, token); a second open is rejected with ErrAlreadyExists.
//
// In confirm-flow mode the position is persisted as pending together with
// the firm quote the caller must execute; monitoring starts only after
// ConfirmOpen. In direct mode the opening swap is broadcast, confirmed,
// and the position starts open and monitored.
func (s *PositionService) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	if err := s.validateOpen(req); err != nil {
		return OpenResult{}, err
	}

	if _, err := s.positions.GetOpenByWalletToken(ctx, req.Wallet, req.TokenAddress); err == nil {
		return OpenResult{}, fmt.Errorf("position_service: %s/%s: %w",
			req.Wallet, req.TokenAddress, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return OpenResult{}, fmt.Errorf("position_service: live position check: %w", err)
	}

	if _, err := s.users.GetOrCreate(ctx, req.Wallet); err != nil {
		return OpenResult{}, fmt.Errorf("position_service: ensure user: %w", err)
	}

	entryPrice, err := s.gateway.TokenPrice(ctx, s.settings.ChainID, req.TokenAddress,
		s.settings.QuoteToken, s.settings.QuoteTokenDecimals)
	if err != nil {
		return OpenResult{}, fmt.Errorf("position_service: entry price: %w", err)
	}

	size := req.Collateral * req.Leverage
	taker := req.Wallet
	if s.wallet != nil && !s.settings.ConfirmFlow {
		taker = s.wallet.Address().Hex()
	}

	quote, err := s.gateway.Quote(ctx, zeroex.SwapParams{
		ChainID:    s.settings.ChainID,
		SellToken:  s.settings.CollateralToken,
		BuyToken:   req.TokenAddress,
		SellAmount: toBaseUnits(size, s.settings.CollateralDecimals),
		Taker:      taker,
	})
	if err != nil {
		return OpenResult{}, fmt.Errorf("position_service: open quote: %w", err)
	}

	tokenAmount, err := fromBaseUnits(quote.BuyAmount, req.Decimals)
	if err != nil {
		return OpenResult{}, fmt.Errorf("position_service: open quote: %w", err)
	}

	pos := domain.Position{
		ID:               uuid.New().String(),
		Wallet:           req.Wallet,
		TokenAddress:     req.TokenAddress,
		OpenedAt:         time.Now().UTC(),
		Collateral:       req.Collateral,
		TokenAmount:      tokenAmount,
		Decimals:         req.Decimals,
		TakeProfit:       req.TakeProfit,
		StopLoss:         req.StopLoss,
		TimeoutSec:       req.TimeoutSec,
		Status:           domain.PositionStatusPending,
		Leverage:         req.Leverage,
		Direction:        req.Direction,
		LiquidationPrice: domain.LiquidationPriceFor(entryPrice, req.Leverage, req.Direction),
		EntryPrice:       entryPrice,
	}

	if s.settings.ConfirmFlow {
		if err := s.positions.Create(ctx, pos); err != nil {
			return OpenResult{}, fmt.Errorf("position_service: create position: %w", err)
		}
		s.auditEvent(ctx, "position_created", pos, nil)
		return OpenResult{Position: pos, Quote: &quote}, nil
	}

	if s.wallet == nil {
		return OpenResult{}, &domain.ConfigError{Reason: "direct execution requires a broadcast wallet"}
	}
	if quote.Transaction == nil {
		return OpenResult{}, &domain.UpstreamError{Status: 502, Message: "quote missing transaction"}
	}

	txHash, err := s.wallet.Broadcast(ctx,
		common.HexToAddress(quote.Transaction.To),
		common.FromHex(quote.Transaction.Data),
		parseBig(quote.Transaction.Value),
		parseUint(quote.Transaction.Gas),
		parseBig(quote.Transaction.GasPrice),
	)
	if err != nil {
		return OpenResult{}, fmt.Errorf("position_service: broadcast open: %w", err)
	}

	// A broadcast swap can mine even when the confirmation wait fails, so
	// the position and its buy trade are persisted as soon as the hash is
	// known. The position stays pending until confirmation succeeds.
	pos.OpenTxHash = txHash
	if err := s.positions.Create(ctx, pos); err != nil {
		return OpenResult{}, fmt.Errorf("position_service: create position: %w", err)
	}
	s.recordTrade(ctx, pos, txHash, size, tokenAmount, domain.TradeTypeBuy)

	waitCtx, cancel := context.WithTimeout(ctx, s.settings.ConfirmWait)
	defer cancel()
	if _, err := s.wallet.WaitMined(waitCtx, txHash); err != nil {
		return OpenResult{}, fmt.Errorf("position_service: confirm open %s: %w", txHash, err)
	}

	if err := s.positions.MarkOpen(ctx, pos.ID, txHash); err != nil {
		return OpenResult{}, fmt.Errorf("position_service: confirm open %s: %w", pos.ID, err)
	}
	pos.Status = domain.PositionStatusOpen
	s.watcher.Start(context.WithoutCancel(ctx), pos.ID)
	s.publishEvent(ctx, "position_opened", pos, nil)
	s.auditEvent(ctx, "position_opened", pos, map[string]any{"tx_hash": txHash})

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("wallet", pos.Wallet),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("leverage", pos.Leverage),
		slog.String("direction", string(pos.Direction)),
	)
	return OpenResult{Position: pos}, nil
}

// ConfirmOpen transitions a pending position to open once the caller has
// executed the opening swap, and begins monitoring it.
func (s *PositionService) ConfirmOpen(ctx context.Context, positionID, txHash string) (domain.Position, error) {
	if txHash == "" {
		return domain.Position{}, domain.NewValidationError("txHash", "must not be empty")
	}

	if err := s.positions.MarkOpen(ctx, positionID, txHash); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: confirm open %s: %w", positionID, err)
	}
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: confirm open %s: %w", positionID, err)
	}

	s.recordTrade(ctx, pos, txHash, pos.Size(), pos.TokenAmount, domain.TradeTypeBuy)
	s.watcher.Start(context.WithoutCancel(ctx), pos.ID)
	s.publishEvent(ctx, "position_opened", pos, nil)
	s.auditEvent(ctx, "position_opened", pos, map[string]any{"tx_hash": txHash})

	s.logger.InfoContext(ctx, "position_service: position confirmed open",
		slog.String("position_id", pos.ID),
		slog.String("tx_hash", txHash),
	)
	return pos, nil
}

// CloseQuote returns a firm quote for selling the position's full token
// amount back to the collateral currency, without executing it.
func (s *PositionService) CloseQuote(ctx context.Context, positionID string) (zeroex.QuoteResponse, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return zeroex.QuoteResponse{}, err
	}
	if pos.Status != domain.PositionStatusOpen {
		return zeroex.QuoteResponse{}, fmt.Errorf("position_service: close quote %s: %w",
			positionID, domain.ErrStateConflict)
	}

	quote, err := s.gateway.Quote(ctx, zeroex.SwapParams{
		ChainID:    s.settings.ChainID,
		SellToken:  pos.TokenAddress,
		BuyToken:   s.settings.CollateralToken,
		SellAmount: toBaseUnits(pos.TokenAmount, pos.Decimals),
		Taker:      pos.Wallet,
	})
	if err != nil {
		return zeroex.QuoteResponse{}, fmt.Errorf("position_service: close quote %s: %w", positionID, err)
	}
	return quote, nil
}

// ConfirmClose finalizes a caller-executed close: the caller broadcast the
// closing swap and reports the transaction hash and execution price.
func (s *PositionService) ConfirmClose(ctx context.Context, positionID, txHash string, exitPrice float64) (domain.Position, error) {
	if txHash == "" {
		return domain.Position{}, domain.NewValidationError("txHash", "must not be empty")
	}
	if exitPrice <= 0 {
		return domain.Position{}, domain.NewValidationError("exitPrice", "must be positive")
	}
	return s.finalizeClose(ctx, positionID, domain.CloseReasonManual, txHash, exitPrice)
}

// Close executes the full close of an open position: quote, broadcast,
// confirmation, then the terminal state transition. reason records why the
// close fired; triggerPrice is informational.
//
// Mutual exclusion is layered: the distributed lock keeps concurrent
// process instances out, and the store's conditional update is the final
// guard. Losing either race returns ErrStateConflict, which callers treat
// as benign. Any failure before the state transition leaves the position
// open for the next evaluation to retry.
func (s *PositionService) Close(ctx context.Context, positionID string, reason domain.CloseReason, triggerPrice float64) error {
	unlock, err := s.locks.Acquire(ctx, "close:"+positionID, s.settings.CloseLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("position_service: close %s: %w", positionID, domain.ErrStateConflict)
		}
		return fmt.Errorf("position_service: close %s: %w", positionID, err)
	}
	defer unlock()

	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Status != domain.PositionStatusOpen {
		return fmt.Errorf("position_service: close %s: %w", positionID, domain.ErrStateConflict)
	}
	if s.wallet == nil {
		return &domain.ConfigError{Reason: "direct close requires a broadcast wallet"}
	}

	quote, err := s.gateway.Quote(ctx, zeroex.SwapParams{
		ChainID:    s.settings.ChainID,
		SellToken:  pos.TokenAddress,
		BuyToken:   s.settings.CollateralToken,
		SellAmount: toBaseUnits(pos.TokenAmount, pos.Decimals),
		Taker:      s.wallet.Address().Hex(),
	})
	if err != nil {
		return fmt.Errorf("position_service: close %s: quote: %w", positionID, err)
	}
	if quote.Transaction == nil {
		return &domain.UpstreamError{Status: 502, Message: "close quote missing transaction"}
	}

	txHash, err := s.wallet.Broadcast(ctx,
		common.HexToAddress(quote.Transaction.To),
		common.FromHex(quote.Transaction.Data),
		parseBig(quote.Transaction.Value),
		parseUint(quote.Transaction.Gas),
		parseBig(quote.Transaction.GasPrice),
	)
	if err != nil {
		return fmt.Errorf("position_service: close %s: broadcast: %w", positionID, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.settings.ConfirmWait)
	defer cancel()
	if _, err := s.wallet.WaitMined(waitCtx, txHash); err != nil {
		return fmt.Errorf("position_service: close %s: confirm %s: %w", positionID, txHash, err)
	}

	received, err := fromBaseUnits(quote.BuyAmount, s.settings.CollateralDecimals)
	if err != nil {
		return fmt.Errorf("position_service: close %s: %w", positionID, err)
	}
	exitPrice := triggerPrice
	if pos.TokenAmount > 0 {
		exitPrice = received / pos.TokenAmount
	}

	if _, err := s.finalizeClose(ctx, positionID, reason, txHash, exitPrice); err != nil {
		return err
	}
	return nil
}

// finalizeClose applies the terminal state transition and its side
// effects. It is shared by the direct and confirm-flow close paths.
func (s *PositionService) finalizeClose(ctx context.Context, positionID string, reason domain.CloseReason, txHash string, exitPrice float64) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, err
	}

	status := domain.PositionStatusClosed
	if reason == domain.CloseReasonLiquidation {
		status = domain.PositionStatusLiquidated
	}
	pnl := pos.RealizedPnLFor(exitPrice)
	now := time.Now().UTC()

	ok, err := s.positions.Close(ctx, positionID, domain.ClosePatch{
		Status:      status,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		CloseTxHash: txHash,
		ClosedAt:    now,
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: finalize close %s: %w", positionID, err)
	}
	if !ok {
		return domain.Position{}, fmt.Errorf("position_service: finalize close %s: %w",
			positionID, domain.ErrStateConflict)
	}

	// Stop cancels the scheduler loop's context, and scheduler-triggered
	// closes run on exactly that context. The remaining side effects are
	// detached so the trade record, events, and audit entry still land.
	ctx = context.WithoutCancel(ctx)

	s.recordTrade(ctx, pos, txHash, exitPrice*pos.TokenAmount, pos.TokenAmount, domain.TradeTypeSell)
	if err := s.users.AddPnL(ctx, pos.Wallet, pnl); err != nil {
		s.logger.ErrorContext(ctx, "position_service: add pnl failed",
			slog.String("position_id", positionID),
			slog.String("wallet", pos.Wallet),
			slog.String("error", err.Error()),
		)
	}
	s.watcher.Stop(positionID)

	pos.Status = status
	pos.ExitPrice = &exitPrice
	pos.RealizedPnL = pnl
	pos.CloseTxHash = txHash
	pos.ClosedAt = &now

	event := "position_closed"
	if status == domain.PositionStatusLiquidated {
		event = "position_liquidated"
	}
	s.publishEvent(ctx, event, pos, map[string]any{
		"reason":     string(reason),
		"tx_hash":    txHash,
		"exit_price": exitPrice,
		"pnl":        pnl,
	})
	s.auditEvent(ctx, event, pos, map[string]any{
		"reason":     string(reason),
		"tx_hash":    txHash,
		"exit_price": exitPrice,
		"pnl":        pnl,
	})

	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", positionID),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", pnl),
	)
	return pos, nil
}

// Check evaluates one position against its thresholds without closing it.
func (s *PositionService) Check(ctx context.Context, positionID string) (CheckResult, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return CheckResult{}, err
	}

	res := CheckResult{PositionID: pos.ID, Status: pos.Status}
	if pos.Status != domain.PositionStatusOpen {
		return res, nil
	}

	if pos.TimedOut(time.Now()) {
		res.Triggered = true
		res.Reason = domain.CloseReasonTimeout
		return res, nil
	}

	price, err := s.gateway.TokenPrice(ctx, s.settings.ChainID, pos.TokenAddress,
		s.settings.QuoteToken, s.settings.QuoteTokenDecimals)
	if err != nil {
		return CheckResult{}, fmt.Errorf("position_service: check %s: %w", positionID, err)
	}
	res.Price = price

	if reason, trip := monitor.Evaluate(&pos, price); trip {
		res.Triggered = true
		res.Reason = reason
	}
	return res, nil
}

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, positionID string) (domain.Position, error) {
	return s.positions.GetByID(ctx, positionID)
}

// List returns a wallet's positions filtered by status.
func (s *PositionService) List(ctx context.Context, wallet string, statuses []domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	if wallet == "" {
		return nil, domain.NewValidationError("user", "must not be empty")
	}
	return s.positions.ListByWallet(ctx, wallet, statuses, opts)
}

func (s *PositionService) recordTrade(ctx context.Context, pos domain.Position, txHash string, baseAmount, tokenAmount float64, tt domain.TradeType) {
	trade := domain.Trade{
		ID:           uuid.New().String(),
		PositionID:   pos.ID,
		TxHash:       txHash,
		TokenAddress: pos.TokenAddress,
		BaseAmount:   baseAmount,
		TokenAmount:  tokenAmount,
		Timestamp:    time.Now().UTC(),
		Type:         tt,
	}
	if err := s.trades.Create(ctx, trade); err != nil {
		s.logger.ErrorContext(ctx, "position_service: record trade failed",
			slog.String("position_id", pos.ID),
			slog.String("type", string(tt)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) publishEvent(ctx context.Context, event string, pos domain.Position, extra map[string]any) {
	payload := map[string]any{
		"event":       event,
		"position_id": pos.ID,
		"wallet":      pos.Wallet,
		"token":       pos.TokenAddress,
		"direction":   string(pos.Direction),
		"status":      string(pos.Status),
		"entry_price": pos.EntryPrice,
		"leverage":    pos.Leverage,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)

	if err := s.bus.Publish(ctx, eventChannel, data); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, eventStream, data); err != nil {
		s.logger.WarnContext(ctx, "position_service: stream append failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) auditEvent(ctx context.Context, event string, pos domain.Position, extra map[string]any) {
	detail := map[string]any{
		"position_id": pos.ID,
		"wallet":      pos.Wallet,
		"token":       pos.TokenAddress,
		"direction":   string(pos.Direction),
		"leverage":    pos.Leverage,
		"entry_price": pos.EntryPrice,
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("event", event),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}
