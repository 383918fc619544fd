package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leverfi/leverbot/internal/domain"
	"github.com/leverfi/leverbot/internal/gateway/zeroex"
	"github.com/leverfi/leverbot/internal/service"
)

// PositionService defines the methods the position handler requires.
type PositionService interface {
	Open(ctx context.Context, req service.OpenRequest) (service.OpenResult, error)
	ConfirmOpen(ctx context.Context, positionID, txHash string) (domain.Position, error)
	CloseQuote(ctx context.Context, positionID string) (zeroex.QuoteResponse, error)
	ConfirmClose(ctx context.Context, positionID, txHash string, exitPrice float64) (domain.Position, error)
	Close(ctx context.Context, positionID string, reason domain.CloseReason, triggerPrice float64) error
	Check(ctx context.Context, positionID string) (service.CheckResult, error)
	CheckAll(ctx context.Context) (service.CheckAllResult, error)
	Get(ctx context.Context, positionID string) (domain.Position, error)
	List(ctx context.Context, wallet string, statuses []domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves the position lifecycle endpoints.
type PositionHandler struct {
	positions  PositionService
	cronSecret string
	logger     *slog.Logger
}

// NewPositionHandler creates a PositionHandler. cronSecret authenticates
// the external scheduler on the check-all endpoint.
func NewPositionHandler(positions PositionService, cronSecret string, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions:  positions,
		cronSecret: cronSecret,
		logger:     logger,
	}
}

// positionJSON is the wire representation of a position.
type positionJSON struct {
	ID               string   `json:"id"`
	Wallet           string   `json:"wallet"`
	TokenAddress     string   `json:"tokenAddress"`
	OpenedAt         string   `json:"openedAt"`
	Collateral       float64  `json:"collateral"`
	TokenAmount      float64  `json:"tokenAmount"`
	Decimals         int      `json:"decimals"`
	TakeProfit       *float64 `json:"takeProfit,omitempty"`
	StopLoss         *float64 `json:"stopLoss,omitempty"`
	RealizedPnL      float64  `json:"realizedPnl"`
	TimeoutSec       int64    `json:"timeoutSec,omitempty"`
	Status           string   `json:"status"`
	Leverage         float64  `json:"leverage"`
	Direction        string   `json:"direction"`
	LiquidationPrice float64  `json:"liquidationPrice"`
	EntryPrice       float64  `json:"entryPrice"`
	OpenTxHash       string   `json:"openTxHash,omitempty"`
	CloseTxHash      string   `json:"closeTxHash,omitempty"`
	ClosedAt         *string  `json:"closedAt,omitempty"`
	ExitPrice        *float64 `json:"exitPrice,omitempty"`
}

func toPositionJSON(p domain.Position) positionJSON {
	out := positionJSON{
		ID:               p.ID,
		Wallet:           p.Wallet,
		TokenAddress:     p.TokenAddress,
		OpenedAt:         p.OpenedAt.UTC().Format(time.RFC3339),
		Collateral:       p.Collateral,
		TokenAmount:      p.TokenAmount,
		Decimals:         p.Decimals,
		TakeProfit:       p.TakeProfit,
		StopLoss:         p.StopLoss,
		RealizedPnL:      p.RealizedPnL,
		TimeoutSec:       p.TimeoutSec,
		Status:           string(p.Status),
		Leverage:         p.Leverage,
		Direction:        string(p.Direction),
		LiquidationPrice: p.LiquidationPrice,
		EntryPrice:       p.EntryPrice,
		OpenTxHash:       p.OpenTxHash,
		CloseTxHash:      p.CloseTxHash,
		ExitPrice:        p.ExitPrice,
	}
	if p.ClosedAt != nil {
		s := p.ClosedAt.UTC().Format(time.RFC3339)
		out.ClosedAt = &s
	}
	return out
}

// createPositionRequest is the body of POST /api/positions.
type createPositionRequest struct {
	Wallet       string   `json:"wallet"`
	TokenAddress string   `json:"tokenAddress"`
	Decimals     int      `json:"decimals"`
	Collateral   float64  `json:"collateral"`
	Leverage     float64  `json:"leverage"`
	Direction    string   `json:"direction"`
	TakeProfit   *float64 `json:"takeProfit"`
	StopLoss     *float64 `json:"stopLoss"`
	TimeoutSec   int64    `json:"timeoutSec"`
}

// Create opens a new leveraged position.
// POST /api/positions
func (h *PositionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if req.Decimals == 0 {
		req.Decimals = 18
	}

	result, err := h.positions.Open(r.Context(), service.OpenRequest{
		Wallet:       req.Wallet,
		TokenAddress: req.TokenAddress,
		Decimals:     req.Decimals,
		Collateral:   req.Collateral,
		Leverage:     req.Leverage,
		Direction:    domain.Direction(req.Direction),
		TakeProfit:   req.TakeProfit,
		StopLoss:     req.StopLoss,
		TimeoutSec:   req.TimeoutSec,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	resp := map[string]any{"position": toPositionJSON(result.Position)}
	if result.Quote != nil {
		resp["quote"] = result.Quote
	}
	writeJSON(w, http.StatusCreated, resp)
}

// confirmOpenRequest is the body of the confirm-open call.
type confirmOpenRequest struct {
	TxHash string `json:"txHash"`
}

// ConfirmOpen transitions a pending position to open.
// POST /api/positions/{id}/confirm-open
func (h *PositionHandler) ConfirmOpen(w http.ResponseWriter, r *http.Request) {
	var req confirmOpenRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	pos, err := h.positions.ConfirmOpen(r.Context(), r.PathValue("id"), req.TxHash)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": toPositionJSON(pos)})
}

// CloseQuote returns a firm quote for closing, without executing it.
// GET /api/positions/{id}/close-quote
func (h *PositionHandler) CloseQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.positions.CloseQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

// confirmCloseRequest is the body of the confirm-close call.
type confirmCloseRequest struct {
	TxHash    string  `json:"txHash"`
	ExitPrice float64 `json:"exitPrice"`
}

// ConfirmClose finalizes a caller-executed close.
// POST /api/positions/{id}/confirm-close
func (h *PositionHandler) ConfirmClose(w http.ResponseWriter, r *http.Request) {
	var req confirmCloseRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	pos, err := h.positions.ConfirmClose(r.Context(), r.PathValue("id"), req.TxHash, req.ExitPrice)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": toPositionJSON(pos)})
}

// Close executes a manual close of an open position.
// DELETE /api/positions/{id}
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.positions.Close(r.Context(), id, domain.CloseReasonManual, 0); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	pos, err := h.positions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": toPositionJSON(pos)})
}

// Get returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": toPositionJSON(pos)})
}

// List returns a user's positions. Without an explicit status filter only
// live (pending and open) positions are returned.
// GET /api/positions?user=0x...&status=open,closed
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")

	statuses := []domain.PositionStatus{domain.PositionStatusPending, domain.PositionStatusOpen}
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = statuses[:0]
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.PositionStatus(strings.TrimSpace(s)))
		}
	}

	positions, err := h.positions.List(r.Context(), user, statuses, parseListOpts(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]positionJSON, 0, len(positions))
	for i := range positions {
		out = append(out, toPositionJSON(positions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// Check evaluates one position without closing it.
// GET /api/positions/{id}/check
func (h *PositionHandler) Check(w http.ResponseWriter, r *http.Request) {
	res, err := h.positions.Check(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CheckAll evaluates every open position, closing tripped ones. It is
// invoked by an external cron and authenticated with a dedicated secret
// in addition to the global API key. The secret is accepted as a Bearer
// token or in the X-Cron-Secret header; callers using the bearer form
// for the API key send the cron secret in the dedicated header.
// POST /api/positions/check-all
func (h *PositionHandler) CheckAll(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret != "" {
		token := r.Header.Get("X-Cron-Secret")
		if token == "" {
			if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = strings.TrimSpace(parts[1])
			}
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid cron secret")
			return
		}
	}

	result, err := h.positions.CheckAll(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
