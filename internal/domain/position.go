package domain

import "time"

// PositionStatus tracks the position lifecycle. Transitions are strictly
// pending -> open -> {closed, liquidated}; closed positions persist as history.
type PositionStatus string

const (
	PositionStatusPending    PositionStatus = "pending"
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// Direction is the side of a leveraged position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonTakeProfit  CloseReason = "tp"
	CloseReasonStopLoss    CloseReason = "sl"
	CloseReasonTimeout     CloseReason = "timeout"
	CloseReasonLiquidation CloseReason = "liquidation"
	CloseReasonManual      CloseReason = "manual"
)

// Position represents a leveraged exposure to one token, owned by one wallet.
type Position struct {
	ID               string
	Wallet           string // owning user's wallet address
	TokenAddress     string
	OpenedAt         time.Time
	Collateral       float64 // base-currency units committed by the user
	TokenAmount      float64 // token units acquired at open, in base units (10^-decimals applied)
	Decimals         int
	TakeProfit       *float64 // unset when nil
	StopLoss         *float64 // unset when nil
	RealizedPnL      float64  // 0 until closed
	TimeoutSec       int64    // forced close after this many seconds from open; 0 disables
	Status           PositionStatus
	Leverage         float64 // >= 1
	Direction        Direction
	LiquidationPrice float64 // fixed at open, never recomputed
	EntryPrice       float64
	OpenTxHash       string
	CloseTxHash      string
	ClosedAt         *time.Time
	ExitPrice        *float64
}

// Size returns the base-currency notional of the position.
func (p Position) Size() float64 {
	return p.Collateral * p.Leverage
}

// TimedOut reports whether the position's timeout has elapsed at the given
// instant. Positions with TimeoutSec == 0 never time out.
func (p Position) TimedOut(now time.Time) bool {
	if p.TimeoutSec <= 0 {
		return false
	}
	return now.Sub(p.OpenedAt) >= time.Duration(p.TimeoutSec)*time.Second
}

// LiquidationPriceFor computes the price at which a position's collateral is
// fully consumed by adverse movement:
//
//	long:  entry * (1 - 1/leverage)
//	short: entry * (1 + 1/leverage)
func LiquidationPriceFor(entryPrice, leverage float64, dir Direction) float64 {
	if dir == DirectionLong {
		return entryPrice * (1 - 1/leverage)
	}
	return entryPrice * (1 + 1/leverage)
}

// RealizedPnLFor computes realized profit/loss against the position's stored
// entry price, using the base-currency notional (collateral * leverage) as the
// multiplier.
func (p Position) RealizedPnLFor(exitPrice float64) float64 {
	if p.Direction == DirectionLong {
		return (exitPrice - p.EntryPrice) * p.Size()
	}
	return (p.EntryPrice - exitPrice) * p.Size()
}
