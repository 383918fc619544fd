// Package monitor evaluates open positions against their exit thresholds
// and drives the close when one trips.
package monitor

import (
	"github.com/leverfi/leverbot/internal/domain"
)

// Evaluate decides whether a position should close at the given price.
// Take-profit is checked before stop-loss, and stop-loss before
// liquidation, so when thresholds overlap the most favorable reason wins.
// Timeout is not evaluated here; the scheduler checks it before fetching a
// price. The zero reason with ok=false means the position stays open.
func Evaluate(p *domain.Position, price float64) (domain.CloseReason, bool) {
	switch p.Direction {
	case domain.DirectionLong:
		if p.TakeProfit != nil && price >= *p.TakeProfit {
			return domain.CloseReasonTakeProfit, true
		}
		if p.StopLoss != nil && price <= *p.StopLoss {
			return domain.CloseReasonStopLoss, true
		}
		if price <= p.LiquidationPrice {
			return domain.CloseReasonLiquidation, true
		}
	case domain.DirectionShort:
		if p.TakeProfit != nil && price <= *p.TakeProfit {
			return domain.CloseReasonTakeProfit, true
		}
		if p.StopLoss != nil && price >= *p.StopLoss {
			return domain.CloseReasonStopLoss, true
		}
		if price >= p.LiquidationPrice {
			return domain.CloseReasonLiquidation, true
		}
	}
	return "", false
}
