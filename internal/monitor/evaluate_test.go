package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leverfi/leverbot/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestEvaluateLong(t *testing.T) {
	// entry 100, 5x: liquidation at 80
	pos := domain.Position{
		Direction:        domain.DirectionLong,
		EntryPrice:       100,
		Leverage:         5,
		LiquidationPrice: domain.LiquidationPriceFor(100, 5, domain.DirectionLong),
		TakeProfit:       ptr(110),
		StopLoss:         ptr(90),
	}
	assert.Equal(t, 80.0, pos.LiquidationPrice)

	testCases := []struct {
		name       string
		price      float64
		wantReason domain.CloseReason
		wantTrip   bool
	}{
		{"holds between thresholds", 100, "", false},
		{"take profit at threshold", 110, domain.CloseReasonTakeProfit, true},
		{"take profit above threshold", 150, domain.CloseReasonTakeProfit, true},
		{"stop loss at threshold", 90, domain.CloseReasonStopLoss, true},
		{"stop loss below threshold", 85, domain.CloseReasonStopLoss, true},
		{"liquidation", 80, domain.CloseReasonStopLoss, true}, // stop loss checked first
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reason, trip := Evaluate(&pos, tc.price)
			assert.Equal(t, tc.wantTrip, trip)
			assert.Equal(t, tc.wantReason, reason)
		})
	}
}

func TestEvaluateLongLiquidationWithoutStopLoss(t *testing.T) {
	pos := domain.Position{
		Direction:        domain.DirectionLong,
		EntryPrice:       100,
		Leverage:         5,
		LiquidationPrice: 80,
	}

	reason, trip := Evaluate(&pos, 80)
	assert.True(t, trip)
	assert.Equal(t, domain.CloseReasonLiquidation, reason)

	_, trip = Evaluate(&pos, 80.01)
	assert.False(t, trip)
}

func TestEvaluateShort(t *testing.T) {
	// entry 100, 4x short: liquidation at 125
	pos := domain.Position{
		Direction:        domain.DirectionShort,
		EntryPrice:       100,
		Leverage:         4,
		LiquidationPrice: domain.LiquidationPriceFor(100, 4, domain.DirectionShort),
		TakeProfit:       ptr(90),
		StopLoss:         ptr(115),
	}
	assert.Equal(t, 125.0, pos.LiquidationPrice)

	testCases := []struct {
		name       string
		price      float64
		wantReason domain.CloseReason
		wantTrip   bool
	}{
		{"holds between thresholds", 100, "", false},
		{"take profit on the way down", 90, domain.CloseReasonTakeProfit, true},
		{"stop loss on the way up", 115, domain.CloseReasonStopLoss, true},
		{"stop loss trips before liquidation", 130, domain.CloseReasonStopLoss, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reason, trip := Evaluate(&pos, tc.price)
			assert.Equal(t, tc.wantTrip, trip)
			assert.Equal(t, tc.wantReason, reason)
		})
	}
}

func TestEvaluateShortLiquidationWithoutStopLoss(t *testing.T) {
	pos := domain.Position{
		Direction:        domain.DirectionShort,
		EntryPrice:       100,
		Leverage:         4,
		LiquidationPrice: 125,
	}

	reason, trip := Evaluate(&pos, 125)
	assert.True(t, trip)
	assert.Equal(t, domain.CloseReasonLiquidation, reason)

	_, trip = Evaluate(&pos, 124.99)
	assert.False(t, trip)
}

func TestEvaluateTieBreakPrefersTakeProfit(t *testing.T) {
	// Overlapping thresholds: the most favorable reason wins.
	pos := domain.Position{
		Direction:        domain.DirectionLong,
		EntryPrice:       100,
		Leverage:         2,
		LiquidationPrice: 50,
		TakeProfit:       ptr(60),
		StopLoss:         ptr(70),
	}

	reason, trip := Evaluate(&pos, 65)
	assert.True(t, trip)
	assert.Equal(t, domain.CloseReasonTakeProfit, reason)
}

func TestLiquidationPriceFor(t *testing.T) {
	assert.Equal(t, 0.0, domain.LiquidationPriceFor(100, 1, domain.DirectionLong))
	assert.Equal(t, 200.0, domain.LiquidationPriceFor(100, 1, domain.DirectionShort))
	assert.InDelta(t, 95.0, domain.LiquidationPriceFor(100, 20, domain.DirectionLong), 1e-9)
	assert.InDelta(t, 105.0, domain.LiquidationPriceFor(100, 20, domain.DirectionShort), 1e-9)
}
