package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leverfi/leverbot/internal/domain"
)

// positionEvent mirrors the payload published on the positions channel.
type positionEvent struct {
	Event        string  `json:"event"`
	PositionID   string  `json:"position_id"`
	Wallet       string  `json:"wallet"`
	Token        string  `json:"token"`
	Direction    string  `json:"direction"`
	Status       string  `json:"status"`
	EntryPrice   float64 `json:"entry_price"`
	Leverage     float64 `json:"leverage"`
	Reason       string  `json:"reason"`
	ExitPrice    float64 `json:"exit_price"`
	PnL          float64 `json:"pnl"`
	TxHash       string  `json:"tx_hash"`
	TriggerPrice float64 `json:"trigger_price"`
}

// Listener subscribes to the position event channel and forwards the
// events as operator alerts.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	channel  string
	logger   *slog.Logger
}

// NewListener creates a Listener on the given pub/sub channel.
func NewListener(bus domain.SignalBus, notifier *Notifier, channel string, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		channel:  channel,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes events until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	msgs, err := l.bus.Subscribe(ctx, l.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", l.channel, err)
	}

	l.logger.InfoContext(ctx, "listening for position events",
		slog.String("channel", l.channel),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			l.handle(ctx, data)
		}
	}
}

func (l *Listener) handle(ctx context.Context, data []byte) {
	var ev positionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		l.logger.WarnContext(ctx, "malformed event payload",
			slog.String("error", err.Error()),
		)
		return
	}
	if ev.Event == "" {
		return
	}

	title, message := formatEvent(ev)
	if err := l.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		l.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders an operator-facing title and body for an event.
func formatEvent(ev positionEvent) (title, message string) {
	dir := strings.ToUpper(ev.Direction)

	switch ev.Event {
	case "position_opened":
		title = fmt.Sprintf("Position opened (%s %gx)", dir, ev.Leverage)
		message = fmt.Sprintf("token %s\nentry %.6f\nwallet %s", ev.Token, ev.EntryPrice, ev.Wallet)
	case "position_closed":
		title = fmt.Sprintf("Position closed (%s)", ev.Reason)
		message = fmt.Sprintf("token %s\nexit %.6f\npnl %+.2f\nwallet %s", ev.Token, ev.ExitPrice, ev.PnL, ev.Wallet)
	case "position_liquidated":
		title = "Position LIQUIDATED"
		message = fmt.Sprintf("token %s (%s %gx)\nexit %.6f\npnl %+.2f\nwallet %s",
			ev.Token, dir, ev.Leverage, ev.ExitPrice, ev.PnL, ev.Wallet)
	default:
		title = ev.Event
		message = fmt.Sprintf("position %s\nwallet %s", ev.PositionID, ev.Wallet)
	}
	return title, message
}
