package domain

import "time"

// TradeType indicates which leg of the position a trade executed.
type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

// Trade is an immutable execution record linked to a Position. Exactly one
// buy trade is appended at open and one sell trade at close.
type Trade struct {
	ID           string
	PositionID   string
	TxHash       string
	TokenAddress string
	BaseAmount   float64 // base-currency amount moved by the swap
	TokenAmount  float64
	Timestamp    time.Time
	Type         TradeType
}

// User is a wallet-address-keyed account aggregating positions and a running
// realized PnL total. Created lazily on the first position open.
type User struct {
	WalletAddress string
	TotalPnL      float64
	CreatedAt     time.Time
}
