package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserStore persists wallet-keyed accounts.
type UserStore interface {
	// GetOrCreate returns the user for the wallet address, creating the row
	// lazily on first use.
	GetOrCreate(ctx context.Context, wallet string) (User, error)
	Get(ctx context.Context, wallet string) (User, error)
	// AddPnL adds delta to the user's cumulative realized PnL.
	AddPnL(ctx context.Context, wallet string, delta float64) error
}

// ClosePatch carries the terminal fields applied when a position leaves open.
type ClosePatch struct {
	Status      PositionStatus // closed or liquidated
	ExitPrice   float64
	RealizedPnL float64
	CloseTxHash string
	ClosedAt    time.Time
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// GetOpenByWalletToken returns an open (or pending) position for the
	// (wallet, token) pair, or ErrNotFound. At most one may exist.
	GetOpenByWalletToken(ctx context.Context, wallet, token string) (Position, error)
	// MarkOpen transitions a pending position to open, recording the opening
	// transaction hash. Returns ErrStateConflict if the position is not pending.
	MarkOpen(ctx context.Context, id, openTxHash string) error
	// Close applies the terminal patch only if the position is still open.
	// The false return is the benign already-closed case, not an error.
	Close(ctx context.Context, id string, patch ClosePatch) (bool, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListByWallet(ctx context.Context, wallet string, statuses []PositionStatus, opts ListOpts) ([]Position, error)
	ListTerminal(ctx context.Context, opts ListOpts) ([]Position, error)
}

// TradeStore persists immutable execution records.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	ListByPosition(ctx context.Context, positionID string) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// LockManager provides distributed locking, used to guarantee at most one
// close in flight per position across process instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter stores a blob under a key in object storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// Archiver exports terminal position history to object storage.
type Archiver interface {
	ArchiveClosedPositions(ctx context.Context) (int, error)
}
