package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leverfi/leverbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Create appends an execution record. Trades are immutable; there is no
// update path.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, position_id, tx_hash, token_address,
			base_amount, token_amount, trade_type, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.TxHash, t.TokenAddress,
		t.BaseAmount, t.TokenAmount, string(t.Type), t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByPosition returns a position's trades in execution order.
func (s *TradeStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Trade, error) {
	const query = `
		SELECT id, position_id, tx_hash, token_address,
			base_amount, token_amount, trade_type, executed_at
		FROM trades
		WHERE position_id = $1
		ORDER BY executed_at`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", positionID, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var tradeType string
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.TxHash, &t.TokenAddress,
			&t.BaseAmount, &t.TokenAmount, &tradeType, &t.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Type = domain.TradeType(tradeType)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", positionID, err)
	}
	return trades, nil
}
