package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leverfi/leverbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, wallet, token_address, opened_at, collateral,
	token_amount, decimals, take_profit, stop_loss, realized_pnl, timeout_sec,
	status, leverage, direction, liquidation_price, entry_price,
	open_tx_hash, close_tx_hash, closed_at, exit_price`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, direction string

	err := row.Scan(
		&p.ID, &p.Wallet, &p.TokenAddress, &p.OpenedAt, &p.Collateral,
		&p.TokenAmount, &p.Decimals, &p.TakeProfit, &p.StopLoss, &p.RealizedPnL, &p.TimeoutSec,
		&status, &p.Leverage, &direction, &p.LiquidationPrice, &p.EntryPrice,
		&p.OpenTxHash, &p.CloseTxHash, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.Direction = domain.Direction(direction)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, wallet, token_address, opened_at, collateral,
			token_amount, decimals, take_profit, stop_loss, realized_pnl, timeout_sec,
			status, leverage, direction, liquidation_price, entry_price,
			open_tx_hash, close_tx_hash, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Wallet, p.TokenAddress, p.OpenedAt, p.Collateral,
		p.TokenAmount, p.Decimals, p.TakeProfit, p.StopLoss, p.RealizedPnL, p.TimeoutSec,
		string(p.Status), p.Leverage, string(p.Direction), p.LiquidationPrice, p.EntryPrice,
		p.OpenTxHash, p.CloseTxHash, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			token_amount      = $2,
			take_profit       = $3,
			stop_loss         = $4,
			realized_pnl      = $5,
			timeout_sec       = $6,
			status            = $7,
			liquidation_price = $8,
			entry_price       = $9,
			open_tx_hash      = $10,
			close_tx_hash     = $11,
			closed_at         = $12,
			exit_price        = $13,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.TokenAmount, p.TakeProfit, p.StopLoss,
		p.RealizedPnL, p.TimeoutSec, string(p.Status),
		p.LiquidationPrice, p.EntryPrice, p.OpenTxHash, p.CloseTxHash,
		p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByWalletToken returns the live (pending or open) position for a
// wallet/token pair. The partial unique index guarantees at most one.
func (s *PositionStore) GetOpenByWalletToken(ctx context.Context, wallet, token string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE wallet = $1 AND token_address = $2 AND status IN ('pending', 'open')`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, wallet, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get live position %s/%s: %w", wallet, token, err)
	}
	return p, nil
}

// MarkOpen transitions a pending position to open, recording the opening
// transaction hash. The WHERE clause makes the transition conditional;
// zero rows means the position was not pending.
func (s *PositionStore) MarkOpen(ctx context.Context, id, openTxHash string) error {
	const query = `
		UPDATE positions SET
			status       = 'open',
			open_tx_hash = $2,
			opened_at    = NOW(),
			updated_at   = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id, openTxHash)
	if err != nil {
		return fmt.Errorf("postgres: mark open %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("postgres: mark open %s: %w", id, domain.ErrStateConflict)
	}
	return nil
}

// Close applies the terminal patch only if the position is still open.
// The false return is the benign lost-the-race case: some other trigger
// already closed the position.
func (s *PositionStore) Close(ctx context.Context, id string, patch domain.ClosePatch) (bool, error) {
	const query = `
		UPDATE positions SET
			status        = $2,
			exit_price    = $3,
			realized_pnl  = $4,
			close_tx_hash = $5,
			closed_at     = $6,
			updated_at    = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		id, string(patch.Status), patch.ExitPrice, patch.RealizedPnL,
		patch.CloseTxHash, patch.ClosedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOpen returns every open position, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE status = 'open' ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return positions, nil
}

// ListByWallet returns a wallet's positions filtered by status, newest
// first.
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string, statuses []domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE wallet = $1`
	args := []any{wallet}

	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		args = append(args, strs)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	query += " ORDER BY opened_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", wallet, err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", wallet, err)
	}
	return positions, nil
}

// ListTerminal returns closed and liquidated positions, oldest close first,
// optionally bounded by the opts time window.
func (s *PositionStore) ListTerminal(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE status IN ('closed', 'liquidated')`
	var args []any

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND closed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND closed_at < $%d", len(args))
	}

	query += " ORDER BY closed_at"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal positions: %w", err)
	}
	return positions, nil
}
