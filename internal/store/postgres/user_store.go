package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leverfi/leverbot/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// GetOrCreate returns the user for the wallet address, inserting the row
// on first use.
func (s *UserStore) GetOrCreate(ctx context.Context, wallet string) (domain.User, error) {
	const query = `
		INSERT INTO users (wallet_address)
		VALUES ($1)
		ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
		RETURNING wallet_address, total_pnl, created_at`

	var u domain.User
	err := s.pool.QueryRow(ctx, query, wallet).Scan(&u.WalletAddress, &u.TotalPnL, &u.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get or create user %s: %w", wallet, err)
	}
	return u, nil
}

// Get fetches a user by wallet address.
func (s *UserStore) Get(ctx context.Context, wallet string) (domain.User, error) {
	const query = `SELECT wallet_address, total_pnl, created_at FROM users WHERE wallet_address = $1`

	var u domain.User
	err := s.pool.QueryRow(ctx, query, wallet).Scan(&u.WalletAddress, &u.TotalPnL, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("postgres: user %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", wallet, err)
	}
	return u, nil
}

// AddPnL adds delta to the user's cumulative realized PnL.
func (s *UserStore) AddPnL(ctx context.Context, wallet string, delta float64) error {
	const query = `UPDATE users SET total_pnl = total_pnl + $2 WHERE wallet_address = $1`

	tag, err := s.pool.Exec(ctx, query, wallet, delta)
	if err != nil {
		return fmt.Errorf("postgres: add pnl for %s: %w", wallet, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: add pnl for %s: %w", wallet, domain.ErrNotFound)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
