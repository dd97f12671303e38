package store

import (
	"context"
	"database/sql"
	"errors"

	"akiba/internal/models"
)

type BalanceStore struct {
	db DB
}

func NewBalanceStore(db DB) *BalanceStore {
	return &BalanceStore{db: db}
}

func (s *BalanceStore) EnsureRow(ctx context.Context, tx Execer, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

// ApplyDelta adjusts one user's projected balance in a single guarded
// statement. The guard doubles as the lost-update protection (the increment
// is computed in the database, not from a stale read) and the non-negative
// invariant: a debit past zero matches no row and returns ErrNegativeBalance.
func (s *BalanceStore) ApplyDelta(ctx context.Context, tx Tx, userID string, deltaMinor int64) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE balances
		SET balance_minor = balance_minor + $2, updated_at = NOW()
		WHERE user_id = $1 AND balance_minor + $2 >= 0
		RETURNING balance_minor
	`, userID, deltaMinor)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	var exists bool
	if getErr := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM balances WHERE user_id = $1)`, userID); getErr != nil {
		return 0, getErr
	}
	if !exists {
		return 0, ErrNotFound
	}
	return 0, ErrNegativeBalance
}

func (s *BalanceStore) Get(ctx context.Context, userID string) (models.Balance, error) {
	var balance models.Balance
	err := s.db.GetContext(ctx, &balance, `
		SELECT user_id, balance_minor, updated_at
		FROM balances
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Balance{}, ErrNotFound
	}
	return balance, err
}
