package store

import (
	"context"
	"database/sql"
	"errors"

	"akiba/internal/db"
	"akiba/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, username, email, phone, password_hash, wallet_address, is_active, created_at`

func (s *UserStore) Create(ctx context.Context, tx Execer, id, username, email, passwordHash string, phone *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, phone)
		VALUES ($1, $2, $3, $4, $5)
	`, id, username, email, passwordHash, phone)
	return err
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return user, err
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return user, err
}

// GetByWallet resolves the owner of a bound on-chain address. Chain events
// identify users only by address, so this is the reconciliation engine's
// entry into the user space.
func (s *UserStore) GetByWallet(ctx context.Context, address string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `
		SELECT `+userColumns+` FROM users WHERE LOWER(wallet_address) = LOWER($1)
	`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return user, err
}

func (s *UserStore) SetWalletChallenge(ctx context.Context, tx Execer, userID, challenge string) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET wallet_challenge = $2 WHERE id = $1`, userID, challenge)
	return err
}

func (s *UserStore) GetWalletChallenge(ctx context.Context, userID string) (string, error) {
	var challenge sql.NullString
	err := s.db.GetContext(ctx, &challenge, `SELECT wallet_challenge FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !challenge.Valid || challenge.String == "" {
		return "", ErrNotFound
	}
	return challenge.String, nil
}

// BindWallet records a verified address binding and clears the challenge.
// The unique index on wallet_address enforces at most one owner per address.
func (s *UserStore) BindWallet(ctx context.Context, tx Execer, userID, address string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET wallet_address = $2, wallet_challenge = NULL WHERE id = $1
	`, userID, address)
	if db.IsUniqueViolation(err, "users_wallet_address_key") {
		return ErrWalletBound
	}
	return err
}

func (s *UserStore) Deactivate(ctx context.Context, tx Execer, userID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET is_active = false WHERE id = $1`, userID)
	return err
}
