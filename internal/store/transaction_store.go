package store

import (
	"context"
	"database/sql"
	"errors"

	"akiba/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

type TransactionInput struct {
	ID          string
	UserID      string
	PendingID   *string
	GoalID      *string
	Type        models.OperationKind
	Status      models.TransactionStatus
	AmountMinor int64
	ExternalRef *string
	Description string
	Metadata    string
}

const transactionColumns = `id, user_id, pending_id, goal_id, type, status, amount_minor, external_ref, description, metadata, created_at`

// CreateUnlessRecorded inserts the transaction unless one with the same
// external reference already exists. The false return is the idempotence
// signal for redelivered chain events and webhooks: the event has already
// been folded into the projection and must not be applied again.
func (s *TransactionStore) CreateUnlessRecorded(ctx context.Context, tx Execer, input TransactionInput) (bool, error) {
	query := `
		INSERT INTO transactions (id, user_id, pending_id, goal_id, type, status, amount_minor, external_ref, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_ref) DO NOTHING
	`
	result, err := tx.ExecContext(ctx, query,
		input.ID, input.UserID, input.PendingID, input.GoalID, input.Type,
		input.Status, input.AmountMinor, input.ExternalRef, input.Description, input.Metadata,
	)
	if err != nil {
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	query := `
		INSERT INTO transactions (id, user_id, pending_id, goal_id, type, status, amount_minor, external_ref, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.UserID, input.PendingID, input.GoalID, input.Type,
		input.Status, input.AmountMinor, input.ExternalRef, input.Description, input.Metadata,
	)
	return err
}

func (s *TransactionStore) GetByExternalRef(ctx context.Context, externalRef string) (models.Transaction, error) {
	var tx models.Transaction
	err := s.db.GetContext(ctx, &tx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE external_ref = $1
	`, externalRef)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, ErrNotFound
	}
	return tx, err
}

func (s *TransactionStore) ListByUser(ctx context.Context, userID string, txType string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
	`
	args := []any{userID}
	if txType != "" {
		query += ` AND type = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, txType, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	err := s.db.SelectContext(ctx, &rows, query, args...)
	return rows, err
}

// SumCompletedByUser folds the completed transaction history into the balance
// the projection should hold: withdrawals are debits, everything else credits.
// Used by the self-check read to surface projection drift.
func (s *TransactionStore) SumCompletedByUser(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(
			CASE WHEN type IN ('crypto_withdrawal', 'mpesa_withdrawal') THEN -amount_minor
			     ELSE amount_minor END
		), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'completed'
	`, userID)
	return sum, err
}
