package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"akiba/internal/db"
	"akiba/internal/models"
)

type PendingStore struct {
	db DB
}

func NewPendingStore(db DB) *PendingStore {
	return &PendingStore{db: db}
}

type PendingOperationInput struct {
	ID            string
	CorrelationID string
	Kind          models.OperationKind
	UserID        string
	AmountMinor   int64
	Target        string
	GoalID        *string
	ExpiresAt     time.Time
}

const pendingColumns = `id, correlation_id, kind, user_id, amount_minor, target, goal_id, status, result_description, created_at, expires_at, settled_at`

func (s *PendingStore) Create(ctx context.Context, tx Execer, input PendingOperationInput) error {
	query := `
		INSERT INTO pending_operations (id, correlation_id, kind, user_id, amount_minor, target, goal_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.CorrelationID, input.Kind, input.UserID,
		input.AmountMinor, input.Target, input.GoalID, input.ExpiresAt,
	)
	if db.IsUniqueViolation(err, "pending_operations_correlation_id_key") {
		return ErrDuplicateCorrelation
	}
	return err
}

func (s *PendingStore) GetByCorrelationID(ctx context.Context, correlationID string) (models.PendingOperation, error) {
	var op models.PendingOperation
	err := s.db.GetContext(ctx, &op, `
		SELECT `+pendingColumns+`
		FROM pending_operations
		WHERE correlation_id = $1
	`, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingOperation{}, ErrNotFound
	}
	return op, err
}

func (s *PendingStore) GetByID(ctx context.Context, id string) (models.PendingOperation, error) {
	var op models.PendingOperation
	err := s.db.GetContext(ctx, &op, `
		SELECT `+pendingColumns+`
		FROM pending_operations
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingOperation{}, ErrNotFound
	}
	return op, err
}

// SetCorrelationID rebinds a pending entry to the provider-assigned
// correlation id once the dispatch response carries one.
func (s *PendingStore) SetCorrelationID(ctx context.Context, tx Execer, id, correlationID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE pending_operations SET correlation_id = $2
		WHERE id = $1 AND status = 'pending'
	`, id, correlationID)
	if db.IsUniqueViolation(err, "pending_operations_correlation_id_key") {
		return ErrDuplicateCorrelation
	}
	return err
}

// Complete transitions a pending entry to the given terminal outcome. The
// status guard makes the transition first-writer-wins: if the entry was
// already settled (duplicate webhook, concurrent sweep) the existing terminal
// record is returned together with ErrAlreadyTerminal so callers can treat
// the redelivery as a no-op.
func (s *PendingStore) Complete(ctx context.Context, tx Tx, correlationID string, outcome models.OperationStatus, resultDescription string) (models.PendingOperation, error) {
	var op models.PendingOperation
	err := tx.GetContext(ctx, &op, `
		UPDATE pending_operations
		SET status = $2, result_description = $3, settled_at = NOW()
		WHERE correlation_id = $1 AND status = 'pending'
		RETURNING `+pendingColumns+`
	`, correlationID, outcome, resultDescription)
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.PendingOperation{}, err
	}
	existing, getErr := s.GetByCorrelationID(ctx, correlationID)
	if getErr != nil {
		return models.PendingOperation{}, getErr
	}
	return existing, ErrAlreadyTerminal
}

// FindMatch locates the oldest pending entry for the same kind and target
// whose amount agrees within toleranceMinor. Used to correlate chain events
// back to operations this backend initiated.
func (s *PendingStore) FindMatch(ctx context.Context, kind models.OperationKind, target string, amountMinor, toleranceMinor int64) (models.PendingOperation, error) {
	var op models.PendingOperation
	err := s.db.GetContext(ctx, &op, `
		SELECT `+pendingColumns+`
		FROM pending_operations
		WHERE status = 'pending'
		  AND kind = $1
		  AND LOWER(target) = LOWER($2)
		  AND ABS(amount_minor - $3) <= $4
		ORDER BY created_at ASC
		LIMIT 1
	`, kind, target, amountMinor, toleranceMinor)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingOperation{}, ErrNotFound
	}
	return op, err
}

// SweepExpired atomically claims up to limit overdue pending entries and
// transitions them to expired. SKIP LOCKED keeps concurrent sweepers from
// claiming the same row, so each entry is expired at most once.
func (s *PendingStore) SweepExpired(ctx context.Context, limit int) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	err := s.db.SelectContext(ctx, &ops, `
		UPDATE pending_operations
		SET status = 'expired', settled_at = NOW()
		WHERE id IN (
			SELECT id FROM pending_operations
			WHERE status = 'pending' AND expires_at <= NOW()
			ORDER BY expires_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+pendingColumns+`
	`, limit)
	return ops, err
}

func (s *PendingStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	err := s.db.SelectContext(ctx, &ops, `
		SELECT `+pendingColumns+`
		FROM pending_operations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return ops, err
}
