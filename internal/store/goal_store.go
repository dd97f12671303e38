package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"akiba/internal/models"
)

type GoalStore struct {
	db DB
}

func NewGoalStore(db DB) *GoalStore {
	return &GoalStore{db: db}
}

type GoalInput struct {
	ID          string
	UserID      string
	Name        string
	TargetMinor int64
	Deadline    time.Time
}

const goalColumns = `id, user_id, name, target_minor, current_minor, deadline, status, chain_goal_id, created_at, completed_at`

func (s *GoalStore) Create(ctx context.Context, tx Execer, input GoalInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, name, target_minor, deadline)
		VALUES ($1, $2, $3, $4, $5)
	`, input.ID, input.UserID, input.Name, input.TargetMinor, input.Deadline)
	return err
}

func (s *GoalStore) GetByID(ctx context.Context, goalID string) (models.Goal, error) {
	var goal models.Goal
	err := s.db.GetContext(ctx, &goal, `
		SELECT `+goalColumns+` FROM goals WHERE id = $1
	`, goalID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Goal{}, ErrNotFound
	}
	return goal, err
}

func (s *GoalStore) GetForUser(ctx context.Context, goalID, userID string) (models.Goal, error) {
	var goal models.Goal
	err := s.db.GetContext(ctx, &goal, `
		SELECT `+goalColumns+` FROM goals WHERE id = $1 AND user_id = $2
	`, goalID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Goal{}, ErrNotFound
	}
	return goal, err
}

func (s *GoalStore) ListByUser(ctx context.Context, userID string) ([]models.Goal, error) {
	var goals []models.Goal
	err := s.db.SelectContext(ctx, &goals, `
		SELECT `+goalColumns+` FROM goals
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	return goals, err
}

// ApplyContribution increments goal progress and evaluates completion in the
// same statement, guarded on the goal still being active. The CASE flip is
// what makes the active->completed transition fire exactly once: a second
// contribution lands on a completed goal, matches no row and fails with
// ErrGoalNotActive.
func (s *GoalStore) ApplyContribution(ctx context.Context, tx Tx, goalID string, amountMinor int64) (models.Goal, error) {
	var goal models.Goal
	err := tx.GetContext(ctx, &goal, `
		UPDATE goals
		SET current_minor = current_minor + $2,
		    status = CASE WHEN current_minor + $2 >= target_minor THEN 'completed' ELSE status END,
		    completed_at = CASE WHEN current_minor + $2 >= target_minor THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = 'active'
		RETURNING `+goalColumns+`
	`, goalID, amountMinor)
	if err == nil {
		return goal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Goal{}, err
	}
	existing, getErr := s.GetByID(ctx, goalID)
	if getErr != nil {
		return models.Goal{}, getErr
	}
	return existing, ErrGoalNotActive
}

func (s *GoalStore) LinkChainGoal(ctx context.Context, tx Execer, goalID string, chainGoalID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE goals SET chain_goal_id = $2 WHERE id = $1
	`, goalID, chainGoalID)
	return err
}

func (s *GoalStore) GetByChainGoalID(ctx context.Context, chainGoalID int64) (models.Goal, error) {
	var goal models.Goal
	err := s.db.GetContext(ctx, &goal, `
		SELECT `+goalColumns+` FROM goals WHERE chain_goal_id = $1
	`, chainGoalID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Goal{}, ErrNotFound
	}
	return goal, err
}

// SetStatus moves a goal between non-progress states (pause, resume, cancel).
// The from guard rejects transitions off a terminal status.
func (s *GoalStore) SetStatus(ctx context.Context, tx Execer, goalID, userID string, from, to models.GoalStatus) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE goals SET status = $4
		WHERE id = $1 AND user_id = $2 AND status = $3
	`, goalID, userID, from, to)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrGoalNotActive
	}
	return nil
}
