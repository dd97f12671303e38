package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"akiba/internal/models"
)

func TestGoalStoreApplyContribution(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "status = 'active'") {
				t.Fatalf("expected active guard: %s", query)
			}
			if !strings.Contains(query, "current_minor + $2 >= target_minor") {
				t.Fatalf("expected completion evaluation: %s", query)
			}
			if args[0] != "goal-1" || args[1] != int64(10000) {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*models.Goal) = models.Goal{
				ID:           "goal-1",
				TargetMinor:  50000,
				CurrentMinor: 55000,
				Status:       models.GoalCompleted,
			}
			return nil
		},
	}
	goals := NewGoalStore(stubDB{})
	goal, err := goals.ApplyContribution(ctx, tx, "goal-1", 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if goal.Status != models.GoalCompleted {
		t.Fatalf("expected completed goal, got %#v", goal)
	}
}

func TestGoalStoreApplyContributionNotActive(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		getFn: func(_ context.Context, _ any, _ string, _ ...any) error {
			return sql.ErrNoRows
		},
	}
	goals := NewGoalStore(stubDB{
		getFn: func(_ context.Context, dest any, _ string, _ ...any) error {
			*dest.(*models.Goal) = models.Goal{ID: "goal-1", Status: models.GoalCompleted}
			return nil
		},
	})
	goal, err := goals.ApplyContribution(ctx, tx, "goal-1", 10000)
	if !errors.Is(err, ErrGoalNotActive) {
		t.Fatalf("expected ErrGoalNotActive, got %v", err)
	}
	if goal.Status != models.GoalCompleted {
		t.Fatalf("expected existing goal back, got %#v", goal)
	}
}

func TestGoalStoreSetStatusGuardsTransition(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "AND status = $3") {
				t.Fatalf("expected from-status guard: %s", query)
			}
			if args[2] != models.GoalActive || args[3] != models.GoalPaused {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 0}, nil
		},
	}
	goals := NewGoalStore(stubDB{})
	if err := goals.SetStatus(ctx, execer, "goal-1", "user-1", models.GoalActive, models.GoalPaused); !errors.Is(err, ErrGoalNotActive) {
		t.Fatalf("expected ErrGoalNotActive, got %v", err)
	}
}
