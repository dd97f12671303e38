package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
)

func TestBalanceStoreApplyDelta(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "balance_minor + $2 >= 0") {
				t.Fatalf("expected non-negative guard: %s", query)
			}
			if args[0] != "user-1" || args[1] != int64(-5000) {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*int64) = 5000
			return nil
		},
	}
	balances := NewBalanceStore(stubDB{})
	balance, err := balances.ApplyDelta(ctx, tx, "user-1", -5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 5000 {
		t.Fatalf("expected balance 5000, got %d", balance)
	}
}

func TestBalanceStoreApplyDeltaNegativeBalance(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		getFn: func(_ context.Context, dest any, query string, _ ...any) error {
			if strings.Contains(query, "UPDATE balances") {
				return sql.ErrNoRows
			}
			*dest.(*bool) = true
			return nil
		},
	}
	balances := NewBalanceStore(stubDB{})
	if _, err := balances.ApplyDelta(ctx, tx, "user-1", -1000000); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
}

func TestBalanceStoreApplyDeltaMissingRow(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		getFn: func(_ context.Context, dest any, query string, _ ...any) error {
			if strings.Contains(query, "UPDATE balances") {
				return sql.ErrNoRows
			}
			*dest.(*bool) = false
			return nil
		},
	}
	balances := NewBalanceStore(stubDB{})
	if _, err := balances.ApplyDelta(ctx, tx, "user-ghost", 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBalanceStoreEnsureRowIdempotent(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "ON CONFLICT (user_id) DO NOTHING") {
				t.Fatalf("expected conflict clause: %s", query)
			}
			if len(args) != 1 || args[0] != "user-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{}, nil
		},
	}
	balances := NewBalanceStore(stubDB{})
	if err := balances.EnsureRow(ctx, execer, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
