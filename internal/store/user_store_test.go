package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"akiba/internal/models"

	"github.com/lib/pq"
)

func TestUserStoreGetByWalletLowercases(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "LOWER(wallet_address) = LOWER($1)") {
				t.Fatalf("expected case-insensitive match: %s", query)
			}
			if args[0] != "0xAbC" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*models.User) = models.User{ID: "user-1"}
			return nil
		},
	})
	user, err := users.GetByWallet(ctx, "0xAbC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("unexpected user: %#v", user)
	}
}

func TestUserStoreBindWalletConflict(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, _ string, _ ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505", Constraint: "users_wallet_address_key"}
		},
	}
	users := NewUserStore(stubDB{})
	if err := users.BindWallet(ctx, execer, "user-1", "0xabc"); !errors.Is(err, ErrWalletBound) {
		t.Fatalf("expected ErrWalletBound, got %v", err)
	}
}

func TestUserStoreGetWalletChallengeEmpty(t *testing.T) {
	ctx := context.Background()
	users := NewUserStore(stubDB{
		getFn: func(_ context.Context, dest any, _ string, _ ...any) error {
			*dest.(*sql.NullString) = sql.NullString{}
			return nil
		},
	})
	if _, err := users.GetWalletChallenge(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty challenge, got %v", err)
	}
}
