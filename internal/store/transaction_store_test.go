package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"akiba/internal/models"
)

func TestTransactionStoreCreateUnlessRecordedInserts(t *testing.T) {
	ctx := context.Background()
	ref := "0xdeadbeef:0"
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "ON CONFLICT (external_ref) DO NOTHING") {
				t.Fatalf("expected conflict clause: %s", query)
			}
			if len(args) != 10 {
				t.Fatalf("expected 10 args, got %d", len(args))
			}
			return stubResult{rows: 1}, nil
		},
	}
	transactions := NewTransactionStore(stubDB{})
	inserted, err := transactions.CreateUnlessRecorded(ctx, execer, TransactionInput{
		ID:          "tx-1",
		UserID:      "user-1",
		Type:        models.OpCryptoDeposit,
		Status:      models.TxCompleted,
		AmountMinor: 10000,
		ExternalRef: &ref,
		Metadata:    "{}",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Fatalf("expected insert")
	}
}

func TestTransactionStoreCreateUnlessRecordedDuplicate(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, _ string, _ ...any) (sql.Result, error) {
			return stubResult{rows: 0}, nil
		},
	}
	transactions := NewTransactionStore(stubDB{})
	ref := "0xdeadbeef:0"
	inserted, err := transactions.CreateUnlessRecorded(ctx, execer, TransactionInput{ExternalRef: &ref, Metadata: "{}"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate to be suppressed")
	}
}

func TestTransactionStoreGetByExternalRefMissing(t *testing.T) {
	ctx := context.Background()
	transactions := NewTransactionStore(stubDB{
		getFn: func(_ context.Context, _ any, _ string, _ ...any) error {
			return sql.ErrNoRows
		},
	})
	if _, err := transactions.GetByExternalRef(ctx, "0xmissing:0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionStoreListByUserWithType(t *testing.T) {
	ctx := context.Background()
	transactions := NewTransactionStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "AND type = $2") {
				t.Fatalf("expected type filter: %s", query)
			}
			if len(args) != 4 || args[1] != "mpesa_deposit" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]models.Transaction) = []models.Transaction{{ID: "tx-1"}}
			return nil
		},
	})
	rows, err := transactions.ListByUser(ctx, "user-1", "mpesa_deposit", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "tx-1" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestTransactionStoreSumCompletedSignsWithdrawals(t *testing.T) {
	ctx := context.Background()
	transactions := NewTransactionStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "THEN -amount_minor") {
				t.Fatalf("expected withdrawal sign flip: %s", query)
			}
			if !strings.Contains(query, "status = 'completed'") {
				t.Fatalf("expected completed filter: %s", query)
			}
			*dest.(*int64) = 42000
			return nil
		},
	})
	sum, err := transactions.SumCompletedByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 42000 {
		t.Fatalf("expected 42000, got %d", sum)
	}
}
