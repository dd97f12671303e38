package handlers

import (
	"context"
	"math/big"

	"akiba/internal/models"
	"akiba/internal/mpesa"
	"akiba/internal/services"
	"akiba/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string, phone *string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
	SetWalletChallenge(ctx context.Context, tx store.Execer, userID, challenge string) error
	GetWalletChallenge(ctx context.Context, userID string) (string, error)
	BindWallet(ctx context.Context, tx store.Execer, userID, address string) error
	Deactivate(ctx context.Context, tx store.Execer, userID string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type SavingsService interface {
	RequestDeposit(ctx context.Context, req services.DepositRequest) (models.PendingOperation, error)
	RequestWithdrawal(ctx context.Context, req services.WithdrawalRequest) (models.PendingOperation, error)
	CreateGoal(ctx context.Context, req services.GoalRequest) (models.Goal, error)
	ContributeToGoal(ctx context.Context, req services.ContributionRequest) (models.PendingOperation, error)
	CancelGoal(ctx context.Context, userID, goalID string) error
	GetBalance(ctx context.Context, userID string) (models.Balance, error)
	CheckProjection(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error)
	ListPendingOperations(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error)
	GetGoal(ctx context.Context, userID, goalID string) (models.Goal, error)
	ListGoals(ctx context.Context, userID string) ([]models.Goal, error)
}

// PaymentProcessor is the reconciliation entry point the webhook feeds.
type PaymentProcessor interface {
	OnPaymentCallback(ctx context.Context, cb mpesa.Callback) error
}

// LedgerReader exposes the on-chain view of a bound wallet, for display only.
type LedgerReader interface {
	BalanceOf(ctx context.Context, wallet common.Address) (*big.Int, error)
}
