package handlers

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"akiba/internal/auth"
	"akiba/internal/config"
	"akiba/internal/models"
	"akiba/internal/mpesa"
	"akiba/internal/services"
	"akiba/internal/store"
	"akiba/internal/websocket"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn             func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string, phone *string) error
	getByEmailFn         func(ctx context.Context, email string) (models.User, error)
	getByIDFn            func(ctx context.Context, userID string) (models.User, error)
	setWalletChallengeFn func(ctx context.Context, tx store.Execer, userID, challenge string) error
	getWalletChallengeFn func(ctx context.Context, userID string) (string, error)
	bindWalletFn         func(ctx context.Context, tx store.Execer, userID, address string) error
	deactivateFn         func(ctx context.Context, tx store.Execer, userID string) error
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string, phone *string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash, phone)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, store.ErrNotFound
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) SetWalletChallenge(ctx context.Context, tx store.Execer, userID, challenge string) error {
	if s.setWalletChallengeFn == nil {
		return nil
	}
	return s.setWalletChallengeFn(ctx, tx, userID, challenge)
}

func (s stubUserStore) GetWalletChallenge(ctx context.Context, userID string) (string, error) {
	if s.getWalletChallengeFn == nil {
		return "", store.ErrNotFound
	}
	return s.getWalletChallengeFn(ctx, userID)
}

func (s stubUserStore) BindWallet(ctx context.Context, tx store.Execer, userID, address string) error {
	if s.bindWalletFn == nil {
		return nil
	}
	return s.bindWalletFn(ctx, tx, userID, address)
}

func (s stubUserStore) Deactivate(ctx context.Context, tx store.Execer, userID string) error {
	if s.deactivateFn == nil {
		return nil
	}
	return s.deactivateFn(ctx, tx, userID)
}

type stubAuditStore struct {
	logFn func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

type stubSavingsService struct {
	requestDepositFn    func(ctx context.Context, req services.DepositRequest) (models.PendingOperation, error)
	requestWithdrawalFn func(ctx context.Context, req services.WithdrawalRequest) (models.PendingOperation, error)
	createGoalFn        func(ctx context.Context, req services.GoalRequest) (models.Goal, error)
	contributeFn        func(ctx context.Context, req services.ContributionRequest) (models.PendingOperation, error)
	cancelGoalFn        func(ctx context.Context, userID, goalID string) error
	getBalanceFn        func(ctx context.Context, userID string) (models.Balance, error)
	checkProjectionFn   func(ctx context.Context, userID string) (int64, error)
	listTransactionsFn  func(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error)
	listOperationsFn    func(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error)
	getGoalFn           func(ctx context.Context, userID, goalID string) (models.Goal, error)
	listGoalsFn         func(ctx context.Context, userID string) ([]models.Goal, error)
}

func (s stubSavingsService) RequestDeposit(ctx context.Context, req services.DepositRequest) (models.PendingOperation, error) {
	if s.requestDepositFn == nil {
		return models.PendingOperation{}, nil
	}
	return s.requestDepositFn(ctx, req)
}

func (s stubSavingsService) RequestWithdrawal(ctx context.Context, req services.WithdrawalRequest) (models.PendingOperation, error) {
	if s.requestWithdrawalFn == nil {
		return models.PendingOperation{}, nil
	}
	return s.requestWithdrawalFn(ctx, req)
}

func (s stubSavingsService) CreateGoal(ctx context.Context, req services.GoalRequest) (models.Goal, error) {
	if s.createGoalFn == nil {
		return models.Goal{}, nil
	}
	return s.createGoalFn(ctx, req)
}

func (s stubSavingsService) ContributeToGoal(ctx context.Context, req services.ContributionRequest) (models.PendingOperation, error) {
	if s.contributeFn == nil {
		return models.PendingOperation{}, nil
	}
	return s.contributeFn(ctx, req)
}

func (s stubSavingsService) CancelGoal(ctx context.Context, userID, goalID string) error {
	if s.cancelGoalFn == nil {
		return nil
	}
	return s.cancelGoalFn(ctx, userID, goalID)
}

func (s stubSavingsService) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	if s.getBalanceFn == nil {
		return models.Balance{UserID: userID}, nil
	}
	return s.getBalanceFn(ctx, userID)
}

func (s stubSavingsService) CheckProjection(ctx context.Context, userID string) (int64, error) {
	if s.checkProjectionFn == nil {
		return 0, nil
	}
	return s.checkProjectionFn(ctx, userID)
}

func (s stubSavingsService) ListTransactions(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error) {
	if s.listTransactionsFn == nil {
		return nil, nil
	}
	return s.listTransactionsFn(ctx, userID, txType, limit, offset)
}

func (s stubSavingsService) ListPendingOperations(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error) {
	if s.listOperationsFn == nil {
		return nil, nil
	}
	return s.listOperationsFn(ctx, userID, limit, offset)
}

func (s stubSavingsService) GetGoal(ctx context.Context, userID, goalID string) (models.Goal, error) {
	if s.getGoalFn == nil {
		return models.Goal{}, nil
	}
	return s.getGoalFn(ctx, userID, goalID)
}

func (s stubSavingsService) ListGoals(ctx context.Context, userID string) ([]models.Goal, error) {
	if s.listGoalsFn == nil {
		return nil, nil
	}
	return s.listGoalsFn(ctx, userID)
}

type stubPaymentProcessor struct {
	onCallbackFn func(ctx context.Context, cb mpesa.Callback) error
}

func (s stubPaymentProcessor) OnPaymentCallback(ctx context.Context, cb mpesa.Callback) error {
	if s.onCallbackFn == nil {
		return nil
	}
	return s.onCallbackFn(ctx, cb)
}

type stubLedgerReader struct {
	balanceOfFn func(ctx context.Context, wallet common.Address) (*big.Int, error)
}

func (s stubLedgerReader) BalanceOf(ctx context.Context, wallet common.Address) (*big.Int, error) {
	if s.balanceOfFn == nil {
		return big.NewInt(0), nil
	}
	return s.balanceOfFn(ctx, wallet)
}

func newTestHandler(txRunner fakeTxRunner, users UserStore, audit AuditStore, savings SavingsService, payments PaymentProcessor) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
		TokenDecimals:  18,
	}
	return New(txRunner, cfg, users, audit, savings, payments, stubLedgerReader{}, websocket.NewHub(), zerolog.Nop())
}

func authedRequest(t *testing.T, method, target string, body io.Reader, userID string) *http.Request {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
