package services

import (
	"context"
	"errors"
	"sync"

	"akiba/internal/models"
	"akiba/internal/notify"
	"akiba/internal/store"
	"akiba/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubPendingStore struct {
	createFn             func(ctx context.Context, tx store.Execer, input store.PendingOperationInput) error
	getByCorrelationIDFn func(ctx context.Context, correlationID string) (models.PendingOperation, error)
	completeFn           func(ctx context.Context, tx store.Tx, correlationID string, outcome models.OperationStatus, resultDescription string) (models.PendingOperation, error)
	findMatchFn          func(ctx context.Context, kind models.OperationKind, target string, amountMinor, toleranceMinor int64) (models.PendingOperation, error)
	sweepExpiredFn       func(ctx context.Context, limit int) ([]models.PendingOperation, error)
	listByUserFn         func(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error)
	setCorrelationIDFn   func(ctx context.Context, tx store.Execer, id, correlationID string) error
}

func (s stubPendingStore) Create(ctx context.Context, tx store.Execer, input store.PendingOperationInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubPendingStore) GetByCorrelationID(ctx context.Context, correlationID string) (models.PendingOperation, error) {
	if s.getByCorrelationIDFn == nil {
		return models.PendingOperation{}, store.ErrNotFound
	}
	return s.getByCorrelationIDFn(ctx, correlationID)
}

func (s stubPendingStore) Complete(ctx context.Context, tx store.Tx, correlationID string, outcome models.OperationStatus, resultDescription string) (models.PendingOperation, error) {
	if s.completeFn == nil {
		return models.PendingOperation{CorrelationID: correlationID, Status: outcome}, nil
	}
	return s.completeFn(ctx, tx, correlationID, outcome, resultDescription)
}

func (s stubPendingStore) FindMatch(ctx context.Context, kind models.OperationKind, target string, amountMinor, toleranceMinor int64) (models.PendingOperation, error) {
	if s.findMatchFn == nil {
		return models.PendingOperation{}, store.ErrNotFound
	}
	return s.findMatchFn(ctx, kind, target, amountMinor, toleranceMinor)
}

func (s stubPendingStore) SweepExpired(ctx context.Context, limit int) ([]models.PendingOperation, error) {
	if s.sweepExpiredFn == nil {
		return nil, nil
	}
	return s.sweepExpiredFn(ctx, limit)
}

func (s stubPendingStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, limit, offset)
}

func (s stubPendingStore) SetCorrelationID(ctx context.Context, tx store.Execer, id, correlationID string) error {
	if s.setCorrelationIDFn == nil {
		return nil
	}
	return s.setCorrelationIDFn(ctx, tx, id, correlationID)
}

type stubTransactionStore struct {
	createUnlessRecordedFn func(ctx context.Context, tx store.Execer, input store.TransactionInput) (bool, error)
	createFn               func(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	listByUserFn           func(ctx context.Context, userID string, txType string, limit, offset int) ([]models.Transaction, error)
	sumCompletedFn         func(ctx context.Context, userID string) (int64, error)
}

func (s stubTransactionStore) CreateUnlessRecorded(ctx context.Context, tx store.Execer, input store.TransactionInput) (bool, error) {
	if s.createUnlessRecordedFn == nil {
		return true, nil
	}
	return s.createUnlessRecordedFn(ctx, tx, input)
}

func (s stubTransactionStore) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubTransactionStore) ListByUser(ctx context.Context, userID string, txType string, limit, offset int) ([]models.Transaction, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, txType, limit, offset)
}

func (s stubTransactionStore) SumCompletedByUser(ctx context.Context, userID string) (int64, error) {
	if s.sumCompletedFn == nil {
		return 0, nil
	}
	return s.sumCompletedFn(ctx, userID)
}

type stubBalanceStore struct {
	ensureRowFn  func(ctx context.Context, tx store.Execer, userID string) error
	applyDeltaFn func(ctx context.Context, tx store.Tx, userID string, deltaMinor int64) (int64, error)
	getFn        func(ctx context.Context, userID string) (models.Balance, error)
}

func (s stubBalanceStore) EnsureRow(ctx context.Context, tx store.Execer, userID string) error {
	if s.ensureRowFn == nil {
		return nil
	}
	return s.ensureRowFn(ctx, tx, userID)
}

func (s stubBalanceStore) ApplyDelta(ctx context.Context, tx store.Tx, userID string, deltaMinor int64) (int64, error) {
	if s.applyDeltaFn == nil {
		return deltaMinor, nil
	}
	return s.applyDeltaFn(ctx, tx, userID, deltaMinor)
}

func (s stubBalanceStore) Get(ctx context.Context, userID string) (models.Balance, error) {
	if s.getFn == nil {
		return models.Balance{UserID: userID}, nil
	}
	return s.getFn(ctx, userID)
}

type stubGoalStore struct {
	createFn            func(ctx context.Context, tx store.Execer, input store.GoalInput) error
	getForUserFn        func(ctx context.Context, goalID, userID string) (models.Goal, error)
	listByUserFn        func(ctx context.Context, userID string) ([]models.Goal, error)
	applyContributionFn func(ctx context.Context, tx store.Tx, goalID string, amountMinor int64) (models.Goal, error)
	linkChainGoalFn     func(ctx context.Context, tx store.Execer, goalID string, chainGoalID int64) error
	getByChainGoalIDFn  func(ctx context.Context, chainGoalID int64) (models.Goal, error)
	setStatusFn         func(ctx context.Context, tx store.Execer, goalID, userID string, from, to models.GoalStatus) error
}

func (s stubGoalStore) Create(ctx context.Context, tx store.Execer, input store.GoalInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubGoalStore) GetForUser(ctx context.Context, goalID, userID string) (models.Goal, error) {
	if s.getForUserFn == nil {
		return models.Goal{ID: goalID, UserID: userID, Status: models.GoalActive}, nil
	}
	return s.getForUserFn(ctx, goalID, userID)
}

func (s stubGoalStore) ListByUser(ctx context.Context, userID string) ([]models.Goal, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID)
}

func (s stubGoalStore) ApplyContribution(ctx context.Context, tx store.Tx, goalID string, amountMinor int64) (models.Goal, error) {
	if s.applyContributionFn == nil {
		return models.Goal{ID: goalID, Status: models.GoalActive}, nil
	}
	return s.applyContributionFn(ctx, tx, goalID, amountMinor)
}

func (s stubGoalStore) LinkChainGoal(ctx context.Context, tx store.Execer, goalID string, chainGoalID int64) error {
	if s.linkChainGoalFn == nil {
		return nil
	}
	return s.linkChainGoalFn(ctx, tx, goalID, chainGoalID)
}

func (s stubGoalStore) GetByChainGoalID(ctx context.Context, chainGoalID int64) (models.Goal, error) {
	if s.getByChainGoalIDFn == nil {
		return models.Goal{}, store.ErrNotFound
	}
	return s.getByChainGoalIDFn(ctx, chainGoalID)
}

func (s stubGoalStore) SetStatus(ctx context.Context, tx store.Execer, goalID, userID string, from, to models.GoalStatus) error {
	if s.setStatusFn == nil {
		return nil
	}
	return s.setStatusFn(ctx, tx, goalID, userID, from, to)
}

type stubUserStore struct {
	getByIDFn     func(ctx context.Context, userID string) (models.User, error)
	getByWalletFn func(ctx context.Context, address string) (models.User, error)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) GetByWallet(ctx context.Context, address string) (models.User, error) {
	if s.getByWalletFn == nil {
		return models.User{}, store.ErrNotFound
	}
	return s.getByWalletFn(ctx, address)
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

var errCacheMiss = errors.New("miss")

// recordingCache tracks invalidations and serves nothing unless primed.
type recordingCache struct {
	mu           sync.Mutex
	getFn        func(ctx context.Context, key string, dest any) error
	setKeys      []string
	invalidated  []string
	invalidateFn func(ctx context.Context, userID string) error
}

func (c *recordingCache) Get(ctx context.Context, key string, dest any) error {
	if c.getFn == nil {
		return errCacheMiss
	}
	return c.getFn(ctx, key, dest)
}

func (c *recordingCache) Set(ctx context.Context, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setKeys = append(c.setKeys, key)
	return nil
}

func (c *recordingCache) InvalidateUser(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, userID)
	c.mu.Unlock()
	if c.invalidateFn != nil {
		return c.invalidateFn(ctx, userID)
	}
	return nil
}

func (c *recordingCache) invalidations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}

type notified struct {
	userID string
	kind   notify.Kind
	params map[string]string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notified
}

func (n *recordingNotifier) Notify(userID string, kind notify.Kind, params map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notified{userID: userID, kind: kind, params: params})
}

func (n *recordingNotifier) sent() []notified {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notified(nil), n.calls...)
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(userID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

func (h *recordingHub) broadcasts() []websocket.BalanceUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]websocket.BalanceUpdate(nil), h.updates...)
}

type stubGateway struct {
	initiateDepositFn    func(ctx context.Context, phone string, amountMinor int64, reference string) (string, error)
	initiateWithdrawalFn func(ctx context.Context, phone string, amountMinor int64, remark string) (string, error)
}

func (s stubGateway) InitiateDeposit(ctx context.Context, phone string, amountMinor int64, reference string) (string, error) {
	if s.initiateDepositFn == nil {
		return "corr-mpesa", nil
	}
	return s.initiateDepositFn(ctx, phone, amountMinor, reference)
}

func (s stubGateway) InitiateWithdrawal(ctx context.Context, phone string, amountMinor int64, remark string) (string, error) {
	if s.initiateWithdrawalFn == nil {
		return "corr-mpesa", nil
	}
	return s.initiateWithdrawalFn(ctx, phone, amountMinor, remark)
}

type stubLedger struct {
	submitSignedFn func(ctx context.Context, rawTxHex string) (string, error)
}

func (s stubLedger) SubmitSigned(ctx context.Context, rawTxHex string) (string, error) {
	if s.submitSignedFn == nil {
		return "0xhash", nil
	}
	return s.submitSignedFn(ctx, rawTxHex)
}
