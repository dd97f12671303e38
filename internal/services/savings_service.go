package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"akiba/internal/cache"
	"akiba/internal/db"
	"akiba/internal/models"
	"akiba/internal/money"
	"akiba/internal/store"
	"akiba/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrUnknownMethod     = errors.New("unknown payment method")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoWalletBound     = errors.New("no wallet address bound")
	ErrMissingPhone      = errors.New("phone number required")
	ErrMissingSignedTx   = errors.New("signed transaction required")
	ErrExternalCall      = errors.New("external call failed")
	ErrInvalidGoal       = errors.New("invalid goal")
)

type Method string

const (
	MethodMpesa  Method = "mpesa"
	MethodCrypto Method = "crypto"
)

type PaymentGateway interface {
	InitiateDeposit(ctx context.Context, phone string, amountMinor int64, reference string) (string, error)
	InitiateWithdrawal(ctx context.Context, phone string, amountMinor int64, remark string) (string, error)
}

type LedgerClient interface {
	SubmitSigned(ctx context.Context, rawTxHex string) (string, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type PendingRebinder interface {
	SetCorrelationID(ctx context.Context, tx store.Execer, id, correlationID string) error
}

// SavingsService is the request-side surface: it persists the pending record,
// dispatches the external call, and leaves settlement to the reconciler. The
// original request never waits for the settlement outcome.
type SavingsService struct {
	txRunner     db.TxRunner
	pending      PendingStore
	rebinder     PendingRebinder
	transactions TransactionStore
	balances     BalanceStore
	goals        GoalStore
	users        UserStore
	audits       AuditStore
	cache        ReadCache
	gateway      PaymentGateway
	ledger       LedgerClient
	pendingTTL   time.Duration
	log          zerolog.Logger
}

func NewSavingsService(
	txRunner db.TxRunner,
	pending PendingStore,
	rebinder PendingRebinder,
	transactions TransactionStore,
	balances BalanceStore,
	goals GoalStore,
	users UserStore,
	audits AuditStore,
	readCache ReadCache,
	gateway PaymentGateway,
	ledger LedgerClient,
	pendingTTL time.Duration,
	log zerolog.Logger,
) *SavingsService {
	return &SavingsService{
		txRunner:     txRunner,
		pending:      pending,
		rebinder:     rebinder,
		transactions: transactions,
		balances:     balances,
		goals:        goals,
		users:        users,
		audits:       audits,
		cache:        readCache,
		gateway:      gateway,
		ledger:       ledger,
		pendingTTL:   pendingTTL,
		log:          log.With().Str("component", "savings").Logger(),
	}
}

type DepositRequest struct {
	UserID      string
	Method      Method
	AmountMinor int64
	Phone       string
	SignedTx    string
	GoalID      *string
}

// RequestDeposit records the pending operation and dispatches the rail-side
// call. Success means "accepted for settlement", not "settled".
func (s *SavingsService) RequestDeposit(ctx context.Context, req DepositRequest) (models.PendingOperation, error) {
	if req.AmountMinor <= 0 {
		return models.PendingOperation{}, ErrInvalidAmount
	}
	if req.GoalID != nil {
		goal, err := s.goals.GetForUser(ctx, *req.GoalID, req.UserID)
		if err != nil {
			return models.PendingOperation{}, ErrInvalidGoal
		}
		if goal.Status != models.GoalActive {
			return models.PendingOperation{}, fmt.Errorf("%w: goal is %s", ErrInvalidGoal, goal.Status)
		}
	}
	switch req.Method {
	case MethodMpesa:
		if req.Phone == "" {
			return models.PendingOperation{}, ErrMissingPhone
		}
		if err := validator.ValidatePhone(req.Phone); err != nil {
			return models.PendingOperation{}, err
		}
		return s.dispatch(ctx, dispatchInput{
			userID: req.UserID,
			kind:   models.OpMpesaDeposit,
			amount: req.AmountMinor,
			target: req.Phone,
			goalID: req.GoalID,
			call: func(ctx context.Context, op models.PendingOperation) (string, error) {
				return s.gateway.InitiateDeposit(ctx, req.Phone, req.AmountMinor, op.ID)
			},
		})
	case MethodCrypto:
		if req.SignedTx == "" {
			return models.PendingOperation{}, ErrMissingSignedTx
		}
		wallet, err := s.boundWallet(ctx, req.UserID)
		if err != nil {
			return models.PendingOperation{}, err
		}
		kind := models.OpCryptoDeposit
		if req.GoalID != nil {
			kind = models.OpGoalContribution
		}
		return s.dispatch(ctx, dispatchInput{
			userID: req.UserID,
			kind:   kind,
			amount: req.AmountMinor,
			target: wallet,
			goalID: req.GoalID,
			call: func(ctx context.Context, op models.PendingOperation) (string, error) {
				return s.ledger.SubmitSigned(ctx, req.SignedTx)
			},
		})
	default:
		return models.PendingOperation{}, ErrUnknownMethod
	}
}

type WithdrawalRequest struct {
	UserID      string
	Method      Method
	AmountMinor int64
	Phone       string
	SignedTx    string
}

// RequestWithdrawal pre-checks the projected balance before dispatching. The
// reconciler re-checks under the atomic unit at settlement, so the pre-check
// is a fast rejection, not the invariant.
func (s *SavingsService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (models.PendingOperation, error) {
	if req.AmountMinor <= 0 {
		return models.PendingOperation{}, ErrInvalidAmount
	}
	balance, err := s.balances.Get(ctx, req.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return models.PendingOperation{}, err
	}
	if balance.BalanceMinor < req.AmountMinor {
		return models.PendingOperation{}, ErrInsufficientFunds
	}
	switch req.Method {
	case MethodMpesa:
		if req.Phone == "" {
			return models.PendingOperation{}, ErrMissingPhone
		}
		if err := validator.ValidatePhone(req.Phone); err != nil {
			return models.PendingOperation{}, err
		}
		return s.dispatch(ctx, dispatchInput{
			userID: req.UserID,
			kind:   models.OpMpesaWithdrawal,
			amount: req.AmountMinor,
			target: req.Phone,
			call: func(ctx context.Context, op models.PendingOperation) (string, error) {
				return s.gateway.InitiateWithdrawal(ctx, req.Phone, req.AmountMinor, "savings withdrawal")
			},
		})
	case MethodCrypto:
		if req.SignedTx == "" {
			return models.PendingOperation{}, ErrMissingSignedTx
		}
		wallet, err := s.boundWallet(ctx, req.UserID)
		if err != nil {
			return models.PendingOperation{}, err
		}
		return s.dispatch(ctx, dispatchInput{
			userID: req.UserID,
			kind:   models.OpCryptoWithdrawal,
			amount: req.AmountMinor,
			target: wallet,
			call: func(ctx context.Context, op models.PendingOperation) (string, error) {
				return s.ledger.SubmitSigned(ctx, req.SignedTx)
			},
		})
	default:
		return models.PendingOperation{}, ErrUnknownMethod
	}
}

type dispatchInput struct {
	userID string
	kind   models.OperationKind
	amount int64
	target string
	goalID *string
	call   func(ctx context.Context, op models.PendingOperation) (string, error)
}

// dispatch persists the pending entry first, then makes the external call.
// A dispatch failure settles the entry as failed immediately with a failed
// transaction; the requester learns the outcome synchronously in that case.
func (s *SavingsService) dispatch(ctx context.Context, input dispatchInput) (models.PendingOperation, error) {
	op := models.PendingOperation{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Kind:          input.kind,
		UserID:        input.userID,
		AmountMinor:   input.amount,
		Target:        input.target,
		GoalID:        input.goalID,
		Status:        models.OpPending,
		ExpiresAt:     time.Now().Add(s.pendingTTL),
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.pending.Create(ctx, tx, store.PendingOperationInput{
			ID:            op.ID,
			CorrelationID: op.CorrelationID,
			Kind:          op.Kind,
			UserID:        op.UserID,
			AmountMinor:   op.AmountMinor,
			Target:        op.Target,
			GoalID:        op.GoalID,
			ExpiresAt:     op.ExpiresAt,
		}); err != nil {
			return err
		}
		return s.audits.Log(ctx, tx, op.UserID, "operation.requested", "pending_operation", op.ID,
			fmt.Sprintf(`{"kind":%q,"amount":%q}`, op.Kind, money.FormatMinor(op.AmountMinor)))
	})
	if err != nil {
		return models.PendingOperation{}, err
	}

	correlationID, callErr := input.call(ctx, op)
	if callErr != nil {
		s.markDispatchFailed(ctx, op, callErr)
		return models.PendingOperation{}, fmt.Errorf("%w: %v", ErrExternalCall, callErr)
	}
	if correlationID != "" && correlationID != op.CorrelationID {
		err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			return s.rebinder.SetCorrelationID(ctx, tx, op.ID, correlationID)
		})
		if err != nil {
			// The dispatch went out; losing the rebind means the callback
			// cannot match, so surface it rather than strand the operation.
			s.log.Error().Err(err).Str("pending_id", op.ID).Msg("rebinding correlation id")
			return models.PendingOperation{}, err
		}
		op.CorrelationID = correlationID
	}
	return op, nil
}

func (s *SavingsService) markDispatchFailed(ctx context.Context, op models.PendingOperation, cause error) {
	reason := "external call failed: " + cause.Error()
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.pending.Complete(ctx, tx, op.CorrelationID, models.OpFailed, reason); err != nil && !errors.Is(err, store.ErrAlreadyTerminal) {
			return err
		}
		return s.transactions.Create(ctx, tx, store.TransactionInput{
			ID:          uuid.NewString(),
			UserID:      op.UserID,
			PendingID:   &op.ID,
			GoalID:      op.GoalID,
			Type:        op.Kind,
			Status:      models.TxFailed,
			AmountMinor: op.AmountMinor,
			Description: reason,
			Metadata:    "{}",
		})
	})
	if err != nil {
		s.log.Error().Err(err).Str("pending_id", op.ID).Msg("recording dispatch failure")
	}
}

type GoalRequest struct {
	UserID      string
	Name        string
	TargetMinor int64
	Deadline    time.Time
}

func (s *SavingsService) CreateGoal(ctx context.Context, req GoalRequest) (models.Goal, error) {
	if err := validator.ValidateGoalName(req.Name); err != nil {
		return models.Goal{}, fmt.Errorf("%w: %s", ErrInvalidGoal, err)
	}
	if req.TargetMinor <= 0 {
		return models.Goal{}, ErrInvalidGoal
	}
	if !req.Deadline.After(time.Now()) {
		return models.Goal{}, fmt.Errorf("%w: deadline must be in the future", ErrInvalidGoal)
	}
	goalID := uuid.NewString()
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.goals.Create(ctx, tx, store.GoalInput{
			ID:          goalID,
			UserID:      req.UserID,
			Name:        req.Name,
			TargetMinor: req.TargetMinor,
			Deadline:    req.Deadline,
		}); err != nil {
			return err
		}
		return s.audits.Log(ctx, tx, req.UserID, "goal.created", "goal", goalID,
			fmt.Sprintf(`{"target":%q}`, money.FormatMinor(req.TargetMinor)))
	})
	if err != nil {
		return models.Goal{}, err
	}
	if err := s.cache.InvalidateUser(ctx, req.UserID); err != nil {
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("cache invalidation failed")
	}
	return s.goals.GetForUser(ctx, goalID, req.UserID)
}

type ContributionRequest struct {
	UserID      string
	GoalID      string
	AmountMinor int64
	Method      Method
	Phone       string
	SignedTx    string
}

// ContributeToGoal funds a goal over either rail. The goal's progress only
// moves at settlement, when the reconciler applies the matched event.
func (s *SavingsService) ContributeToGoal(ctx context.Context, req ContributionRequest) (models.PendingOperation, error) {
	goalID := req.GoalID
	deposit := DepositRequest{
		UserID:      req.UserID,
		Method:      req.Method,
		AmountMinor: req.AmountMinor,
		Phone:       req.Phone,
		SignedTx:    req.SignedTx,
		GoalID:      &goalID,
	}
	return s.RequestDeposit(ctx, deposit)
}

func (s *SavingsService) CancelGoal(ctx context.Context, userID, goalID string) error {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.goals.SetStatus(ctx, tx, goalID, userID, models.GoalActive, models.GoalCancelled); err != nil {
			return err
		}
		return s.audits.Log(ctx, tx, userID, "goal.cancelled", "goal", goalID, "{}")
	})
	if err != nil {
		return err
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("cache invalidation failed")
	}
	return nil
}

// GetBalance reads through the cache. On a miss the projection row is read
// and the cache refilled; a user with no row yet reads as zero.
func (s *SavingsService) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	key := cache.BalanceKey(userID)
	var cached models.Balance
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}
	balance, err := s.balances.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		balance = models.Balance{UserID: userID}
		err = nil
	}
	if err != nil {
		return models.Balance{}, err
	}
	if err := s.cache.Set(ctx, key, balance); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("cache refill failed")
	}
	return balance, nil
}

// CheckProjection compares the balance projection against the fold of
// completed transactions and reports the difference. Zero means consistent.
func (s *SavingsService) CheckProjection(ctx context.Context, userID string) (int64, error) {
	balance, err := s.balances.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		balance = models.Balance{UserID: userID}
	} else if err != nil {
		return 0, err
	}
	sum, err := s.transactions.SumCompletedByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	drift := balance.BalanceMinor - sum
	if drift != 0 {
		s.log.Warn().Str("user_id", userID).Int64("drift_minor", drift).Msg("balance projection drift")
	}
	return drift, nil
}

func (s *SavingsService) ListTransactions(ctx context.Context, userID, txType string, limit, offset int) ([]models.Transaction, error) {
	limit, offset = clampPage(limit, offset)
	key := cache.TransactionsKey(userID, txType, limit, offset)
	var cached []models.Transaction
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}
	rows, err := s.transactions.ListByUser(ctx, userID, txType, limit, offset)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.Transaction{}
	}
	if err := s.cache.Set(ctx, key, rows); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("cache refill failed")
	}
	return rows, nil
}

func (s *SavingsService) ListPendingOperations(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error) {
	limit, offset = clampPage(limit, offset)
	ops, err := s.pending.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []models.PendingOperation{}
	}
	return ops, nil
}

func (s *SavingsService) GetGoal(ctx context.Context, userID, goalID string) (models.Goal, error) {
	goal, err := s.goals.GetForUser(ctx, goalID, userID)
	if err != nil {
		return models.Goal{}, err
	}
	return presentGoal(goal), nil
}

func (s *SavingsService) ListGoals(ctx context.Context, userID string) ([]models.Goal, error) {
	key := cache.GoalsKey(userID)
	var cached []models.Goal
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}
	goals, err := s.goals.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	presented := make([]models.Goal, 0, len(goals))
	for _, goal := range goals {
		presented = append(presented, presentGoal(goal))
	}
	if err := s.cache.Set(ctx, key, presented); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("cache refill failed")
	}
	return presented, nil
}

func (s *SavingsService) boundWallet(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.WalletAddress == nil || *user.WalletAddress == "" {
		return "", ErrNoWalletBound
	}
	return *user.WalletAddress, nil
}

// presentGoal clamps the displayed progress at the target. The raw sum stays
// in the row; only the view is clamped.
func presentGoal(goal models.Goal) models.Goal {
	if goal.CurrentMinor > goal.TargetMinor {
		goal.CurrentMinor = goal.TargetMinor
	}
	return goal
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
