package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"akiba/internal/chain"
	"akiba/internal/db"
	"akiba/internal/models"
	"akiba/internal/money"
	"akiba/internal/mpesa"
	"akiba/internal/notify"
	"akiba/internal/retry"
	"akiba/internal/store"
	"akiba/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// matchToleranceMinor absorbs rounding drift between an initiated amount and
// the amount the chain reports back (token-unit conversion rounds to cents).
const matchToleranceMinor = 100

// errDuplicateDelivery aborts the atomic unit when the idempotence guard
// finds the event already folded in. Never surfaced to callers.
var errDuplicateDelivery = errors.New("delivery already recorded")

type PendingStore interface {
	Create(ctx context.Context, tx store.Execer, input store.PendingOperationInput) error
	GetByCorrelationID(ctx context.Context, correlationID string) (models.PendingOperation, error)
	Complete(ctx context.Context, tx store.Tx, correlationID string, outcome models.OperationStatus, resultDescription string) (models.PendingOperation, error)
	FindMatch(ctx context.Context, kind models.OperationKind, target string, amountMinor, toleranceMinor int64) (models.PendingOperation, error)
	SweepExpired(ctx context.Context, limit int) ([]models.PendingOperation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PendingOperation, error)
}

type TransactionStore interface {
	CreateUnlessRecorded(ctx context.Context, tx store.Execer, input store.TransactionInput) (bool, error)
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	ListByUser(ctx context.Context, userID string, txType string, limit, offset int) ([]models.Transaction, error)
	SumCompletedByUser(ctx context.Context, userID string) (int64, error)
}

type BalanceStore interface {
	EnsureRow(ctx context.Context, tx store.Execer, userID string) error
	ApplyDelta(ctx context.Context, tx store.Tx, userID string, deltaMinor int64) (int64, error)
	Get(ctx context.Context, userID string) (models.Balance, error)
}

type GoalStore interface {
	Create(ctx context.Context, tx store.Execer, input store.GoalInput) error
	GetForUser(ctx context.Context, goalID, userID string) (models.Goal, error)
	ListByUser(ctx context.Context, userID string) ([]models.Goal, error)
	ApplyContribution(ctx context.Context, tx store.Tx, goalID string, amountMinor int64) (models.Goal, error)
	LinkChainGoal(ctx context.Context, tx store.Execer, goalID string, chainGoalID int64) error
	GetByChainGoalID(ctx context.Context, chainGoalID int64) (models.Goal, error)
	SetStatus(ctx context.Context, tx store.Execer, goalID, userID string, from, to models.GoalStatus) error
}

type UserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetByWallet(ctx context.Context, address string) (models.User, error)
}

type ReadCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	InvalidateUser(ctx context.Context, userID string) error
}

type Notifier interface {
	Notify(userID string, kind notify.Kind, params map[string]string)
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

// Reconciler is the single authority over money state. Ledger events and
// payment callbacks both funnel through it; nothing else writes balances,
// goal progress or transactions.
type Reconciler struct {
	txRunner      db.TxRunner
	pending       PendingStore
	transactions  TransactionStore
	balances      BalanceStore
	goals         GoalStore
	users         UserStore
	cache         ReadCache
	notifier      Notifier
	hub           BalanceHub
	storageRetry  retry.Policy
	tokenDecimals int32
	log           zerolog.Logger
}

func NewReconciler(
	txRunner db.TxRunner,
	pending PendingStore,
	transactions TransactionStore,
	balances BalanceStore,
	goals GoalStore,
	users UserStore,
	cache ReadCache,
	notifier Notifier,
	hub BalanceHub,
	tokenDecimals int32,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		txRunner:      txRunner,
		pending:       pending,
		transactions:  transactions,
		balances:      balances,
		goals:         goals,
		users:         users,
		cache:         cache,
		notifier:      notifier,
		hub:           hub,
		storageRetry:  retry.DefaultStorage(),
		tokenDecimals: tokenDecimals,
		log:           log.With().Str("component", "reconciler").Logger(),
	}
}

// OnLedgerEvent folds one decoded contract event into the projection. Safe
// under at-least-once delivery: the transaction insert keyed on the event's
// external reference is the redelivery guard, and everything durable commits
// in one serializable unit.
func (r *Reconciler) OnLedgerEvent(ctx context.Context, event chain.Event) error {
	switch event.Type {
	case chain.EventGoalCreated:
		r.log.Info().Str("wallet", event.User.Hex()).Str("ref", event.ExternalRef()).
			Msg("goal created on chain")
		return nil
	case chain.EventGoalCompleted:
		return r.onChainGoalCompleted(ctx, event)
	}

	amountMinor, err := money.TokenToMinor(event.Amount, r.tokenDecimals)
	if err != nil {
		return fmt.Errorf("convert event amount: %w", err)
	}
	user, err := r.users.GetByWallet(ctx, event.User.Hex())
	if errors.Is(err, store.ErrNotFound) {
		// A wallet this backend never bound. Nothing to attribute it to.
		r.log.Warn().Str("wallet", event.User.Hex()).Str("ref", event.ExternalRef()).
			Msg("ledger event for unbound wallet, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	kind, delta := classifyLedgerEvent(event.Type, amountMinor)
	matched, err := r.pending.FindMatch(ctx, kind, event.User.Hex(), amountMinor, matchToleranceMinor)
	hasMatch := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	ref := event.ExternalRef()
	input := store.TransactionInput{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Type:        kind,
		Status:      models.TxCompleted,
		AmountMinor: amountMinor,
		ExternalRef: &ref,
		Metadata:    "{}",
	}
	if hasMatch {
		input.PendingID = &matched.ID
		input.GoalID = matched.GoalID
		input.Description = "settled on chain"
	} else {
		input.Description = "external chain movement"
	}

	var completedGoal *models.Goal
	err = r.runDurable(ctx, func(tx *sqlx.Tx) error {
		inserted, err := r.transactions.CreateUnlessRecorded(ctx, tx, input)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateDelivery
		}
		if err := r.balances.EnsureRow(ctx, tx, user.ID); err != nil {
			return err
		}
		if _, err := r.balances.ApplyDelta(ctx, tx, user.ID, delta); err != nil {
			return err
		}
		if event.Type == chain.EventGoalContribution {
			goal, err := r.applyGoalDelta(ctx, tx, event, matched, hasMatch, amountMinor)
			if err != nil {
				return err
			}
			completedGoal = goal
		}
		if hasMatch {
			if _, err := r.pending.Complete(ctx, tx, matched.CorrelationID, models.OpCompleted, "settled on chain"); err != nil && !errors.Is(err, store.ErrAlreadyTerminal) {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errDuplicateDelivery) {
		r.log.Info().Str("ref", ref).Msg("duplicate ledger event, ignoring")
		return nil
	}
	if errors.Is(err, store.ErrNegativeBalance) {
		return r.recordRejectedSettlement(ctx, user.ID, input, matched, hasMatch, "projected balance would go negative")
	}
	if err != nil {
		r.log.Error().Err(err).Str("ref", ref).Str("user_id", user.ID).
			Msg("ledger event settlement failed after retries")
		return err
	}

	r.afterSettlement(ctx, user.ID, "chain")
	r.notifier.Notify(user.ID, settlementKind(kind), map[string]string{
		"amount": money.FormatMinor(amountMinor),
		"ref":    ref,
	})
	if completedGoal != nil {
		r.notifier.Notify(user.ID, notify.KindGoalCompleted, map[string]string{
			"goal":   completedGoal.Name,
			"target": money.FormatMinor(completedGoal.TargetMinor),
		})
	}
	return nil
}

// applyGoalDelta resolves which goal the contribution belongs to and applies
// it. A contribution to a goal that is no longer active still settles against
// the balance; the goal increment is skipped.
func (r *Reconciler) applyGoalDelta(ctx context.Context, tx *sqlx.Tx, event chain.Event, matched models.PendingOperation, hasMatch bool, amountMinor int64) (*models.Goal, error) {
	var goalID string
	switch {
	case hasMatch && matched.GoalID != nil:
		goalID = *matched.GoalID
		// First settlement that carries the contract's goal id records the
		// linkage; later events for the same goal resolve through it even
		// without a matched pending.
		if event.GoalID != nil {
			if err := r.goals.LinkChainGoal(ctx, tx, goalID, event.GoalID.Int64()); err != nil {
				return nil, err
			}
		}
	case event.GoalID != nil:
		goal, err := r.goals.GetByChainGoalID(ctx, event.GoalID.Int64())
		if errors.Is(err, store.ErrNotFound) {
			r.log.Warn().Str("ref", event.ExternalRef()).Int64("chain_goal_id", event.GoalID.Int64()).
				Msg("contribution for unknown chain goal")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		goalID = goal.ID
	default:
		return nil, nil
	}
	goal, err := r.goals.ApplyContribution(ctx, tx, goalID, amountMinor)
	if errors.Is(err, store.ErrGoalNotActive) {
		r.log.Warn().Str("goal_id", goalID).Msg("contribution to inactive goal, goal progress unchanged")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if goal.Status == models.GoalCompleted {
		return &goal, nil
	}
	return nil, nil
}

// onChainGoalCompleted mirrors a completion the contract decided on its own.
// Usually the local CASE flip has already fired and this is a no-op.
func (r *Reconciler) onChainGoalCompleted(ctx context.Context, event chain.Event) error {
	if event.GoalID == nil {
		return nil
	}
	goal, err := r.goals.GetByChainGoalID(ctx, event.GoalID.Int64())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if goal.Status != models.GoalActive {
		return nil
	}
	err = r.runDurable(ctx, func(tx *sqlx.Tx) error {
		err := r.goals.SetStatus(ctx, tx, goal.ID, goal.UserID, models.GoalActive, models.GoalCompleted)
		if errors.Is(err, store.ErrGoalNotActive) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if err := r.cache.InvalidateUser(ctx, goal.UserID); err != nil {
		r.log.Warn().Err(err).Str("user_id", goal.UserID).Msg("cache invalidation failed")
	}
	r.notifier.Notify(goal.UserID, notify.KindGoalCompleted, map[string]string{
		"goal":   goal.Name,
		"target": money.FormatMinor(goal.TargetMinor),
	})
	return nil
}

// OnPaymentCallback settles one mobile-money webhook delivery. The payload is
// untrusted; only its correlation id ties it to anything, and a callback with
// no pending entry is acknowledged upstream but goes no further.
func (r *Reconciler) OnPaymentCallback(ctx context.Context, cb mpesa.Callback) error {
	op, err := r.pending.GetByCorrelationID(ctx, cb.CorrelationID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Warn().Str("correlation_id", cb.CorrelationID).
			Msg("payment callback with no pending operation, acknowledging")
		return nil
	}
	if err != nil {
		return err
	}
	if op.Status.Terminal() {
		r.log.Info().Str("correlation_id", cb.CorrelationID).Str("status", string(op.Status)).
			Msg("duplicate payment callback, ignoring")
		return nil
	}

	if !cb.Success() {
		return r.settleFailedPayment(ctx, op, cb.ResultDescription)
	}

	settledMinor := cb.SettledMinor(op.AmountMinor)
	delta := settledMinor
	if op.Kind == models.OpMpesaWithdrawal {
		delta = -settledMinor
	}
	ref := paymentExternalRef(cb.CorrelationID)
	input := store.TransactionInput{
		ID:          uuid.NewString(),
		UserID:      op.UserID,
		PendingID:   &op.ID,
		GoalID:      op.GoalID,
		Type:        op.Kind,
		Status:      models.TxCompleted,
		AmountMinor: settledMinor,
		ExternalRef: &ref,
		Description: cb.ResultDescription,
		Metadata:    "{}",
	}
	var completedGoal *models.Goal
	err = r.runDurable(ctx, func(tx *sqlx.Tx) error {
		if _, err := r.pending.Complete(ctx, tx, op.CorrelationID, models.OpCompleted, cb.ResultDescription); err != nil {
			if errors.Is(err, store.ErrAlreadyTerminal) {
				return errDuplicateDelivery
			}
			return err
		}
		inserted, err := r.transactions.CreateUnlessRecorded(ctx, tx, input)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateDelivery
		}
		if err := r.balances.EnsureRow(ctx, tx, op.UserID); err != nil {
			return err
		}
		if _, err := r.balances.ApplyDelta(ctx, tx, op.UserID, delta); err != nil {
			return err
		}
		if op.GoalID != nil && op.Kind == models.OpMpesaDeposit {
			goal, err := r.goals.ApplyContribution(ctx, tx, *op.GoalID, settledMinor)
			if errors.Is(err, store.ErrGoalNotActive) {
				return nil
			}
			if err != nil {
				return err
			}
			if goal.Status == models.GoalCompleted {
				completedGoal = &goal
			}
		}
		return nil
	})
	if errors.Is(err, errDuplicateDelivery) {
		r.log.Info().Str("correlation_id", cb.CorrelationID).Msg("duplicate payment callback, ignoring")
		return nil
	}
	if errors.Is(err, store.ErrNegativeBalance) {
		return r.recordRejectedSettlement(ctx, op.UserID, input, op, true, "projected balance would go negative")
	}
	if err != nil {
		r.log.Error().Err(err).Str("correlation_id", cb.CorrelationID).
			Msg("payment settlement failed after retries, left pending")
		return err
	}

	r.afterSettlement(ctx, op.UserID, "mpesa")
	r.notifier.Notify(op.UserID, settlementKind(op.Kind), map[string]string{
		"amount": money.FormatMinor(settledMinor),
		"ref":    ref,
	})
	if completedGoal != nil {
		r.notifier.Notify(op.UserID, notify.KindGoalCompleted, map[string]string{
			"goal":   completedGoal.Name,
			"target": money.FormatMinor(completedGoal.TargetMinor),
		})
	}
	return nil
}

func (r *Reconciler) settleFailedPayment(ctx context.Context, op models.PendingOperation, reason string) error {
	ref := paymentExternalRef(op.CorrelationID)
	err := r.runDurable(ctx, func(tx *sqlx.Tx) error {
		if _, err := r.pending.Complete(ctx, tx, op.CorrelationID, models.OpFailed, reason); err != nil {
			if errors.Is(err, store.ErrAlreadyTerminal) {
				return errDuplicateDelivery
			}
			return err
		}
		_, err := r.transactions.CreateUnlessRecorded(ctx, tx, store.TransactionInput{
			ID:          uuid.NewString(),
			UserID:      op.UserID,
			PendingID:   &op.ID,
			GoalID:      op.GoalID,
			Type:        op.Kind,
			Status:      models.TxFailed,
			AmountMinor: op.AmountMinor,
			ExternalRef: &ref,
			Description: reason,
			Metadata:    "{}",
		})
		return err
	})
	if errors.Is(err, errDuplicateDelivery) {
		return nil
	}
	if err != nil {
		r.log.Error().Err(err).Str("correlation_id", op.CorrelationID).Msg("recording failed payment")
		return err
	}
	if err := r.cache.InvalidateUser(ctx, op.UserID); err != nil {
		r.log.Warn().Err(err).Str("user_id", op.UserID).Msg("cache invalidation failed")
	}
	r.notifier.Notify(op.UserID, notify.KindOperationFailed, map[string]string{
		"amount": money.FormatMinor(op.AmountMinor),
		"reason": reason,
	})
	return nil
}

// recordRejectedSettlement runs after the settlement unit rolled back on a
// balance-invariant violation: the outcome becomes a failed transaction (and
// a failed pending entry when one was matched) instead of a silent clamp.
func (r *Reconciler) recordRejectedSettlement(ctx context.Context, userID string, input store.TransactionInput, matched models.PendingOperation, hasMatch bool, reason string) error {
	input.ID = uuid.NewString()
	input.Status = models.TxFailed
	input.Description = reason
	err := r.runDurable(ctx, func(tx *sqlx.Tx) error {
		if hasMatch {
			if _, err := r.pending.Complete(ctx, tx, matched.CorrelationID, models.OpFailed, reason); err != nil && !errors.Is(err, store.ErrAlreadyTerminal) {
				return err
			}
		}
		inserted, err := r.transactions.CreateUnlessRecorded(ctx, tx, input)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateDelivery
		}
		return nil
	})
	if errors.Is(err, errDuplicateDelivery) {
		return nil
	}
	if err != nil {
		r.log.Error().Err(err).Str("user_id", userID).Msg("recording rejected settlement")
		return err
	}
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("cache invalidation failed")
	}
	r.notifier.Notify(userID, notify.KindOperationFailed, map[string]string{
		"amount": money.FormatMinor(input.AmountMinor),
		"reason": reason,
	})
	return nil
}

// afterSettlement does the best-effort fan-out: drop the user's cached read
// views (strictly after the commit), then push the fresh balance to any open
// sockets. Neither failure rolls anything back.
func (r *Reconciler) afterSettlement(ctx context.Context, userID, source string) {
	if err := r.cache.InvalidateUser(ctx, userID); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("cache invalidation failed")
	}
	balance, err := r.balances.Get(ctx, userID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("reading balance for broadcast")
		return
	}
	r.hub.BroadcastBalance(userID, websocket.BalanceUpdate{
		UserID:  userID,
		Balance: money.FormatMinor(balance.BalanceMinor),
		Source:  source,
	})
}

// runDurable wraps the serializable unit in the bounded storage retry policy.
// Domain sentinels pass through untouched; anything else is treated as a
// transient storage failure.
func (r *Reconciler) runDurable(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return r.storageRetry.Do(ctx, func(ctx context.Context) error {
		err := r.txRunner.WithTx(ctx, fn)
		if err != nil && isTransientStorage(err) {
			return retry.Transient(err)
		}
		return err
	})
}

func isTransientStorage(err error) bool {
	for _, sentinel := range []error{
		errDuplicateDelivery,
		store.ErrNotFound,
		store.ErrAlreadyTerminal,
		store.ErrNegativeBalance,
		store.ErrGoalNotActive,
		store.ErrDuplicateCorrelation,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

func classifyLedgerEvent(eventType chain.EventType, amountMinor int64) (models.OperationKind, int64) {
	switch eventType {
	case chain.EventWithdrawal:
		return models.OpCryptoWithdrawal, -amountMinor
	case chain.EventGoalContribution:
		return models.OpGoalContribution, amountMinor
	default:
		return models.OpCryptoDeposit, amountMinor
	}
}

func settlementKind(kind models.OperationKind) notify.Kind {
	if kind == models.OpCryptoWithdrawal || kind == models.OpMpesaWithdrawal {
		return notify.KindWithdrawalSettled
	}
	return notify.KindDepositSettled
}

func paymentExternalRef(correlationID string) string {
	return "mpesa:" + strings.ToLower(correlationID)
}
