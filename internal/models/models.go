package models

import "time"

type User struct {
	ID            string    `db:"id" json:"id"`
	Username      string    `db:"username" json:"username"`
	Email         string    `db:"email" json:"email"`
	Phone         *string   `db:"phone" json:"phone,omitempty"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	WalletAddress *string   `db:"wallet_address" json:"wallet_address,omitempty"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type OperationKind string

const (
	OpCryptoDeposit    OperationKind = "crypto_deposit"
	OpCryptoWithdrawal OperationKind = "crypto_withdrawal"
	OpMpesaDeposit     OperationKind = "mpesa_deposit"
	OpMpesaWithdrawal  OperationKind = "mpesa_withdrawal"
	OpGoalContribution OperationKind = "goal_contribution"
)

type OperationStatus string

const (
	OpPending   OperationStatus = "pending"
	OpCompleted OperationStatus = "completed"
	OpFailed    OperationStatus = "failed"
	OpExpired   OperationStatus = "expired"
)

// Terminal reports whether the status admits no further transition.
func (s OperationStatus) Terminal() bool {
	return s == OpCompleted || s == OpFailed || s == OpExpired
}

type PendingOperation struct {
	ID                string          `db:"id" json:"id"`
	CorrelationID     string          `db:"correlation_id" json:"correlation_id"`
	Kind              OperationKind   `db:"kind" json:"kind"`
	UserID            string          `db:"user_id" json:"user_id"`
	AmountMinor       int64           `db:"amount_minor" json:"amount"`
	Target            string          `db:"target" json:"target"`
	GoalID            *string         `db:"goal_id" json:"goal_id,omitempty"`
	Status            OperationStatus `db:"status" json:"status"`
	ResultDescription *string         `db:"result_description" json:"result_description,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt         time.Time       `db:"expires_at" json:"expires_at"`
	SettledAt         *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
}

type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

type Transaction struct {
	ID          string            `db:"id" json:"id"`
	UserID      string            `db:"user_id" json:"user_id"`
	PendingID   *string           `db:"pending_id" json:"pending_id,omitempty"`
	GoalID      *string           `db:"goal_id" json:"goal_id,omitempty"`
	Type        OperationKind     `db:"type" json:"type"`
	Status      TransactionStatus `db:"status" json:"status"`
	AmountMinor int64             `db:"amount_minor" json:"amount"`
	ExternalRef *string           `db:"external_ref" json:"external_ref,omitempty"`
	Description string            `db:"description" json:"description"`
	Metadata    string            `db:"metadata" json:"metadata"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalCancelled GoalStatus = "cancelled"
	GoalPaused    GoalStatus = "paused"
)

type Goal struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Name         string     `db:"name" json:"name"`
	TargetMinor  int64      `db:"target_minor" json:"target_amount"`
	CurrentMinor int64      `db:"current_minor" json:"current_amount"`
	Deadline     time.Time  `db:"deadline" json:"deadline"`
	Status       GoalStatus `db:"status" json:"status"`
	ChainGoalID  *int64     `db:"chain_goal_id" json:"chain_goal_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

type Balance struct {
	UserID       string    `db:"user_id" json:"user_id"`
	BalanceMinor int64     `db:"balance_minor" json:"balance"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
