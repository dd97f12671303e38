package store

import (
	"context"
	"database/sql"
	"errors"
)

// Sentinel errors shared by the stores. Callers match with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")
	ErrAlreadyTerminal      = errors.New("operation already terminal")
	ErrNegativeBalance      = errors.New("balance would go negative")
	ErrGoalNotActive        = errors.New("goal is not active")
	ErrWalletBound          = errors.New("wallet address already bound")
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is the transactional subset mutations need: writes plus RETURNING reads.
type Tx interface {
	Execer
	Getter
}
