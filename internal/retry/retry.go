// Package retry wraps transient-failure handling in one bounded policy so
// external-call and storage retry behavior is not re-derived per call site.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

type Policy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultExternal is the policy applied at the payment-gateway and
// notification boundaries.
func DefaultExternal() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// DefaultStorage is the policy applied to durable mutations the engine must
// not drop. Exhaustion is escalated by the caller, never swallowed.
func DefaultStorage() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Do runs fn with capped exponential backoff and jitter. fn signals a
// retryable failure by wrapping its error with Transient.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(p.BaseDelay)
	backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	if p.MaxAttempts > 0 {
		backoff = retry.WithMaxRetries(p.MaxAttempts-1, backoff)
	}
	return retry.Do(ctx, backoff, fn)
}

// Transient marks err as retryable under Do.
func Transient(err error) error {
	return retry.RetryableError(err)
}
