package services

import (
	"context"
	"time"

	"akiba/internal/money"
	"akiba/internal/notify"

	"github.com/rs/zerolog"
)

const sweepBatchSize = 100

// Sweeper expires pending operations whose deadline passed without a
// confirmation. The claim is a single guarded UPDATE, so overlapping sweep
// runs never expire or notify the same entry twice.
type Sweeper struct {
	pending  PendingStore
	cache    ReadCache
	notifier Notifier
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(pending PendingStore, readCache ReadCache, notifier Notifier, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		pending:  pending,
		cache:    readCache,
		notifier: notifier,
		interval: interval,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce drains every overdue entry in batches and returns how many were
// expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		expired, err := s.pending.SweepExpired(ctx, sweepBatchSize)
		if err != nil {
			return total, err
		}
		for _, op := range expired {
			s.log.Info().
				Str("pending_id", op.ID).
				Str("user_id", op.UserID).
				Str("kind", string(op.Kind)).
				Msg("pending operation expired")
			if err := s.cache.InvalidateUser(ctx, op.UserID); err != nil {
				s.log.Warn().Err(err).Str("user_id", op.UserID).Msg("cache invalidation failed")
			}
			s.notifier.Notify(op.UserID, notify.KindOperationExpired, map[string]string{
				"amount": money.FormatMinor(op.AmountMinor),
				"kind":   string(op.Kind),
			})
		}
		total += len(expired)
		if len(expired) < sweepBatchSize {
			return total, nil
		}
	}
}
