package services

import (
	"context"
	"testing"
	"time"

	"akiba/internal/models"
	"akiba/internal/notify"

	"github.com/rs/zerolog"
)

func TestSweepOnceExpiresAndNotifies(t *testing.T) {
	cacheRec := &recordingCache{}
	notifier := &recordingNotifier{}
	pending := stubPendingStore{
		sweepExpiredFn: func(ctx context.Context, limit int) ([]models.PendingOperation, error) {
			return []models.PendingOperation{
				{ID: "pend-1", UserID: "user-1", Kind: models.OpMpesaDeposit, AmountMinor: 1000},
				{ID: "pend-2", UserID: "user-2", Kind: models.OpCryptoWithdrawal, AmountMinor: 2500},
			}, nil
		},
	}
	s := NewSweeper(pending, cacheRec, notifier, time.Minute, zerolog.Nop())

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired = %d, want 2", n)
	}
	if got := cacheRec.invalidations(); len(got) != 2 {
		t.Fatalf("invalidations = %v", got)
	}
	sent := notifier.sent()
	if len(sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sent))
	}
	for _, msg := range sent {
		if msg.kind != notify.KindOperationExpired {
			t.Fatalf("kind = %s, want operation_expired", msg.kind)
		}
	}
}

func TestSweepOnceDrainsFullBatches(t *testing.T) {
	calls := 0
	pending := stubPendingStore{
		sweepExpiredFn: func(ctx context.Context, limit int) ([]models.PendingOperation, error) {
			calls++
			if calls == 1 {
				batch := make([]models.PendingOperation, limit)
				for i := range batch {
					batch[i] = models.PendingOperation{ID: "pend", UserID: "user-1"}
				}
				return batch, nil
			}
			return []models.PendingOperation{{ID: "pend-last", UserID: "user-1"}}, nil
		},
	}
	s := NewSweeper(pending, &recordingCache{}, &recordingNotifier{}, time.Minute, zerolog.Nop())

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != sweepBatchSize+1 {
		t.Fatalf("expired = %d, want %d", n, sweepBatchSize+1)
	}
	if calls != 2 {
		t.Fatalf("sweep calls = %d, want 2", calls)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	swept := make(chan struct{}, 1)
	pending := stubPendingStore{
		sweepExpiredFn: func(ctx context.Context, limit int) ([]models.PendingOperation, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}
	s := NewSweeper(pending, &recordingCache{}, &recordingNotifier{}, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ticked")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
