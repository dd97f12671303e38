package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Cursor persists the watcher's scan position between runs.
type Cursor interface {
	LastBlock(ctx context.Context) (uint64, error)
	SetLastBlock(ctx context.Context, block uint64) error
}

// Handler consumes one decoded event. Returning an error stops the current
// batch before the cursor advances, so the event is redelivered on the next
// poll; handlers must therefore be idempotent.
type Handler func(ctx context.Context, event Event) error

type WatcherConfig struct {
	PollEvery   time.Duration
	ConfirmLag  uint64
	BatchBlocks uint64
}

// Watcher polls the contract's logs and feeds them to the handler with
// at-least-once delivery: the boundary block is re-scanned after a restart
// and the cursor only moves once a whole batch has been handled.
type Watcher struct {
	backend  Backend
	contract common.Address
	cursor   Cursor
	handler  Handler
	cfg      WatcherConfig
	log      zerolog.Logger
}

func NewWatcher(client *Client, cursor Cursor, handler Handler, cfg WatcherConfig, log zerolog.Logger) *Watcher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 10 * time.Second
	}
	if cfg.BatchBlocks == 0 {
		cfg.BatchBlocks = 2000
	}
	return &Watcher{
		backend:  client.backend,
		contract: client.contract,
		cursor:   cursor,
		handler:  handler,
		cfg:      cfg,
		log:      log.With().Str("component", "chain_watcher").Logger(),
	}
}

func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error().Err(err).Msg("poll failed, will retry next tick")
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	head, err := w.backend.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head < w.cfg.ConfirmLag {
		return nil
	}
	safe := head - w.cfg.ConfirmLag

	last, err := w.cursor.LastBlock(ctx)
	if err != nil {
		return err
	}
	if last >= safe {
		return nil
	}

	for from := last; from < safe; {
		to := from + w.cfg.BatchBlocks
		if to > safe {
			to = safe
		}
		handled, err := w.scanRange(ctx, from, to)
		if err != nil {
			return err
		}
		if !handled {
			// Handler refused part of the batch; stop without advancing so
			// the range is redelivered.
			return nil
		}
		if err := w.cursor.SetLastBlock(ctx, to); err != nil {
			return err
		}
		from = to
	}
	return nil
}

func (w *Watcher) scanRange(ctx context.Context, from, to uint64) (bool, error) {
	logs, err := w.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.contract},
	})
	if err != nil {
		return false, err
	}
	for _, raw := range logs {
		event, err := ParseLog(raw)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			w.log.Warn().Err(err).Str("tx", raw.TxHash.Hex()).Msg("skipping malformed log")
			continue
		}
		if err := w.handler(ctx, event); err != nil {
			w.log.Error().Err(err).Str("ref", event.ExternalRef()).Msg("handler rejected event")
			return false, nil
		}
	}
	return true, nil
}
