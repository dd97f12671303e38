package store

import "context"

// CursorStore persists the chain watcher's scan position. The cursor only
// advances after a batch of events has been handed off, which is what makes
// event delivery at-least-once across restarts.
type CursorStore struct {
	db DB
}

func NewCursorStore(db DB) *CursorStore {
	return &CursorStore{db: db}
}

func (s *CursorStore) LastBlock(ctx context.Context) (uint64, error) {
	var block uint64
	err := s.db.GetContext(ctx, &block, `SELECT last_block FROM event_cursor WHERE id = 1`)
	return block, err
}

func (s *CursorStore) SetLastBlock(ctx context.Context, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_cursor SET last_block = $1, updated_at = NOW() WHERE id = 1
	`, block)
	return err
}
