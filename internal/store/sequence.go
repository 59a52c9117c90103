package store

import "context"

// NextInSequence atomically advances the counter for key and returns
// the new value. The row is created on first use, and the increment is
// a single statement; there is never a read followed by a write.
func (s *Store) NextInSequence(ctx context.Context, key string) (int64, error) {
	var current int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO sequence_ledger (key, current)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET current = sequence_ledger.current + 1
		RETURNING current
	`, key).Scan(&current)
	return current, err
}
