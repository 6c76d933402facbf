package store

import (
	"context"
	"errors"
)

// Append inserts a record at the end of the log and returns its id.
// Ids are strictly increasing and never reused, even after deletes.
func (s *Store) Append(ctx context.Context, payload string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO events (payload) VALUES (?)`, payload)
	if err != nil {
		return -1, storageErr("append", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return -1, storageErr("append", err)
	}
	return id, nil
}

// RemoveUpTo deletes every record with id <= maxID.
// Idempotent: repeating the call with the same maxID deletes nothing.
func (s *Store) RemoveUpTo(ctx context.Context, maxID int64) error {
	_, err := s.removeUpTo(ctx, maxID)
	return err
}

// RemoveOne deletes a single record. Removing an id that does not exist
// is not an error.
func (s *Store) RemoveOne(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return storageErr("remove one", err)
	}
	return nil
}

// Trim enforces the record cap. When the store holds maxCount or more
// records, the oldest removeBatch records are deleted. Returns the number
// of records removed.
//
// Dropping is local only; the dropped events are never uploaded. This is
// the intended bound on disk usage while the collector is unreachable.
func (s *Store) Trim(ctx context.Context, maxCount, removeBatch int) (int, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count < maxCount || removeBatch < 1 {
		return 0, nil
	}

	boundary, err := s.IDAtOffset(ctx, removeBatch)
	if errors.Is(err, ErrNotFound) {
		// Fewer than removeBatch records: the whole log is the oldest block.
		_, boundary, err = s.Bounds(ctx)
	}
	if err != nil {
		return 0, err
	}

	removed, err := s.removeUpTo(ctx, boundary)
	return int(removed), err
}

func (s *Store) removeUpTo(ctx context.Context, maxID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id <= ?`, maxID)
	if err != nil {
		return 0, storageErr("remove up to", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("remove up to", err)
	}
	return n, nil
}
