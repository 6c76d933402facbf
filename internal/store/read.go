package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Record is one pending event: the id assigned by Append and the opaque
// payload the caller stored.
type Record struct {
	ID      int64
	Payload string
}

// Batch is an immutable snapshot of the oldest pending records, taken when
// an upload starts. MaxID is the id of the last record in Records, or -1
// when the batch is empty.
type Batch struct {
	MaxID   int64
	Records []Record
}

// Empty reports whether the batch holds no records.
func (b Batch) Empty() bool {
	return len(b.Records) == 0
}

// Count returns the number of records currently stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// IDAtOffset returns the id of the n-th oldest record (1-indexed).
// Returns ErrNotFound if n < 1 or fewer than n records are stored.
func (s *Store) IDAtOffset(ctx context.Context, n int) (int64, error) {
	if n < 1 {
		return 0, ErrNotFound
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM events
		ORDER BY id ASC
		LIMIT 1 OFFSET ?
	`, n-1).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("id at offset", err)
	}
	return id, nil
}

// PeekBatch returns up to limit of the oldest records in id order without
// removing them. A negative limit returns every stored record.
//
// Returns an empty batch with MaxID -1 (and a non-nil Records slice) when
// nothing is stored.
func (s *Store) PeekBatch(ctx context.Context, limit int) (Batch, error) {
	if limit < 0 {
		// SQLite treats a negative LIMIT as "no limit"
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM events
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return Batch{MaxID: -1}, storageErr("peek batch", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return Batch{MaxID: -1}, storageErr("peek batch", fmt.Errorf("scan: %w", err))
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return Batch{MaxID: -1}, storageErr("peek batch", fmt.Errorf("iterate: %w", err))
	}

	batch := Batch{MaxID: -1, Records: records}
	if len(records) > 0 {
		batch.MaxID = records[len(records)-1].ID
	}
	return batch, nil
}

// Bounds returns the oldest and newest stored ids. Both are -1 when the
// store is empty.
func (s *Store) Bounds(ctx context.Context) (oldest, newest int64, err error) {
	var lo, hi sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MIN(id), MAX(id) FROM events`).Scan(&lo, &hi)
	if err != nil {
		return -1, -1, storageErr("bounds", err)
	}
	if !lo.Valid || !hi.Valid {
		return -1, -1, nil
	}
	return lo.Int64, hi.Int64, nil
}
