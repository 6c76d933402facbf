package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_AssignsIncreasingIDs(t *testing.T) {
	s := createTestStore(t)

	ids := appendN(t, s, 5)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "ids must strictly increase")
	}
	assert.Equal(t, 5, mustCount(t, s))
}

func TestAppend_IDsNeverReused(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids := appendN(t, s, 3)
	require.NoError(t, s.RemoveUpTo(ctx, ids[2]))
	assert.Equal(t, 0, mustCount(t, s))

	next, err := s.Append(ctx, `{"after":"delete"}`)
	require.NoError(t, err)
	assert.Greater(t, next, ids[2], "id must not be reused after deleting the newest rows")
}

func TestAppend_AfterCloseIsStorageError(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	id, err := s.Append(context.Background(), `{}`)
	assert.Equal(t, int64(-1), id)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "append", se.Op)
}

func TestCount_Empty(t *testing.T) {
	s := createTestStore(t)
	assert.Equal(t, 0, mustCount(t, s))
}

func TestIDAtOffset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := appendN(t, s, 10)

	first, err := s.IDAtOffset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ids[0], first)

	fifth, err := s.IDAtOffset(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, ids[4], fifth)

	_, err = s.IDAtOffset(ctx, 11)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.IDAtOffset(ctx, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPeekBatch_Empty(t *testing.T) {
	s := createTestStore(t)

	batch, err := s.PeekBatch(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	assert.NotNil(t, batch.Records, "records should be an empty slice, not nil")
	assert.Equal(t, int64(-1), batch.MaxID)
}

func TestPeekBatch_LimitAndOrder(t *testing.T) {
	s := createTestStore(t)
	ids := appendN(t, s, 10)

	batch, err := s.PeekBatch(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, batch.Records, 4)
	for i, r := range batch.Records {
		assert.Equal(t, ids[i], r.ID)
	}
	assert.Equal(t, ids[3], batch.MaxID)
	assert.Equal(t, `{"n":0}`, batch.Records[0].Payload)

	// Peeking does not remove anything.
	assert.Equal(t, 10, mustCount(t, s))
}

func TestPeekBatch_NegativeLimitReturnsAll(t *testing.T) {
	s := createTestStore(t)
	ids := appendN(t, s, 150)

	batch, err := s.PeekBatch(context.Background(), -1)
	require.NoError(t, err)
	assert.Len(t, batch.Records, 150)
	assert.Equal(t, ids[149], batch.MaxID)
}

func TestPeekBatch_ZeroLimit(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, 3)

	batch, err := s.PeekBatch(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	assert.Equal(t, int64(-1), batch.MaxID)
}

func TestRemoveUpTo(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := appendN(t, s, 10)

	require.NoError(t, s.RemoveUpTo(ctx, ids[5]))
	assert.Equal(t, 4, mustCount(t, s))

	oldest, err := s.IDAtOffset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ids[6], oldest)
}

func TestRemoveUpTo_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := appendN(t, s, 10)

	require.NoError(t, s.RemoveUpTo(ctx, ids[3]))
	before, err := s.PeekBatch(ctx, -1)
	require.NoError(t, err)

	require.NoError(t, s.RemoveUpTo(ctx, ids[3]))
	after, err := s.PeekBatch(ctx, -1)
	require.NoError(t, err)

	assert.Equal(t, before, after, "second RemoveUpTo with the same id must not change the store")
}

func TestRemoveOne(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := appendN(t, s, 3)

	require.NoError(t, s.RemoveOne(ctx, ids[1]))
	batch, err := s.PeekBatch(ctx, -1)
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, ids[0], batch.Records[0].ID)
	assert.Equal(t, ids[2], batch.Records[1].ID)

	// Removing a missing id is not an error.
	require.NoError(t, s.RemoveOne(ctx, 9999))
}

func TestBounds(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	lo, hi, err := s.Bounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), lo)
	assert.Equal(t, int64(-1), hi)

	ids := appendN(t, s, 4)
	lo, hi, err = s.Bounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[0], lo)
	assert.Equal(t, ids[3], hi)
}

func TestTrim_BelowCapIsNoop(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, 50)

	removed, err := s.Trim(context.Background(), 100, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 50, mustCount(t, s))
}

func TestTrim_DropsOldestBlock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := appendN(t, s, 100)

	removed, err := s.Trim(ctx, 100, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, removed)
	assert.Equal(t, 80, mustCount(t, s))

	oldest, err := s.IDAtOffset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ids[20], oldest, "the oldest 20 records are the ones dropped")
}

func TestTrim_BatchLargerThanStore(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, 5)

	removed, err := s.Trim(context.Background(), 5, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, 0, mustCount(t, s))
}

// Appending past the hard cap with a trim after every append keeps the
// store bounded: the count follows N until the cap, then drops by one
// block each time the cap is reached again.
func TestTrim_SustainedAppendsNeverExceedCap(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const maxCount = 1000
	const removeBatch = 20

	for n := 1; n <= 1100; n++ {
		_, err := s.Append(ctx, `{}`)
		require.NoError(t, err)
		_, err = s.Trim(ctx, maxCount, removeBatch)
		require.NoError(t, err)

		count := mustCount(t, s)
		require.Less(t, count, maxCount, "count must stay below the cap after trimming (n=%d)", n)
		if n < maxCount {
			require.Equal(t, n, count)
		}
		if n == maxCount {
			require.Equal(t, maxCount-removeBatch, count)
		}
	}
}
