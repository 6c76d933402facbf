package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// appendN appends n payloads of the form {"n":i} and returns their ids.
func appendN(t *testing.T, s *Store, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.Append(context.Background(), fmt.Sprintf(`{"n":%d}`, i))
		if err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func mustCount(t *testing.T, s *Store) int {
	t.Helper()
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	return n
}
