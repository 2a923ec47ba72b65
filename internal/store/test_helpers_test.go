package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore opens a store in a temp dir, closed on cleanup.
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

// createTestSession opens a store with one session and n messages at
// seq 1..n, time seq*10.
func createTestSession(t *testing.T, id string, n int) *Store {
	t.Helper()
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.EnsureSession(ctx, id, 1700000000000); err != nil {
		t.Fatalf("EnsureSession() failed: %v", err)
	}
	for seq := 1; seq <= n; seq++ {
		m := Message{SessionID: id, Seq: uint64(seq), Time: int64(seq) * 10, Payload: "M1..add[1]"}
		if err := s.WriteMessage(ctx, m); err != nil {
			t.Fatalf("WriteMessage(%d) failed: %v", seq, err)
		}
	}
	return s
}
