package pendingerror

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "errors.bolt"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := Open(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPeekPendingErrorsSortedDescending(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Add(PendingError{PendingUntilServerVersion: 5, Message: "v5"}))
	require.NoError(t, s.Add(PendingError{PendingUntilServerVersion: 3, Message: "v3"}))
	require.NoError(t, s.Add(PendingError{PendingUntilServerVersion: 9, Message: "v9 (excluded)"}))

	got, err := s.PeekPendingErrors(5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "v5", got[0].Message)
	require.Equal(t, "v3", got[1].Message)
}

func TestRemovePendingErrorsDropsDeliveredOnly(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Add(PendingError{PendingUntilServerVersion: 1, Message: "old"}))
	require.NoError(t, s.Add(PendingError{PendingUntilServerVersion: 100, Message: "new"}))

	removed, err := s.RemovePendingErrors(1)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	remaining, err := s.PeekPendingErrors(1000)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "new", remaining[0].Message)
}
