package subscription

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "subs.bolt"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := Open(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMakeMutableCopyAssignsIncrementingVersions(t *testing.T) {
	s := openTestStore(t)

	first, err := s.MakeMutableCopy()
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Version)
	require.Equal(t, Uncommitted, first.State)

	require.NoError(t, s.Commit(first.Version))

	second, err := s.MakeMutableCopy()
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Version)
}

func TestCommitTransitionsUncommittedToPending(t *testing.T) {
	s := openTestStore(t)
	set, err := s.MakeMutableCopy()
	require.NoError(t, err)

	require.NoError(t, s.Commit(set.Version))

	active, found, err := s.GetActive()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Pending, active.State)
}

func TestDisallowedTransitionRejected(t *testing.T) {
	s := openTestStore(t)
	set, err := s.MakeMutableCopy()
	require.NoError(t, err)

	// Uncommitted -> Bootstrapping is not in the allowed table.
	err = s.SetState(set.Version, Bootstrapping)
	require.Error(t, err)
}

func TestSetErrorOnlyFromBootstrapping(t *testing.T) {
	s := openTestStore(t)
	set, err := s.MakeMutableCopy()
	require.NoError(t, err)
	require.NoError(t, s.Commit(set.Version))
	require.NoError(t, s.SetState(set.Version, Bootstrapping))

	require.NoError(t, s.SetError(set.Version, "boom"))

	active, found, err := s.GetActive()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Error, active.State)
	require.Equal(t, "boom", active.ErrorStr)
}

// Property 6 — Subscription supersedes on complete.
func TestProperty6SupersedesOnComplete(t *testing.T) {
	s := openTestStore(t)

	v1, err := s.MakeMutableCopy()
	require.NoError(t, err)
	require.NoError(t, s.Commit(v1.Version))
	require.NoError(t, s.SetState(v1.Version, Bootstrapping))

	v2, err := s.MakeMutableCopy()
	require.NoError(t, err)
	require.NoError(t, s.Commit(v2.Version))

	v3, err := s.MakeMutableCopy()
	require.NoError(t, err)
	require.NoError(t, s.Commit(v3.Version))
	require.NoError(t, s.SetState(v3.Version, Bootstrapping))
	require.NoError(t, s.SetState(v3.Version, AwaitingMark))
	require.NoError(t, s.SetState(v3.Version, Complete))

	_, ok1, err := s.Get(v1.Version)
	require.NoError(t, err)
	require.False(t, ok1)

	_, ok2, err := s.Get(v2.Version)
	require.NoError(t, err)
	require.False(t, ok2)

	active, found, err := s.GetActive()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, v3.Version, active.Version)
	require.Equal(t, Complete, active.State)
}
