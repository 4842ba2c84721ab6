package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/meridiandb/coresync/pkg/dbengine/boltengine"
	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/txn"
	"github.com/stretchr/testify/require"
)

// TestProperty4ObjectDataAndHistoryCommitTogether is the real cross-store
// Property 4 test the package-level unit tests can't provide: it drives an
// object write and a history record through the *same* shared *bolt.Tx
// (the arrangement cmd/coresync-apply's per-frame replay loop uses) and
// shows that a crash before the single commit loses both, never just one.
// A rolled-back *bolt.Tx is never persisted, so discarding it instead of
// calling CommitAndContinueAsRead is equivalent to a crash that happened
// before that commit reached disk.
func TestProperty4ObjectDataAndHistoryCommitTogether(t *testing.T) {
	dir := t.TempDir()
	realmPath := filepath.Join(dir, "property4.realm")
	table := keys.NewTableKey(1)
	obj := keys.ObjKey(7)

	writeOneFrame := func(t *testing.T, commit bool) {
		t.Helper()
		db, err := boltengine.Open(realmPath)
		require.NoError(t, err)
		defer db.Close()

		hist, err := history.Open(db.Bolt())
		require.NoError(t, err)
		defer hist.Close()

		tr := txn.New(db)
		require.NoError(t, tr.BeginRead(context.Background(), nil))
		require.NoError(t, tr.PromoteToWrite(nil))

		boltTx, err := sharedBoltTx(tr)
		require.NoError(t, err)

		// Object write and history record, through the same *bolt.Tx.
		require.NoError(t, tr.CreateObject(table, obj, nil))
		_, _, err = hist.IntegrateServerChangesetsTx(
			boltTx, keys.SyncProgress{}, 0,
			[]history.RemoteChangeset{{RemoteVersion: 1}},
			history.LastInBatch, identityTransformer{}, &replayApplier{tr: tr},
		)
		require.NoError(t, err)

		if commit {
			_, err := tr.CommitAndContinueAsRead()
			require.NoError(t, err)
			return
		}
		require.NoError(t, tr.RollbackAndContinueAsRead(nil))
	}

	readBack := func(t *testing.T) (objectExists bool, historyEntries int) {
		t.Helper()
		db, err := boltengine.Open(realmPath)
		require.NoError(t, err)
		defer db.Close()

		hist, err := history.Open(db.Bolt())
		require.NoError(t, err)
		defer hist.Close()

		rtx, err := db.StartRead(context.Background(), nil)
		require.NoError(t, err)
		defer rtx.Close()
		_, found, err := rtx.GetObject(table, obj)
		require.NoError(t, err)

		n, err := hist.EntryCount()
		require.NoError(t, err)
		return found, n
	}

	// Crash before the shared commit: neither the object write nor the
	// history entry should be visible — not one without the other.
	writeOneFrame(t, false)
	objectExists, historyEntries := readBack(t)
	require.False(t, objectExists, "object write must not survive an uncommitted shared transaction")
	require.Equal(t, 0, historyEntries, "history entry must not survive an uncommitted shared transaction")

	// Now let the same frame actually commit: both must land together.
	writeOneFrame(t, true)
	objectExists, historyEntries = readBack(t)
	require.True(t, objectExists, "object write must survive the shared commit")
	require.Equal(t, 1, historyEntries, "history entry must survive the shared commit")
}
