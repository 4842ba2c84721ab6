package history

import (
	"testing"

	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/protocolerror"
	"github.com/stretchr/testify/require"
)

type identityTransformer struct{ calls int }

func (t *identityTransformer) TransformRemoteChangeset(remote RemoteChangeset, local []Entry) ([]byte, error) {
	t.calls++
	return remote.Data, nil
}

type recordingApplier struct{ applied [][]byte }

func (a *recordingApplier) Apply(changeset []byte) error {
	a.applied = append(a.applied, changeset)
	return nil
}

func TestIntegrateServerChangesetsAppliesAndRecords(t *testing.T) {
	h := openTestHistory(t)

	ident, err := NewSaltedFileIdent(1)
	require.NoError(t, err)
	require.NoError(t, h.SetClientFileIdent(ident, false))

	xform := &identityTransformer{}
	app := &recordingApplier{}

	remote := RemoteChangeset{
		Data:            []byte("remote-bytes"),
		RemoteVersion:   10,
		OriginFileIdent: 2,
		OriginTimestamp: 5,
	}
	progress := keys.SyncProgress{
		LatestServerVersion: keys.SaltedVersion{ServerVersion: 10},
		Download:            keys.DownloadCursor{ServerVersion: 10},
	}

	info, shouldCommit, err := h.IntegrateServerChangesets(
		progress, 0, []RemoteChangeset{remote}, LastInBatch, xform, app,
	)
	require.NoError(t, err)
	require.True(t, shouldCommit)
	require.Equal(t, uint64(10), info.LastIntegratedRemoteVersion)
	require.Equal(t, 1, xform.calls)
	require.Len(t, app.applied, 1)
	require.Equal(t, []byte("remote-bytes"), app.applied[0])

	changes, err := h.GetLocalChanges(info.ClientVersion)
	require.NoError(t, err)
	require.Empty(t, changes) // the recorded entry is remote-origin, not local
}

func TestIntegrateServerChangesetsReportsNoCommitMidBatch(t *testing.T) {
	h := openTestHistory(t)

	xform := &identityTransformer{}
	app := &recordingApplier{}

	remote := RemoteChangeset{Data: []byte("x"), RemoteVersion: 1}
	_, shouldCommit, err := h.IntegrateServerChangesets(
		keys.SyncProgress{}, 0, []RemoteChangeset{remote}, MoreToCome, xform, app,
	)
	require.NoError(t, err)
	require.False(t, shouldCommit)
}

// Scenario F — Integration error escalates.
func TestIntegrateServerChangesetsRejectsSelfLoopOrigin(t *testing.T) {
	h := openTestHistory(t)

	ident, err := NewSaltedFileIdent(7)
	require.NoError(t, err)
	require.NoError(t, h.SetClientFileIdent(ident, false))

	xform := &identityTransformer{}
	app := &recordingApplier{}

	remote := RemoteChangeset{Data: []byte("loop"), RemoteVersion: 1, OriginFileIdent: 7}
	_, _, err = h.IntegrateServerChangesets(
		keys.SyncProgress{}, 0, []RemoteChangeset{remote}, LastInBatch, xform, app,
	)
	require.Error(t, err)

	var ie *protocolerror.IntegrationException
	require.ErrorAs(t, err, &ie)
	require.Equal(t, protocolerror.BadOriginFileIdent, ie.Code)

	require.Empty(t, app.applied)
	changes, lerr := h.GetLocalChanges(100)
	require.NoError(t, lerr)
	require.Empty(t, changes)
}

func TestIntegrateServerChangesetsSurfacesTransformerError(t *testing.T) {
	h := openTestHistory(t)

	failing := failingTransformer{}
	app := &recordingApplier{}

	remote := RemoteChangeset{Data: []byte("x"), RemoteVersion: 1}
	_, _, err := h.IntegrateServerChangesets(
		keys.SyncProgress{}, 0, []RemoteChangeset{remote}, LastInBatch, failing, app,
	)
	require.Error(t, err)

	var ie *protocolerror.IntegrationException
	require.ErrorAs(t, err, &ie)
	require.Equal(t, protocolerror.OtherSessionError, ie.Code)
}

type failingTransformer struct{}

func (failingTransformer) TransformRemoteChangeset(remote RemoteChangeset, local []Entry) ([]byte, error) {
	return nil, assertErr
}

var assertErr = &testError{"transform failed"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
