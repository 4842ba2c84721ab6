package wire

import (
	"testing"

	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/protocolerror"
	"github.com/stretchr/testify/require"
)

func TestBindRoundTrip(t *testing.T) {
	msg := &Bind{SessionIdent: 7, NeedClientFileIdent: true, IsSubserver: false, SignedUserToken: "token-abc"}
	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	got, ok := decoded.(*Bind)
	require.True(t, ok)
	require.Equal(t, msg, got)
}

func TestIdentRoundTrip(t *testing.T) {
	msg := &Ident{
		SessionIdent:        3,
		ClientFileIdent:     keys.SaltedFileIdent{FileIdent: 42, Salt: -99},
		ScanServerVersion:   10,
		ScanClientVersion:   1,
		LatestServerVersion: keys.SaltedVersion{ServerVersion: 10, Salt: 12345},
	}
	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	got, ok := decoded.(*Ident)
	require.True(t, ok)
	require.Equal(t, msg, got)
}

func TestMarkPingPongAllocUnbindRefreshRoundTrip(t *testing.T) {
	msgs := []Message{
		&Mark{SessionIdent: 1, RequestIdent: 99},
		&Ping{Timestamp: 1000, RTT: 5},
		&Pong{Timestamp: 1000},
		&Alloc{SessionIdent: 1, FileIdent: 77},
		&Unbind{SessionIdent: 1},
		&Refresh{SessionIdent: 1, SignedUserToken: "new-token"},
	}
	for _, m := range msgs {
		decoded, err := Decode(m.Encode())
		require.NoError(t, err)
		require.Equal(t, m, decoded)
		require.Equal(t, m.Leader(), decoded.Leader())
	}
}

// Scenario D — a DOWNLOAD message carrying one remote changeset decodes
// to a single RemoteChangeset with the expected fields.
func TestScenarioDDownloadDecodesSingleChangeset(t *testing.T) {
	msg := &Download{
		SessionIdent: 1,
		Progress: keys.SyncProgress{
			LatestServerVersion: keys.SaltedVersion{ServerVersion: 5, Salt: 123456789},
			Download:             keys.DownloadCursor{ServerVersion: 5, LastIntegratedClientVersion: 4},
			Upload:               keys.UploadCursor{ClientVersion: 0, LastIntegratedServerVersion: 0},
		},
		DownloadableBytes: 0,
		IsBodyCompressed:  false,
		Changesets: []history.RemoteChangeset{
			{Data: []byte("payload"), RemoteVersion: 5, LastIntegratedClientVersion: 4, OriginFileIdent: 2, OriginTimestamp: 111},
		},
	}

	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	got, ok := decoded.(*Download)
	require.True(t, ok)
	require.Equal(t, uint64(1), got.SessionIdent)
	require.False(t, got.IsBodyCompressed)
	require.Len(t, got.Changesets, 1)
	require.Equal(t, []byte("payload"), got.Changesets[0].Data)
	require.Equal(t, uint64(5), got.Changesets[0].RemoteVersion)
	require.Equal(t, uint64(4), got.Changesets[0].LastIntegratedClientVersion)
	require.Equal(t, uint64(2), got.Changesets[0].OriginFileIdent)
	require.Equal(t, uint64(111), got.Changesets[0].OriginTimestamp)
}

func TestDownloadRoundTripCompressed(t *testing.T) {
	msg := &Download{
		SessionIdent: 9,
		Progress: keys.SyncProgress{
			LatestServerVersion: keys.SaltedVersion{ServerVersion: 20, Salt: 1},
			Download:             keys.DownloadCursor{ServerVersion: 20, LastIntegratedClientVersion: 8},
			Upload:               keys.UploadCursor{ClientVersion: 8, LastIntegratedServerVersion: 18},
		},
		DownloadableBytes: 4096,
		IsBodyCompressed:  true,
		Changesets: []history.RemoteChangeset{
			{Data: []byte("abcdefghijklmnop"), RemoteVersion: 19, LastIntegratedClientVersion: 7, OriginFileIdent: 0, OriginTimestamp: 222},
			{Data: []byte("qrstuvwxyz"), RemoteVersion: 20, LastIntegratedClientVersion: 8, OriginFileIdent: 3, OriginTimestamp: 333},
		},
	}

	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	got, ok := decoded.(*Download)
	require.True(t, ok)
	require.True(t, got.IsBodyCompressed)
	require.Len(t, got.Changesets, 2)
	require.Equal(t, msg.Changesets[0].Data, got.Changesets[0].Data)
	require.Equal(t, msg.Changesets[1].Data, got.Changesets[1].Data)
}

func TestUploadRoundTrip(t *testing.T) {
	msg := &Upload{
		SessionIdent:     4,
		IsBodyCompressed: false,
		Changesets: []UploadChangeset{
			{ClientVersion: 1, ServerVersion: 0, OriginTimestamp: 10, OriginFileIdent: 0, Data: []byte("local-change")},
		},
	}
	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	got, ok := decoded.(*Upload)
	require.True(t, ok)
	require.Len(t, got.Changesets, 1)
	require.Equal(t, msg.Changesets[0].Data, got.Changesets[0].Data)
	require.Equal(t, msg.Changesets[0].ClientVersion, got.Changesets[0].ClientVersion)
}

// Scenario E — a compensating-write error arrives as an ERROR frame whose
// try_again flag is false, signalling that the session need not suspend.
func TestScenarioECompensatingWriteErrorDoesNotRequireSuspension(t *testing.T) {
	msg := &ErrorMsg{
		SessionIdent: 1,
		Code:         uint64(protocolerror.BadChangeset),
		TryAgain:     false,
		Message:      `{"compensating_writes":[{"object_type":"Item","primary_key":"abc","reason":"permission denied"}]}`,
	}
	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	got, ok := decoded.(*ErrorMsg)
	require.True(t, ok)
	require.False(t, got.TryAgain)
	require.Equal(t, msg.Message, got.Message)
	require.Equal(t, msg.Code, got.Code)
}

func TestDecodeRejectsUnknownLeader(t *testing.T) {
	_, err := Decode([]byte("bogus 1 2 3\n"))
	require.Error(t, err)
	var bad *BadMessageError
	require.ErrorAs(t, err, &bad)
	require.Equal(t, protocolerror.UnknownMessage, bad.Code)
}

func TestDecodeRejectsMissingHeaderTerminator(t *testing.T) {
	_, err := Decode([]byte("ping 1 2"))
	require.Error(t, err)
}

func TestDecodeRejectsShortFieldList(t *testing.T) {
	_, err := Decode([]byte("mark 1\n"))
	require.Error(t, err)
}
