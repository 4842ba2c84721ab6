package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/meridiandb/coresync/pkg/dbengine/boltengine"
	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/translog"
	"github.com/meridiandb/coresync/pkg/wire"
	"github.com/stretchr/testify/require"
)

// writeFrame writes one length-prefixed wire message, the format
// runApply's readFrame expects on -i/--input.
func writeFrame(t *testing.T, w *os.File, msg wire.Message) {
	t.Helper()
	encoded := msg.Encode()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	_, err := w.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = w.Write(encoded)
	require.NoError(t, err)
}

func TestRunApplyReplaysDownloadIntoRealm(t *testing.T) {
	dir := t.TempDir()
	realmPath := filepath.Join(dir, "test.realm")
	logPath := filepath.Join(dir, "capture.log")

	table := keys.NewTableKey(1)
	obj := keys.ObjKey(7)
	instrs := []translog.Instruction{
		{Kind: translog.SelectTable, Table: table},
		{Kind: translog.CreateObject, Obj: obj},
	}
	var changesetBuf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&changesetBuf).Encode(instrs))

	logFile, err := os.Create(logPath)
	require.NoError(t, err)
	writeFrame(t, logFile, &wire.Download{
		SessionIdent: 1,
		Changesets: []history.RemoteChangeset{
			{Data: changesetBuf.Bytes(), RemoteVersion: 1, OriginFileIdent: 99},
		},
	})
	require.NoError(t, logFile.Close())

	rootCmd.SetArgs([]string{"-r", realmPath, "-i", logPath})
	require.NoError(t, rootCmd.Execute())

	db, err := boltengine.Open(realmPath)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.StartRead(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Close()
	_, found, err := tx.GetObject(table, obj)
	require.NoError(t, err)
	require.True(t, found, "expected replayed object to exist in the realm file")
}

func TestRunApplyRejectsMalformedLog(t *testing.T) {
	dir := t.TempDir()
	realmPath := filepath.Join(dir, "bad.realm")
	logPath := filepath.Join(dir, "bad.log")

	require.NoError(t, os.WriteFile(logPath, []byte{0, 0, 0, 4, 'x', 'x', 'x', 'x'}, 0600))

	rootCmd.SetArgs([]string{"-r", realmPath, "-i", logPath})
	require.Error(t, rootCmd.Execute())
}
