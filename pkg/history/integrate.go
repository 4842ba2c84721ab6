package history

import (
	"fmt"

	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/protocolerror"
	bolt "go.etcd.io/bbolt"
)

// RemoteChangeset is one server-originated changeset awaiting integration,
// as decoded off the wire (spec.md §4.K) or replayed from a pending
// bootstrap batch (§4.H).
type RemoteChangeset struct {
	Data                       []byte
	RemoteVersion              uint64
	LastIntegratedClientVersion uint64
	OriginFileIdent            uint64
	OriginTimestamp            uint64
}

// BatchState tells IntegrateServerChangesets whether more remote
// changesets are coming in the same logical delivery (FLX bootstrap
// batching, spec.md §4.G step 6).
type BatchState int

const (
	MoreToCome BatchState = iota
	LastInBatch
)

// Transformer performs the OT merge of a remote changeset against this
// client's unacknowledged local history. The algorithm itself is out of
// scope here — only its input/output/failure shape matters to history
// integration, so it is injected rather than implemented in this package.
type Transformer interface {
	TransformRemoteChangeset(remote RemoteChangeset, local []Entry) ([]byte, error)
}

// Applier applies one already-transformed changeset's instructions to the
// caller-supplied write transaction. Concretely this is translog.Replay
// driving a dbengine.Transaction-backed recorder, but history has no
// business knowing that, so it only sees this narrow seam.
type Applier interface {
	Apply(changeset []byte) error
}

// VersionInfo reports the history versions touched by one
// IntegrateServerChangesets call, mirroring the out-parameter the source
// passes by reference.
type VersionInfo struct {
	ClientVersion           uint64
	LastIntegratedRemoteVersion uint64
}

// IntegrateServerChangesets runs the integration algorithm (spec.md §4.G):
// reject a changeset that originated from this client, transform each remote
// changeset against the unacknowledged local tail, apply it, record the
// *original* bytes in history, and advance the cursors. No
// reciprocal-transform cache is kept or updated. shouldCommit reports
// whether batchState is LastInBatch.
//
// This self-manages its own bbolt write transaction and commits it whenever
// integration succeeds, whatever shouldCommit says; a caller that must
// also land object writes made through a different table store (the
// Realm's object data, via dbengine.Transaction) in the very same commit
// — so a crash can't advance the history cursor past data that was never
// durably applied (Property 4) — uses IntegrateServerChangesetsTx instead.
func (h *ClientHistory) IntegrateServerChangesets(
	progress keys.SyncProgress,
	downloadableBytes uint64,
	changesets []RemoteChangeset,
	batchState BatchState,
	tr Transformer,
	applier Applier,
) (VersionInfo, bool, error) {
	var info VersionInfo
	var shouldCommit bool
	err := h.db.Update(func(tx *bolt.Tx) error {
		var err error
		info, shouldCommit, err = h.integrateServerChangesetsTx(tx, progress, downloadableBytes, changesets, batchState, tr, applier)
		return err
	})
	return info, shouldCommit, err
}

// IntegrateServerChangesetsTx runs the same algorithm against tx, an
// already-open bbolt write transaction the caller controls the commit of —
// the seam cmd/coresync-apply uses to fold history integration into the
// same bbolt commit as the object writes the Applier makes through
// boltengine.
func (h *ClientHistory) IntegrateServerChangesetsTx(
	tx *bolt.Tx,
	progress keys.SyncProgress,
	downloadableBytes uint64,
	changesets []RemoteChangeset,
	batchState BatchState,
	tr Transformer,
	applier Applier,
) (VersionInfo, bool, error) {
	return h.integrateServerChangesetsTx(tx, progress, downloadableBytes, changesets, batchState, tr, applier)
}

func (h *ClientHistory) integrateServerChangesetsTx(
	tx *bolt.Tx,
	progress keys.SyncProgress,
	downloadableBytes uint64,
	changesets []RemoteChangeset,
	batchState BatchState,
	tr Transformer,
	applier Applier,
) (VersionInfo, bool, error) {
	ident, hasIdent, err := h.clientFileIdentTx(tx)
	if err != nil {
		return VersionInfo{}, false, err
	}

	var info VersionInfo
	for _, rc := range changesets {
		if hasIdent && rc.OriginFileIdent != 0 && rc.OriginFileIdent == ident.FileIdent {
			return VersionInfo{}, false, protocolerror.NewIntegrationException(
				protocolerror.BadOriginFileIdent,
				fmt.Sprintf("remote changeset at server version %d originated from this client", rc.RemoteVersion),
			)
		}

		local, err := h.entriesAfterTx(tx, rc.LastIntegratedClientVersion)
		if err != nil {
			return VersionInfo{}, false, err
		}

		transformed, err := tr.TransformRemoteChangeset(rc, local)
		if err != nil {
			return VersionInfo{}, false, protocolerror.NewIntegrationException(
				protocolerror.OtherSessionError, err.Error(),
			)
		}

		if err := applier.Apply(transformed); err != nil {
			return VersionInfo{}, false, protocolerror.NewIntegrationException(
				protocolerror.BadChangeset, err.Error(),
			)
		}

		if err := h.recordRemoteEntryTx(tx, rc); err != nil {
			return VersionInfo{}, false, err
		}

		info.LastIntegratedRemoteVersion = rc.RemoteVersion
	}

	if err := h.setSyncProgressTx(tx, progress, downloadableBytes); err != nil {
		return VersionInfo{}, false, err
	}

	info.ClientVersion = h.latestVersion(tx)

	shouldCommit := batchState == LastInBatch
	return info, shouldCommit, nil
}

// entriesAfter returns every history entry with Version > clientVersion, in
// version order — the overlap range the transformer operates on (spec.md
// §4.G step 1).
func (h *ClientHistory) entriesAfter(clientVersion uint64) ([]Entry, error) {
	var out []Entry
	err := h.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = h.entriesAfterTx(tx, clientVersion)
		return err
	})
	return out, err
}

func (h *ClientHistory) entriesAfterTx(tx *bolt.Tx, clientVersion uint64) ([]Entry, error) {
	var out []Entry
	latest := h.latestVersion(tx)
	for v := clientVersion + 1; v <= latest; v++ {
		e, ok, err := h.getEntry(tx, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *ClientHistory) recordRemoteEntry(rc RemoteChangeset) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		return h.recordRemoteEntryTx(tx, rc)
	})
}

func (h *ClientHistory) recordRemoteEntryTx(tx *bolt.Tx, rc RemoteChangeset) error {
	next := h.latestVersion(tx) + 1
	return h.putEntry(tx, next, storedEntry{
		RemoteVersion:   rc.RemoteVersion,
		OriginFileIdent: rc.OriginFileIdent,
		OriginTimestamp: rc.OriginTimestamp,
		Compressed:      h.enc.EncodeAll(rc.Data, nil),
	})
}
