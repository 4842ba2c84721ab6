// Package history implements component G: the client replication history —
// an append-only log of local and integrated-remote changesets, upload/
// download cursors, and client-file identity, persisted inside its own set
// of bbolt buckets (spec.md §4.G).
package history

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/meridiandb/coresync/pkg/keys"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("history_entries")
	bucketMeta    = []byte("history_meta")

	metaClientFileIdent  = []byte("client_file_ident")
	metaSyncProgress     = []byte("sync_progress")
	metaDownloadableByte = []byte("downloadable_bytes")
)

// Entry is one append-only history record (spec.md §3 "client history
// entry"). Version 0 is never used, so the zero value reliably means
// "not found".
type Entry struct {
	Version              uint64
	Changeset             []byte // decompressed on read
	RemoteVersion         uint64
	OriginFileIdent       uint64
	OriginTimestamp       uint64
}

// localOrigin reports whether e was produced on this client rather than
// integrated from the server (spec.md §3: origin_file_ident == 0 means
// local origin).
func (e Entry) localOrigin() bool { return e.OriginFileIdent == 0 }

// ClientHistory owns the history bucket set inside a Realm file. It is
// grounded on the teacher's WarrenFSM (pkg/manager/fsm.go): an
// RWMutex-guarded apply surface over a persisted store, generalized from a
// single cluster command log to a per-slot sync history with its own
// cursor bookkeeping.
type ClientHistory struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open creates the history buckets inside db, a bbolt handle shared with
// every other table store that lives in the same Realm file (spec.md §6);
// the caller owns db's lifetime and closes it once, after every store
// built on it has stopped using it.
func Open(db *bolt.DB) (*ClientHistory, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: create buckets: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ClientHistory{db: db, enc: enc, dec: dec}, nil
}

// Close releases the decompressor; the compressor is not closed. The bbolt handle is shared
// with other stores and is closed by whoever opened it, not here.
func (h *ClientHistory) Close() error {
	h.dec.Close()
	return nil
}

// EntryCount reports how many entries the history currently retains,
// for metrics reporting (syncmetrics.HistoryEntriesTotal).
func (h *ClientHistory) EntryCount() (int, error) {
	var n int
	err := h.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n, err
}

func entryKey(version uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	return buf[:]
}

func (h *ClientHistory) latestVersion(tx *bolt.Tx) uint64 {
	c := tx.Bucket(bucketEntries).Cursor()
	k, _ := c.Last()
	if k == nil {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}

type storedEntry struct {
	RemoteVersion   uint64
	OriginFileIdent uint64
	OriginTimestamp uint64
	Compressed      []byte
}

// PrepareChangeset appends a local changeset (origin_file_ident == 0) and
// bumps the history by one version. versionBefore must match the history's
// current latest version (optimistic-concurrency guard matching spec.md's
// single-writer assumption enforced at the txn façade level).
func (h *ClientHistory) PrepareChangeset(data []byte, versionBefore uint64) (uint64, error) {
	var after uint64
	err := h.db.Update(func(tx *bolt.Tx) error {
		if cur := h.latestVersion(tx); cur != versionBefore {
			return fmt.Errorf("history: prepare_changeset version mismatch: have %d, want %d", cur, versionBefore)
		}
		after = versionBefore + 1
		return h.putEntry(tx, after, storedEntry{Compressed: h.enc.EncodeAll(data, nil)})
	})
	return after, err
}

func (h *ClientHistory) putEntry(tx *bolt.Tx, version uint64, se storedEntry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(se); err != nil {
		return err
	}
	return tx.Bucket(bucketEntries).Put(entryKey(version), buf.Bytes())
}

func (h *ClientHistory) getEntry(tx *bolt.Tx, version uint64) (Entry, bool, error) {
	data := tx.Bucket(bucketEntries).Get(entryKey(version))
	if data == nil {
		return Entry{}, false, nil
	}
	var se storedEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&se); err != nil {
		return Entry{}, false, err
	}
	cs, err := h.dec.DecodeAll(se.Compressed, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("history: decompress entry %d: %w", version, err)
	}
	return Entry{
		Version:         version,
		Changeset:       cs,
		RemoteVersion:   se.RemoteVersion,
		OriginFileIdent: se.OriginFileIdent,
		OriginTimestamp: se.OriginTimestamp,
	}, true, nil
}

// SetClientFileIdent is a one-shot: it records the server-assigned
// identity. fixUpObjectIDs is accepted for interface parity with spec.md
// but is a no-op here — placeholder-object-id rewriting only matters for a
// storage engine that allocated provisional ids before the identity was
// known, which boltengine does not do (ids are caller-supplied).
func (h *ClientHistory) SetClientFileIdent(ident keys.SaltedFileIdent, fixUpObjectIDs bool) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(ident); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(metaClientFileIdent, buf.Bytes())
	})
}

// ClientFileIdent returns the identity set by SetClientFileIdent, if any.
func (h *ClientHistory) ClientFileIdent() (keys.SaltedFileIdent, bool, error) {
	var ident keys.SaltedFileIdent
	var found bool
	err := h.db.View(func(tx *bolt.Tx) error {
		var err error
		ident, found, err = h.clientFileIdentTx(tx)
		return err
	})
	return ident, found, err
}

func (h *ClientHistory) clientFileIdentTx(tx *bolt.Tx) (keys.SaltedFileIdent, bool, error) {
	data := tx.Bucket(bucketMeta).Get(metaClientFileIdent)
	if data == nil {
		return keys.SaltedFileIdent{}, false, nil
	}
	var ident keys.SaltedFileIdent
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ident); err != nil {
		return keys.SaltedFileIdent{}, false, err
	}
	return ident, true, nil
}

// SetSyncProgress persists progress cursors and the downloadable-bytes
// estimate.
func (h *ClientHistory) SetSyncProgress(progress keys.SyncProgress, downloadableBytes uint64) error {
	return h.db.Update(func(tx *bolt.Tx) error {
		return h.setSyncProgressTx(tx, progress, downloadableBytes)
	})
}

func (h *ClientHistory) setSyncProgressTx(tx *bolt.Tx, progress keys.SyncProgress, downloadableBytes uint64) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(progress); err != nil {
		return err
	}
	if err := tx.Bucket(bucketMeta).Put(metaSyncProgress, buf.Bytes()); err != nil {
		return err
	}
	var dbuf [8]byte
	binary.BigEndian.PutUint64(dbuf[:], downloadableBytes)
	return tx.Bucket(bucketMeta).Put(metaDownloadableByte, dbuf[:])
}

// SyncProgress returns the cursor set last persisted by SetSyncProgress.
func (h *ClientHistory) SyncProgress() (keys.SyncProgress, bool, error) {
	var progress keys.SyncProgress
	var found bool
	err := h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(metaSyncProgress)
		if data == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&progress)
	})
	return progress, found, err
}

// FindUploadableChangesets walks forward from cursor.ClientVersion,
// collecting non-empty local-origin changesets until budgetBytes or
// endVersion is reached, always emitting at least one if any local entry
// exists in range (spec.md §4.G). cursor is updated to the scan end.
func (h *ClientHistory) FindUploadableChangesets(cursor *keys.UploadCursor, endVersion uint64, budgetBytes int) ([]Entry, error) {
	var out []Entry
	err := h.db.View(func(tx *bolt.Tx) error {
		total := 0
		v := cursor.ClientVersion + 1
		for ; v <= endVersion; v++ {
			e, ok, err := h.getEntry(tx, v)
			if err != nil {
				return err
			}
			if !ok || !e.localOrigin() || len(e.Changeset) == 0 {
				continue
			}
			if total > 0 && total+len(e.Changeset) > budgetBytes {
				break
			}
			out = append(out, e)
			total += len(e.Changeset)
			if total >= budgetBytes {
				v++
				break
			}
		}
		cursor.ClientVersion = v - 1
		return nil
	})
	return out, err
}

// GetLocalChanges returns every non-uploaded local-origin changeset up to
// currentVersion, for diagnostic use.
func (h *ClientHistory) GetLocalChanges(currentVersion uint64) ([]Entry, error) {
	var out []Entry
	err := h.db.View(func(tx *bolt.Tx) error {
		for v := uint64(1); v <= currentVersion; v++ {
			e, ok, err := h.getEntry(tx, v)
			if err != nil {
				return err
			}
			if ok && e.localOrigin() {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// Trim drops sync-upload-skippable entries older than
// download.LastIntegratedClientVersion — entries already both integrated
// by the server and never needed again locally.
func (h *ClientHistory) Trim(downloadLastIntegratedClientVersion uint64) (int, error) {
	var trimmed int
	err := h.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, _ := c.First(); k != nil; {
			v := binary.BigEndian.Uint64(k)
			if v >= downloadLastIntegratedClientVersion {
				break
			}
			next, _ := c.Next()
			if err := tx.Bucket(bucketEntries).Delete(k); err != nil {
				return err
			}
			trimmed++
			k = next
		}
		return nil
	})
	return trimmed, err
}

// randomSalt generates an anti-spoofing salt, grounded on the teacher's
// TokenManager.GenerateToken (pkg/manager/token.go).
func randomSalt() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(buf[:])
	return int64(v % math.MaxInt64), nil
}

// NewSaltedFileIdent mints a fresh client file identity with a random salt,
// for a server assigning identity to a brand-new client.
func NewSaltedFileIdent(fileIdent uint64) (keys.SaltedFileIdent, error) {
	salt, err := randomSalt()
	if err != nil {
		return keys.SaltedFileIdent{}, err
	}
	return keys.SaltedFileIdent{FileIdent: fileIdent, Salt: salt}, nil
}

// NewSaltedVersion mints a fresh salted server version.
func NewSaltedVersion(serverVersion uint64) (keys.SaltedVersion, error) {
	salt, err := randomSalt()
	if err != nil {
		return keys.SaltedVersion{}, err
	}
	return keys.SaltedVersion{ServerVersion: serverVersion, Salt: salt}, nil
}
