// Package bootstrap implements component H: the pending-bootstrap store,
// which stages FLX (subscription-based) bootstrap changesets across
// multiple download messages so a crash mid-bootstrap resumes cleanly
// (spec.md §4.H, Property 4, Property 5, Scenario C).
package bootstrap

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/meridiandb/coresync/pkg/history"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/protocolerror"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta     = []byte("flx_pending_bootstrap")
	bucketBatches  = []byte("flx_pending_bootstrap_changesets")
	bucketProgress = []byte("flx_pending_bootstrap_progress")

	metaQueryVersion = []byte("query_version")
	metaHasPending   = []byte("has_pending")
	metaNext         = []byte("next") // next free batch index, keeps keys monotonic across add_batch calls
)

// PendingBatch is one call's worth of staged changesets, decompressed and
// parsed back into RemoteChangeset form (spec.md §4.H peek_pending).
type PendingBatch struct {
	QueryVersion       int64
	Changesets         []history.RemoteChangeset
	Progress           *keys.SyncProgress
	RemainingChangesets int
}

// PendingBatchStats summarizes the current pending bootstrap without
// decompressing any changeset bodies.
type PendingBatchStats struct {
	QueryVersion         int64
	PendingChangesets    int
	PendingChangesetBytes int
}

type storedBatchRow struct {
	RemoteVersion              uint64
	LastIntegratedClientVersion uint64
	OriginFileIdent            uint64
	OriginTimestamp            uint64
	OriginalChangesetSize      int
	Compressed                 []byte
}

// Store is the Go realization of PendingBootstrapStore, grounded on
// original_source's pending_bootstrap_store.{hpp,cpp}: one cursor/meta row
// describing the current bootstrap's query version, a batch table acting
// as a FIFO of changeset rows, and an optional progress sub-row marking
// the bootstrap complete-for-reading.
type Store struct {
	db  *bolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open creates the bootstrap buckets inside db, a bbolt handle shared with
// every other table store that lives in the same Realm file (spec.md §6);
// the caller owns db's lifetime and closes it once, after every store
// built on it has stopped using it.
func Open(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketBatches, bucketProgress} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create buckets: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close releases the decompressor; the compressor is not closed. The bbolt handle is shared
// with other stores and is closed by whoever opened it, not here.
func (s *Store) Close() error {
	s.dec.Close()
	return nil
}

func batchKey(i uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], i)
	return buf[:]
}

func getUint64(b *bolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func putUint64(b *bolt.Bucket, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.Put(key, buf[:])
}

func getInt64(b *bolt.Bucket, key []byte) int64 { return int64(getUint64(b, key)) }
func putInt64(b *bolt.Bucket, key []byte, v int64) error { return putUint64(b, key, uint64(v)) }

// HasPending reports whether a bootstrap is currently staged.
func (s *Store) HasPending() (bool, error) {
	var has bool
	err := s.db.View(func(tx *bolt.Tx) error {
		has = tx.Bucket(bucketMeta).Get(metaHasPending) != nil
		return nil
	})
	return has, err
}

// AddBatch stages a batch of changesets for queryVersion, clearing any
// existing bootstrap for a different query version first (spec.md §4.H).
// downloadEstimate is accepted for interface parity with the source's
// DownloadableProgress parameter; this store doesn't surface it separately
// since PendingStats already reports exact staged bytes.
func (s *Store) AddBatch(queryVersion int64, progress *keys.SyncProgress, downloadEstimate uint64, changesets []history.RemoteChangeset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(metaHasPending) != nil {
			cur := getInt64(meta, metaQueryVersion)
			if cur != queryVersion {
				if err := s.clearLocked(tx); err != nil {
					return err
				}
			}
		}

		meta = tx.Bucket(bucketMeta)
		if err := putInt64(meta, metaQueryVersion, queryVersion); err != nil {
			return err
		}
		if err := meta.Put(metaHasPending, []byte{1}); err != nil {
			return err
		}

		if progress != nil {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(*progress); err != nil {
				return err
			}
			if err := tx.Bucket(bucketProgress).Put([]byte("progress"), buf.Bytes()); err != nil {
				return err
			}
		}

		batches := tx.Bucket(bucketBatches)
		next := getUint64(meta, metaNext)
		for _, cs := range changesets {
			row := storedBatchRow{
				RemoteVersion:               cs.RemoteVersion,
				LastIntegratedClientVersion: cs.LastIntegratedClientVersion,
				OriginFileIdent:             cs.OriginFileIdent,
				OriginTimestamp:             cs.OriginTimestamp,
				OriginalChangesetSize:       len(cs.Data),
				Compressed:                  s.enc.EncodeAll(cs.Data, nil),
			}
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(row); err != nil {
				return err
			}
			if err := batches.Put(batchKey(next), buf.Bytes()); err != nil {
				return err
			}
			next++
		}
		return putUint64(meta, metaNext, next)
	})
}

// clearLocked discards the current bootstrap; callers must already hold a
// write transaction.
func (s *Store) clearLocked(tx *bolt.Tx) error {
	for _, name := range [][]byte{bucketBatches, bucketProgress} {
		if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(name); err != nil {
			return err
		}
	}
	meta := tx.Bucket(bucketMeta)
	if err := tx.DeleteBucket(bucketMeta); err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	_, err := tx.CreateBucket(bucketMeta)
	_ = meta
	return err
}

// Clear wipes the bootstrap for queryVersion if it is the current one.
func (s *Store) Clear(queryVersion int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(metaHasPending) == nil || getInt64(meta, metaQueryVersion) != queryVersion {
			return nil
		}
		return s.clearLocked(tx)
	})
}

// PendingStats summarizes the current bootstrap without decompressing.
func (s *Store) PendingStats() (PendingBatchStats, error) {
	var stats PendingBatchStats
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(metaHasPending) == nil {
			return nil
		}
		stats.QueryVersion = getInt64(meta, metaQueryVersion)
		c := tx.Bucket(bucketBatches).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row storedBatchRow
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&row); err != nil {
				return err
			}
			stats.PendingChangesets++
			stats.PendingChangesetBytes += row.OriginalChangesetSize
		}
		return nil
	})
	return stats, err
}

// PeekPending walks the batch list from the front, decompressing and
// parsing into RemoteChangeset form, stopping as soon as the decompressed
// total reaches limitBytes (the changeset that reaches it is included), so
// at least one changeset is returned if any is pending (Property 5).
func (s *Store) PeekPending(limitBytes int) (PendingBatch, error) {
	var out PendingBatch
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(metaHasPending) == nil {
			return nil
		}
		out.QueryVersion = getInt64(meta, metaQueryVersion)

		if data := tx.Bucket(bucketProgress).Get([]byte("progress")); data != nil {
			var p keys.SyncProgress
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
				return err
			}
			out.Progress = &p
		}

		batches := tx.Bucket(bucketBatches)
		total := 0
		all := batches.Stats().KeyN
		c := batches.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row storedBatchRow
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&row); err != nil {
				return err
			}
			data, err := s.dec.DecodeAll(row.Compressed, nil)
			if err != nil {
				return protocolerror.NewPendingBootstrapException(
					protocolerror.DecompressionUnsupported,
					"pending bootstrap batch uses an unsupported nonportable compression format",
				)
			}
			out.Changesets = append(out.Changesets, history.RemoteChangeset{
				Data:                        data,
				RemoteVersion:               row.RemoteVersion,
				LastIntegratedClientVersion: row.LastIntegratedClientVersion,
				OriginFileIdent:             row.OriginFileIdent,
				OriginTimestamp:             row.OriginTimestamp,
			})
			total += len(data)
			if total >= limitBytes {
				break
			}
		}
		out.RemainingChangesets = all - len(out.Changesets)
		return nil
	})
	return out, err
}

// PopFrontPending removes the first n batch entries; if the batch list
// becomes empty, the bootstrap row is deleted and has_pending flips false.
// This self-manages its own bbolt write transaction, for standalone and
// test use. A caller that must land this pop in the same commit as the
// history entry and object writes the popped changesets produce — so a
// crash can't advance bootstrap past a batch whose integration never
// durably landed (Property 4) — uses PopFrontPendingTx instead.
func (s *Store) PopFrontPending(n int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.popFrontPendingTx(tx, n)
	})
}

// PopFrontPendingTx is PopFrontPending run against an already-open bbolt
// write transaction the caller controls the commit of.
func (s *Store) PopFrontPendingTx(tx *bolt.Tx, n int) error {
	return s.popFrontPendingTx(tx, n)
}

func (s *Store) popFrontPendingTx(tx *bolt.Tx, n int) error {
	batches := tx.Bucket(bucketBatches)
	c := batches.Cursor()
	k, _ := c.First()
	for i := 0; i < n && k != nil; i++ {
		next, _ := c.Next()
		if err := batches.Delete(k); err != nil {
			return err
		}
		k = next
	}
	if k == nil {
		return s.clearLocked(tx)
	}
	return nil
}
