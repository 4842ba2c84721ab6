// Package pendingerror implements component I: the pending-error store,
// holding errors deferred until the server catches up to a specific
// version (spec.md §4.I) — e.g. a compensating-write error tied to a
// server version the client hasn't downloaded yet.
package pendingerror

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"
)

var bucketErrors = []byte("flx_pending_errors")

// PendingError is one deferred error awaiting a server version.
type PendingError struct {
	PendingUntilServerVersion uint64
	Code                      int
	Message                   string
}

// Store owns the flx_pending_errors bucket, grounded on the same
// bucket-per-entity idiom as pkg/bootstrap and pkg/history but with a
// single flat table (spec.md §6 lists it as the smallest of the four
// persisted-state families).
type Store struct {
	db *bolt.DB
}

// Open creates the pending-error bucket inside db, a bbolt handle shared
// with every other table store that lives in the same Realm file
// (spec.md §6); the caller owns db's lifetime and closes it once, after
// every store built on it has stopped using it.
func Open(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketErrors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pendingerror: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close is a no-op: the bbolt handle is shared with other stores and is
// closed by whoever opened it, not here.
func (s *Store) Close() error { return nil }

// Add inserts a new pending error.
func (s *Store) Add(pe PendingError) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketErrors)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], id)
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(pe); err != nil {
			return err
		}
		return b.Put(key[:], buf.Bytes())
	})
}

// PeekPendingErrors returns every error with
// PendingUntilServerVersion <= beforeServerVersion, sorted by that version
// descending (spec.md §4.I).
func (s *Store) PeekPendingErrors(beforeServerVersion uint64) ([]PendingError, error) {
	var out []PendingError
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketErrors).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var pe PendingError
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&pe); err != nil {
				return err
			}
			if pe.PendingUntilServerVersion <= beforeServerVersion {
				out = append(out, pe)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PendingUntilServerVersion > out[j].PendingUntilServerVersion
	})
	return out, err
}

// RemovePendingErrors drops every error with
// PendingUntilServerVersion <= beforeServerVersion, after delivery.
func (s *Store) RemovePendingErrors(beforeServerVersion uint64) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketErrors).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var pe PendingError
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&pe); err != nil {
				return err
			}
			if pe.PendingUntilServerVersion <= beforeServerVersion {
				if err := c.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}
