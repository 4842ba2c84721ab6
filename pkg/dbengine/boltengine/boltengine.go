// Package boltengine realizes the dbengine.Database/Transaction contract
// atop go.etcd.io/bbolt, grounded on the teacher's BoltStore
// (pkg/storage/boltdb.go): one *bolt.DB, buckets created up front, Put/Get
// against a bucket-per-concern layout. Unlike the teacher's store, which
// keys its buckets by domain entity, boltengine keys its single object
// bucket by (table, object) and keeps a second bucket of per-version
// instruction logs, since the generic Database contract in spec.md §6
// never names object shapes — that is left to callers.
//
// Simplification: StartRead/AdvanceRead only ever pin to the latest
// committed version; requesting an explicit historical version returns an
// error. A full copy-on-write B-tree that retains old versions for
// in-flight readers is the real storage engine's job and is explicitly out
// of scope (spec.md §1).
package boltengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/meridiandb/coresync/pkg/dbengine"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/translog"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketObjects = []byte("objects")
	bucketLog     = []byte("log")
	bucketMeta    = []byte("meta")

	metaVersionKey = []byte("version")

	// ErrHistoricalReadUnsupported is returned when a caller asks to pin a
	// read transaction to anything but the latest committed version.
	ErrHistoricalReadUnsupported = errors.New("boltengine: historical reads are not retained, only the latest version")
)

// Database is a bbolt-backed dbengine.Database: one open file, one
// file-level write mutex (spec.md §5 "the Realm file is process-mutexed
// for writes").
type Database struct {
	db      *bolt.DB
	path    string
	writeMu sync.Mutex
}

var _ dbengine.Database = (*Database)(nil)

// Open creates or opens the bbolt file at path and ensures its buckets
// exist.
func Open(path string) (*Database, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltengine: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketObjects, bucketLog, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db, path: path}, nil
}

func (d *Database) Path() string { return d.path }

func (d *Database) Close() error { return d.db.Close() }

// Bolt returns the underlying bbolt handle so other table stores that
// belong inside the same Realm file (client history, bootstrap,
// pending-error, subscription) can open their buckets against it instead
// of a file of their own (spec.md §6 "all persisted sync state lives in
// dedicated tables inside the user's Realm file").
func (d *Database) Bolt() *bolt.DB { return d.db }

// LatestVersion returns the most recently committed version.
func (d *Database) LatestVersion() keys.VersionID {
	var v uint64
	_ = d.db.View(func(tx *bolt.Tx) error {
		v = readVersion(tx)
		return nil
	})
	return keys.VersionID{Version: v}
}

func readVersion(tx *bolt.Tx) uint64 {
	data := tx.Bucket(bucketMeta).Get(metaVersionKey)
	if data == nil {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func writeVersion(tx *bolt.Tx, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return tx.Bucket(bucketMeta).Put(metaVersionKey, buf[:])
}

func objectKey(table keys.TableKey, obj keys.ObjKey) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], table.Value())
	binary.BigEndian.PutUint64(buf[8:16], uint64(obj))
	return buf[:]
}

func logKey(version uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	return buf[:]
}

// StartRead opens a read transaction pinned to the latest committed
// version. version must be nil or equal to the latest version.
func (d *Database) StartRead(_ context.Context, version *keys.VersionID) (dbengine.Transaction, error) {
	tx, err := d.db.Begin(false)
	if err != nil {
		return nil, err
	}
	v := readVersion(tx)
	if version != nil && version.Version != v {
		tx.Rollback()
		return nil, ErrHistoricalReadUnsupported
	}
	return &Transaction{db: d, tx: tx, version: keys.VersionID{Version: v}}, nil
}

// Transaction is the bbolt-backed dbengine.Transaction.
type Transaction struct {
	db       *Database
	tx       *bolt.Tx
	version  keys.VersionID
	writable bool

	rec          translog.Recorder
	lastTable    keys.TableKey
	hasLastTable bool
}

var _ dbengine.Transaction = (*Transaction)(nil)

func (t *Transaction) Version() keys.VersionID { return t.version }

// BoltTx exposes the transaction's underlying bbolt handle and whether it
// is currently writable, so a caller that also needs to mutate another
// bbolt-backed store (history, bootstrap) can fold that write into this
// same bbolt commit instead of opening a second one.
func (t *Transaction) BoltTx() (*bolt.Tx, bool) { return t.tx, t.writable }

// PromoteToWrite reopens the transaction for writing, acquiring the
// file-level write lock, and reports any version advance that happened
// between this transaction's read-open and now via obs.
func (t *Transaction) PromoteToWrite(obs dbengine.Observer) error {
	if t.writable {
		return errors.New("boltengine: already writing")
	}
	t.db.writeMu.Lock()

	old := t.version
	if err := t.tx.Rollback(); err != nil {
		t.db.writeMu.Unlock()
		return err
	}
	wtx, err := t.db.db.Begin(true)
	if err != nil {
		t.db.writeMu.Unlock()
		return err
	}
	newVersion := keys.VersionID{Version: readVersion(wtx)}

	if obs != nil && old.Compare(newVersion) != 0 {
		obs.WillAdvance(old, newVersion)
	}
	t.tx = wtx
	t.version = newVersion
	t.writable = true
	t.rec = translog.Recorder{}
	t.hasLastTable = false
	if obs != nil && old.Compare(newVersion) != 0 {
		obs.DidAdvance(old, newVersion)
	}
	return nil
}

func (t *Transaction) selectTable(table keys.TableKey) {
	if t.hasLastTable && t.lastTable == table {
		return
	}
	t.rec.SelectTable(table)
	t.lastTable = table
	t.hasLastTable = true
}

func (t *Transaction) requireWritable() error {
	if !t.writable {
		return errors.New("boltengine: transaction is not in the writing stage")
	}
	return nil
}

func (t *Transaction) CreateObject(table keys.TableKey, obj keys.ObjKey, data []byte) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketObjects).Put(objectKey(table, obj), data); err != nil {
		return err
	}
	t.selectTable(table)
	t.rec.CreateObject(obj)
	return nil
}

func (t *Transaction) ModifyObject(table keys.TableKey, obj keys.ObjKey, col keys.ColKey, data []byte) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketObjects).Put(objectKey(table, obj), data); err != nil {
		return err
	}
	t.selectTable(table)
	t.rec.ModifyObject(col, obj)
	return nil
}

func (t *Transaction) RemoveObject(table keys.TableKey, obj keys.ObjKey) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketObjects).Delete(objectKey(table, obj)); err != nil {
		return err
	}
	t.selectTable(table)
	t.rec.RemoveObject(obj)
	return nil
}

func (t *Transaction) GetObject(table keys.TableKey, obj keys.ObjKey) ([]byte, bool, error) {
	data := t.tx.Bucket(bucketObjects).Get(objectKey(table, obj))
	if data == nil {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// ListObjects scans the object bucket for every key belonging to table.
// Linear in the size of the whole bucket; fine for the module's scope,
// where object storage is an exercised stand-in, not a real query engine.
func (t *Transaction) ListObjects(table keys.TableKey) ([]keys.ObjKey, error) {
	var out []keys.ObjKey
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, table.Value())

	c := t.tx.Bucket(bucketObjects).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		out = append(out, keys.ObjKey(binary.BigEndian.Uint64(k[8:16])))
	}
	return out, nil
}

// CommitAndContinueAsRead persists the accumulated instruction log under
// the new version and reopens a read transaction at that version.
func (t *Transaction) CommitAndContinueAsRead() (keys.VersionID, error) {
	if err := t.requireWritable(); err != nil {
		return keys.VersionID{}, err
	}
	newVersion := t.version.Version + 1

	entries := t.rec.Entries()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		t.tx.Rollback()
		t.db.writeMu.Unlock()
		return keys.VersionID{}, err
	}
	if err := t.tx.Bucket(bucketLog).Put(logKey(newVersion), buf.Bytes()); err != nil {
		t.tx.Rollback()
		t.db.writeMu.Unlock()
		return keys.VersionID{}, err
	}
	if err := writeVersion(t.tx, newVersion); err != nil {
		t.tx.Rollback()
		t.db.writeMu.Unlock()
		return keys.VersionID{}, err
	}
	if err := t.tx.Commit(); err != nil {
		t.db.writeMu.Unlock()
		return keys.VersionID{}, err
	}
	t.db.writeMu.Unlock()

	rtx, err := t.db.db.Begin(false)
	if err != nil {
		return keys.VersionID{}, err
	}
	t.tx = rtx
	t.writable = false
	t.version = keys.VersionID{Version: newVersion}
	return t.version, nil
}

// RollbackAndContinueAsRead discards the write in progress, reporting the
// reversed instruction log through obs.
func (t *Transaction) RollbackAndContinueAsRead(obs dbengine.Observer) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	if obs != nil {
		obs.WillReverse(t.rec.Entries())
	}
	old := t.version
	if err := t.tx.Rollback(); err != nil {
		t.db.writeMu.Unlock()
		return err
	}
	t.db.writeMu.Unlock()

	rtx, err := t.db.db.Begin(false)
	if err != nil {
		return err
	}
	t.tx = rtx
	t.writable = false
	t.version = old
	return nil
}

// AdvanceRead moves a read transaction to the latest committed version
// (target, if given, must already be the latest — see package docs).
func (t *Transaction) AdvanceRead(obs dbengine.Observer, target *keys.VersionID) error {
	if t.writable {
		return errors.New("boltengine: cannot advance a write transaction")
	}
	old := t.version
	if err := t.tx.Rollback(); err != nil {
		return err
	}
	rtx, err := t.db.db.Begin(false)
	if err != nil {
		return err
	}
	newVersion := keys.VersionID{Version: readVersion(rtx)}
	if target != nil && target.Version != newVersion.Version {
		rtx.Rollback()
		return ErrHistoricalReadUnsupported
	}

	if obs != nil && old.Compare(newVersion) != 0 {
		obs.WillAdvance(old, newVersion)
	}
	t.tx = rtx
	t.version = newVersion
	if obs != nil && old.Compare(newVersion) != 0 {
		obs.DidAdvance(old, newVersion)
	}
	return nil
}

// LogSince concatenates every committed version's instruction log in
// (from, to], in commit order.
func (t *Transaction) LogSince(from, to keys.VersionID) ([]translog.Instruction, error) {
	var out []translog.Instruction
	for v := from.Version + 1; v <= to.Version; v++ {
		data := t.tx.Bucket(bucketLog).Get(logKey(v))
		if data == nil {
			continue
		}
		var entries []translog.Instruction
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
			return nil, fmt.Errorf("boltengine: decode log at version %d: %w", v, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (t *Transaction) Close() error {
	if t.writable {
		defer t.db.writeMu.Unlock()
	}
	return t.tx.Rollback()
}
