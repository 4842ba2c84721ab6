// Package txn implements component F: the transaction façade wrapping a
// dbengine.Transaction with the Ready/Reading/Writing/Frozen stage machine
// and the observer-injection points the coordinator plugs into.
package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridiandb/coresync/pkg/dbengine"
	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/observer"
	"github.com/meridiandb/coresync/pkg/translog"
)

// Stage is one of the façade's four states (spec.md §4.F).
type Stage int

const (
	Ready Stage = iota
	Reading
	Writing
	Frozen
)

func (s Stage) String() string {
	switch s {
	case Ready:
		return "ready"
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	case Frozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// ErrWrongStage is returned when an operation is attempted from a stage
// that does not allow it (spec.md §7 "invalid transaction").
type ErrWrongStage struct {
	Op    string
	Have  Stage
	Want  Stage
}

func (e *ErrWrongStage) Error() string {
	return fmt.Sprintf("txn: %s requires stage %s, have %s", e.Op, e.Want, e.Have)
}

// Transaction is a single-thread-owned façade over one dbengine.Transaction
// (spec.md §3 "a Transaction owns exclusively the snapshot slot it reads").
type Transaction struct {
	db    dbengine.Database
	inner dbengine.Transaction

	stage   Stage
	version keys.VersionID

	async asyncState
}

// New returns a façade in the Ready stage over db.
func New(db dbengine.Database) *Transaction {
	return &Transaction{db: db, stage: Ready}
}

func (t *Transaction) Stage() Stage             { return t.stage }
func (t *Transaction) Version() keys.VersionID  { return t.version }

// Inner returns the dbengine.Transaction this façade wraps. The generic
// interface deliberately hides engine-specific capabilities; a caller that
// knows it's running atop a concrete engine (e.g. boltengine, to share a
// single bbolt commit with another table store) can type-assert on the
// result, the same way observer.FailingObserver is recovered via a type
// assertion in PromoteToWrite below.
func (t *Transaction) Inner() dbengine.Transaction { return t.inner }

func (t *Transaction) requireStage(op string, want Stage) error {
	if t.stage != want {
		return &ErrWrongStage{Op: op, Have: t.stage, Want: want}
	}
	return nil
}

// BeginRead moves Ready->Reading, pinning to version (latest, if nil).
func (t *Transaction) BeginRead(ctx context.Context, version *keys.VersionID) error {
	if err := t.requireStage("begin_read", Ready); err != nil {
		return err
	}
	inner, err := t.db.StartRead(ctx, version)
	if err != nil {
		return err
	}
	t.inner = inner
	t.version = inner.Version()
	t.stage = Reading
	return nil
}

// PromoteToWrite moves Reading->Writing, replaying any log entries
// committed since this transaction's read version through obs first and
// aborting (remaining in Reading) if obs rejects a schema change.
func (t *Transaction) PromoteToWrite(obs observer.Observer) error {
	if err := t.requireStage("promote_to_write", Reading); err != nil {
		return err
	}
	old := t.inner.Version()
	if err := t.inner.PromoteToWrite(nil); err != nil {
		return err
	}
	newVersion := t.inner.Version()

	if obs != nil && old.Compare(newVersion) != 0 {
		entries, err := t.inner.LogSince(old, newVersion)
		if err != nil {
			return err
		}
		if !translog.Replay(entries, obs) {
			_ = t.inner.RollbackAndContinueAsRead(nil)
			t.version = old
			if fo, ok := obs.(observer.FailingObserver); ok && fo.Err() != nil {
				return fo.Err()
			}
			return errors.New("txn: promote_to_write aborted by observer")
		}
	}
	t.version = newVersion
	t.stage = Writing
	return nil
}

// Commit moves Writing->Ready.
func (t *Transaction) Commit() error {
	if _, err := t.commit(); err != nil {
		return err
	}
	t.stage = Ready
	t.inner = nil
	return nil
}

// CommitAndContinueAsRead moves Writing->Reading at the new version.
func (t *Transaction) CommitAndContinueAsRead() (keys.VersionID, error) {
	v, err := t.commit()
	if err != nil {
		return keys.VersionID{}, err
	}
	t.stage = Reading
	return v, nil
}

// CommitAndContinueWriting moves Writing->Writing: commits, then
// immediately re-promotes against the version it just created.
func (t *Transaction) CommitAndContinueWriting() error {
	if _, err := t.commit(); err != nil {
		return err
	}
	t.stage = Reading
	return t.PromoteToWrite(nil)
}

func (t *Transaction) commit() (keys.VersionID, error) {
	if err := t.requireStage("commit", Writing); err != nil {
		return keys.VersionID{}, err
	}
	v, err := t.inner.CommitAndContinueAsRead()
	if err != nil {
		return keys.VersionID{}, err
	}
	t.version = v
	return v, nil
}

// Rollback moves Writing->Ready, discarding the write in progress.
func (t *Transaction) Rollback() error {
	if err := t.rollback(nil); err != nil {
		return err
	}
	t.stage = Ready
	t.inner = nil
	return nil
}

// RollbackAndContinueAsRead moves Writing->Reading, optionally reverse-
// applying the discarded instructions through obs.
//
// Simplification: true reversal would require the storage engine to hand
// back inverse instructions; boltengine.Transaction.RollbackAndContinueAsRead
// instead hands back the forward log it is discarding, and this replays it
// forward through obs as a best-effort notice rather than a faithful
// undo — sufficient for an observer that only wants to know "something in
// this range changed", not one relying on exact reverse semantics.
func (t *Transaction) RollbackAndContinueAsRead(obs observer.Observer) error {
	if err := t.rollback(obs); err != nil {
		return err
	}
	t.stage = Reading
	return nil
}

func (t *Transaction) rollback(obs observer.Observer) error {
	if err := t.requireStage("rollback", Writing); err != nil {
		return err
	}
	var dbObs dbengine.Observer
	if obs != nil {
		dbObs = reverseAdapter{obs}
	}
	return t.inner.RollbackAndContinueAsRead(dbObs)
}

// AdvanceRead moves Reading->Reading, replaying the log between the
// current version and target (latest, if nil) through obs.
func (t *Transaction) AdvanceRead(obs observer.Observer, target *keys.VersionID) error {
	if err := t.requireStage("advance_read", Reading); err != nil {
		return err
	}
	old := t.inner.Version()
	if err := t.inner.AdvanceRead(nil, target); err != nil {
		return err
	}
	newVersion := t.inner.Version()

	if obs != nil && old.Compare(newVersion) != 0 {
		entries, err := t.inner.LogSince(old, newVersion)
		if err != nil {
			return err
		}
		translog.Replay(entries, obs)
	}
	t.version = newVersion
	return nil
}

// Freeze produces an independent read-only façade pinned to the current
// version.
func (t *Transaction) Freeze() (*Transaction, error) {
	if t.stage != Reading && t.stage != Writing {
		return nil, &ErrWrongStage{Op: "freeze", Have: t.stage, Want: Reading}
	}
	v := t.version
	frozen := New(t.db)
	if err := frozen.BeginRead(context.Background(), &v); err != nil {
		return nil, err
	}
	frozen.stage = Frozen
	return frozen, nil
}

// CreateObject, ModifyObject and RemoveObject delegate to the underlying
// dbengine.Transaction; valid only while Writing.
func (t *Transaction) CreateObject(table keys.TableKey, obj keys.ObjKey, data []byte) error {
	if err := t.requireStage("create_object", Writing); err != nil {
		return err
	}
	return t.inner.CreateObject(table, obj, data)
}

func (t *Transaction) ModifyObject(table keys.TableKey, obj keys.ObjKey, col keys.ColKey, data []byte) error {
	if err := t.requireStage("modify_object", Writing); err != nil {
		return err
	}
	return t.inner.ModifyObject(table, obj, col, data)
}

func (t *Transaction) RemoveObject(table keys.TableKey, obj keys.ObjKey) error {
	if err := t.requireStage("remove_object", Writing); err != nil {
		return err
	}
	return t.inner.RemoveObject(table, obj)
}

// GetObject and ListObjects are valid in Reading, Writing, or Frozen.
func (t *Transaction) GetObject(table keys.TableKey, obj keys.ObjKey) ([]byte, bool, error) {
	if t.inner == nil {
		return nil, false, &ErrWrongStage{Op: "get_object", Have: t.stage, Want: Reading}
	}
	return t.inner.GetObject(table, obj)
}

func (t *Transaction) ListObjects(table keys.TableKey) ([]keys.ObjKey, error) {
	if t.inner == nil {
		return nil, &ErrWrongStage{Op: "list_objects", Have: t.stage, Want: Reading}
	}
	return t.inner.ListObjects(table)
}

// reverseAdapter bridges observer.Observer into dbengine.Observer for
// RollbackAndContinueAsRead's WillReverse hook.
type reverseAdapter struct{ obs observer.Observer }

func (reverseAdapter) WillAdvance(old, new keys.VersionID) {}
func (reverseAdapter) DidAdvance(old, new keys.VersionID)  {}
func (r reverseAdapter) WillReverse(log []translog.Instruction) {
	translog.Replay(log, r.obs)
}
