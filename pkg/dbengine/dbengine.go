// Package dbengine names the storage-engine contract the rest of this
// module treats as an external collaborator (spec.md §1 "out of scope" /
// §6 "external interfaces"): B-tree pages, file format, and MVCC snapshot
// acquisition are not implemented here, only the shape a concrete engine
// must expose.
package dbengine

import (
	"context"

	"github.com/meridiandb/coresync/pkg/keys"
	"github.com/meridiandb/coresync/pkg/translog"
)

// Observer is the hook set Transaction advance/rollback/promote operations
// drive (spec.md §6) — distinct from observer.Observer (component B, which
// watches table/list-level instructions): this one only sees version
// transitions and raw reversal bytes, and is implemented by pkg/txn to
// bridge into the richer hook set.
type Observer interface {
	WillAdvance(old, new keys.VersionID)
	DidAdvance(old, new keys.VersionID)
	WillReverse(log []translog.Instruction)
}

// Database exclusively owns one file; transactions borrow read locks from
// it (spec.md §3 "Ownership and lifecycle").
type Database interface {
	// StartRead opens a read transaction pinned to version, or the latest
	// committed version if version is nil.
	StartRead(ctx context.Context, version *keys.VersionID) (Transaction, error)
	// LatestVersion returns the most recently committed snapshot version.
	LatestVersion() keys.VersionID
	// Path returns the file path this Database owns.
	Path() string
	Close() error
}

// Transaction is a single-thread-owned snapshot handle (spec.md §3): reads
// see a fixed version; writes append to a new one on commit.
type Transaction interface {
	Version() keys.VersionID

	// PromoteToWrite acquires the file-level write lock and replays pending
	// log entries from older versions through obs first (spec.md §4.F),
	// aborting with an error on schema incompatibility.
	PromoteToWrite(obs Observer) error

	// CreateObject, ModifyObject and RemoveObject are only valid after
	// PromoteToWrite; each both mutates the object bucket and appends the
	// corresponding translog.Instruction to this transaction's recorder.
	CreateObject(table keys.TableKey, obj keys.ObjKey, data []byte) error
	ModifyObject(table keys.TableKey, obj keys.ObjKey, col keys.ColKey, data []byte) error
	RemoveObject(table keys.TableKey, obj keys.ObjKey) error

	// GetObject and ListObjects are valid in any stage and read the
	// transaction's pinned snapshot.
	GetObject(table keys.TableKey, obj keys.ObjKey) ([]byte, bool, error)
	ListObjects(table keys.TableKey) ([]keys.ObjKey, error)

	// CommitAndContinueAsRead persists the accumulated log as the new
	// version and returns to Reading at that version.
	CommitAndContinueAsRead() (keys.VersionID, error)

	// RollbackAndContinueAsRead discards any write-in-progress and returns
	// to Reading at the pre-write version, reverse-applying through obs.
	RollbackAndContinueAsRead(obs Observer) error

	// AdvanceRead moves a read transaction forward, replaying the committed
	// log between the current and target version (latest, if target is
	// nil) through obs.
	AdvanceRead(obs Observer, target *keys.VersionID) error

	// LogSince returns the committed instruction log for every version in
	// (from, to], concatenated in commit order — the input to translog.Replay
	// for the notifier pipeline (pkg/coordinator's ReplayFunc).
	LogSince(from, to keys.VersionID) ([]translog.Instruction, error)

	Close() error
}
