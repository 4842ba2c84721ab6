// Package observer implements component B: the transaction-log observer
// hooks a storage engine replayer drives while walking committed log entries,
// and the two concrete observers (change-collecting and schema-validating)
// that consume them.
package observer

import (
	"fmt"

	"github.com/meridiandb/coresync/pkg/keys"
)

// Observer is the capability interface a changeset replayer drives
// polymorphically while walking one transaction's log entries (spec.md
// §4.B), grounded on the teacher's raft.FSM-shaped interface in
// pkg/manager/fsm.go: one small interface, several concrete implementations
// selected by the caller. Every hook returns true to continue the replay or
// false to abort it; an observer that can abort also implements
// FailingObserver to expose the reason.
type Observer interface {
	SelectTable(t keys.TableKey) bool
	SelectList(col keys.ColKey, obj keys.ObjKey) bool
	CreateObject(obj keys.ObjKey) bool
	RemoveObject(obj keys.ObjKey) bool
	ModifyObject(col keys.ColKey, obj keys.ObjKey) bool
	ListSet(i int) bool
	ListInsert(i int) bool
	ListErase(i int) bool
	ListClear(n int) bool
	ListMove(from, to int) bool
	ListSwap(a, b int) bool
	InsertColumn(col keys.ColKey) bool
	InsertGroupLevelTable(t keys.TableKey) bool
	EraseColumn(col keys.ColKey) bool
	RenameColumn(col keys.ColKey) bool
	EraseGroupLevelTable(t keys.TableKey) bool
	RenameGroupLevelTable(t keys.TableKey) bool
	ParseComplete() bool
}

// FailingObserver is implemented by observers that can abort replay; callers
// check Err() after any hook returns false.
type FailingObserver interface {
	Err() error
}

// UnsupportedSchemaChangeError is raised when a replayed log entry performs
// a schema change the observer cannot safely fold into live notifications
// (spec.md §4.B: erase_column, rename_column, erase_group_level_table,
// rename_group_level_table).
type UnsupportedSchemaChangeError struct {
	Op string
}

func (e *UnsupportedSchemaChangeError) Error() string {
	return fmt.Sprintf("unsupported schema change: %s", e.Op)
}
