package observer

import (
	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
)

// ChangeInfoObserver collects every hook it receives into a
// changeset.TransactionChangeInfo, implementing the table in spec.md §4.B.
type ChangeInfoObserver struct {
	Info *changeset.TransactionChangeInfo

	table    keys.TableKey
	hasTable bool
	list     *changeset.ListChangeInfo

	err error
}

var _ Observer = (*ChangeInfoObserver)(nil)
var _ FailingObserver = (*ChangeInfoObserver)(nil)

// NewChangeInfoObserver returns an observer that populates info.
func NewChangeInfoObserver(info *changeset.TransactionChangeInfo) *ChangeInfoObserver {
	return &ChangeInfoObserver{Info: info}
}

// Err returns the reason the last hook returned false, if any.
func (o *ChangeInfoObserver) Err() error { return o.err }

func (o *ChangeInfoObserver) activeChanges() *changeset.ObjectChangeSet {
	if !o.hasTable {
		return nil
	}
	return o.Info.TableChanges(o.table)
}

// SelectTable sets the active table, pre-creating its ObjectChangeSet when
// TrackAll or TableModificationsNeeded calls for it (spec.md §4.B
// select_table).
func (o *ChangeInfoObserver) SelectTable(t keys.TableKey) bool {
	o.table = t
	o.hasTable = true
	o.list = nil
	o.Info.TableChanges(t)
	return true
}

// SelectList looks up an already-registered ListChangeInfo for (table, obj,
// col); a no-op (active list cleared) if none was requested.
func (o *ChangeInfoObserver) SelectList(col keys.ColKey, obj keys.ObjKey) bool {
	o.list = nil
	if o.hasTable {
		o.list = o.Info.ListChanges(o.table, obj, col)
	}
	return true
}

func (o *ChangeInfoObserver) CreateObject(obj keys.ObjKey) bool {
	if cs := o.activeChanges(); cs != nil {
		cs.Create(obj)
	}
	return true
}

// RemoveObject also scrubs the object from every list rooted at it, per
// spec.md §4.B.
func (o *ChangeInfoObserver) RemoveObject(obj keys.ObjKey) bool {
	if cs := o.activeChanges(); cs != nil {
		cs.Remove(obj)
	}
	if o.hasTable {
		o.Info.ScrubObjectFromLists(o.table, obj)
	}
	return true
}

func (o *ChangeInfoObserver) ModifyObject(col keys.ColKey, obj keys.ObjKey) bool {
	if cs := o.activeChanges(); cs != nil {
		cs.Modify(obj, col)
	}
	return true
}

func (o *ChangeInfoObserver) ListSet(i int) bool {
	if o.list != nil {
		o.list.Change.ModifyRow(i, i, keys.NullColKey)
	}
	return true
}

func (o *ChangeInfoObserver) ListInsert(i int) bool {
	if o.list != nil {
		// i is a position in the list as it is now, so insertions already
		// recorded at or after i move up by one before i itself is added.
		shifted := changeset.NewIndexSet()
		for _, idx := range o.list.Change.Insertions.Indexes() {
			if idx >= i {
				idx++
			}
			shifted.Add(idx)
		}
		shifted.Add(i)
		o.list.Change.Insertions = shifted
	}
	return true
}

func (o *ChangeInfoObserver) ListErase(i int) bool {
	if o.list != nil {
		o.list.Change.Deletions.Add(i)
	}
	return true
}

func (o *ChangeInfoObserver) ListClear(n int) bool {
	if o.list != nil {
		o.list.Change.Deletions.Set(n)
		o.list.Change.CollectionCleared = true
	}
	return true
}

func (o *ChangeInfoObserver) ListMove(from, to int) bool {
	if o.list != nil {
		o.list.Change.Moves = append(o.list.Change.Moves, changeset.Move{From: from, To: to})
	}
	return true
}

// ListSwap is implemented as two list_sets, per spec.md §4.B.
func (o *ChangeInfoObserver) ListSwap(a, b int) bool {
	o.ListSet(a)
	o.ListSet(b)
	return true
}

func (o *ChangeInfoObserver) InsertColumn(keys.ColKey) bool {
	o.Info.SchemaChanged = true
	return true
}

func (o *ChangeInfoObserver) InsertGroupLevelTable(keys.TableKey) bool {
	o.Info.SchemaChanged = true
	return true
}

func (o *ChangeInfoObserver) EraseColumn(keys.ColKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "erase_column"}
	return false
}

func (o *ChangeInfoObserver) RenameColumn(keys.ColKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "rename_column"}
	return false
}

func (o *ChangeInfoObserver) EraseGroupLevelTable(keys.TableKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "erase_group_level_table"}
	return false
}

func (o *ChangeInfoObserver) RenameGroupLevelTable(keys.TableKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "rename_group_level_table"}
	return false
}

// ParseComplete materializes derived fields (table changes need none beyond
// what Create/Remove/Modify already recorded) and cleans up stale moves on
// every tracked list.
func (o *ChangeInfoObserver) ParseComplete() bool {
	for _, l := range o.Info.Lists {
		l.Change.CleanUpStaleMoves()
	}
	return true
}
