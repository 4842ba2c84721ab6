package observer

import "github.com/meridiandb/coresync/pkg/keys"

// ValidatingObserver accepts every hook but stores nothing; it only enforces
// the schema-compatibility rules in spec.md §4.B. Used on a read-advance
// when no notifier is registered, so replay still rejects an incompatible
// schema change without paying for change tracking.
type ValidatingObserver struct {
	err error
}

var _ Observer = (*ValidatingObserver)(nil)
var _ FailingObserver = (*ValidatingObserver)(nil)

func (o *ValidatingObserver) Err() error { return o.err }

func (o *ValidatingObserver) SelectTable(keys.TableKey) bool               { return true }
func (o *ValidatingObserver) SelectList(keys.ColKey, keys.ObjKey) bool     { return true }
func (o *ValidatingObserver) CreateObject(keys.ObjKey) bool                { return true }
func (o *ValidatingObserver) RemoveObject(keys.ObjKey) bool                { return true }
func (o *ValidatingObserver) ModifyObject(keys.ColKey, keys.ObjKey) bool   { return true }
func (o *ValidatingObserver) ListSet(int) bool                             { return true }
func (o *ValidatingObserver) ListInsert(int) bool                          { return true }
func (o *ValidatingObserver) ListErase(int) bool                           { return true }
func (o *ValidatingObserver) ListClear(int) bool                           { return true }
func (o *ValidatingObserver) ListMove(int, int) bool                       { return true }
func (o *ValidatingObserver) ListSwap(int, int) bool                       { return true }
func (o *ValidatingObserver) InsertColumn(keys.ColKey) bool                { return true }
func (o *ValidatingObserver) InsertGroupLevelTable(keys.TableKey) bool     { return true }
func (o *ValidatingObserver) ParseComplete() bool                         { return true }

func (o *ValidatingObserver) EraseColumn(keys.ColKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "erase_column"}
	return false
}

func (o *ValidatingObserver) RenameColumn(keys.ColKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "rename_column"}
	return false
}

func (o *ValidatingObserver) EraseGroupLevelTable(keys.TableKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "erase_group_level_table"}
	return false
}

func (o *ValidatingObserver) RenameGroupLevelTable(keys.TableKey) bool {
	o.err = &UnsupportedSchemaChangeError{Op: "rename_group_level_table"}
	return false
}
