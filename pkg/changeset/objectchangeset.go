package changeset

import "github.com/meridiandb/coresync/pkg/keys"

// ObjectChangeSet tracks, for a single table, which objects were created,
// removed, or had columns modified between two snapshots (spec.md §3).
//
// Invariants: a key never appears in both Insertions and Deletions; a key
// in Deletions is absent from Modifications; ClearOccurred is sticky and
// implies Deletions contains every pre-change key.
type ObjectChangeSet struct {
	Deletions      map[keys.ObjKey]bool
	Insertions     map[keys.ObjKey]bool
	Modifications  map[keys.ObjKey]map[keys.ColKey]bool
	ClearOccurred  bool
}

// NewObjectChangeSet returns an empty change set.
func NewObjectChangeSet() *ObjectChangeSet {
	return &ObjectChangeSet{
		Deletions:     map[keys.ObjKey]bool{},
		Insertions:    map[keys.ObjKey]bool{},
		Modifications: map[keys.ObjKey]map[keys.ColKey]bool{},
	}
}

// Empty reports whether nothing changed.
func (c *ObjectChangeSet) Empty() bool {
	return len(c.Deletions) == 0 && len(c.Insertions) == 0 && len(c.Modifications) == 0 && !c.ClearOccurred
}

// Create records the creation of obj, undoing any stale modification or
// deletion record for the same key (handles key reuse after a delete within
// the same observed span).
func (c *ObjectChangeSet) Create(obj keys.ObjKey) {
	c.Insertions[obj] = true
	delete(c.Deletions, obj)
	delete(c.Modifications, obj)
}

// Remove records the removal of obj, scrubbing it from Insertions and
// Modifications per the invariant.
func (c *ObjectChangeSet) Remove(obj keys.ObjKey) {
	if c.Insertions[obj] {
		delete(c.Insertions, obj)
		return
	}
	c.Deletions[obj] = true
	delete(c.Modifications, obj)
}

// Modify records that column col on obj changed, including for an object
// created within the same span. A no-op if obj was deleted within the same
// span (deletion already implies every column is "gone").
func (c *ObjectChangeSet) Modify(obj keys.ObjKey, col keys.ColKey) {
	if c.Deletions[obj] {
		return
	}
	cols, ok := c.Modifications[obj]
	if !ok {
		cols = map[keys.ColKey]bool{}
		c.Modifications[obj] = cols
	}
	cols[col] = true
}

// Clear marks the table as having been cleared, adding every key in
// liveKeys (the table's contents immediately before the clear) to
// Deletions, per the ClearOccurred invariant.
func (c *ObjectChangeSet) Clear(liveKeys []keys.ObjKey) {
	c.ClearOccurred = true
	for _, k := range liveKeys {
		if c.Insertions[k] {
			delete(c.Insertions, k)
			continue
		}
		c.Deletions[k] = true
		delete(c.Modifications, k)
	}
}

// ListChangeInfo is the positional (index-based) diff for one list-typed
// property on one object.
type ListChangeInfo struct {
	Table  keys.TableKey
	Object keys.ObjKey
	Column keys.ColKey
	Change *CollectionChangeBuilder
}

// TransactionChangeInfo is the aggregate of every table's and list's change
// during one observed transaction span (spec.md §3).
type TransactionChangeInfo struct {
	Tables                map[keys.TableKey]*ObjectChangeSet
	Lists                 []*ListChangeInfo
	TableModificationsNeeded map[keys.TableKey]bool
	TableMovesNeeded      map[keys.TableKey]bool
	TrackAll              bool
	SchemaChanged         bool
}

// NewTransactionChangeInfo returns an empty info ready to be populated by an
// observer (pkg/observer).
func NewTransactionChangeInfo() *TransactionChangeInfo {
	return &TransactionChangeInfo{
		Tables:                   map[keys.TableKey]*ObjectChangeSet{},
		TableModificationsNeeded: map[keys.TableKey]bool{},
		TableMovesNeeded:         map[keys.TableKey]bool{},
	}
}

// TableChanges returns (creating if necessary) the ObjectChangeSet for t,
// respecting TrackAll / TableModificationsNeeded per spec.md §4.B.
func (info *TransactionChangeInfo) TableChanges(t keys.TableKey) *ObjectChangeSet {
	if cs, ok := info.Tables[t]; ok {
		return cs
	}
	if !info.TrackAll && !info.TableModificationsNeeded[t] {
		return nil
	}
	cs := NewObjectChangeSet()
	info.Tables[t] = cs
	return cs
}

// ListChanges finds the ListChangeInfo already registered for (t, obj, col),
// or nil if none was requested (spec.md §4.B select_list is a no-op when no
// notifier asked for that list).
func (info *TransactionChangeInfo) ListChanges(t keys.TableKey, obj keys.ObjKey, col keys.ColKey) *ListChangeInfo {
	for _, l := range info.Lists {
		if l.Table == t && l.Object == obj && l.Column == col {
			return l
		}
	}
	return nil
}

// RequireList registers that the table/object/column list should be
// populated during the next observed transaction span.
func (info *TransactionChangeInfo) RequireList(t keys.TableKey, obj keys.ObjKey, col keys.ColKey) *ListChangeInfo {
	if existing := info.ListChanges(t, obj, col); existing != nil {
		return existing
	}
	l := &ListChangeInfo{Table: t, Object: obj, Column: col, Change: NewCollectionChangeBuilder()}
	info.Lists = append(info.Lists, l)
	return l
}

// ScrubObjectFromLists removes every list entry rooted at obj (in table t),
// called when obj itself is deleted (spec.md §4.B remove_object).
func (info *TransactionChangeInfo) ScrubObjectFromLists(t keys.TableKey, obj keys.ObjKey) {
	kept := info.Lists[:0]
	for _, l := range info.Lists {
		if l.Table == t && l.Object == obj {
			continue
		}
		kept = append(kept, l)
	}
	info.Lists = kept
}
