package notifier

import (
	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
)

// LiveList reports a list property's current length and whether its
// containing object still exists.
type LiveList func(version keys.VersionID) (length int, objectExists bool)

// ListNotifier tracks a single list-typed property by (table, obj, col)
// (spec.md §4.D "list-notifier specifics"): positional, not keyed — a list's
// rows have no identity of their own beyond their index.
type ListNotifier struct {
	Base

	Table  keys.TableKey
	Object keys.ObjKey
	Column keys.ColKey
	Live   LiveList
}

// AddRequiredChangeInfo registers this list so the observer populates a
// ListChangeInfo for it during the next observed span.
func (n *ListNotifier) AddRequiredChangeInfo(info *changeset.TransactionChangeInfo) {
	info.RequireList(n.Table, n.Object, n.Column)
}

// Run pulls the ListChangeInfo the observer populated for this list (if
// any) and stashes it for handover. If the containing object was deleted,
// reports row deletions equal to the list's pre-change size, per spec.md
// §4.D.
func (n *ListNotifier) Run(version keys.VersionID, info *changeset.TransactionChangeInfo, force bool) {
	if !n.NeedsRerun(version, force) {
		return
	}

	length, objectExists := n.Live(version)
	if !objectExists {
		cb := changeset.NewCollectionChangeBuilder()
		cb.Deletions.Set(len(n.PreviousRows()))
		cb.RootDeleted = true
		n.recordRun(version, nil, cb)
		return
	}

	cb := changeset.NewCollectionChangeBuilder()
	if lc := info.ListChanges(n.Table, n.Object, n.Column); lc != nil {
		cb = lc.Change
	}

	rows := make([]int64, length)
	for i := range rows {
		rows[i] = int64(i)
	}
	n.recordRun(version, rows, cb)
}
