package notifier

import (
	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/deepchange"
	"github.com/meridiandb/coresync/pkg/keys"
)

// ObjectNotifier watches a single object (spec.md §4.D "object-notifier
// specifics"): it reports either "deleted" (RootDeleted) or, while the object
// is alive, whether it changed (row 0 marked modified). Which columns changed
// is not reported. Run always asks the deep-change checker, walking the links
// listed in Related; KeyPathFilter is not read by Run.
type ObjectNotifier struct {
	Base

	Table         keys.TableKey
	Object        keys.ObjKey
	KeyPathFilter map[keys.TableKey]bool

	Exists   func(version keys.VersionID) bool
	Related  []deepchange.RelatedTable
	Resolver deepchange.LinkResolver
}

// AddRequiredChangeInfo registers that this object's table needs
// modification tracking during the next observed span.
func (n *ObjectNotifier) AddRequiredChangeInfo(info *changeset.TransactionChangeInfo) {
	info.TableModificationsNeeded[n.Table] = true
}

// Run checks whether the object still exists and, if so, whether it (or
// anything reachable from it through Related) changed.
func (n *ObjectNotifier) Run(version keys.VersionID, info *changeset.TransactionChangeInfo, force bool) {
	if !n.NeedsRerun(version, force) {
		return
	}
	if !n.Exists(version) {
		cb := changeset.NewCollectionChangeBuilder()
		cb.RootDeleted = true
		n.recordRun(version, nil, cb)
		return
	}

	checker := deepchange.NewChecker(n.Related, info, n.Resolver)
	changed := checker.Check(n.Table, n.Object, 0)

	cb := changeset.NewCollectionChangeBuilder()
	if changed {
		cb.ModifyRow(0, 0, keys.NullColKey)
	}
	n.recordRun(version, []int64{int64(n.Object)}, cb)
}
