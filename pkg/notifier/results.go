package notifier

import (
	"github.com/meridiandb/coresync/pkg/changeset"
	"github.com/meridiandb/coresync/pkg/keys"
)

// LiveQuery executes a results query at the given snapshot, returning the
// ordered object keys it matches and whether its table still exists.
type LiveQuery func(version keys.VersionID) (rows []int64, tableExists bool)

// ResultsNotifier watches a query's result set (spec.md §4.D "results-notifier
// specifics"): it owns a query, a descriptor ordering baked into Live, and
// whether the query's output is in native table order.
type ResultsNotifier struct {
	Base

	Table        keys.TableKey
	InTableOrder bool // true: no sort applied, result order matches table storage order
	Live         LiveQuery
	Modified     changeset.ModificationChecker
}

// AddRequiredChangeInfo registers that this table's modifications (and, for
// an in-table-order result, its moves) must be tracked during the next
// observed span.
func (n *ResultsNotifier) AddRequiredChangeInfo(info *changeset.TransactionChangeInfo) {
	info.TableModificationsNeeded[n.Table] = true
	if n.InTableOrder {
		info.TableMovesNeeded[n.Table] = true
	}
}

// Run executes the query at version (unless already seen and not forced),
// diffs it against the previous run, and stashes the result for handover.
//
// moveCandidates is populated only for an in-table-order result: a sorted
// result's row order is synthetic, so a position change caused by a
// modified sort key is reported as delete+insert rather than a move; an
// in-table-order result's positions track real storage order, so any common
// row may be reported as a move (moveCandidates left nil, i.e. unrestricted).
func (n *ResultsNotifier) Run(version keys.VersionID, _ *changeset.TransactionChangeInfo, force bool) {
	if !n.NeedsRerun(version, force) {
		return
	}
	rows, exists := n.Live(version)
	if !exists {
		n.recordTableGone(version)
		return
	}

	var moveCandidates *changeset.IndexSet
	if !n.InTableOrder {
		moveCandidates = changeset.NewIndexSet()
	}

	cb := changeset.Calculate(n.PreviousRows(), rows, n.Modified, moveCandidates)
	n.recordRun(version, rows, cb)
}
