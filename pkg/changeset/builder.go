package changeset

import "github.com/meridiandb/coresync/pkg/keys"

// Move records that the row at pre-change position From now sits at
// post-change position To.
type Move struct {
	From, To int
}

// CollectionChangeBuilder is the compact diff of one ordered collection
// (a Results, a List, ...) between two snapshots (spec.md §3, §4.A).
type CollectionChangeBuilder struct {
	Insertions       *IndexSet
	Deletions        *IndexSet
	Modifications    *IndexSet // indexes in the *old* collection
	ModificationsNew *IndexSet // the same rows, reindexed into the *new* collection
	Moves            []Move
	Columns          map[keys.ColKey]*IndexSet
	RootDeleted      bool
	CollectionCleared bool
}

// NewCollectionChangeBuilder returns an empty (no-op) change.
func NewCollectionChangeBuilder() *CollectionChangeBuilder {
	return &CollectionChangeBuilder{
		Insertions:       NewIndexSet(),
		Deletions:        NewIndexSet(),
		Modifications:    NewIndexSet(),
		ModificationsNew: NewIndexSet(),
		Columns:          map[keys.ColKey]*IndexSet{},
	}
}

// Empty reports whether the change carries no observable difference.
func (c *CollectionChangeBuilder) Empty() bool {
	return c.Insertions.Empty() && c.Deletions.Empty() && c.Modifications.Empty() &&
		len(c.Moves) == 0 && !c.RootDeleted && !c.CollectionCleared
}

// ModifyRow records that the row currently at old-index i was modified,
// optionally because column col changed, and that it now sits at new-index
// newIndex.
func (c *CollectionChangeBuilder) ModifyRow(i, newIndex int, col keys.ColKey) {
	c.Modifications.Add(i)
	c.ModificationsNew.Add(newIndex)
	if !col.IsNull() {
		set, ok := c.Columns[col]
		if !ok {
			set = NewIndexSet()
			c.Columns[col] = set
		}
		set.Add(newIndex)
	}
}

// CleanUpStaleMoves drops any recorded Move whose From is no longer present
// in Deletions or whose To is no longer present in Insertions, so the
// builder's invariant holds: every moves[i].from is in deletions and
// moves[i].to is in insertions. Moves that pass the check are kept as
// recorded; duplicates are not merged.
//
// Collapsing moves that degenerate into plain sets (an open item in the
// original implementation, see DESIGN.md) is left to the presentation layer;
// this stays with the general Moves list per spec.md §9.
func (c *CollectionChangeBuilder) CleanUpStaleMoves() {
	if len(c.Moves) == 0 {
		return
	}
	kept := c.Moves[:0]
	for _, m := range c.Moves {
		if c.Deletions.Contains(m.From) && c.Insertions.Contains(m.To) {
			kept = append(kept, m)
		}
	}
	c.Moves = kept
}

// ModificationChecker reports whether the row identified by key was modified
// between the two snapshots being diffed.
type ModificationChecker func(key int64) bool

// Calculate diffs previous row-key sequence prev against new row-key
// sequence next, producing a CollectionChangeBuilder whose application
// (deletions, then insertions, then moves, then modifications) to prev
// yields next (spec.md §4.A, Property 1).
//
// moveCandidates, if non-nil, restricts move detection to rows whose
// pre-change index is a member of the set; any other shared row that changes
// position is reported as a deletion plus an insertion. The results notifier
// passes an empty set for a sorted result, so none of its rows is reported as
// a move; a nil set allows moves to be detected for any row.
func Calculate(prev, next []int64, modified ModificationChecker, moveCandidates *IndexSet) *CollectionChangeBuilder {
	out := NewCollectionChangeBuilder()

	oldPos := make(map[int64]int, len(prev))
	for i, k := range prev {
		oldPos[k] = i
	}
	newPos := make(map[int64]int, len(next))
	for i, k := range next {
		newPos[k] = i
	}

	// Longest common subsequence of prev and next restricted to keys present
	// in both, by old-index order: rows in the LCS are the ones that can be
	// expressed as "stays put" (neither deleted, inserted, nor moved); every
	// other shared key becomes a move, and unshared keys become pure
	// deletions/insertions.
	common := commonKeysByOldOrder(prev, next, oldPos, newPos)
	lcsOld := longestIncreasingNewPositions(common, newPos)
	lcsSet := make(map[int64]bool, len(lcsOld))
	for _, k := range lcsOld {
		lcsSet[k] = true
	}

	for i, k := range prev {
		if _, stillThere := newPos[k]; !stillThere {
			out.Deletions.Add(i)
		}
	}
	for j, k := range next {
		if _, wasThere := oldPos[k]; !wasThere {
			out.Insertions.Add(j)
		}
	}
	for _, k := range common {
		if lcsSet[k] {
			continue
		}
		oi, ni := oldPos[k], newPos[k]
		if moveCandidates != nil && !moveCandidates.Contains(oi) {
			// Row can't be reported as a move in this context: express it as
			// a delete+insert pair instead (spec.md §4.A ties).
			out.Deletions.Add(oi)
			out.Insertions.Add(ni)
			continue
		}
		out.Deletions.Add(oi)
		out.Insertions.Add(ni)
		out.Moves = append(out.Moves, Move{From: oi, To: ni})
	}

	for _, k := range common {
		if modified != nil && modified(k) {
			out.ModifyRow(oldPos[k], newPos[k], keys.NullColKey)
		}
	}

	out.CleanUpStaleMoves()
	return out
}

// commonKeysByOldOrder returns the keys present in both prev and next, in
// prev's order.
func commonKeysByOldOrder(prev, next []int64, oldPos, newPos map[int64]int) []int64 {
	_ = next
	common := make([]int64, 0, len(prev))
	for _, k := range prev {
		if _, ok := newPos[k]; ok {
			common = append(common, k)
		}
	}
	_ = oldPos
	return common
}

// longestIncreasingNewPositions computes the longest subsequence of common
// (already in old-index order) whose new-index positions are strictly
// increasing: this is exactly the classic LCS-via-patience-sorting
// formulation applied to the permutation between the two orderings, and it
// identifies the rows that require no move to reconcile prev with next.
func longestIncreasingNewPositions(common []int64, newPos map[int64]int) []int64 {
	n := len(common)
	if n == 0 {
		return nil
	}
	tails := make([]int, 0, n)    // tails[i] = index into common of the smallest tail of an increasing run of length i+1
	prevIdx := make([]int, n)     // predecessor chain for reconstruction
	tailKeys := make([]int, 0, n) // new-index value at each tails[i], for binary search

	for i, k := range common {
		pos := newPos[k]
		lo, hi := 0, len(tailKeys)
		for lo < hi {
			mid := (lo + hi) / 2
			if tailKeys[mid] < pos {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prevIdx[i] = tails[lo-1]
		} else {
			prevIdx[i] = -1
		}
		if lo == len(tailKeys) {
			tails = append(tails, i)
			tailKeys = append(tailKeys, pos)
		} else {
			tails[lo] = i
			tailKeys[lo] = pos
		}
	}

	length := len(tails)
	out := make([]int64, length)
	idx := tails[length-1]
	for i := length - 1; i >= 0; i-- {
		out[i] = common[idx]
		idx = prevIdx[idx]
	}
	return out
}
