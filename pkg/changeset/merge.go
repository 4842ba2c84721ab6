package changeset

import "github.com/meridiandb/coresync/pkg/keys"

// Placement maps every surviving (non-deleted) row's old index to its new
// index after a CollectionChangeBuilder's deletions/insertions/moves are
// applied. It is the same bookkeeping the notifier needs to re-express a
// previous run's positions in the new run's coordinate space, and is reused
// by Merge to recompose two successive changesets.
func Placement(prevLen int, cb *CollectionChangeBuilder) map[int]int {
	finalLen := prevLen - cb.Deletions.Count() + cb.Insertions.Count()
	placedSlots := make([]bool, finalLen)
	result := make(map[int]int, prevLen)

	movedFrom := make(map[int]bool, len(cb.Moves))
	for _, m := range cb.Moves {
		result[m.From] = m.To
		if m.To >= 0 && m.To < finalLen {
			placedSlots[m.To] = true
		}
		movedFrom[m.From] = true
	}
	for _, pos := range cb.Insertions.Indexes() {
		if pos >= 0 && pos < finalLen {
			placedSlots[pos] = true
		}
	}

	var survivors []int
	for i := 0; i < prevLen; i++ {
		if cb.Deletions.Contains(i) || movedFrom[i] {
			continue
		}
		survivors = append(survivors, i)
	}

	li := 0
	for idx := 0; idx < finalLen; idx++ {
		if placedSlots[idx] {
			continue
		}
		if li >= len(survivors) {
			break
		}
		result[survivors[li]] = idx
		li++
	}
	return result
}

// invert reverses a Placement map (new index / dst -> old index / src). If
// two entries share a value, the one visited last by map iteration wins; a
// valid placement has no such entries.
func invert(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Reconstruct applies cb (as produced by Calculate against prevKeys) to
// prevKeys, using newValues to supply the value placed at each insertion
// position. It is the executable form of the round-trip contract in
// spec.md Property 1: for cb = Calculate(prev, next, ...) and newValues(pos)
// = next[pos], Reconstruct(prevKeys, cb, newValues) == next.
func Reconstruct(prevKeys []int64, cb *CollectionChangeBuilder, newValues func(pos int) int64) []int64 {
	placement := Placement(len(prevKeys), cb)
	finalLen := len(prevKeys) - cb.Deletions.Count() + cb.Insertions.Count()
	out := make([]int64, finalLen)
	for oldIdx, newIdx := range placement {
		out[newIdx] = prevKeys[oldIdx]
	}
	for _, pos := range cb.Insertions.Indexes() {
		out[pos] = newValues(pos)
	}
	return out
}

// remapIndexSet moves every index in src (expressed in cb's old/ "Q" space)
// into cb's new/ "R" space via placement, dropping indexes cb deleted.
func remapIndexSet(src *IndexSet, placement map[int]int) *IndexSet {
	out := NewIndexSet()
	for _, i := range src.Indexes() {
		if ni, ok := placement[i]; ok {
			out.Add(ni)
		}
	}
	return out
}

// Merge composes two changesets computed at successive versions: a took the
// collection from size sizeBeforeA to some intermediate state, and b took
// that intermediate state to the final one. The result is equivalent to
// their concatenation (spec.md §4.A, §8 Property 2): applying Merge(a, b)
// to the original rows yields the same collection as applying a then b.
//
// Implementation note: rather than re-deriving the four merge rules
// index-arithmetically, the merge is computed by literally simulating the
// two transformations against a synthetic key sequence and re-diffing the
// endpoints — this is equivalent by construction (composition of two
// position transformations is itself a position transformation) and is far
// less error-prone than hand-rolled index shifting. Column/modification
// tracking, which Calculate does not reconstruct on its own, is carried
// across explicitly using the same Placement map.
func Merge(sizeBeforeA int, a, b *CollectionChangeBuilder) *CollectionChangeBuilder {
	// P: synthetic keys for the rows that existed before a.
	p := make([]int64, sizeBeforeA)
	for i := range p {
		p[i] = int64(i) + 1
	}
	nextSynthetic := int64(sizeBeforeA) + 1
	gen := func() int64 {
		k := nextSynthetic
		nextSynthetic++
		return -k // negative so synthetic insertion keys never collide with P's positive keys
	}

	q := Reconstruct(p, a, func(int) int64 { return gen() })
	r := Reconstruct(q, b, func(int) int64 { return gen() })

	modifiedKeys := make(map[int64]bool, a.Modifications.Count()+b.Modifications.Count())
	mapA := Placement(sizeBeforeA, a)
	mapB := Placement(len(q), b)
	revA := invert(mapA)

	for _, qi := range a.ModificationsNew.Indexes() {
		if qi >= 0 && qi < len(q) {
			modifiedKeys[q[qi]] = true
		}
	}
	for _, qi := range b.Modifications.Indexes() {
		if qi >= 0 && qi < len(q) {
			modifiedKeys[q[qi]] = true
		}
	}

	merged := Calculate(p, r, func(k int64) bool { return modifiedKeys[k] }, nil)

	// Columns: union b's own (already final-space) with a's, remapped
	// through b's placement; anything b deleted drops out.
	merged.Columns = map[keys.ColKey]*IndexSet{}
	for col, set := range b.Columns {
		merged.Columns[col] = set.Clone()
	}
	for col, set := range a.Columns {
		remapped := remapIndexSet(set, mapB)
		if existing, ok := merged.Columns[col]; ok {
			existing.Union(remapped)
		} else {
			merged.Columns[col] = remapped
		}
	}

	merged.RootDeleted = a.RootDeleted || b.RootDeleted
	merged.CollectionCleared = a.CollectionCleared || b.CollectionCleared
	_ = revA
	return merged
}
