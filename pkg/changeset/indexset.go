// Package changeset implements component A: the compact index-set
// representation of inserted/deleted/modified/moved row ranges, and the
// collection-change builder that diffs two row-key sequences into one.
package changeset

import "sort"

// Range is a half-open integer interval [From, To).
type Range struct {
	From, To int
}

// Len returns the number of integers covered by the range.
func (r Range) Len() int { return r.To - r.From }

// IndexSet is a sorted sequence of disjoint half-open ranges, used to
// compactly represent a set of row indexes (insertions, deletions, ...).
type IndexSet struct {
	ranges []Range
}

// NewIndexSet returns an empty set.
func NewIndexSet() *IndexSet { return &IndexSet{} }

// Ranges returns the set's ranges in ascending, merged, disjoint form. The
// caller must not mutate the returned slice.
func (s *IndexSet) Ranges() []Range { return s.ranges }

// Count returns the total number of indexes contained in the set.
func (s *IndexSet) Count() int {
	n := 0
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Empty reports whether the set has no indexes.
func (s *IndexSet) Empty() bool { return len(s.ranges) == 0 }

// Contains reports whether i is a member of the set.
func (s *IndexSet) Contains(i int) bool {
	_, found := s.search(i)
	return found
}

// search returns the insertion point for i (index into s.ranges where a
// range starting at or after i begins) and whether i falls inside an
// existing range.
func (s *IndexSet) search(i int) (int, bool) {
	idx := sort.Search(len(s.ranges), func(j int) bool { return s.ranges[j].To > i })
	if idx < len(s.ranges) && s.ranges[idx].From <= i {
		return idx, true
	}
	return idx, false
}

// AddRange adds the half-open range [from, to) to the set, merging with any
// adjacent or overlapping ranges.
func (s *IndexSet) AddRange(from, to int) {
	if to <= from {
		return
	}
	idx := sort.Search(len(s.ranges), func(j int) bool { return s.ranges[j].To >= from })
	insertAt := idx
	for idx < len(s.ranges) && s.ranges[idx].From <= to {
		if s.ranges[idx].From < from {
			from = s.ranges[idx].From
		}
		if s.ranges[idx].To > to {
			to = s.ranges[idx].To
		}
		idx++
	}
	merged := append([]Range{}, s.ranges[:insertAt]...)
	merged = append(merged, Range{From: from, To: to})
	merged = append(merged, s.ranges[idx:]...)
	s.ranges = merged
}

// Add adds a single index to the set.
func (s *IndexSet) Add(i int) { s.AddRange(i, i+1) }

// AddShifted inserts an index expressed in pre-insertion coordinates: i is
// first shifted through the set's own existing ranges (as though it were a
// newly-created row at that pre-change position), then added.
func (s *IndexSet) AddShifted(i int) {
	s.Add(s.ShiftForInsertAt(i))
}

// AddShiftedBy adds i after first shifting it forward by the size of every
// range in shiftBy that begins at or before i. This is used to re-express
// an index from one changeset's coordinate space into another's.
func (s *IndexSet) AddShiftedBy(shiftBy *IndexSet, i int) {
	s.Add(shiftBy.ShiftForInsertAt(i))
}

// ShiftForInsertAt returns the position i would occupy after every range
// already in the set that starts at or before it is accounted for as a
// prior insertion.
func (s *IndexSet) ShiftForInsertAt(i int) int {
	shifted := i
	for _, r := range s.ranges {
		if r.From > shifted {
			break
		}
		shifted += r.Len()
	}
	return shifted
}

// Remove removes a single index from the set, if present.
func (s *IndexSet) Remove(i int) {
	idx, found := s.search(i)
	if !found {
		return
	}
	r := s.ranges[idx]
	switch {
	case r.From == i && r.To == i+1:
		s.ranges = append(s.ranges[:idx], s.ranges[idx+1:]...)
	case r.From == i:
		s.ranges[idx].From = i + 1
	case r.To == i+1:
		s.ranges[idx].To = i
	default:
		left := Range{From: r.From, To: i}
		right := Range{From: i + 1, To: r.To}
		s.ranges = append(s.ranges[:idx], append([]Range{left, right}, s.ranges[idx+1:]...)...)
	}
}

// EraseAt removes the index at set-relative position n (the n-th member in
// ascending order) and returns the underlying row index removed.
func (s *IndexSet) EraseAt(n int) int {
	count := 0
	for _, r := range s.ranges {
		if n < count+r.Len() {
			idx := r.From + (n - count)
			s.Remove(idx)
			return idx
		}
		count += r.Len()
	}
	return -1
}

// Set replaces the set's contents with exactly [0, n).
func (s *IndexSet) Set(n int) {
	if n <= 0 {
		s.ranges = nil
		return
	}
	s.ranges = []Range{{From: 0, To: n}}
}

// Clear empties the set.
func (s *IndexSet) Clear() { s.ranges = nil }

// Shift maps a pre-change index i through this set's insertions: for every
// insertion range that starts at or before i, i moves forward by that
// range's length. Used to re-express a pre-change row position as a
// post-change one.
func (s *IndexSet) Shift(i int) int {
	shifted := i
	for _, r := range s.ranges {
		if r.From > shifted {
			break
		}
		shifted += r.Len()
	}
	return shifted
}

// Unshift maps a post-change index i through this set's deletions: deleted
// ranges are skipped over, moving i backward. Returns -1 if i itself falls
// inside a deleted range (no corresponding pre-change position).
func (s *IndexSet) Unshift(i int) int {
	shifted := i
	for _, r := range s.ranges {
		if r.From > shifted {
			break
		}
		if i < r.To {
			return -1
		}
		shifted -= r.Len()
	}
	return shifted
}

// Union merges other's ranges into s.
func (s *IndexSet) Union(other *IndexSet) {
	for _, r := range other.ranges {
		s.AddRange(r.From, r.To)
	}
}

// Indexes returns every member index in ascending order. Intended for small
// sets / tests; production code should prefer ForEachRange.
func (s *IndexSet) Indexes() []int {
	out := make([]int, 0, s.Count())
	for _, r := range s.ranges {
		for i := r.From; i < r.To; i++ {
			out = append(out, i)
		}
	}
	return out
}

// ForEachRange calls fn once per disjoint range in ascending order.
func (s *IndexSet) ForEachRange(fn func(Range)) {
	for _, r := range s.ranges {
		fn(r)
	}
}

// Clone returns a deep copy of s.
func (s *IndexSet) Clone() *IndexSet {
	c := &IndexSet{ranges: make([]Range, len(s.ranges))}
	copy(c.ranges, s.ranges)
	return c
}

// Equal reports whether s and other contain exactly the same indexes.
func (s *IndexSet) Equal(other *IndexSet) bool {
	if len(s.ranges) != len(other.ranges) {
		return false
	}
	for i, r := range s.ranges {
		if other.ranges[i] != r {
			return false
		}
	}
	return true
}
