package rangeset

import (
	"fmt"
	"sort"
	"strings"
)

// vector is one rectangular block of an ND set: a cartesian product of one
// RangeSet per axis.
type vector struct {
	axes []*RangeSet
}

// RangeSetND is a multidimensional RangeSet: an ordered sequence of axes,
// stored as a minimal set of non-overlapping vectors.
type RangeSetND struct {
	dim      int
	vectors  []*vector
	foldAxis []int
}

// NewND returns an empty RangeSetND of the given dimension.
func NewND(dim int) *RangeSetND {
	return &RangeSetND{dim: dim}
}

// Dim returns the number of axes.
func (s *RangeSetND) Dim() int { return s.dim }

// SetFoldAxis restricts folding to the given axis indices. A negative index
// counts from the right (-1 is the last axis). A nil/empty slice means all
// axes are eligible, which is the default.
func (s *RangeSetND) SetFoldAxis(axes []int) {
	s.foldAxis = append([]int(nil), axes...)
}

func (s *RangeSetND) foldAxes() []int {
	if len(s.foldAxis) == 0 {
		out := make([]int, s.dim)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, len(s.foldAxis))
	for i, a := range s.foldAxis {
		if a < 0 {
			a += s.dim
		}
		out[i] = a
	}
	return out
}

// AddTuple inserts a single point. Callers typically add many tuples and
// then call Fold once, rather than folding after every insertion.
func (s *RangeSetND) AddTuple(tokens []Token) {
	if s.dim == 0 {
		if len(s.vectors) == 0 {
			s.vectors = append(s.vectors, &vector{})
		}
		return
	}
	axes := make([]*RangeSet, s.dim)
	for i, t := range tokens {
		axes[i] = New()
		axes[i].tokens[t] = struct{}{}
	}
	s.vectors = append(s.vectors, &vector{axes: axes})
}

// Len returns the total number of tuples represented (summed across
// vectors, without expanding them).
func (s *RangeSetND) Len() int {
	total := 0
	for _, v := range s.vectors {
		p := 1
		for _, ax := range v.axes {
			p *= ax.Len()
		}
		total += p
	}
	return total
}

// Contains reports whether the exact tuple (matching pad widths) is a
// member.
func (s *RangeSetND) Contains(tokens []Token) bool {
	for _, v := range s.vectors {
		ok := true
		for i, t := range tokens {
			if !v.axes[i].ContainsToken(t) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func equalRangeSets(a, b *RangeSet) bool {
	if a.Len() != b.Len() {
		return false
	}
	for t := range a.tokens {
		if _, ok := b.tokens[t]; !ok {
			return false
		}
	}
	return true
}

// mergeAxis reports whether a and b differ on at most one axis. The
// returned axis is the differing one, or -1 when the vectors are
// identical (a duplicate to drop). A single differing axis outside the
// fold-axis set blocks the merge.
func mergeAxis(a, b *vector, eligible map[int]bool) (int, bool) {
	diff := -1
	for i := range a.axes {
		if !equalRangeSets(a.axes[i], b.axes[i]) {
			if diff >= 0 {
				return 0, false
			}
			diff = i
		}
	}
	if diff >= 0 && !eligible[diff] {
		return 0, false
	}
	return diff, true
}

func mergeOn(a, b *vector, axis int) *vector {
	merged := &vector{axes: make([]*RangeSet, len(a.axes))}
	for i := range a.axes {
		if i == axis {
			merged.axes[i] = a.axes[i].Union(b.axes[i])
		} else {
			merged.axes[i] = a.axes[i]
		}
	}
	return merged
}

// Fold merges vector pairs that differ on at most one eligible axis,
// the differing axis becoming the union, scanning in sorted order until
// a fixed point. Taking whichever single axis differs for each pair
// (rather than exhausting one axis before the next) keeps the folded
// form on the leftmost-first decomposition; folding is idempotent.
func (s *RangeSetND) Fold() {
	eligible := make(map[int]bool, s.dim)
	for _, ax := range s.foldAxes() {
		eligible[ax] = true
	}
	s.sortVectors()
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(s.vectors); i++ {
			for j := i + 1; j < len(s.vectors); {
				ax, ok := mergeAxis(s.vectors[i], s.vectors[j], eligible)
				if !ok {
					j++
					continue
				}
				if ax >= 0 {
					s.vectors[i] = mergeOn(s.vectors[i], s.vectors[j], ax)
				}
				s.vectors = append(s.vectors[:j], s.vectors[j+1:]...)
				changed = true
			}
		}
		if changed {
			s.sortVectors()
		}
	}
}

func (s *RangeSetND) sortVectors() {
	sort.Slice(s.vectors, func(i, j int) bool {
		vi, vj := s.vectors[i], s.vectors[j]
		for a := 0; a < s.dim; a++ {
			ti := vi.axes[a].Iter()
			tj := vj.axes[a].Iter()
			if len(ti) == 0 || len(tj) == 0 {
				continue
			}
			if ti[0].Less(tj[0]) {
				return true
			}
			if tj[0].Less(ti[0]) {
				return false
			}
		}
		return false
	})
}

// cartesian expands a vector's axes, in declared axis order, into tuples.
func cartesian(axes []*RangeSet) [][]Token {
	if len(axes) == 0 {
		return [][]Token{{}}
	}
	rest := cartesian(axes[1:])
	out := make([][]Token, 0, axes[0].Len()*len(rest))
	for _, tok := range axes[0].Iter() {
		for _, r := range rest {
			combo := make([]Token, 0, len(r)+1)
			combo = append(combo, tok)
			combo = append(combo, r...)
			out = append(out, combo)
		}
	}
	return out
}

func tupleKey(t []Token) string {
	parts := make([]string, len(t))
	for i, tok := range t {
		parts[i] = fmt.Sprintf("%d:%d", tok.Value, tok.Pad)
	}
	return strings.Join(parts, "|")
}

// Expand returns every tuple in order: vectors in fold-sorted order, axes in
// declared order within each vector.
func (s *RangeSetND) Expand() [][]Token {
	var out [][]Token
	for _, v := range s.vectors {
		out = append(out, cartesian(v.axes)...)
	}
	return out
}

// ExpandVectors is like Expand but keeps each vector's tuples in its own
// slice, in the same fold-sorted vector order as FormatAxes.
func (s *RangeSetND) ExpandVectors() [][][]Token {
	out := make([][][]Token, len(s.vectors))
	for i, v := range s.vectors {
		out[i] = cartesian(v.axes)
	}
	return out
}

func (s *RangeSetND) tuples() map[string][]Token {
	out := map[string][]Token{}
	for _, v := range s.vectors {
		for _, t := range cartesian(v.axes) {
			out[tupleKey(t)] = t
		}
	}
	return out
}

func fromTuples(dim int, tuples map[string][]Token, foldAxis []int) *RangeSetND {
	s := NewND(dim)
	s.SetFoldAxis(foldAxis)
	for _, t := range tuples {
		s.AddTuple(t)
	}
	s.Fold()
	return s
}

// Union returns a new, folded RangeSetND containing every tuple in either
// set.
func (s *RangeSetND) Union(o *RangeSetND) *RangeSetND {
	merged := s.tuples()
	for k, t := range o.tuples() {
		merged[k] = t
	}
	return fromTuples(s.dim, merged, s.foldAxis)
}

// Intersection returns the tuples common to both sets.
func (s *RangeSetND) Intersection(o *RangeSetND) *RangeSetND {
	a, b := s.tuples(), o.tuples()
	out := map[string][]Token{}
	for k, t := range a {
		if _, ok := b[k]; ok {
			out[k] = t
		}
	}
	return fromTuples(s.dim, out, s.foldAxis)
}

// Difference returns tuples of s not present in o.
func (s *RangeSetND) Difference(o *RangeSetND) *RangeSetND {
	a, b := s.tuples(), o.tuples()
	out := map[string][]Token{}
	for k, t := range a {
		if _, ok := b[k]; !ok {
			out[k] = t
		}
	}
	return fromTuples(s.dim, out, s.foldAxis)
}

// SymmetricDifference returns tuples present in exactly one of the sets.
func (s *RangeSetND) SymmetricDifference(o *RangeSetND) *RangeSetND {
	a, b := s.tuples(), o.tuples()
	out := map[string][]Token{}
	for k, t := range a {
		if _, ok := b[k]; !ok {
			out[k] = t
		}
	}
	for k, t := range b {
		if _, ok := a[k]; !ok {
			out[k] = t
		}
	}
	return fromTuples(s.dim, out, s.foldAxis)
}

// SetAutostep applies an autostep threshold to every axis of every stored
// vector, affecting subsequent FormatAxes calls.
func (s *RangeSetND) SetAutostep(threshold float64) {
	for _, v := range s.vectors {
		for _, ax := range v.axes {
			ax.SetAutostep(threshold)
		}
	}
}

// FormatAxes returns, for every vector in fold-sorted order, the folded
// string of each axis (declared axis order). Callers (package nodeset)
// assemble these into a skeleton-wrapped printable form.
func (s *RangeSetND) FormatAxes() [][]string {
	out := make([][]string, len(s.vectors))
	for i, v := range s.vectors {
		row := make([]string, len(v.axes))
		for j, ax := range v.axes {
			row[j] = ax.String()
		}
		out[i] = row
	}
	return out
}
