package rangeset

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// AutostepDisabled marks a RangeSet as never emitting a "/step" clause.
const AutostepDisabled = -1.0

// RangeSet is a mutable, pad-aware set of integer indexes. The zero value
// is an empty set with autostep disabled.
type RangeSet struct {
	tokens   map[Token]struct{}
	autostep float64
}

// New returns an empty RangeSet.
func New() *RangeSet {
	return &RangeSet{tokens: make(map[Token]struct{}), autostep: AutostepDisabled}
}

// FromInts builds a RangeSet from plain (unpadded) integers.
func FromInts(values ...int) *RangeSet {
	r := New()
	for _, v := range values {
		r.tokens[Token{Value: v}] = struct{}{}
	}
	return r
}

// Parse builds a RangeSet from "a", "a-b", "a-b/step" terms joined by ",".
func Parse(text string) (*RangeSet, error) {
	r := New()
	if strings.TrimSpace(text) == "" {
		return r, nil
	}
	for _, part := range strings.Split(text, ",") {
		if err := r.parseTerm(part); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *RangeSet) parseTerm(part string) error {
	stepSplit := strings.SplitN(part, "/", 2)
	rangePart := stepSplit[0]
	step := 1
	hasStep := false
	if len(stepSplit) == 2 {
		hasStep = true
		s, err := strconv.Atoi(stepSplit[1])
		if err != nil || s < 1 {
			return parseErr(part, "invalid step")
		}
		step = s
	}

	bounds := strings.SplitN(rangePart, "-", 2)
	if len(bounds) == 1 {
		if hasStep {
			return parseErr(part, "step not allowed on a single value")
		}
		tok, err := parseNumeral(bounds[0])
		if err != nil {
			return err
		}
		r.tokens[tok] = struct{}{}
		return nil
	}

	lo, err := parseNumeral(bounds[0])
	if err != nil {
		return err
	}
	hi, err := parseNumeral(bounds[1])
	if err != nil {
		return err
	}
	if lo.Value > hi.Value {
		return parseErr(part, "empty range")
	}
	if lo.Pad != hi.Pad {
		return paddingErr(part)
	}
	for v := lo.Value; v <= hi.Value; v += step {
		r.tokens[Token{Value: v, Pad: lo.Pad}] = struct{}{}
	}
	return nil
}

// SetAutostep configures the autostep threshold. A value >= 1 is an
// absolute minimum run length; a value in (0, 1) is a percentage of the
// set's total length, converted with ceil(count * p). AutostepDisabled (or
// any negative value) turns autostep off.
func (r *RangeSet) SetAutostep(threshold float64) {
	r.autostep = threshold
}

// Autostep returns the configured threshold.
func (r *RangeSet) Autostep() float64 {
	return r.autostep
}

func (r *RangeSet) autostepThreshold(total int) int {
	if r.autostep < 0 {
		return total + 1 // unreachable run length -> autostep effectively off
	}
	if r.autostep >= 1 {
		return int(r.autostep)
	}
	th := int(math.Ceil(r.autostep * float64(total)))
	if th < 2 {
		th = 2
	}
	return th
}

// Len returns the number of elements (tokens) in the set.
func (r *RangeSet) Len() int {
	return len(r.tokens)
}

// Contains reports whether any token with the given integer value (of any
// pad width) is a member.
func (r *RangeSet) Contains(v int) bool {
	for t := range r.tokens {
		if t.Value == v {
			return true
		}
	}
	return false
}

// ContainsToken reports exact (value, pad) membership.
func (r *RangeSet) ContainsToken(t Token) bool {
	_, ok := r.tokens[t]
	return ok
}

// Iter returns tokens sorted by ascending pad width (unpadded first), then
// by value within one width.
func (r *RangeSet) Iter() []Token {
	out := make([]Token, 0, len(r.tokens))
	for t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// StrIter returns the printable form of every token, in iteration order.
func (r *RangeSet) StrIter() []string {
	toks := r.Iter()
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.String()
	}
	return out
}

// IntIter returns the integer value of every token, in iteration order
// (values may repeat across distinct pad widths).
func (r *RangeSet) IntIter() []int {
	toks := r.Iter()
	out := make([]int, len(toks))
	for i, t := range toks {
		out[i] = t.Value
	}
	return out
}

func (r *RangeSet) clone() *RangeSet {
	n := New()
	n.autostep = r.autostep
	for t := range r.tokens {
		n.tokens[t] = struct{}{}
	}
	return n
}

// Union returns a new RangeSet with the elements of both sets.
func (r *RangeSet) Union(o *RangeSet) *RangeSet {
	n := r.clone()
	n.Update(o)
	return n
}

// Update adds every element of o to r in place.
func (r *RangeSet) Update(o *RangeSet) {
	for t := range o.tokens {
		r.tokens[t] = struct{}{}
	}
}

// Intersection returns a new RangeSet with elements common to both sets.
func (r *RangeSet) Intersection(o *RangeSet) *RangeSet {
	n := New()
	n.autostep = r.autostep
	small, big := r, o
	if len(o.tokens) < len(r.tokens) {
		small, big = o, r
	}
	for t := range small.tokens {
		if _, ok := big.tokens[t]; ok {
			n.tokens[t] = struct{}{}
		}
	}
	return n
}

// IntersectionUpdate restricts r in place to elements also in o.
func (r *RangeSet) IntersectionUpdate(o *RangeSet) {
	for t := range r.tokens {
		if _, ok := o.tokens[t]; !ok {
			delete(r.tokens, t)
		}
	}
}

// Difference returns elements of r not in o (r - o).
func (r *RangeSet) Difference(o *RangeSet) *RangeSet {
	n := New()
	n.autostep = r.autostep
	for t := range r.tokens {
		if _, ok := o.tokens[t]; !ok {
			n.tokens[t] = struct{}{}
		}
	}
	return n
}

// DifferenceUpdate removes every element of o from r in place.
func (r *RangeSet) DifferenceUpdate(o *RangeSet) {
	for t := range o.tokens {
		delete(r.tokens, t)
	}
}

// SymmetricDifference returns elements in exactly one of the two sets.
func (r *RangeSet) SymmetricDifference(o *RangeSet) *RangeSet {
	n := New()
	n.autostep = r.autostep
	for t := range r.tokens {
		if _, ok := o.tokens[t]; !ok {
			n.tokens[t] = struct{}{}
		}
	}
	for t := range o.tokens {
		if _, ok := r.tokens[t]; !ok {
			n.tokens[t] = struct{}{}
		}
	}
	return n
}

// SymmetricDifferenceUpdate applies SymmetricDifference in place.
func (r *RangeSet) SymmetricDifferenceUpdate(o *RangeSet) {
	res := r.SymmetricDifference(o)
	r.tokens = res.tokens
}

// Slice returns the sub-RangeSet made of tokens at iteration positions
// [start, stop) stepping by step (step defaults to 1 when <= 0).
func (r *RangeSet) Slice(start, stop, step int) *RangeSet {
	if step <= 0 {
		step = 1
	}
	toks := r.Iter()
	n := New()
	n.autostep = r.autostep
	if stop > len(toks) {
		stop = len(toks)
	}
	for i := start; i < stop; i += step {
		if i < 0 || i >= len(toks) {
			continue
		}
		n.tokens[toks[i]] = struct{}{}
	}
	return n
}

// Split divides r into up to n contiguous (in iteration order), nearly
// equal, non-empty pieces. If n >= Len(), each piece is a singleton.
func (r *RangeSet) Split(n int) []*RangeSet {
	toks := r.Iter()
	total := len(toks)
	if n <= 0 || total == 0 {
		return nil
	}
	if n > total {
		n = total
	}
	out := make([]*RangeSet, 0, n)
	base := total / n
	rem := total % n
	idx := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		piece := New()
		piece.autostep = r.autostep
		for _, t := range toks[idx : idx+size] {
			piece.tokens[t] = struct{}{}
		}
		out = append(out, piece)
		idx += size
	}
	return out
}

// Contiguous yields maximal runs of consecutive (step-1) values sharing
// the same pad width, in ascending pad-then-value order.
func (r *RangeSet) Contiguous() []*RangeSet {
	groups := r.padGroups()
	var out []*RangeSet
	for _, pad := range sortedPads(groups) {
		values := groups[pad]
		i := 0
		for i < len(values) {
			j := i
			for j+1 < len(values) && values[j+1] == values[j]+1 {
				j++
			}
			piece := New()
			piece.autostep = r.autostep
			for _, v := range values[i : j+1] {
				piece.tokens[Token{Value: v, Pad: pad}] = struct{}{}
			}
			out = append(out, piece)
			i = j + 1
		}
	}
	return out
}

// Pick returns a deterministic sub-RangeSet of the first n elements in
// iteration order (n clamped to Len()).
func (r *RangeSet) Pick(n int) *RangeSet {
	if n < 0 {
		n = 0
	}
	return r.Slice(0, n, 1)
}

func (r *RangeSet) padGroups() map[int][]int {
	groups := map[int][]int{}
	for t := range r.tokens {
		groups[t.Pad] = append(groups[t.Pad], t.Value)
	}
	for pad := range groups {
		sort.Ints(groups[pad])
	}
	return groups
}

func sortedPads(groups map[int][]int) []int {
	pads := make([]int, 0, len(groups))
	for p := range groups {
		pads = append(pads, p)
	}
	sort.Ints(pads)
	return pads
}

// String folds the set into its compact textual form: contiguous runs as
// "a-b", optionally equally-spaced runs as "a-b/step" once they reach the
// autostep threshold, pad-width groups joined by ",", unpadded first.
func (r *RangeSet) String() string {
	groups := r.padGroups()
	total := r.Len()
	var items []string
	for _, pad := range sortedPads(groups) {
		items = append(items, foldGroup(groups[pad], pad, r.autostepThreshold(total))...)
	}
	return strings.Join(items, ",")
}

func foldGroup(values []int, pad int, threshold int) []string {
	var items []string
	n := len(values)
	fmtTok := func(v int) string { return (Token{Value: v, Pad: pad}).String() }
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[j+1] == values[j]+1 {
			j++
		}
		if j > i { // contiguous run of length >= 2
			items = append(items, fmtTok(values[i])+"-"+fmtTok(values[j]))
			i = j + 1
			continue
		}
		// singleton at i: try an equally-spaced (autostep) run
		if i+1 < n {
			step := values[i+1] - values[i]
			if step >= 1 {
				k := i + 1
				for k+1 < n && values[k+1]-values[k] == step {
					k++
				}
				runLen := k - i + 1
				if runLen >= threshold {
					items = append(items, fmtTok(values[i])+"-"+fmtTok(values[k])+"/"+strconv.Itoa(step))
					i = k + 1
					continue
				}
			}
		}
		items = append(items, fmtTok(values[i]))
		i++
	}
	return items
}
