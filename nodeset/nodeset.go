package nodeset

import (
	"path"
	"sort"
	"strings"

	"github.com/clustrd/clustrd/rangeset"
)

// NodeSet is a set of host names, stored as skeleton -> RangeSetND so that
// distinct name shapes ("node%s", "rack%s") never share folding.
type NodeSet struct {
	patterns map[string]*rangeset.RangeSetND
	dims     map[string]int
	order    []string // first-insertion order of skeletons, for Iter()
	autostep float64
	foldAxis []int
}

// New returns an empty NodeSet.
func New() *NodeSet {
	return &NodeSet{
		patterns: map[string]*rangeset.RangeSetND{},
		dims:     map[string]int{},
		autostep: rangeset.AutostepDisabled,
	}
}

// SetAutostep configures the autostep threshold applied when folding every
// pattern's RangeSetND axes. See rangeset.RangeSet.SetAutostep.
func (n *NodeSet) SetAutostep(threshold float64) { n.autostep = threshold }

// SetFoldAxis restricts RangeSetND folding to the given axis indices.
func (n *NodeSet) SetFoldAxis(axes []int) { n.foldAxis = append([]int(nil), axes...) }

func (n *NodeSet) addSkeleton(skeleton string, dim int, tuples [][]rangeset.Token) {
	nd, ok := n.patterns[skeleton]
	if !ok {
		nd = rangeset.NewND(dim)
		nd.SetFoldAxis(n.foldAxis)
		n.patterns[skeleton] = nd
		n.dims[skeleton] = dim
		n.order = append(n.order, skeleton)
	}
	for _, t := range tuples {
		nd.AddTuple(t)
	}
}

func (n *NodeSet) foldAll() {
	for _, nd := range n.patterns {
		nd.Fold()
	}
}

// Parse builds a NodeSet from extended pattern text: "," union, "!"
// difference, "&" intersection, "^" symmetric difference, all left to
// right at equal precedence, plus "@name"/"@src:name"/"@@src"/"@*"/
// "@src:*" group references and "*"/"?" shell wildcards. resolver may be
// nil if the text contains no group references or wildcards.
func Parse(text string, resolver GroupResolver) (*NodeSet, error) {
	pairs, err := splitTopLevel(text)
	if err != nil {
		return nil, err
	}
	result := New()
	for _, p := range pairs {
		operand, err := evalOperand(strings.TrimSpace(p.operand), resolver)
		if err != nil {
			return nil, err
		}
		switch p.op {
		case 0, ',':
			result = result.Union(operand)
		case '!':
			result = result.Difference(operand)
		case '&':
			result = result.Intersection(operand)
		case '^':
			result = result.SymmetricDifference(operand)
		}
	}
	return result, nil
}

type opPair struct {
	op      byte
	operand string
}

func splitTopLevel(text string) ([]opPair, error) {
	var pairs []opPair
	depth := 0
	start := 0
	op := byte(0)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, parseErr(text, "unmatched ]")
			}
		case ',', '!', '&', '^':
			if depth == 0 {
				pairs = append(pairs, opPair{op, text[start:i]})
				op = text[i]
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, parseErr(text, "unmatched [")
	}
	pairs = append(pairs, opPair{op, text[start:]})
	return pairs, nil
}

func evalOperand(s string, resolver GroupResolver) (*NodeSet, error) {
	if s == "" {
		return New(), nil
	}
	if strings.HasPrefix(s, "@@") {
		return evalGroupDiscovery(s[2:], resolver)
	}
	if strings.HasPrefix(s, "@") {
		return evalGroupRef(s[1:], resolver)
	}
	if strings.ContainsAny(s, "*?") {
		return evalWildcard(s, resolver)
	}
	result := New()
	for _, name := range strings.Fields(s) {
		skel, dim, tuples, err := parseSingleName(name)
		if err != nil {
			return nil, err
		}
		result.addSkeleton(skel, dim, tuples)
	}
	result.foldAll()
	return result, nil
}

func evalGroupDiscovery(source string, resolver GroupResolver) (*NodeSet, error) {
	if resolver == nil {
		return nil, parseErr("@@"+source, "no group resolver configured")
	}
	names, err := resolver.ResolveList(source)
	if err != nil {
		return nil, err
	}
	result := New()
	for _, name := range names {
		skel, dim, tuples, err := parseSingleName(name)
		if err != nil {
			return nil, err
		}
		result.addSkeleton(skel, dim, tuples)
	}
	result.foldAll()
	return result, nil
}

func evalGroupRef(rest string, resolver GroupResolver) (*NodeSet, error) {
	if resolver == nil {
		return nil, parseErr("@"+rest, "no group resolver configured")
	}
	if rest == "*" {
		return resolver.ResolveAll("")
	}
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		src, name := rest[:idx], rest[idx+1:]
		if name == "*" {
			return resolver.ResolveAll(src)
		}
		return resolver.ResolveMap(src, name)
	}
	return resolver.ResolveMap("", rest)
}

func evalWildcard(pat string, resolver GroupResolver) (*NodeSet, error) {
	if resolver == nil {
		return nil, parseErr(pat, "no group resolver configured for wildcard expansion")
	}
	all, err := resolver.ResolveAll("")
	if err != nil {
		return nil, err
	}
	result := New()
	for _, name := range all.Iter() {
		if ok, _ := path.Match(pat, name); ok {
			skel, dim, tuples, err := parseSingleName(name)
			if err != nil {
				continue
			}
			result.addSkeleton(skel, dim, tuples)
		}
	}
	result.foldAll()
	return result, nil
}

func (n *NodeSet) clone() *NodeSet {
	c := New()
	c.autostep = n.autostep
	c.foldAxis = append([]int(nil), n.foldAxis...)
	for _, skel := range n.order {
		nd := n.patterns[skel]
		c.patterns[skel] = nd.Union(rangeset.NewND(nd.Dim()))
		c.dims[skel] = n.dims[skel]
		c.order = append(c.order, skel)
	}
	return c
}

// Len returns the total number of host names represented.
func (n *NodeSet) Len() int {
	total := 0
	for _, nd := range n.patterns {
		total += nd.Len()
	}
	return total
}

// Union returns a new NodeSet holding every name in either set.
func (n *NodeSet) Union(o *NodeSet) *NodeSet {
	result := n.clone()
	for _, skel := range o.order {
		ond := o.patterns[skel]
		if existing, ok := result.patterns[skel]; ok {
			result.patterns[skel] = existing.Union(ond)
		} else {
			result.patterns[skel] = ond.Union(rangeset.NewND(ond.Dim()))
			result.dims[skel] = o.dims[skel]
			result.order = append(result.order, skel)
		}
	}
	return result
}

// Intersection returns the names common to both sets.
func (n *NodeSet) Intersection(o *NodeSet) *NodeSet {
	result := New()
	result.autostep, result.foldAxis = n.autostep, n.foldAxis
	for _, skel := range n.order {
		ond, ok := o.patterns[skel]
		if !ok {
			continue
		}
		inter := n.patterns[skel].Intersection(ond)
		if inter.Len() > 0 {
			result.patterns[skel] = inter
			result.dims[skel] = n.dims[skel]
			result.order = append(result.order, skel)
		}
	}
	return result
}

// Difference returns the names of n that are not in o.
func (n *NodeSet) Difference(o *NodeSet) *NodeSet {
	result := New()
	result.autostep, result.foldAxis = n.autostep, n.foldAxis
	for _, skel := range n.order {
		nd := n.patterns[skel]
		if ond, ok := o.patterns[skel]; ok {
			d := nd.Difference(ond)
			if d.Len() == 0 {
				continue
			}
			result.patterns[skel] = d
		} else {
			result.patterns[skel] = nd.Union(rangeset.NewND(nd.Dim()))
		}
		result.dims[skel] = n.dims[skel]
		result.order = append(result.order, skel)
	}
	return result
}

// SymmetricDifference returns names present in exactly one of the sets:
// (A∪B) - (A∩B).
func (n *NodeSet) SymmetricDifference(o *NodeSet) *NodeSet {
	return n.Union(o).Difference(n.Intersection(o))
}

// Contains reports whether name (a single bracketed or bare name, no
// operators) is a member.
func (n *NodeSet) Contains(name string) bool {
	skel, _, tuples, err := parseSingleName(name)
	if err != nil {
		return false
	}
	nd, ok := n.patterns[skel]
	if !ok {
		return false
	}
	for _, t := range tuples {
		if !nd.Contains(t) {
			return false
		}
	}
	return true
}

// Iter returns every host name, patterns in first-insertion order and,
// within a pattern, indexes in RangeSetND order.
func (n *NodeSet) Iter() []string {
	var out []string
	for _, skel := range n.order {
		nd := n.patterns[skel]
		for _, tuple := range nd.Expand() {
			out = append(out, formatName(skel, tuple))
		}
	}
	return out
}

func formatName(skeleton string, tuple []rangeset.Token) string {
	args := make([]interface{}, len(tuple))
	for i, t := range tuple {
		args[i] = t.String()
	}
	return sprintfSkeleton(skeleton, args)
}

func sprintfSkeleton(skeleton string, args []interface{}) string {
	var sb strings.Builder
	ai := 0
	for i := 0; i < len(skeleton); i++ {
		if skeleton[i] == '%' && i+1 < len(skeleton) {
			switch skeleton[i+1] {
			case 's':
				if ai < len(args) {
					sb.WriteString(args[ai].(string))
					ai++
				}
				i++
				continue
			case '%':
				sb.WriteByte('%')
				i++
				continue
			}
		}
		sb.WriteByte(skeleton[i])
	}
	return sb.String()
}

// String folds the set: skeletons in lexicographic order, each joined by
// "," with its axes bracketed (bare single values left unbracketed).
func (n *NodeSet) String() string {
	skels := make([]string, 0, len(n.patterns))
	for skel := range n.patterns {
		skels = append(skels, skel)
	}
	sort.Strings(skels)

	var parts []string
	for _, skel := range skels {
		nd := n.patterns[skel]
		nd.SetAutostep(n.autostep)
		for _, row := range nd.FormatAxes() {
			args := make([]interface{}, len(row))
			for i, axisStr := range row {
				if needsBrackets(axisStr) {
					args[i] = "[" + axisStr + "]"
				} else {
					args[i] = axisStr
				}
			}
			parts = append(parts, sprintfSkeleton(skel, args))
		}
	}
	return strings.Join(parts, ",")
}

func needsBrackets(s string) bool {
	return strings.ContainsAny(s, ",-/")
}
