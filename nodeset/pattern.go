package nodeset

import (
	"strings"

	"github.com/clustrd/clustrd/rangeset"
)

// splitBrackets turns a single bare name (no top-level operators, no
// groups, no wildcards) into a printf skeleton and the per-bracket range
// text in declared order. Trailing digits outside a bracket are left in
// the skeleton, not treated as range values.
func splitBrackets(name string) (skeleton string, ranges []string, err error) {
	var sb strings.Builder
	i := 0
	for i < len(name) {
		c := name[i]
		if c == ']' {
			return "", nil, parseErr(name, "unmatched ]")
		}
		if c != '[' {
			if c == '%' {
				sb.WriteString("%%")
			} else {
				sb.WriteByte(c)
			}
			i++
			continue
		}
		end := strings.IndexByte(name[i:], ']')
		if end < 0 {
			return "", nil, parseErr(name, "unmatched [")
		}
		end += i
		content := name[i+1 : end]
		if content == "" {
			return "", nil, parseErr(name, "empty bracket")
		}
		if strings.Contains(content, "/") && end+1 < len(name) && isDigit(name[end+1]) {
			return "", nil, parseErr(name, "trailing digits after stepped range")
		}
		ranges = append(ranges, content)
		sb.WriteString("%s")
		i = end + 1
	}
	return sb.String(), ranges, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// extractTrailingDigits splits off the maximal trailing run of digits in
// name, reusing rangeset's own numeral/pad parsing so the extracted token
// obeys the same leading-zero pad rule as a bracketed range endpoint.
func extractTrailingDigits(name string) (prefix string, tok rangeset.Token, ok bool) {
	i := len(name)
	for i > 0 && isDigit(name[i-1]) {
		i--
	}
	if i == len(name) {
		return "", rangeset.Token{}, false
	}
	rs, err := rangeset.Parse(name[i:])
	if err != nil || rs.Len() != 1 {
		return "", rangeset.Token{}, false
	}
	return name[:i], rs.Iter()[0], true
}

// parseSingleName parses one bare, bracket-delimited name into its
// skeleton, dimension and the tuples it expands to. A name with no
// bracket groups at all still gets an implicit single-value range out of
// its trailing digit run (so "node1", "node2", ... share a skeleton and
// fold together); a name with at least one bracket group leaves any
// digits trailing the last bracket as literal skeleton text.
func parseSingleName(name string) (skeleton string, dim int, tuples [][]rangeset.Token, err error) {
	skeleton, rangeTexts, err := splitBrackets(name)
	if err != nil {
		return "", 0, nil, err
	}
	dim = len(rangeTexts)
	if dim == 0 {
		if prefix, tok, ok := extractTrailingDigits(skeleton); ok {
			return prefix + "%s", 1, [][]rangeset.Token{{tok}}, nil
		}
		return skeleton, 0, [][]rangeset.Token{{}}, nil
	}
	axes := make([]*rangeset.RangeSet, dim)
	for i, txt := range rangeTexts {
		rs, perr := rangeset.Parse(txt)
		if perr != nil {
			return "", 0, nil, parseErr(name, perr.Error())
		}
		axes[i] = rs
	}
	tuples = cartesianTokens(axes)
	return skeleton, dim, tuples, nil
}

func cartesianTokens(axes []*rangeset.RangeSet) [][]rangeset.Token {
	if len(axes) == 0 {
		return [][]rangeset.Token{{}}
	}
	rest := cartesianTokens(axes[1:])
	var out [][]rangeset.Token
	for _, tok := range axes[0].Iter() {
		for _, r := range rest {
			combo := make([]rangeset.Token, 0, len(r)+1)
			combo = append(combo, tok)
			combo = append(combo, r...)
			out = append(out, combo)
		}
	}
	return out
}
