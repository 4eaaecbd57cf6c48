package rangeset

import (
	"fmt"
	"strconv"
)

// Token is one element of a RangeSet: an integer value together with the
// zero-padding width used to print it. Pad == 0 means unpadded.
type Token struct {
	Value int
	Pad   int
}

// Less orders tokens by ascending pad width (unpadded first) then by
// value: pad-width groups come out unpadded first, then width 2, then
// width 3, and so on, values ascending within each group.
func (t Token) Less(o Token) bool {
	if t.Pad != o.Pad {
		return t.Pad < o.Pad
	}
	return t.Value < o.Value
}

// String renders the token using its pad width.
func (t Token) String() string {
	if t.Pad == 0 {
		return strconv.Itoa(t.Value)
	}
	return fmt.Sprintf("%0*d", t.Pad, t.Value)
}

// parseNumeral splits a numeral string into its integer value and the
// pad-width implied by any leading zero.
func parseNumeral(s string) (Token, error) {
	if s == "" {
		return Token{}, parseErr(s, "empty numeral")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return Token{}, parseErr(s, "invalid numeral")
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return Token{}, parseErr(s, "invalid numeral")
	}
	pad := 0
	if len(s) > 1 && s[0] == '0' {
		pad = len(s)
	}
	return Token{Value: v, Pad: pad}, nil
}
