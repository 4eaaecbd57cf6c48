// Package nodeset builds host-name sets on top of package rangeset: a
// name like "node[1-3,5]-rack[2-4]" is split into a printf-style skeleton
// ("node%s-rack%s") and a rangeset.RangeSetND holding the bracketed
// indexes. Extended grammar (",", "!", "&", "^", "@group" references,
// shell wildcards) is evaluated left to right at equal precedence.
package nodeset
