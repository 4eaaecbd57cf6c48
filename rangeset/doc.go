// Package rangeset implements compact, pad-aware sets of integer indexes
// ("0-8/2", "003-015") and their multidimensional counterpart, used by
// package nodeset as the addressing space for host name expansion and
// folding.
package rangeset
