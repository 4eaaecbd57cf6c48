package nodeset

// GroupResolver is the upcall surface a NodeSet uses to evaluate "@name",
// "@src:name", "@@src" and "@*"/"@src:*" group references. NodeSet never
// opens a file or runs an external command itself; package groups
// provides concrete resolvers (a no-op, a static map-backed one, and an
// lru-caching wrapper around either).
type GroupResolver interface {
	// ResolveMap returns the node set bound to name within source. An
	// empty source means the resolver's default source.
	ResolveMap(source, name string) (*NodeSet, error)
	// ResolveAll returns the "all nodes" set of source.
	ResolveAll(source string) (*NodeSet, error)
	// ResolveList returns every group name known to source, for "@@src"
	// group discovery.
	ResolveList(source string) ([]string, error)
	// ResolveReverse returns the group names that contain node, for
	// NodeSet.Groups/Regroup.
	ResolveReverse(source, node string) ([]string, error)
}
