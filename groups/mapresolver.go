package groups

import (
	"fmt"
	"sort"
	"sync"

	"github.com/clustrd/clustrd/nodeset"
)

// MapResolver is a static, in-memory group source: one flat namespace of
// source -> group name -> NodeSet, held under a single mutex. It exists
// for tests and for embedding programs that build their group table in
// code rather than from a group file (group-file loading is out of
// scope).
type MapResolver struct {
	locker *sync.Mutex
	groups map[string]map[string]*nodeset.NodeSet
}

// NewMapResolver returns an empty resolver.
func NewMapResolver() *MapResolver {
	return &MapResolver{
		locker: new(sync.Mutex),
		groups: make(map[string]map[string]*nodeset.NodeSet),
	}
}

// Set binds name within source to ns, replacing any previous binding.
func (r *MapResolver) Set(source, name string, ns *nodeset.NodeSet) {
	defer r.locker.Unlock()
	r.locker.Lock()
	bySource, ok := r.groups[source]
	if !ok {
		bySource = make(map[string]*nodeset.NodeSet)
		r.groups[source] = bySource
	}
	bySource[name] = ns
}

func (r *MapResolver) ResolveMap(source, name string) (*nodeset.NodeSet, error) {
	defer r.locker.Unlock()
	r.locker.Lock()
	bySource, ok := r.groups[source]
	if !ok {
		return nodeset.New(), nil
	}
	ns, ok := bySource[name]
	if !ok {
		return nil, fmt.Errorf("groups: no such group %q in source %q", name, source)
	}
	return ns, nil
}

func (r *MapResolver) ResolveAll(source string) (*nodeset.NodeSet, error) {
	defer r.locker.Unlock()
	r.locker.Lock()
	all := nodeset.New()
	for _, ns := range r.groups[source] {
		all = all.Union(ns)
	}
	return all, nil
}

func (r *MapResolver) ResolveList(source string) ([]string, error) {
	defer r.locker.Unlock()
	r.locker.Lock()
	var names []string
	for name := range r.groups[source] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *MapResolver) ResolveReverse(source, node string) ([]string, error) {
	defer r.locker.Unlock()
	r.locker.Lock()
	var names []string
	for name, ns := range r.groups[source] {
		if ns.Contains(node) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
