package tree

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/clustrd/clustrd/nodeset"
)

// route is one edge set of the propagation graph.
type route struct {
	parents  *nodeset.NodeSet
	children *nodeset.NodeSet
}

// Topology is the directed propagation graph read from a routes table.
// Each route maps a parent node set to the child node set those parents
// may contact. The spanning tree for one run is derived per target set
// by Next.
type Topology struct {
	routes []route
}

// NewTopology returns an empty topology; with no routes every target is
// contacted directly.
func NewTopology() *Topology {
	return &Topology{}
}

// AddRoute declares that every node in parents may contact every node in
// children.
func (t *Topology) AddRoute(parents, children *nodeset.NodeSet) {
	t.routes = append(t.routes, route{parents: parents, children: children})
}

// ParseRoutes reads a routes table, one "parents: children" line per
// route. Blank lines and #-comments are skipped. Group references in
// either set resolve through resolver.
func ParseRoutes(text string, resolver nodeset.GroupResolver) (*Topology, error) {
	topo := NewTopology()
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("tree: routes line %d: missing ':'", lineno)
		}
		parents, err := nodeset.Parse(strings.TrimSpace(parts[0]), resolver)
		if err != nil {
			return nil, fmt.Errorf("tree: routes line %d: %w", lineno, err)
		}
		children, err := nodeset.Parse(strings.TrimSpace(parts[1]), resolver)
		if err != nil {
			return nil, fmt.Errorf("tree: routes line %d: %w", lineno, err)
		}
		topo.AddRoute(parents, children)
	}
	return topo, nil
}

// String folds the routes back into table form.
func (t *Topology) String() string {
	var lines []string
	for _, r := range t.routes {
		lines = append(lines, fmt.Sprintf("%s: %s", r.parents, r.children))
	}
	return strings.Join(lines, "\n")
}

// children returns every node the given node may contact directly.
func (t *Topology) children(node string) []string {
	var out []string
	for _, r := range t.routes {
		if r.parents.Contains(node) {
			out = append(out, r.children.Iter()...)
		}
	}
	return out
}

// Next computes one hop of the spanning tree from root toward targets:
// the targets root contacts directly (direct children of root, plus any
// target absent from the graph), and for each selected gateway the
// disjoint sub-target set it relays. Every target appears exactly once
// across the returned sets.
func (t *Topology) Next(root string, targets *nodeset.NodeSet) (direct *nodeset.NodeSet, gateways map[string]*nodeset.NodeSet, err error) {
	direct = nodeset.New()
	gateways = make(map[string]*nodeset.NodeSet)

	// breadth-first from root, remembering each node's first hop.
	firstHop := map[string]string{}
	visited := map[string]bool{root: true}
	frontier := []string{root}
	for len(frontier) > 0 {
		var next []string
		for _, from := range frontier {
			for _, child := range t.children(from) {
				if visited[child] {
					continue
				}
				visited[child] = true
				if from == root {
					firstHop[child] = child
				} else {
					firstHop[child] = firstHop[from]
				}
				next = append(next, child)
			}
		}
		frontier = next
	}

	for _, node := range targets.Iter() {
		hop, routed := firstHop[node]
		if !routed || hop == node {
			single, perr := nodeset.Parse(node, nil)
			if perr != nil {
				return nil, nil, perr
			}
			direct = direct.Union(single)
			continue
		}
		single, perr := nodeset.Parse(node, nil)
		if perr != nil {
			return nil, nil, perr
		}
		if sub, ok := gateways[hop]; ok {
			gateways[hop] = sub.Union(single)
		} else {
			gateways[hop] = single
		}
	}
	return direct, gateways, nil
}
