package tree

import (
	"testing"

	"github.com/clustrd/clustrd/nodeset"
)

func mustNodes(t *testing.T, s string) *nodeset.NodeSet {
	t.Helper()
	ns, err := nodeset.Parse(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	return ns
}

const routesTable = `
# two gateway groups fan out to the leaves
root: gw[1-2]
gw1: leaf[1-4]
gw2: leaf[5-8]
`

func mustParseRoutes(t *testing.T, text string) *Topology {
	t.Helper()
	topo, err := ParseRoutes(text, nil)
	if err != nil {
		t.Fatal(err)
	}
	return topo
}

func TestNextSplitsTargetsByGateway(t *testing.T) {
	topo := mustParseRoutes(t, routesTable)
	targets := mustNodes(t, "leaf[1-8]")

	direct, gws, err := topo.Next("root", targets)
	if err != nil {
		t.Fatal(err)
	}
	if direct.Len() != 0 {
		t.Fatalf("direct = %s, want empty", direct)
	}
	if len(gws) != 2 {
		t.Fatalf("gateways = %v", gws)
	}
	if got := gws["gw1"].String(); got != "leaf[1-4]" {
		t.Fatalf("gw1 targets %s", got)
	}
	if got := gws["gw2"].String(); got != "leaf[5-8]" {
		t.Fatalf("gw2 targets %s", got)
	}
}

func TestNextDirectChildrenAndUnroutedNodes(t *testing.T) {
	topo := mustParseRoutes(t, routesTable)
	targets := mustNodes(t, "gw1,leaf2,other9")

	direct, gws, err := topo.Next("root", targets)
	if err != nil {
		t.Fatal(err)
	}
	// gw1 is a direct child, other9 is not in the graph at all.
	if got := direct.String(); got != "gw1,other9" {
		t.Fatalf("direct = %s", got)
	}
	if len(gws) != 1 || gws["gw1"].String() != "leaf2" {
		t.Fatalf("gateways = %v", gws)
	}
}

func TestNextFromIntermediateHop(t *testing.T) {
	topo := mustParseRoutes(t, routesTable)
	targets := mustNodes(t, "leaf[1-4]")

	direct, gws, err := topo.Next("gw1", targets)
	if err != nil {
		t.Fatal(err)
	}
	if got := direct.String(); got != "leaf[1-4]" {
		t.Fatalf("direct = %s", got)
	}
	if len(gws) != 0 {
		t.Fatalf("gateways = %v", gws)
	}
}

func TestNextDisjointCoverage(t *testing.T) {
	topo := mustParseRoutes(t, routesTable)
	targets := mustNodes(t, "leaf[1-8],other1")

	direct, gws, err := topo.Next("root", targets)
	if err != nil {
		t.Fatal(err)
	}
	total := direct.Len()
	covered := direct
	for _, sub := range gws {
		if covered.Intersection(sub).Len() != 0 {
			t.Fatalf("overlap between hops: %s and %s", covered, sub)
		}
		covered = covered.Union(sub)
		total += sub.Len()
	}
	if total != targets.Len() {
		t.Fatalf("covered %d of %d targets", total, targets.Len())
	}
}

func TestParseRoutesRejectsBadLine(t *testing.T) {
	if _, err := ParseRoutes("root gw1", nil); err == nil {
		t.Fatal("expected error for line without ':'")
	}
}
