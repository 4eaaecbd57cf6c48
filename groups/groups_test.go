package groups

import (
	"testing"

	"github.com/clustrd/clustrd/nodeset"
)

func mustNS(t *testing.T, text string) *nodeset.NodeSet {
	t.Helper()
	ns, err := nodeset.Parse(text, nil)
	if err != nil {
		t.Fatalf("nodeset.Parse(%q): %v", text, err)
	}
	return ns
}

func TestMapResolver(t *testing.T) {
	r := NewMapResolver()
	r.Set("", "web", mustNS(t, "node[1-5]"))
	r.Set("", "db", mustNS(t, "node[6-8]"))

	all, err := r.ResolveAll("")
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if got, want := all.Len(), 8; got != want {
		t.Fatalf("ResolveAll().Len() = %d, want %d", got, want)
	}

	names, err := r.ResolveList("")
	if err != nil {
		t.Fatalf("ResolveList: %v", err)
	}
	if got, want := len(names), 2; got != want {
		t.Fatalf("ResolveList() returned %d names, want %d", got, want)
	}

	rev, err := r.ResolveReverse("", "node7")
	if err != nil {
		t.Fatalf("ResolveReverse: %v", err)
	}
	if got, want := len(rev), 1; got != want || rev[0] != "db" {
		t.Fatalf("ResolveReverse(node7) = %v, want [db]", rev)
	}
}

func TestCachedResolverServesRepeatFromCache(t *testing.T) {
	backing := NewMapResolver()
	backing.Set("", "web", mustNS(t, "node[1-3]"))
	cached := NewCachedResolver(backing, 16)

	first, err := cached.ResolveMap("", "web")
	if err != nil {
		t.Fatalf("ResolveMap: %v", err)
	}
	backing.Set("", "web", mustNS(t, "node[9-10]"))
	second, err := cached.ResolveMap("", "web")
	if err != nil {
		t.Fatalf("ResolveMap: %v", err)
	}
	if second.Len() != first.Len() {
		t.Fatalf("expected cached result to be stable: first=%d second=%d", first.Len(), second.Len())
	}
}

func TestNoopResolverRejects(t *testing.T) {
	var r NoopResolver
	if _, err := r.ResolveMap("", "web"); err == nil {
		t.Fatal("expected error from NoopResolver")
	}
}
