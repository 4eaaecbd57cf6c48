package nodeset

import (
	"reflect"
	"testing"
)

func mustParse(t *testing.T, text string, resolver GroupResolver) *NodeSet {
	t.Helper()
	ns, err := Parse(text, resolver)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return ns
}

func TestFoldExpandRoundTrip(t *testing.T) {
	ns := mustParse(t, "node1 node2 node3 node5", nil)
	want := []string{"node1", "node2", "node3", "node5"}
	if got := ns.Iter(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Iter() = %v, want %v", got, want)
	}
	if got, want := ns.String(), "node[1-3,5]"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestMultidimensionalFold(t *testing.T) {
	a := mustParse(t, "c-[1-10]-[1-44]", nil)
	b := mustParse(t, "c-[5-10]-[1-34]", nil)
	diff := a.Difference(b)
	if got, want := diff.Len(), 440-204; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	got := diff.String()
	want := "c-[1-4]-[1-44],c-[5-10]-[35-44]"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestMixedPaddingSkeleton(t *testing.T) {
	ns := mustParse(t, "n[2,01,001]", nil)
	want := []string{"n2", "n01", "n001"}
	if got := ns.Iter(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Iter() = %v, want %v", got, want)
	}
}

type staticResolver struct {
	groups map[string]*NodeSet
}

func (r *staticResolver) ResolveMap(source, name string) (*NodeSet, error) {
	ns, ok := r.groups[name]
	if !ok {
		return New(), nil
	}
	return ns, nil
}

func (r *staticResolver) ResolveAll(source string) (*NodeSet, error) {
	all := New()
	for _, ns := range r.groups {
		all = all.Union(ns)
	}
	return all, nil
}

func (r *staticResolver) ResolveList(source string) ([]string, error) {
	var names []string
	for name := range r.groups {
		names = append(names, name)
	}
	return names, nil
}

func (r *staticResolver) ResolveReverse(source, node string) ([]string, error) {
	var names []string
	for name, ns := range r.groups {
		if ns.Contains(node) {
			names = append(names, name)
		}
	}
	return names, nil
}

func TestGroupAlgebra(t *testing.T) {
	resolver := &staticResolver{groups: map[string]*NodeSet{
		"a": mustParse(t, "n[1-9]", nil),
		"b": mustParse(t, "n[6-11]", nil),
	}}
	ns := mustParse(t, "@a^@b", resolver)
	if got, want := ns.String(), "n[1-5,10-11]"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestSetAlgebraInvariant(t *testing.T) {
	a := mustParse(t, "node[1-10]", nil)
	b := mustParse(t, "node[5-15]", nil)
	union := a.Union(b)
	inter := a.Intersection(b)
	if got, want := union.Len()+inter.Len(), a.Len()+b.Len(); got != want {
		t.Fatalf("len(A∪B)+len(A∩B) = %d, want %d", got, want)
	}
	diffAB := a.Difference(b)
	diffBA := b.Difference(a)
	for _, n := range diffAB.Iter() {
		if diffBA.Contains(n) {
			t.Fatalf("A-B and B-A both contain %q", n)
		}
	}
	sym := a.SymmetricDifference(b)
	if got, want := sym.Len(), diffAB.Len()+diffBA.Len(); got != want {
		t.Fatalf("len(A^B) = %d, want %d", got, want)
	}
}

func TestContainsBareAndBracketed(t *testing.T) {
	ns := mustParse(t, "node[1-5]", nil)
	if !ns.Contains("node3") {
		t.Fatal("expected node3 to be a member")
	}
	if ns.Contains("node9") {
		t.Fatal("did not expect node9 to be a member")
	}
}

func TestSplitAndPick(t *testing.T) {
	ns := mustParse(t, "node[1-9]", nil)
	pieces := ns.Split(3)
	if len(pieces) != 3 {
		t.Fatalf("Split(3) returned %d pieces, want 3", len(pieces))
	}
	total := 0
	for _, p := range pieces {
		total += p.Len()
	}
	if total != 9 {
		t.Fatalf("split pieces total %d names, want 9", total)
	}
	picked := ns.Pick(2)
	if got, want := picked.String(), "node[1-2]"; got != want {
		t.Fatalf("Pick(2) = %q, want %q", got, want)
	}
}

func TestHeterogeneousSkeletonsLexicographicFold(t *testing.T) {
	ns := mustParse(t, "rack[1-3],node[1-3]", nil)
	if got, want := ns.String(), "node[1-3],rack[1-3]"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
