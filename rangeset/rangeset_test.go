package rangeset

import "testing"

func TestParseFormatRoundTrip(t *testing.T) {
	r, err := Parse("1-3,5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := r.String(); got != "1-3,5" {
		t.Fatalf("String() = %q, want %q", got, "1-3,5")
	}
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
}

func TestMixedPadding(t *testing.T) {
	r, err := Parse("2,01,001")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"2", "01", "001"}
	got := r.StrIter()
	if len(got) != len(want) {
		t.Fatalf("StrIter() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("StrIter()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSteppedRangePaddingMismatch(t *testing.T) {
	if _, err := Parse("005-10/2"); err == nil {
		t.Fatal("expected padding mismatch error")
	}
}

func TestEmptyRangeRejected(t *testing.T) {
	if _, err := Parse("5-3"); err == nil {
		t.Fatal("expected empty-range error")
	}
}

func TestAutostepFold(t *testing.T) {
	r, err := Parse("1,3,5,7,9")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r.SetAutostep(3)
	if got, want := r.String(), "1-9/2"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestAutostepBelowThresholdStaysExpanded(t *testing.T) {
	r, err := Parse("1,3,5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r.SetAutostep(4)
	if got, want := r.String(), "1,3,5"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestSetAlgebra(t *testing.T) {
	a, _ := Parse("1-5")
	b, _ := Parse("3-7")
	if got, want := a.Union(b).String(), "1-7"; got != want {
		t.Fatalf("Union = %q, want %q", got, want)
	}
	if got, want := a.Intersection(b).String(), "3-5"; got != want {
		t.Fatalf("Intersection = %q, want %q", got, want)
	}
	if got, want := a.Difference(b).String(), "1-2"; got != want {
		t.Fatalf("Difference = %q, want %q", got, want)
	}
	if got, want := a.SymmetricDifference(b).String(), "1-2,6-7"; got != want {
		t.Fatalf("SymmetricDifference = %q, want %q", got, want)
	}
}

func TestContiguous(t *testing.T) {
	r, _ := Parse("1-3,7,9-10")
	pieces := r.Contiguous()
	if len(pieces) != 3 {
		t.Fatalf("Contiguous() returned %d pieces, want 3", len(pieces))
	}
	want := []string{"1-3", "7", "9-10"}
	for i, p := range pieces {
		if got := p.String(); got != want[i] {
			t.Fatalf("piece %d = %q, want %q", i, got, want[i])
		}
	}
}

func TestSplit(t *testing.T) {
	r, _ := Parse("1-10")
	pieces := r.Split(3)
	if len(pieces) != 3 {
		t.Fatalf("Split(3) returned %d pieces, want 3", len(pieces))
	}
	total := 0
	for _, p := range pieces {
		total += p.Len()
	}
	if total != 10 {
		t.Fatalf("Split(3) pieces sum to %d elements, want 10", total)
	}
}

func TestPick(t *testing.T) {
	r, _ := Parse("1-5")
	p := r.Pick(2)
	if got, want := p.String(), "1-2"; got != want {
		t.Fatalf("Pick(2) = %q, want %q", got, want)
	}
}
