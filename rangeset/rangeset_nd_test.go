package rangeset

import "testing"

func buildND(t *testing.T, dim int, pairs ...[2]int) *RangeSetND {
	t.Helper()
	s := NewND(dim)
	for _, p := range pairs {
		s.AddTuple([]Token{{Value: p[0]}, {Value: p[1]}})
	}
	s.Fold()
	return s
}

func TestRangeSetNDFoldsRectangle(t *testing.T) {
	s := NewND(2)
	for a := 1; a <= 10; a++ {
		for b := 1; b <= 44; b++ {
			s.AddTuple([]Token{{Value: a}, {Value: b}})
		}
	}
	s.Fold()
	if got, want := s.Len(), 440; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	rows := s.FormatAxes()
	if len(rows) != 1 {
		t.Fatalf("expected a single folded vector, got %d", len(rows))
	}
	if rows[0][0] != "1-10" || rows[0][1] != "1-44" {
		t.Fatalf("unexpected folded axes: %v", rows[0])
	}
}

func TestRangeSetNDDifferenceSplitsRectangle(t *testing.T) {
	full := NewND(2)
	for a := 1; a <= 10; a++ {
		for b := 1; b <= 44; b++ {
			full.AddTuple([]Token{{Value: a}, {Value: b}})
		}
	}
	full.Fold()

	cut := NewND(2)
	for a := 5; a <= 10; a++ {
		for b := 1; b <= 34; b++ {
			cut.AddTuple([]Token{{Value: a}, {Value: b}})
		}
	}
	cut.Fold()

	diff := full.Difference(cut)
	if got, want := diff.Len(), 440-204; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	rows := diff.FormatAxes()
	if len(rows) != 2 {
		t.Fatalf("expected 2 folded vectors, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "1-4" || rows[0][1] != "1-44" {
		t.Fatalf("first vector = %v, want [1-4 1-44]", rows[0])
	}
	if rows[1][0] != "5-10" || rows[1][1] != "35-44" {
		t.Fatalf("second vector = %v, want [5-10 35-44]", rows[1])
	}
}

func TestRangeSetNDExpandOrder(t *testing.T) {
	s := NewND(1)
	for _, v := range []int{3, 1, 2} {
		s.AddTuple([]Token{{Value: v}})
	}
	s.Fold()
	tuples := s.Expand()
	if len(tuples) != 3 {
		t.Fatalf("Expand() returned %d tuples, want 3", len(tuples))
	}
	for i, want := range []int{1, 2, 3} {
		if tuples[i][0].Value != want {
			t.Fatalf("tuple %d = %d, want %d", i, tuples[i][0].Value, want)
		}
	}
}

func TestRangeSetNDZeroDim(t *testing.T) {
	s := NewND(0)
	s.AddTuple(nil)
	s.AddTuple(nil)
	if got, want := s.Len(), 1; got != want {
		t.Fatalf("Len() = %d, want %d (zero-dim tuples dedupe)", got, want)
	}
}
