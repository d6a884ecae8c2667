package region

import (
	"testing"

	"imgsched/internal/expr"
)

func box2(x0, x1, y0, y1 int64) Box {
	return Box{
		{Min: expr.Const(x0), Max: expr.Const(x1)},
		{Min: expr.Const(y0), Max: expr.Const(y1)},
	}
}

func TestMergeIsHull(t *testing.T) {
	a := box2(0, 9, 0, 9)
	b := box2(5, 14, 2, 6)
	m := Merge(a, b)

	if got, _ := m[0].ConstExtent(); got != 15 { // 0..14
		t.Fatalf("x extent = %d, want 15", got)
	}
	if got, _ := m[1].ConstExtent(); got != 10 { // 0..9
		t.Fatalf("y extent = %d, want 10", got)
	}
}

func TestMergeSupersetProperty(t *testing.T) {
	// spec.md §8: union of regions_required over all producers is a
	// superset of every individual producer's required region.
	a := box2(0, 9, 0, 9)
	b := box2(20, 29, 20, 29)
	m := Merge(a, b)
	for i, iv := range m {
		if x, ok := a[i].ConstExtent(); ok {
			_ = x
		}
		if expr.ConstValue(expr.Simplify(iv.Min)) > expr.ConstValue(expr.Simplify(a[i].Min)) {
			t.Fatalf("merged min should be <= a's min")
		}
	}
}

func TestIntersect(t *testing.T) {
	a := box2(0, 9, 0, 9)
	b := box2(5, 14, 5, 14)
	x := Intersect(a, b)
	if got, _ := x[0].ConstExtent(); got != 5 { // 5..9
		t.Fatalf("x extent = %d, want 5", got)
	}
}

func TestSizeUnknownPropagates(t *testing.T) {
	b := Box{
		{Min: expr.Const(0), Max: expr.Unknown},
		{Min: expr.Const(0), Max: expr.Const(9)},
	}
	if _, ok := b.Size(); ok {
		t.Fatalf("expected unknown size")
	}
}

func TestInfiniteBox(t *testing.T) {
	b := Infinite(3)
	if len(b) != 3 {
		t.Fatalf("expected arity 3, got %d", len(b))
	}
	for _, iv := range b {
		if !iv.Min.IsUnknown() || !iv.Max.IsUnknown() {
			t.Fatalf("infinite box dims must be unknown")
		}
	}
}

func TestMergeMapHulls(t *testing.T) {
	m := map[string]Box{}
	MergeMap(m, "f", box2(0, 9, 0, 9))
	MergeMap(m, "f", box2(5, 14, 0, 4))
	if got, _ := m["f"][0].ConstExtent(); got != 15 {
		t.Fatalf("x extent = %d, want 15", got)
	}
}

func TestSortedKeysDeterministic(t *testing.T) {
	m := map[string]Box{"b": nil, "a": nil, "c": nil}
	got := SortedKeys(m)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedKeys = %v, want %v", got, want)
		}
	}
}
