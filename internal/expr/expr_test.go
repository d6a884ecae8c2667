package expr

import "testing"

func TestSimplifyConstantFolding(t *testing.T) {
	cases := []struct {
		name string
		e    *Expr
		want int64
	}{
		{"add", Add(Const(3), Const(4)), 7},
		{"sub", Sub(Const(10), Const(3)), 7},
		{"mul", Mul(Const(3), Const(4)), 12},
		{"min", Min(Const(3), Const(4)), 3},
		{"max", Max(Const(3), Const(4)), 4},
		{"nested", Add(Mul(Const(2), Const(3)), Const(1)), 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Simplify(c.e)
			if !got.IsConst() || ConstValue(got) != c.want {
				t.Fatalf("Simplify(%v) = %v, want const %d", c.e, got, c.want)
			}
		})
	}
}

func TestUnknownPoisons(t *testing.T) {
	e := Add(Var("x"), Unknown)
	if !e.IsUnknown() {
		t.Fatalf("Add with Unknown operand should be Unknown, got %v", e)
	}
	e2 := Simplify(Add(Var("x"), Const(1)))
	if e2.IsUnknown() {
		t.Fatalf("Add(x, 1) should not be Unknown")
	}
}

func TestSubstitute(t *testing.T) {
	e := Add(Var("x"), Const(1))
	got := Substitute(e, "x", Const(4))
	if !got.IsConst() || ConstValue(got) != 5 {
		t.Fatalf("Substitute(x+1, x, 4) = %v, want 5", got)
	}
}

func TestSubstituteUnknownVariable(t *testing.T) {
	e := Add(Var("x"), Var("y"))
	got := Simplify(Substitute(e, "x", Const(2)))
	if got.IsUnknown() {
		t.Fatalf("partial substitution should not be Unknown")
	}
	if got.Kind != KindAdd {
		t.Fatalf("expected residual Add expr, got %v", got)
	}
}

func TestSubstituteAll(t *testing.T) {
	e := Add(Var("x"), Var("y"))
	got := SubstituteAll(e, map[string]*Expr{"x": Const(2), "y": Const(3)})
	if !got.IsConst() || ConstValue(got) != 5 {
		t.Fatalf("SubstituteAll = %v, want 5", got)
	}
}
