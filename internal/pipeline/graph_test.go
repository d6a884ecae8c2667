package pipeline

import (
	"testing"

	"imgsched/internal/expr"
)

// pointwiseChain builds a(x,y) = in(x,y); b(x,y) = a(x,y) + a(x+1,y);
// out(x,y) = b(x,y) * 2, the scenario-1 pipeline from spec.md §8.
func pointwiseChain() Env {
	env := Env{}
	env["a"] = &Function{
		Name: "a", PureArgs: []string{"x", "y"},
		Pure: Definition{
			Args: []*expr.Expr{expr.Var("x"), expr.Var("y")},
			RHS:  []Call{{Callee: "in", Args: []*expr.Expr{expr.Var("x"), expr.Var("y")}}},
		},
	}
	env["b"] = &Function{
		Name: "b", PureArgs: []string{"x", "y"},
		Pure: Definition{
			Args: []*expr.Expr{expr.Var("x"), expr.Var("y")},
			RHS: []Call{
				{Callee: "a", Args: []*expr.Expr{expr.Var("x"), expr.Var("y")}},
				{Callee: "a", Args: []*expr.Expr{expr.Add(expr.Var("x"), expr.Const(1)), expr.Var("y")}},
			},
		},
	}
	env["out"] = &Function{
		Name: "out", PureArgs: []string{"x", "y"},
		Pure: Definition{
			Args: []*expr.Expr{expr.Var("x"), expr.Var("y")},
			RHS:  []Call{{Callee: "b", Args: []*expr.Expr{expr.Var("x"), expr.Var("y")}}},
		},
	}
	for _, fn := range env {
		fn.Dims = DefaultDims(fn.PureArgs)
	}
	return env
}

func TestBuildGraphEdges(t *testing.T) {
	env := pointwiseChain()
	g := BuildGraph(env)

	aLast := FStage{"a", 0}
	bLast := FStage{"b", 0}
	outStage := FStage{"out", 0}

	if !containsStage(g.Children[aLast], bLast) {
		t.Fatalf("expected edge a -> b, children[a] = %v", g.Children[aLast])
	}
	if !containsStage(g.Children[bLast], outStage) {
		t.Fatalf("expected edge b -> out, children[b] = %v", g.Children[bLast])
	}
	// "in" is a pipeline input, never a node.
	if _, ok := g.Children[FStage{"in", 0}]; ok {
		t.Fatalf("pipeline input must not be a graph node")
	}
}

func TestBuildGraphDedupesMultipleCalls(t *testing.T) {
	env := pointwiseChain()
	g := BuildGraph(env)
	// b calls a twice (a(x,y) and a(x+1,y)); the edge a -> b must appear once.
	count := 0
	for _, c := range g.Children[FStage{"a", 0}] {
		if c == (FStage{"b", 0}) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one a->b edge, got %d", count)
	}
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	env := pointwiseChain()
	g := BuildGraph(env)
	pos := make(map[FStage]int)
	for i, s := range g.TopoOrder {
		pos[s] = i
	}
	if pos[FStage{"a", 0}] >= pos[FStage{"b", 0}] {
		t.Fatalf("a must precede b in topo order: %v", g.TopoOrder)
	}
	if pos[FStage{"b", 0}] >= pos[FStage{"out", 0}] {
		t.Fatalf("b must precede out in topo order: %v", g.TopoOrder)
	}
}

func TestCoSchedulingEdgeUsesLastStage(t *testing.T) {
	// A producer with an update stage: consumers depend only on the
	// final stage, per spec.md §4.A.
	env := Env{}
	env["hist"] = &Function{
		Name: "hist", PureArgs: []string{"i"},
		Pure: Definition{Args: []*expr.Expr{expr.Var("i")}},
		Updates: []Definition{
			{
				Args:  []*expr.Expr{expr.Var("r")},
				RVars: []RVar{{Name: "r"}},
			},
		},
	}
	env["consumer"] = &Function{
		Name: "consumer", PureArgs: []string{"i"},
		Pure: Definition{
			Args: []*expr.Expr{expr.Var("i")},
			RHS:  []Call{{Callee: "hist", Args: []*expr.Expr{expr.Var("i")}}},
		},
	}
	g := BuildGraph(env)

	histPure := FStage{"hist", 0}
	histUpdate := FStage{"hist", 1}
	consumerStage := FStage{"consumer", 0}

	if containsStage(g.Children[histPure], consumerStage) {
		t.Fatalf("consumer must not depend directly on hist's pure stage")
	}
	if !containsStage(g.Children[histUpdate], consumerStage) {
		t.Fatalf("consumer must depend on hist's last (update) stage")
	}
	// Intra-function co-scheduling edge.
	if !containsStage(g.Children[histPure], histUpdate) {
		t.Fatalf("expected intra-function edge hist.s0 -> hist.s1")
	}
}

func containsStage(stages []FStage, target FStage) bool {
	for _, s := range stages {
		if s == target {
			return true
		}
	}
	return false
}
