package refmodel

import (
	"testing"

	"imgsched/internal/expr"
	"imgsched/internal/machine"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

func testEnv() pipeline.Env {
	env := pipeline.Env{}
	env["a"] = &pipeline.Function{Name: "a", PureArgs: []string{"x", "y"}}
	env["a"].Dims = pipeline.DefaultDims(env["a"].PureArgs)
	return env
}

func box10x10() region.Box {
	return region.Box{
		{Min: expr.Const(0), Max: expr.Const(9)},
		{Min: expr.Const(0), Max: expr.Const(9)},
	}
}

func TestRegionCostKnown(t *testing.T) {
	env := testEnv()
	m := New(env, machine.ArchParams{}, map[string]PerFunctionCost{
		"a": {ArithPerElement: 2, BytesPerElement: 4},
	})
	c := m.RegionCost(map[string]region.Box{"a": box10x10()}, nil)
	if c.IsUnknown() {
		t.Fatalf("expected a known cost")
	}
	if c.Arith != 200 {
		t.Fatalf("expected arith 100*2=200, got %v", c.Arith)
	}
	if c.Memory != 400 {
		t.Fatalf("expected memory 100*4=400, got %v", c.Memory)
	}
}

func TestRegionCostUnknownPropagates(t *testing.T) {
	env := testEnv()
	m := New(env, machine.ArchParams{}, nil)
	unknownBox := region.Box{
		{Min: expr.Unknown, Max: expr.Unknown},
		{Min: expr.Const(0), Max: expr.Const(9)},
	}
	c := m.RegionCost(map[string]region.Box{"a": unknownBox}, nil)
	if !c.IsUnknown() {
		t.Fatalf("expected unknown cost to propagate, got %+v", c)
	}
}

func TestStageRegionCostMissingBoundIsUnknown(t *testing.T) {
	env := testEnv()
	m := New(env, machine.ArchParams{}, nil)
	c := m.StageRegionCost("a", 0, map[string]region.Interval{"x": {Min: expr.Const(0), Max: expr.Const(9)}}, nil)
	if !c.IsUnknown() {
		t.Fatalf("expected unknown cost when 'y' bound is missing, got %+v", c)
	}
}

func TestRegionSizeRoundsToCacheLine(t *testing.T) {
	env := testEnv()
	m := New(env, machine.ArchParams{}, map[string]PerFunctionCost{"a": {BytesPerElement: 1}})
	n, ok := m.RegionSize("a", box10x10())
	if !ok {
		t.Fatalf("expected known size")
	}
	// 100 bytes rounds up to 128 (next multiple of 64).
	if n != 128 {
		t.Fatalf("expected 128, got %d", n)
	}
}

func TestInputRegionSizeIsUnpadded(t *testing.T) {
	env := testEnv()
	m := New(env, machine.ArchParams{}, map[string]PerFunctionCost{"a": {BytesPerElement: 1}})
	n, ok := m.InputRegionSize("a", box10x10())
	if !ok || n != 100 {
		t.Fatalf("expected exact 100 bytes, got %d (ok=%v)", n, ok)
	}
}

func TestDetailedLoadCostsSkipsUnknown(t *testing.T) {
	env := testEnv()
	m := New(env, machine.ArchParams{}, nil)
	unknownBox := region.Box{
		{Min: expr.Unknown, Max: expr.Unknown},
		{Min: expr.Const(0), Max: expr.Const(9)},
	}
	loads := m.DetailedLoadCosts(map[string]region.Box{"a": unknownBox, "known": box10x10()}, nil)
	if _, ok := loads["a"]; ok {
		t.Fatalf("expected no load-count entry for an unknown-sized region")
	}
	if loads["known"] != 100 {
		t.Fatalf("expected known's load count 100, got %d", loads["known"])
	}
}
