package synth

import (
	"strings"
	"testing"

	"imgsched/internal/expr"
	"imgsched/internal/machine"
	"imgsched/internal/partition"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

// blur builds a two-stage pipeline: in -> blur_x -> blur_y, each stage
// reading a 1-wide neighborhood of its producer along x, with blur_y
// also the pipeline output. blur_x and blur_y are both in env; "in" is
// a pipeline input (absent from env).
func blurPipeline() (pipeline.Env, map[string]region.Box) {
	env := pipeline.Env{}
	env["blur_x"] = &pipeline.Function{
		Name: "blur_x", PureArgs: []string{"x", "y"},
		Pure: pipeline.Definition{
			Args: []*expr.Expr{expr.Var("x"), expr.Var("y")},
			RHS: []pipeline.Call{
				{Callee: "in", Args: []*expr.Expr{expr.Var("x"), expr.Var("y")}},
				{Callee: "in", Args: []*expr.Expr{expr.Add(expr.Var("x"), expr.Const(1)), expr.Var("y")}},
			},
		},
	}
	env["blur_x"].Dims = pipeline.DefaultDims(env["blur_x"].PureArgs)

	env["blur_y"] = &pipeline.Function{
		Name: "blur_y", PureArgs: []string{"x", "y"},
		Pure: pipeline.Definition{
			Args: []*expr.Expr{expr.Var("x"), expr.Var("y")},
			RHS: []pipeline.Call{
				{Callee: "blur_x", Args: []*expr.Expr{expr.Var("x"), expr.Var("y")}},
				{Callee: "blur_x", Args: []*expr.Expr{expr.Var("x"), expr.Add(expr.Var("y"), expr.Const(1))}},
			},
		},
	}
	env["blur_y"].Dims = pipeline.DefaultDims(env["blur_y"].PureArgs)

	bounds := map[string]region.Box{
		"blur_x": {
			{Min: expr.Const(0), Max: expr.Const(99)},
			{Min: expr.Const(0), Max: expr.Const(99)},
		},
		"blur_y": {
			{Min: expr.Const(0), Max: expr.Const(99)},
			{Min: expr.Const(0), Max: expr.Const(99)},
		},
		"in": {
			{Min: expr.Const(0), Max: expr.Const(100)},
			{Min: expr.Const(0), Max: expr.Const(100)},
		},
	}
	return env, bounds
}

func TestAccessStridesFavorsInnermostDeclaredDim(t *testing.T) {
	env, bounds := blurPipeline()
	estimates := estimatesFromBounds(env, bounds)
	strides := accessStrides(env["blur_x"], env, estimates)
	if strides["x"] >= strides["y"] {
		t.Fatalf("expected x (storage dim 0) to have a smaller stride than y (storage dim 1), got x=%v y=%v", strides["x"], strides["y"])
	}
}

func TestReorderByStridePutsSmallestStrideInnermost(t *testing.T) {
	env, bounds := blurPipeline()
	estimates := estimatesFromBounds(env, bounds)
	fn := env["blur_x"]
	names := reorderByStride(fn, accessStrides(fn, env, estimates))
	if names[0] != "y" || names[1] != "x" {
		t.Fatalf("expected reorder(y, x) (y outermost, x innermost since x is the faster storage dim), got %v", names)
	}
	if fn.Dims[0].Name != "y" || fn.Dims[1].Name != "x" {
		t.Fatalf("expected fn.Dims to reflect the new order, got %v", fn.Dims)
	}
}

func TestTileSplitCreatesOuterInnerPairAndMovesInnersInward(t *testing.T) {
	fn := &pipeline.Function{Name: "f", PureArgs: []string{"x", "y"}}
	fn.Dims = pipeline.DefaultDims(fn.PureArgs)
	estimates := map[string]int64{"x": 100, "y": 100}
	tileSizes := map[string]int{"x": 16, "y": 16}

	var log []string
	emit := func(s string) { log = append(log, s) }

	innermostOuter, tiled := tileSplit(fn, tileSizes, estimates, emit)
	if !tiled {
		t.Fatalf("expected tiling to occur")
	}
	if innermostOuter != "y_outer" {
		t.Fatalf("expected innermost tile-outer to be y_outer (last processed dim), got %q", innermostOuter)
	}
	var names []string
	for _, d := range fn.Dims {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "x_outer,y_outer,x_inner,y_inner" {
		t.Fatalf("expected outers-then-inners order x_outer,y_outer,x_inner,y_inner, got %v", names)
	}
	if estimates["x_inner"] != 16 || estimates["x_outer"] != 7 {
		t.Fatalf("expected x split into outer=ceil(100/16)=7, inner=16, got outer=%d inner=%d", estimates["x_outer"], estimates["x_inner"])
	}
	if len(log) != 3 { // two split() lines + one combined reorder() line
		t.Fatalf("expected 3 emitted lines, got %d: %v", len(log), log)
	}
}

func TestTileSplitSkipsDimsWithoutSufficientExtent(t *testing.T) {
	fn := &pipeline.Function{Name: "f", PureArgs: []string{"x"}}
	fn.Dims = pipeline.DefaultDims(fn.PureArgs)
	estimates := map[string]int64{"x": 8}
	tileSizes := map[string]int{"x": 16} // tile size exceeds the dim's own extent

	_, tiled := tileSplit(fn, tileSizes, estimates, func(string) {})
	if tiled {
		t.Fatalf("expected no split when the tile size exceeds the known extent")
	}
	if fn.Dims[0].Split != nil {
		t.Fatalf("expected the dim to remain unsplit")
	}
}

func TestVectorizeSplitsFirstEligibleDimOnce(t *testing.T) {
	fn := &pipeline.Function{Name: "f", PureArgs: []string{"x", "y"}}
	fn.Dims = pipeline.DefaultDims(fn.PureArgs)
	estimates := map[string]int64{"x": 100, "y": 100}
	target := machine.FixedVectorTarget{VectorBytes: 32} // 32/4 = 8 lanes

	var log []string
	vectorize(fn, estimates, target, func(s string) { log = append(log, s) })

	var vecDim *pipeline.Dim
	for i := range fn.Dims {
		if fn.Dims[i].VectorLane > 0 {
			vecDim = &fn.Dims[i]
		}
	}
	if vecDim == nil {
		t.Fatalf("expected exactly one dim to be vectorized, dims=%v", fn.Dims)
	}
	if vecDim.VectorLane != 8 {
		t.Fatalf("expected vector lane width 8, got %d", vecDim.VectorLane)
	}
	if len(log) != 1 {
		t.Fatalf("expected exactly one vectorize_stage emission, got %v", log)
	}

	// Calling again must not vectorize a second dim.
	vectorize(fn, estimates, target, func(s string) { log = append(log, s) })
	if len(log) != 1 {
		t.Fatalf("expected vectorize to be a no-op once a dim is already vectorized, got %v", log)
	}
}

func TestVectorizeNoEligibleDimIsANoOp(t *testing.T) {
	fn := &pipeline.Function{Name: "f", PureArgs: []string{"x"}}
	fn.Dims = pipeline.DefaultDims(fn.PureArgs)
	estimates := map[string]int64{"x": 3}
	target := machine.FixedVectorTarget{VectorBytes: 32}

	var log []string
	vectorize(fn, estimates, target, func(s string) { log = append(log, s) })
	if len(log) != 0 {
		t.Fatalf("expected no vectorize emission when no dim reaches the vector width, got %v", log)
	}
}

func TestParallelizeStopsAtFloorAndMarksDims(t *testing.T) {
	fn := &pipeline.Function{Name: "f", PureArgs: []string{"y", "x"}}
	fn.Dims = pipeline.DefaultDims(fn.PureArgs)
	estimates := map[string]int64{"y": 4, "x": 100}
	arch := machine.ArchParams{Parallelism: 4}

	var log []string
	parallelize(fn, estimates, arch, func(s string) { log = append(log, s) }, "f")

	if fn.Dims[0].LoopType != pipeline.Parallel {
		t.Fatalf("expected y (outermost) to be marked Parallel")
	}
	if fn.Dims[1].LoopType == pipeline.Parallel {
		t.Fatalf("expected x to remain unparallelized once the floor was met by y alone")
	}
	if len(log) != 1 {
		t.Fatalf("expected exactly one parallel() emission, got %v", log)
	}
}

func TestParallelizeWarnsWithoutPanickingWhenFloorUnreachable(t *testing.T) {
	fn := &pipeline.Function{Name: "f", PureArgs: []string{"x"}}
	fn.Dims = pipeline.DefaultDims(fn.PureArgs)
	estimates := map[string]int64{"x": 2}
	arch := machine.ArchParams{Parallelism: 1000}

	parallelize(fn, estimates, arch, func(string) {}, "f")
	if fn.Dims[0].LoopType != pipeline.Parallel {
		t.Fatalf("expected the only dim to still be marked Parallel even though the floor wasn't reached")
	}
}

func TestSynthesizeEmitsComputeInlineBeforeGroupSchedules(t *testing.T) {
	env, bounds := blurPipeline()
	groups := map[string]*partition.Group{
		"blur_y": {
			Output:    "blur_y",
			Members:   map[string]bool{"blur_y": true, "blur_x": true},
			Inlined:   map[string]bool{"blur_x": true},
			TileSizes: map[string]int{},
		},
	}
	arch := machine.ArchParams{Parallelism: 1}
	logText := Synthesize(env, groups, bounds, arch, nil)

	lines := strings.Split(logText, "\n")
	if len(lines) == 0 || lines[0] != "blur_x.compute_inline()" {
		t.Fatalf("expected compute_inline to be the first emitted line, got %v", lines)
	}
	if !env["blur_x"].Inlined {
		t.Fatalf("expected blur_x.Inlined to be set")
	}
	if env["blur_x"].ComputeLevel.Kind != pipeline.LevelInline {
		t.Fatalf("expected blur_x's ComputeLevel to be Inline")
	}
}

func TestSynthesizeComputeAtWhenTiledComputeRootWhenNot(t *testing.T) {
	env, bounds := blurPipeline()

	tiledGroups := map[string]*partition.Group{
		"blur_y": {
			Output:    "blur_y",
			Members:   map[string]bool{"blur_y": true, "blur_x": true},
			Inlined:   map[string]bool{},
			TileSizes: map[string]int{"x": 16, "y": 16},
		},
	}
	arch := machine.ArchParams{Parallelism: 1}
	Synthesize(env, tiledGroups, bounds, arch, nil)
	if env["blur_x"].ComputeLevel.Kind != pipeline.LevelAt {
		t.Fatalf("expected blur_x to be compute_at once blur_y was tiled, got %v", env["blur_x"].ComputeLevel)
	}

	env2, bounds2 := blurPipeline()
	untiledGroups := map[string]*partition.Group{
		"blur_y": {
			Output:    "blur_y",
			Members:   map[string]bool{"blur_y": true, "blur_x": true},
			Inlined:   map[string]bool{},
			TileSizes: map[string]int{},
		},
	}
	Synthesize(env2, untiledGroups, bounds2, arch, nil)
	if env2["blur_x"].ComputeLevel.Kind != pipeline.LevelRoot {
		t.Fatalf("expected blur_x to fall back to compute_root when blur_y was never tiled, got %v", env2["blur_x"].ComputeLevel)
	}
}
