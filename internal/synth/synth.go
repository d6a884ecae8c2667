// Package synth implements spec.md §4.F: walking the partitioner's
// final groups and emitting the concrete loop-nest transforms (reorder,
// split+reorder, vectorize, parallelize, compute_at/compute_root,
// compute_inline) that realize each group's tiling decision.
//
// Grounded on scheduler.go's BuildSchedule — a topological walk that
// emits one schedule entry per group, with an affinity-ordered
// tie-break among ready candidates — repurposed from *which group runs
// next* to spec.md §4.F's *what loop transforms a group emits*. Every
// decision is both applied to the Function's mutable schedule fields
// (spec.md §6 "Output: side effect") and appended to the returned
// transcript (§6 "Output: Return").
//
// This package schedules one shared Dims order per function across all
// of its stages (matching the co-scheduling invariant of spec.md
// §4.A — a function's stages are never independently reordered in this
// data model), and assumes a uniform 4-byte (float32) element width for
// every function when picking a vector length, since the Function/
// Definition stand-in of internal/pipeline carries no per-function
// value type. Both are documented simplifications, not spec deviations.
package synth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"

	"imgsched/internal/expr"
	"imgsched/internal/machine"
	"imgsched/internal/partition"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

// bytesPerElement is the uniform element-width stand-in noted in the
// package comment: every NaturalVectorSize query uses this width.
const bytesPerElement = 4

// Synthesize walks groups in deterministic (output-name) order and
// emits, per spec.md §4.F steps 1-6: compute_inline for every name any
// group inlined, then for each surviving group spatial reorder, tile
// split + reorder, vectorize, parallelize, and compute_at/compute_root
// placement (with its own reorder + vectorize) for every non-inlined
// member. bounds is the per-function required-region box from
// partition.Partitioner.RequiredBounds, used to size splits and pick
// vectorize/parallelize candidates.
func Synthesize(env pipeline.Env, groups map[string]*partition.Group, bounds map[string]region.Box, arch machine.ArchParams, target machine.Target) string {
	var log []string
	emit := func(s string) { log = append(log, s) }

	inlinedAll := map[string]bool{}
	for _, gname := range sortedGroupKeys(groups) {
		for name := range groups[gname].Inlined {
			inlinedAll[name] = true
		}
	}
	for _, name := range sortedStringSet(inlinedAll) {
		fn, ok := env[name]
		if !ok {
			continue
		}
		fn.Inlined = true
		fn.ComputeLevel = pipeline.Inline()
		emit(fmt.Sprintf("%s.compute_inline()", name))
	}

	estimates := estimatesFromBounds(env, bounds)

	for _, outName := range sortedGroupKeys(groups) {
		g := groups[outName]
		outFn, ok := env[outName]
		if !ok || outFn.Inlined {
			continue
		}

		names := reorderByStride(outFn, accessStrides(outFn, env, estimates))
		emit(fmt.Sprintf("%s.reorder(%s)", outName, strings.Join(names, ", ")))

		innermostOuter, tiled := tileSplit(outFn, g.TileSizes, estimates[outName], emit)
		vectorize(outFn, estimates[outName], target, emit)
		parallelize(outFn, estimates[outName], arch, emit, outName)
		computeAtMembers(env, outName, g, innermostOuter, tiled, estimates, target, emit)
	}

	return strings.Join(log, "\n")
}

// estimatesFromBounds converts the symbolic required-region boxes into
// per-function, per-pure-dim constant extents. A dim whose extent
// doesn't simplify to a constant is simply absent — every downstream
// step treats a missing estimate as "leave this dim alone".
func estimatesFromBounds(env pipeline.Env, bounds map[string]region.Box) map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	for name, box := range bounds {
		fn, ok := env[name]
		if !ok {
			continue
		}
		m := map[string]int64{}
		for i, d := range fn.PureArgs {
			if i >= len(box) {
				continue
			}
			if n, ok := box[i].ConstExtent(); ok {
				m[d] = n
			}
		}
		out[name] = m
	}
	return out
}

// accessStrides computes, for every pure dim of fn, the sum over every
// read (each RHS call, across every stage) and write (fn's own LHS args,
// across every stage) of the maximum byte-stride that access exhibits
// along that dim: walk the callee's storage dims in declaration order,
// starting "running" at bytesPerElement and multiplying by each storage
// dim's own extent as we pass it, recording running as the stride
// contribution of any storage-dim access expression that mentions the
// loop var.
func accessStrides(fn *pipeline.Function, env pipeline.Env, estimates map[string]map[string]int64) map[string]float64 {
	strides := map[string]float64{}
	selfExtents := extentsFor(fn.PureArgs, estimates[fn.Name])
	for s := 0; s < fn.NumStages(); s++ {
		def := fn.Stage(s)
		addCall(strides, fn.PureArgs, def.Args, selfExtents)
		for _, call := range def.RHS {
			var calleeExtents []int64
			if callee, ok := env[call.Callee]; ok {
				calleeExtents = extentsFor(callee.PureArgs, estimates[call.Callee])
			}
			addCall(strides, fn.PureArgs, call.Args, calleeExtents)
		}
	}
	return strides
}

// extentsFor returns, in name order, the known extent for each name or
// 1 (a neutral multiplier) if unknown.
func extentsFor(names []string, m map[string]int64) []int64 {
	out := make([]int64, len(names))
	for i, n := range names {
		if v, ok := m[n]; ok {
			out[i] = v
		} else {
			out[i] = 1
		}
	}
	return out
}

// addCall folds one call's (or one stage's own write's) per-storage-dim
// access expressions into strides, for every pureDim of the function
// being scheduled.
func addCall(strides map[string]float64, pureDims []string, args []*expr.Expr, calleeExtents []int64) {
	running := make([]float64, len(args))
	r := float64(bytesPerElement)
	for k := range args {
		running[k] = r
		if k < len(calleeExtents) {
			r *= float64(calleeExtents[k])
		}
	}
	contrib := map[string]float64{}
	for k, a := range args {
		vars := expr.Vars(a)
		for _, d := range pureDims {
			if vars[d] && running[k] > contrib[d] {
				contrib[d] = running[k]
			}
		}
	}
	for d, v := range contrib {
		strides[d] += v
	}
}

// reorderByStride sorts fn.Dims outer-to-inner by descending access
// stride (step 1 of spec.md §4.F): the dim with the smallest stride —
// the one that varies fastest in memory — ends up innermost, for
// sequential access in the tight loop. Ties keep their original
// relative order.
func reorderByStride(fn *pipeline.Function, strides map[string]float64) []string {
	dims := append([]pipeline.Dim(nil), fn.Dims...)
	sort.SliceStable(dims, func(i, j int) bool { return strides[dims[i].Name] > strides[dims[j].Name] })
	fn.Dims = dims
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = d.Name
	}
	return names
}

// tileSplit performs step 2: every dim with a tile-size entry greater
// than 1 and a known extent larger than that size gets split into an
// outer/inner pair; every inner is then moved to be collectively
// innermost of every outer (untouched dims keep their relative position
// among the outers). Returns the innermost tile-outer var name (for
// compute_at placement) and whether any split actually happened.
func tileSplit(fn *pipeline.Function, tileSizes map[string]int, estimates map[string]int64, emit func(string)) (string, bool) {
	if estimates == nil {
		return "", false
	}
	type role struct {
		dim   pipeline.Dim
		inner bool
	}
	var roles []role
	tiled := false
	for _, d := range fn.Dims {
		ts, hasTile := tileSizes[d.Name]
		ext, hasExt := estimates[d.Name]
		if hasTile && ts > 1 && hasExt && ext > int64(ts) {
			outerName := d.Name + "_outer"
			innerName := d.Name + "_inner"
			emit(fmt.Sprintf("%s.split(%s, %s, %s, %d)", fn.Name, d.Name, outerName, innerName, ts))
			estimates[innerName] = int64(ts)
			estimates[outerName] = ceilDiv(ext, int64(ts))
			roles = append(roles,
				role{pipeline.Dim{Name: outerName, LoopType: pipeline.Serial}, false},
				role{pipeline.Dim{
					Name:     innerName,
					LoopType: pipeline.Serial,
					Split:    &pipeline.Split{Outer: outerName, Inner: innerName, Factor: ts},
				}, true},
			)
			tiled = true
			continue
		}
		roles = append(roles, role{d, false})
	}
	if !tiled {
		return "", false
	}
	var outers, inners []pipeline.Dim
	for _, r := range roles {
		if r.inner {
			inners = append(inners, r.dim)
		} else {
			outers = append(outers, r.dim)
		}
	}
	fn.Dims = append(outers, inners...)
	names := make([]string, len(fn.Dims))
	for i, d := range fn.Dims {
		names[i] = d.Name
	}
	emit(fmt.Sprintf("%s.reorder(%s)", fn.Name, strings.Join(names, ", ")))
	return outers[len(outers)-1].Name, true
}

// vectorize performs step 3: find the first (outermost-to-innermost),
// not-yet-vectorized dim whose extent is at least the target's natural
// vector size, split it by that size, and mark the inner split
// vectorized. At most one dim is vectorized per function.
func vectorize(fn *pipeline.Function, estimates map[string]int64, target machine.Target, emit func(string)) {
	vecLen := 1
	if target != nil {
		vecLen = target.NaturalVectorSize(bytesPerElement)
	}
	if vecLen <= 1 || estimates == nil {
		return
	}
	for _, d := range fn.Dims {
		if d.VectorLane > 0 {
			return // already vectorized; at most one dim per function
		}
	}
	for i, d := range fn.Dims {
		ext, ok := estimates[d.Name]
		if !ok || ext < int64(vecLen) {
			continue
		}
		outerName := d.Name + "_vouter"
		vecName := d.Name + "_vec"
		emit(fmt.Sprintf("%s.vectorize_stage(%s, %d)", fn.Name, d.Name, vecLen))
		estimates[vecName] = int64(vecLen)
		estimates[outerName] = ceilDiv(ext, int64(vecLen))

		newDims := append([]pipeline.Dim{}, fn.Dims[:i]...)
		newDims = append(newDims, pipeline.Dim{Name: outerName, LoopType: pipeline.Serial})
		newDims = append(newDims, pipeline.Dim{Name: vecName, LoopType: pipeline.Vectorized, VectorLane: vecLen})
		newDims = append(newDims, fn.Dims[i+1:]...)
		fn.Dims = newDims
		return
	}
}

// parallelize performs step 4: walk dims outer to inner, marking each
// parallel and multiplying a running degree-of-parallelism product,
// until the product meets arch.Parallelism. Warns (does not fail) if
// the floor is never reached.
func parallelize(fn *pipeline.Function, estimates map[string]int64, arch machine.ArchParams, emit func(string), label string) {
	defPar := int64(1)
	for i := range fn.Dims {
		if defPar >= int64(arch.Parallelism) {
			return
		}
		d := &fn.Dims[i]
		if d.LoopType == pipeline.Vectorized {
			continue
		}
		ext, ok := estimates[d.Name]
		if !ok {
			continue
		}
		d.LoopType = pipeline.Parallel
		emit(fmt.Sprintf("%s.parallel(%s)", fn.Name, d.Name))
		defPar *= ext
	}
	if defPar < int64(arch.Parallelism) {
		glog.Warningf("synth: %s exposes only %d-way parallelism, short of the %d-way floor", label, defPar, arch.Parallelism)
	}
}

// computeAtMembers performs step 5: every non-output, non-inlined
// member of g is attached at the output's innermost tile-outer var (or
// falls back to compute_root, with a warning, if the group was never
// tiled), then has its own reorder + vectorize applied.
func computeAtMembers(env pipeline.Env, outName string, g *partition.Group, innermostOuter string, tiled bool, estimates map[string]map[string]int64, target machine.Target, emit func(string)) {
	outFn := env[outName]
	lastStage := pipeline.FStage{Function: outName, Stage: outFn.NumStages() - 1}
	for _, name := range sortedMemberNames(g) {
		if name == outName || g.Inlined[name] {
			continue
		}
		memberFn, ok := env[name]
		if !ok {
			continue
		}
		if tiled {
			memberFn.ComputeLevel = pipeline.At(lastStage, innermostOuter)
			emit(fmt.Sprintf("%s.compute_at(%s, %s)", name, outName, innermostOuter))
		} else {
			memberFn.ComputeLevel = pipeline.Root()
			emit(fmt.Sprintf("%s.compute_root()", name))
			glog.Warningf("synth: group %s was never tiled, falling back to compute_root for %s", outName, name)
		}
		names := reorderByStride(memberFn, accessStrides(memberFn, env, estimates))
		emit(fmt.Sprintf("%s.reorder(%s)", name, strings.Join(names, ", ")))
		vectorize(memberFn, estimates[name], target, emit)
	}
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func sortedStringSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedGroupKeys(groups map[string]*partition.Group) []string {
	out := make([]string, 0, len(groups))
	for k := range groups {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedMemberNames(g *partition.Group) []string {
	out := make([]string, 0, len(g.Members))
	for k := range g.Members {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
