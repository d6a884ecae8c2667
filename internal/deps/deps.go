// Package deps implements spec.md §4.C: dependence analysis. For a
// requested region of a function stage, it symbolically derives the
// regions of every transitive producer that must be computed or
// allocated, using an iterative worklist exactly as spec.md describes.
//
// Grounded on the worklist/queue traversal shape of
// graph_analysis.go's topologicalSort (FIFO queue, pop front, push
// dependents), generalized from "visit each op once" to spec.md's
// repeated-enqueue-with-merged-bounds worklist.
package deps

import (
	"sort"

	"imgsched/internal/expr"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

// Estimates holds, per function name, a per-dimension constant interval
// used to anchor otherwise-unresolvable symbolic bounds (spec.md §4.C's
// post-processing step). Pipeline outputs always have one (spec.md §6);
// any other function may optionally carry one too.
type Estimates map[string]map[string]region.Interval

type workItem struct {
	stage  pipeline.FStage
	bounds map[string]region.Interval
}

// RegionsRequired computes the regions of every named producer needed to
// compute bounds at (f, stage), per spec.md §4.C. producers is the set of
// function names the caller is interested in tracking (typically: every
// function in env); only_computed suppresses folding f's own name into
// the result (used when the caller wants producer regions only, not an
// accounting of f's own self-dependency through update definitions).
func RegionsRequired(
	env pipeline.Env,
	f string,
	stage int,
	bounds map[string]region.Interval,
	producers map[string]bool,
	onlyComputed bool,
	funcValBounds map[string]region.Interval,
	estimates Estimates,
) map[string]region.Box {
	result := map[string]region.Box{}
	queue := []workItem{{stage: pipeline.FStage{Function: f, Stage: stage}, bounds: bounds}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		fn, ok := env[item.stage.Function]
		if !ok {
			continue // pipeline input, nothing to recurse into
		}
		def := fn.Stage(item.stage.Stage)

		// Step 1: build the variable scope for this stage: global scalar
		// param estimates, overridden by this stage's own pure-arg
		// bounds and (for update stages) its RVar extents.
		scope := map[string]region.Interval{}
		for k, v := range funcValBounds {
			scope[k] = v
		}
		for _, name := range fn.PureArgs {
			if iv, ok := item.bounds[name]; ok {
				scope[name] = iv
			}
		}
		for _, rv := range def.RVars {
			scope[rv.Name] = rv.Extent
		}

		if def.IsExtern() {
			queue = externRegions(env, def, scope, producers, result, queue)
			continue
		}

		// Step 3: the "self" box — the bounds of this definition's own
		// LHS argument expressions, evaluated in the current scope. This
		// lets an update definition correctly extend its own required
		// region.
		if !onlyComputed {
			self := make(region.Box, len(def.Args))
			for i, a := range def.Args {
				self[i] = region.BoundsOfExprInScope(a, scope)
			}
			region.MergeMap(result, item.stage.Function, self)
		}

		// Step 3 (cont'd): one box per distinct callee, hulled across
		// every call in this stage's RHS.
		perCallee := map[string]region.Box{}
		calleeOrder := []string{}
		for _, call := range def.RHS {
			box := make(region.Box, len(call.Args))
			for i, a := range call.Args {
				box[i] = region.BoundsOfExprInScope(a, scope)
			}
			if existing, ok := perCallee[call.Callee]; ok {
				perCallee[call.Callee] = region.Merge(existing, box)
			} else {
				perCallee[call.Callee] = box
				calleeOrder = append(calleeOrder, call.Callee)
			}
		}
		sort.Strings(calleeOrder)

		// Step 4/5: merge into the global result and enqueue transitive
		// producers.
		for _, callee := range calleeOrder {
			if callee == item.stage.Function && onlyComputed {
				continue
			}
			region.MergeMap(result, callee, perCallee[callee])

			if !producers[callee] {
				continue
			}
			producerFn, ok := env[callee]
			if !ok {
				continue
			}
			merged := result[callee]
			newBounds := map[string]region.Interval{}
			for i, name := range producerFn.PureArgs {
				if i < len(merged) {
					newBounds[name] = merged[i]
				}
			}
			for s := 0; s < producerFn.NumStages(); s++ {
				queue = append(queue, workItem{stage: pipeline.FStage{Function: callee, Stage: s}, bounds: newBounds})
			}
		}
	}

	anchorUnknownBounds(env, result, estimates)
	return result
}

// externRegions implements spec.md §4.C step 2: every extern argument is
// handled uniformly by kind.
func externRegions(
	env pipeline.Env,
	def *pipeline.Definition,
	scope map[string]region.Interval,
	producers map[string]bool,
	result map[string]region.Box,
	queue []workItem,
) []workItem {
	for _, a := range def.Extern {
		switch a.Kind {
		case pipeline.ExternFuncArg:
			box := region.Infinite(a.Arity)
			region.MergeMap(result, a.Name, box)
			if producers[a.Name] {
				if producerFn, ok := env[a.Name]; ok {
					newBounds := map[string]region.Interval{}
					for _, name := range producerFn.PureArgs {
						newBounds[name] = region.Interval{Min: expr.Unknown, Max: expr.Unknown}
					}
					for s := 0; s < producerFn.NumStages(); s++ {
						queue = append(queue, workItem{stage: pipeline.FStage{Function: a.Name, Stage: s}, bounds: newBounds})
					}
				}
			}
		case pipeline.ExternBufferArg:
			// Buffer arguments yield infinite boxes added to the result
			// map but are never enqueued: they aren't functions.
			region.MergeMap(result, a.Name, region.Infinite(a.Arity))
		case pipeline.ExternExprArg:
			// Expression arguments are delegated to the expression-level
			// boxes_required helper. Our expr IR never embeds a function
			// call inside a general expression (calls are always
			// represented explicitly via Call/ExternArg), so there is
			// nothing further to discover here; evaluating it is only
			// useful for callers that want the argument's own range,
			// which dependence analysis does not need.
			_ = region.BoundsOfExprInScope(a.Expr, scope)
		}
	}
	return queue
}

// anchorUnknownBounds implements spec.md §4.C's post-processing step: any
// region whose endpoint remains non-constant is anchored to the
// producer's own output estimate on pure-argument dimensions.
func anchorUnknownBounds(env pipeline.Env, result map[string]region.Box, estimates Estimates) {
	for _, name := range region.SortedKeys(result) {
		producerFn, ok := env[name]
		if !ok {
			continue
		}
		est, ok := estimates[name]
		if !ok {
			continue
		}
		box := result[name]
		for i, dimName := range producerFn.PureArgs {
			if i >= len(box) {
				break
			}
			iv := box[i]
			minOK := expr.Simplify(iv.Min).IsConst()
			maxOK := expr.Simplify(iv.Max).IsConst()
			if minOK && maxOK {
				continue
			}
			if anchor, ok := est[dimName]; ok {
				box[i] = anchor
			}
		}
		result[name] = box
	}
}

// RegionsRequiredForFunction is the convenience overload of spec.md
// §4.C: regions required to compute bounds across every stage of f,
// merged via box-hull.
func RegionsRequiredForFunction(
	env pipeline.Env,
	f string,
	bounds map[string]region.Interval,
	producers map[string]bool,
	onlyComputed bool,
	funcValBounds map[string]region.Interval,
	estimates Estimates,
) map[string]region.Box {
	fn := env[f]
	merged := map[string]region.Box{}
	for s := 0; s < fn.NumStages(); s++ {
		per := RegionsRequired(env, f, s, bounds, producers, onlyComputed, funcValBounds, estimates)
		for _, name := range region.SortedKeys(per) {
			region.MergeMap(merged, name, per[name])
		}
	}
	return merged
}

// RedundantRegions computes the regions recomputed if bounds along var
// are shifted by one full extent, per spec.md §4.C. Used to quantify
// reuse (internal/partition's evaluate_reuse diagnostic).
//
// Open question resolution (spec.md §9): when a name present in the
// unshifted regions is absent from the shifted regions, that entry is
// skipped rather than treated as fully redundant or fully novel.
func RedundantRegions(
	env pipeline.Env,
	f string,
	stage int,
	v string,
	bounds map[string]region.Interval,
	producers map[string]bool,
	onlyComputed bool,
	funcValBounds map[string]region.Interval,
	estimates Estimates,
) map[string]region.Box {
	regions := RegionsRequired(env, f, stage, bounds, producers, onlyComputed, funcValBounds, estimates)

	shifted := map[string]region.Interval{}
	for k, iv := range bounds {
		shifted[k] = iv
	}
	if iv, ok := bounds[v]; ok {
		extent := iv.Extent()
		shifted[v] = region.Interval{
			Min: expr.Simplify(expr.Add(iv.Min, extent)),
			Max: expr.Simplify(expr.Add(iv.Max, extent)),
		}
	}
	regionsShifted := RegionsRequired(env, f, stage, shifted, producers, onlyComputed, funcValBounds, estimates)

	redundant := map[string]region.Box{}
	for _, name := range region.SortedKeys(regions) {
		other, ok := regionsShifted[name]
		if !ok {
			continue // open question: skip, per spec.md §9
		}
		redundant[name] = region.Intersect(regions[name], other)
	}
	return redundant
}

// OverlapRegions returns one RedundantRegions map per non-outermost
// dimension of f's pure args, per spec.md §4.C. "Outermost" is the first
// entry of PureArgs (index 0), matching the default nest order before
// any reordering.
func OverlapRegions(
	env pipeline.Env,
	f string,
	stage int,
	bounds map[string]region.Interval,
	producers map[string]bool,
	onlyComputed bool,
	funcValBounds map[string]region.Interval,
	estimates Estimates,
) []map[string]region.Box {
	fn := env[f]
	var out []map[string]region.Box
	for _, v := range fn.PureArgs[1:] {
		out = append(out, RedundantRegions(env, f, stage, v, bounds, producers, onlyComputed, funcValBounds, estimates))
	}
	return out
}
