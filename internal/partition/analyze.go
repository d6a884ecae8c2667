package partition

import (
	"imgsched/internal/deps"
	"imgsched/internal/machine"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

func unknownAnalysis() GroupAnalysis { return GroupAnalysis{Unknown: true} }

// computeRequiredBounds derives the fixed symbolic region every
// function must produce, given the pipeline's requested output bounds.
// This is computed once: the dependency structure (which regions are
// needed) does not change as the partitioner experiments with grouping
// and tiling, only the COST of satisfying it does, per spec.md §4.C/§4.E.
func computeRequiredBounds(
	env pipeline.Env,
	outputNames []string,
	outputBounds map[string]map[string]region.Interval,
	allNames map[string]bool,
	estimates deps.Estimates,
) map[string]region.Box {
	merged := map[string]region.Box{}
	for _, out := range outputNames {
		fn := env[out]
		bounds := outputBounds[out]
		per := deps.RegionsRequiredForFunction(env, out, bounds, allNames, false, nil, estimates)
		for _, name := range region.SortedKeys(per) {
			region.MergeMap(merged, name, per[name])
		}
		self := make(region.Box, len(fn.PureArgs))
		for i, d := range fn.PureArgs {
			self[i] = bounds[d]
		}
		region.MergeMap(merged, out, self)
	}
	return merged
}

// boundsMap projects a function's required Box (in PureArgs order)
// back into a name-keyed Interval map, the representation deps/region
// helpers expect.
func (p *Partitioner) boundsMap(name string) map[string]region.Interval {
	fn := p.Env[name]
	box := p.requiredBounds[name]
	out := make(map[string]region.Interval, len(fn.PureArgs))
	for i, d := range fn.PureArgs {
		if i < len(box) {
			out[d] = box[i]
		}
	}
	return out
}

// analyzeGroup is spec.md §4.E.5's cost function: the total arithmetic
// and memory cost of computing outputName's group, with the named
// members/inlined set and tile configuration, across every tile needed
// to satisfy the pipeline's fixed required region.
func (p *Partitioner) analyzeGroup(outputName string, members, inlined map[string]bool, tileCfg map[string]int) GroupAnalysis {
	fn := p.Env[outputName]
	fullBounds := p.boundsMap(outputName)

	estimateTiles := int64(1)
	parallelism := 1
	anyParallelDim := false
	for _, d := range fn.Dims {
		ts, tiled := tileCfg[d.Name]
		if !tiled || ts <= 0 {
			continue
		}
		iv, ok := fullBounds[d.Name]
		if !ok {
			return unknownAnalysis()
		}
		extent, ok := iv.ConstExtent()
		if !ok {
			return unknownAnalysis()
		}
		tiles := ceilDiv(extent, int64(ts))
		estimateTiles *= tiles
		if d.LoopType == pipeline.Parallel {
			parallelism *= int(tiles)
			anyParallelDim = true
		}
	}
	if !anyParallelDim && len(fn.Dims) > 0 {
		// No dimension has been marked Parallel yet (synthesis runs
		// after partitioning): default to the outermost dimension's
		// tile count when that dimension is tiled (parallelism stays 1
		// otherwise), matching the usual choice of parallelizing the
		// outermost loop.
		outer := fn.Dims[0]
		if ts, tiled := tileCfg[outer.Name]; tiled && ts > 0 {
			if iv, ok := fullBounds[outer.Name]; ok {
				if extent, ok := iv.ConstExtent(); ok {
					parallelism = int(ceilDiv(extent, int64(ts)))
				}
			}
		}
	}

	oneTileBounds := tileBounds(fullBounds, tileCfg)
	allocRegions := deps.RegionsRequiredForFunction(p.Env, outputName, oneTileBounds, p.allNames, false, nil, p.Estimates)
	computeRegions := deps.RegionsRequiredForFunction(p.Env, outputName, oneTileBounds, p.allNames, true, nil, p.Estimates)

	groupInternal := map[string]region.Box{}
	for _, name := range region.SortedKeys(computeRegions) {
		if name == outputName {
			continue
		}
		if _, inEnv := p.Env[name]; !inEnv {
			continue // pure-input: no arithmetic cost of its own
		}
		if members[name] {
			groupInternal[name] = computeRegions[name]
		}
	}

	arithCost := p.Model.RegionCost(groupInternal, inlined)
	lastStage := lastStageIndex(fn)
	stageCost := p.Model.StageRegionCost(outputName, lastStage, oneTileBounds, inlined)
	if arithCost.IsUnknown() || stageCost.IsUnknown() {
		return unknownAnalysis()
	}
	perTileArith := arithCost.Arith + stageCost.Arith

	loads := p.Model.DetailedLoadCosts(computeRegions, inlined)
	stageLoads := p.Model.StageDetailedLoadCosts(outputName, lastStage, oneTileBounds, inlined)
	merged := mergeLoadCounts(loads, stageLoads)

	perTileMemory := 0.0
	for _, name := range sortedLoadKeys(merged) {
		count := merged[name]
		footprint, ok := p.footprintFor(name, outputName, members, allocRegions)
		if !ok {
			return unknownAnalysis()
		}
		factor := cachePenaltyFactor(footprint, p.Arch)
		perTileMemory += factor * float64(count)
	}

	return GroupAnalysis{
		Arith:       perTileArith * float64(estimateTiles),
		Memory:      perTileMemory * float64(estimateTiles),
		Parallelism: parallelism,
	}
}

// footprintFor implements spec.md §4.E.5 step 5's per-entry dispatch:
// a group member's own allocation, the output's one-tile region, an
// outside producer's allocation region, or — for a pipeline input —
// the whole pipeline-bounds region (the initial load term).
func (p *Partitioner) footprintFor(name, outputName string, members map[string]bool, allocRegions map[string]region.Box) (int64, bool) {
	switch {
	case name == outputName:
		return p.Model.RegionSize(outputName, allocRegions[outputName])
	case members[name]:
		return p.Model.RegionSize(name, allocRegions[name])
	default:
		if _, inEnv := p.Env[name]; inEnv {
			return p.Model.InputRegionSize(name, allocRegions[name])
		}
		return p.Model.InputRegionSize(name, p.requiredBounds[name])
	}
}

func sumAnalyses(acc GroupAnalysis, next GroupAnalysis, first bool) GroupAnalysis {
	if acc.Unknown || next.Unknown {
		return unknownAnalysis()
	}
	if first {
		return next
	}
	par := acc.Parallelism
	if next.Parallelism < par {
		par = next.Parallelism
	}
	return GroupAnalysis{Arith: acc.Arith + next.Arith, Memory: acc.Memory + next.Memory, Parallelism: par}
}

// benefit implements spec.md §4.E.7.
func benefit(oldA, newA GroupAnalysis, ensureParallelism, noRedundantWork bool, arch machine.ArchParams) benefitResult {
	if oldA.Unknown || newA.Unknown {
		return benefitResult{ok: false}
	}
	if ensureParallelism && newA.Parallelism < arch.Parallelism {
		return benefitResult{ok: false}
	}
	if noRedundantWork && newA.Arith < oldA.Arith {
		return benefitResult{ok: false}
	}
	val := (oldA.Arith - newA.Arith) + (oldA.Memory - newA.Memory)
	return benefitResult{value: val, ok: true}
}
