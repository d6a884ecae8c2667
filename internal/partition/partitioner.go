package partition

import (
	"imgsched/internal/cost"
	"imgsched/internal/deps"
	"imgsched/internal/machine"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

// Partitioner holds the mutable grouping state of spec.md §4.E across
// both grouping passes.
type Partitioner struct {
	Env          pipeline.Env
	Graph        *pipeline.Graph
	Model        cost.Model
	Arch         machine.ArchParams
	OutputNames  []string
	OutputBounds map[string]map[string]region.Interval
	Estimates    deps.Estimates

	// ModelReuse is always false in this implementation: EvaluateReuse
	// (§4.E.9) is wired for instrumentation only and never feeds back
	// into analyzeGroup's cost formula, matching spec.md's "used only
	// for instrumentation in the current design".
	ModelReuse bool

	allNames       map[string]bool
	isOutput       map[string]bool
	requiredBounds map[string]region.Box

	groupOf       map[string]string
	groups        map[string]*Group
	groupingCache map[cacheKey]cachedEntry

	children map[pipeline.FStage][]pipeline.FStage
	parents  map[pipeline.FStage][]pipeline.FStage
}

// NewPartitioner builds a Partitioner and runs spec.md §4.E.1's
// initialization: every stage starts in a singleton group with its
// best standalone tile configuration installed.
func NewPartitioner(
	env pipeline.Env,
	graph *pipeline.Graph,
	model cost.Model,
	arch machine.ArchParams,
	outputNames []string,
	outputBounds map[string]map[string]region.Interval,
	estimates deps.Estimates,
) *Partitioner {
	allNames := map[string]bool{}
	for _, n := range env.SortedNames() {
		allNames[n] = true
	}
	isOutput := map[string]bool{}
	for _, n := range outputNames {
		isOutput[n] = true
	}

	p := &Partitioner{
		Env:           env,
		Graph:         graph,
		Model:         model,
		Arch:          arch,
		OutputNames:   append([]string(nil), outputNames...),
		OutputBounds:  outputBounds,
		Estimates:     estimates,
		allNames:      allNames,
		isOutput:      isOutput,
		groupOf:       map[string]string{},
		groups:        map[string]*Group{},
		groupingCache: map[cacheKey]cachedEntry{},
		children:      map[pipeline.FStage][]pipeline.FStage{},
		parents:       map[pipeline.FStage][]pipeline.FStage{},
	}
	for stage, kids := range graph.Children {
		p.children[stage] = append([]pipeline.FStage(nil), kids...)
	}
	for stage, pars := range graph.Parents {
		p.parents[stage] = append([]pipeline.FStage(nil), pars...)
	}
	p.requiredBounds = computeRequiredBounds(env, outputNames, outputBounds, allNames, estimates)
	p.initialize()
	return p
}

func (p *Partitioner) initialize() {
	for _, name := range p.Env.SortedNames() {
		p.groupOf[name] = name
		members := map[string]bool{name: true}
		tileCfg, analysis := p.findBestTileConfig(name, members, map[string]bool{})
		p.groups[name] = &Group{
			Output:    name,
			Members:   members,
			Inlined:   map[string]bool{},
			TileSizes: tileCfg,
			Analysis:  analysis,
		}
	}
	p.groupingCache = map[cacheKey]cachedEntry{}
}

// Groups returns the current groups, keyed by representative output
// function name, after Run has completed (or at any intermediate
// point, for tests).
func (p *Partitioner) Groups() map[string]*Group { return p.groups }

// RequiredBounds returns the symbolic-required-region box computed for
// every function name during initialization — the same bounds
// analyzeGroup's footprint accounting consumes. internal/synth reuses
// these to size splits and pick vectorize/parallelize dims without
// redoing the deps.RegionsRequired walk.
func (p *Partitioner) RequiredBounds() map[string]region.Box { return p.requiredBounds }

// Run performs spec.md §4.E.2's two grouping passes in sequence:
// INLINE to fixpoint, then FAST_MEM to fixpoint.
func (p *Partitioner) Run() {
	p.runMode(ModeInline)
	p.runMode(ModeFastMem)
}

func (p *Partitioner) isPipelineOutput(name string) bool { return p.isOutput[name] }

// findBestTileConfig is spec.md §4.E.6's search: evaluate "no tiling"
// first, then every generated config, keeping the first strictly
// beneficial improvement over the running best.
func (p *Partitioner) findBestTileConfig(outputName string, members, inlined map[string]bool) (map[string]int, GroupAnalysis) {
	fn := p.Env[outputName]
	noTile := map[string]int{}
	best := p.analyzeGroup(outputName, members, inlined, noTile)
	bestCfg := noTile

	for _, cfg := range generateTileConfigs(fn.PureArgs) {
		cand := p.analyzeGroup(outputName, members, inlined, cfg)
		b := benefit(best, cand, true, true, p.Arch)
		if b.ok && b.value > 0 {
			best = cand
			bestCfg = cfg
		}
	}
	return bestCfg, best
}

// enumerateCandidates is spec.md §4.E.3.
func (p *Partitioner) enumerateCandidates(mode Mode) []candidateSpec {
	var out []candidateSpec
	for _, name := range p.Env.SortedNames() {
		if p.groupOf[name] != name {
			continue // already merged away, no longer a standalone group
		}
		if p.isPipelineOutput(name) {
			continue
		}
		fn := p.Env[name]
		last := pipeline.FStage{Function: name, Stage: lastStageIndex(fn)}

		childFuncs := map[string]bool{}
		for _, c := range p.children[last] {
			childFuncs[c.Function] = true
		}
		if len(childFuncs) == 0 {
			continue
		}

		consumerGroups := map[string]bool{}
		for cf := range childFuncs {
			consumerGroups[p.groupOf[cf]] = true
		}
		groupNames := sortedStringSet(consumerGroups)

		switch mode {
		case ModeInline:
			if !fn.IsPure() {
				continue
			}
			out = append(out, candidateSpec{Producer: name, Mode: mode, ConsumerGroups: groupNames})
		case ModeFastMem:
			if len(groupNames) != 1 {
				continue
			}
			out = append(out, candidateSpec{Producer: name, Mode: mode, ConsumerGroups: groupNames})
		}
	}
	return out
}

// scoreCandidate is spec.md §4.E.4's cache-checked scoring, aggregated
// across every consumer group a candidate would affect per §4.E.7's
// multi-candidate rule.
func (p *Partitioner) scoreCandidate(cand candidateSpec) (benefitResult, map[string]tileResult) {
	perGroup := map[string]tileResult{}
	var oldAgg, newAgg GroupAnalysis
	for i, consumerName := range cand.ConsumerGroups {
		old := p.groups[consumerName].Analysis
		tileCfg, analysis, inlinedAdd := p.scoreMerge(cand.Producer, consumerName, cand.Mode)
		perGroup[consumerName] = tileResult{TileSizes: tileCfg, Analysis: analysis, InlinedAdd: inlinedAdd}
		oldAgg = sumAnalyses(oldAgg, old, i == 0)
		newAgg = sumAnalyses(newAgg, analysis, i == 0)
	}
	b := benefit(oldAgg, newAgg, true, true, p.Arch)
	return b, perGroup
}

// scoreMerge is spec.md §4.E.4: read from (or populate) the grouping
// cache for one (producer, consumer, mode) candidate.
func (p *Partitioner) scoreMerge(producer, consumer string, mode Mode) (map[string]int, GroupAnalysis, map[string]bool) {
	key := cacheKey{Producer: producer, Consumer: consumer, Mode: mode}
	if e, ok := p.groupingCache[key]; ok {
		return e.TileSizes, e.Analysis, e.InlinedAdd
	}

	consumerGroup := p.groups[consumer]
	prodGroup := p.groups[producer]
	members := unionSets(consumerGroup.Members, prodGroup.Members)

	var tileCfg map[string]int
	var analysis GroupAnalysis
	var inlinedAdd map[string]bool

	switch mode {
	case ModeInline:
		fn := p.Env[consumer]
		tileCfg = map[string]int{}
		for _, d := range fn.PureArgs {
			tileCfg[d] = 1
		}
		inlinedAdd = map[string]bool{}
		for name := range prodGroup.Members {
			inlinedAdd[name] = true
		}
		for name := range prodGroup.Inlined {
			inlinedAdd[name] = true
		}
		mergedInlined := unionSets(consumerGroup.Inlined, inlinedAdd)
		analysis = p.analyzeGroup(consumer, members, mergedInlined, tileCfg)
	case ModeFastMem:
		inlinedAdd = prodGroup.Inlined
		mergedInlined := unionSets(consumerGroup.Inlined, prodGroup.Inlined)
		tileCfg, analysis = p.findBestTileConfig(consumer, members, mergedInlined)
	}

	p.groupingCache[key] = cachedEntry{TileSizes: tileCfg, Analysis: analysis, InlinedAdd: inlinedAdd}
	return tileCfg, analysis, inlinedAdd
}

// totalCost sums every live group's cost; ok is false if any group's
// analysis is unknown, in which case the monotonic-descent check is
// skipped (an unknown cost is incomparable, not a violation).
func (p *Partitioner) totalCost() (float64, bool) {
	total := 0.0
	for _, g := range p.groups {
		if g.Analysis.Unknown {
			return 0, false
		}
		total += g.Analysis.Total()
	}
	return total, true
}

const monotonicityEpsilon = 1e-6

// runMode drives spec.md §4.E.8's fixpoint loop for one grouping mode.
func (p *Partitioner) runMode(mode Mode) {
	for {
		candidates := p.enumerateCandidates(mode)
		if len(candidates) == 0 {
			return
		}

		var best *candidateSpec
		var bestPerGroup map[string]tileResult
		bestVal := negInf
		for i := range candidates {
			b, perGroup := p.scoreCandidate(candidates[i])
			if !b.ok {
				continue
			}
			if b.value > bestVal {
				bestVal = b.value
				best = &candidates[i]
				bestPerGroup = perGroup
			}
		}
		if best == nil || bestVal <= 0 {
			return // fixpoint: no beneficial candidate remains
		}

		preCost, preOK := p.totalCost()
		p.applyMerge(*best, bestPerGroup)
		postCost, postOK := p.totalCost()
		if preOK && postOK && postCost > preCost+monotonicityEpsilon {
			panic(&MonotonicityViolation{Pre: preCost, Post: postCost})
		}
	}
}

const negInf = -1e308

// applyMerge folds producer's group into every consumer group the
// candidate names, invalidates affected grouping-cache entries, and
// rewires the graph so producer's own dependencies point directly at
// producer's former consumers, per spec.md §4.E.8.
func (p *Partitioner) applyMerge(cand candidateSpec, perGroup map[string]tileResult) {
	prodGroup := p.groups[cand.Producer]
	for _, consumerName := range cand.ConsumerGroups {
		tr := perGroup[consumerName]
		cg := p.groups[consumerName]
		for m := range prodGroup.Members {
			cg.Members[m] = true
		}
		for m := range tr.InlinedAdd {
			cg.Inlined[m] = true
		}
		cg.TileSizes = tr.TileSizes
		cg.Analysis = tr.Analysis
	}
	for m := range prodGroup.Members {
		if m != cand.Producer {
			p.groupOf[m] = cand.ConsumerGroups[0]
		}
	}

	p.invalidateCache(cand)
	p.rewireAfterMerge(cand.Producer)

	delete(p.groups, cand.Producer)
	p.groupOf[cand.Producer] = cand.ConsumerGroups[0]
}

// invalidateCache drops every cached candidate whose producer or
// consumer lies in the affected neighborhood: the merged producer
// itself, or any of the consumer groups it just joined.
func (p *Partitioner) invalidateCache(cand candidateSpec) {
	affected := map[string]bool{cand.Producer: true}
	for _, c := range cand.ConsumerGroups {
		affected[c] = true
	}
	for k := range p.groupingCache {
		if affected[k.Producer] || affected[k.Consumer] {
			delete(p.groupingCache, k)
		}
	}
}

// rewireAfterMerge redirects every edge that pointed at producer's
// final stage to instead point at producer's own children, so that
// producer's former producers see its consumers directly.
func (p *Partitioner) rewireAfterMerge(producer string) {
	fn := p.Env[producer]
	last := pipeline.FStage{Function: producer, Stage: lastStageIndex(fn)}
	kids := p.children[last]
	pars := p.parents[last]

	for _, par := range pars {
		p.children[par] = removeStage(p.children[par], last)
		for _, kid := range kids {
			p.children[par] = appendUniqueStage(p.children[par], kid)
			p.parents[kid] = appendUniqueStage(p.parents[kid], par)
		}
	}
	for _, kid := range kids {
		p.parents[kid] = removeStage(p.parents[kid], last)
	}
	delete(p.children, last)
	delete(p.parents, last)
}

func removeStage(stages []pipeline.FStage, target pipeline.FStage) []pipeline.FStage {
	out := stages[:0:0]
	for _, s := range stages {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func appendUniqueStage(stages []pipeline.FStage, s pipeline.FStage) []pipeline.FStage {
	for _, existing := range stages {
		if existing == s {
			return stages
		}
	}
	return append(stages, s)
}
