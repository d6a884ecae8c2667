// Package refmodel is a concrete internal/cost.Model, grounded on
// evaluate.go's ComputeWorkingSet/EvaluateSubgraphDetailed per-element
// arithmetic-and-byte-traffic accounting, generalized from the
// teacher's fixed MatMul/pointwise op shapes to a named per-function
// cost table over symbolic regions.
package refmodel

import (
	"imgsched/internal/cost"
	"imgsched/internal/machine"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

const cacheLineBytes = 64

// PerFunctionCost is the reference per-element cost of one function,
// the generalized counterpart of evaluate.go's per-op BaseCost.
type PerFunctionCost struct {
	ArithPerElement float64
	BytesPerElement int64
}

// Model is a reference cost.Model over a pipeline.Env: every named
// function carries a constant per-element arithmetic and byte cost: no
// op-type dispatch (MatMul vs pointwise) the way evaluate.go does,
// since this IR carries no operator kind, only calls.
type Model struct {
	Env     pipeline.Env
	Arch    machine.ArchParams
	PerFunc map[string]PerFunctionCost
	Default PerFunctionCost
}

// New builds a Model; functions absent from perFunc fall back to a
// single arithmetic unit and 4-byte (float32) elements.
func New(env pipeline.Env, arch machine.ArchParams, perFunc map[string]PerFunctionCost) *Model {
	return &Model{
		Env:     env,
		Arch:    arch,
		PerFunc: perFunc,
		Default: PerFunctionCost{ArithPerElement: 1, BytesPerElement: 4},
	}
}

func (m *Model) costOf(name string) PerFunctionCost {
	if c, ok := m.PerFunc[name]; ok {
		return c
	}
	return m.Default
}

func (m *Model) RegionCost(regions map[string]region.Box, inlined map[string]bool) cost.Cost {
	total := cost.Cost{}
	for _, name := range region.SortedKeys(regions) {
		n, ok := regions[name].Size()
		if !ok {
			return cost.UnknownCost()
		}
		pf := m.costOf(name)
		total.Arith += float64(n) * pf.ArithPerElement
		total.Memory += float64(n) * float64(pf.BytesPerElement)
	}
	return total
}

func (m *Model) StageRegionCost(name string, stage int, bounds map[string]region.Interval, inlined map[string]bool) cost.Cost {
	box, ok := m.boundsToBox(name, bounds)
	if !ok {
		return cost.UnknownCost()
	}
	n, ok := box.Size()
	if !ok {
		return cost.UnknownCost()
	}
	pf := m.costOf(name)
	return cost.Cost{Arith: float64(n) * pf.ArithPerElement, Memory: float64(n) * float64(pf.BytesPerElement)}
}

func (m *Model) RegionSize(name string, box region.Box) (int64, bool) {
	n, ok := box.Size()
	if !ok {
		return 0, false
	}
	bytes := n * m.costOf(name).BytesPerElement
	return roundUp(bytes, cacheLineBytes), true
}

func (m *Model) InputRegionSize(name string, box region.Box) (int64, bool) {
	n, ok := box.Size()
	if !ok {
		return 0, false
	}
	return n * m.costOf(name).BytesPerElement, true
}

func (m *Model) DetailedLoadCosts(regions map[string]region.Box, inlined map[string]bool) map[string]int64 {
	out := map[string]int64{}
	for _, name := range region.SortedKeys(regions) {
		n, ok := regions[name].Size()
		if !ok {
			// An unknown-sized region contributes no load-count entry;
			// RegionCost already poisons the surrounding analysis.
			continue
		}
		out[name] = n
	}
	return out
}

func (m *Model) StageDetailedLoadCosts(name string, stage int, bounds map[string]region.Interval, inlined map[string]bool) map[string]int64 {
	box, ok := m.boundsToBox(name, bounds)
	if !ok {
		return nil
	}
	n, ok := box.Size()
	if !ok {
		return nil
	}
	return map[string]int64{name: n}
}

func (m *Model) boundsToBox(name string, bounds map[string]region.Interval) (region.Box, bool) {
	fn, ok := m.Env[name]
	if !ok {
		return nil, false
	}
	box := make(region.Box, len(fn.PureArgs))
	for i, argName := range fn.PureArgs {
		iv, ok := bounds[argName]
		if !ok {
			return nil, false
		}
		box[i] = iv
	}
	return box, true
}

func roundUp(n, align int64) int64 {
	if n <= 0 {
		return 0
	}
	if rem := n % align; rem != 0 {
		return n + (align - rem)
	}
	return n
}
