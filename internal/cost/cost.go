// Package cost declares the region cost model interface of spec.md
// §4.D: the partitioner's sole view of arithmetic and memory cost. The
// spec names this an external collaborator the surrounding system
// supplies; internal/cost/refmodel provides a concrete implementation
// so this repo is runnable and testable end to end.
package cost

import "imgsched/internal/region"

// Cost is a (arithmetic, memory) pair, with Unknown absorbing through
// every combinator exactly like expr.Unknown, per spec.md §4.D/§9.
type Cost struct {
	Arith, Memory float64
	Unknown       bool
}

// UnknownCost is the absorbing cost value.
func UnknownCost() Cost { return Cost{Unknown: true} }

func (c Cost) IsUnknown() bool { return c.Unknown }

// Add sums two costs component-wise; Unknown poisons the result.
func Add(a, b Cost) Cost {
	if a.Unknown || b.Unknown {
		return UnknownCost()
	}
	return Cost{Arith: a.Arith + b.Arith, Memory: a.Memory + b.Memory}
}

// Sub subtracts b from a component-wise; Unknown poisons the result.
func Sub(a, b Cost) Cost {
	if a.Unknown || b.Unknown {
		return UnknownCost()
	}
	return Cost{Arith: a.Arith - b.Arith, Memory: a.Memory - b.Memory}
}

// Total is the scalar figure of merit the partitioner compares:
// arithmetic plus memory cost.
func (c Cost) Total() float64 { return c.Arith + c.Memory }

// Model is the partitioner's cost collaborator, matching spec.md §4.D
// exactly.
type Model interface {
	// RegionCost returns the total cost of evaluating the given
	// producer regions once, with the named functions inlined into
	// their consumers.
	RegionCost(regions map[string]region.Box, inlined map[string]bool) Cost

	// StageRegionCost returns the cost of a single stage evaluated over
	// bounds.
	StageRegionCost(name string, stage int, bounds map[string]region.Interval, inlined map[string]bool) Cost

	// RegionSize returns the allocation byte size of box for the named
	// function, or false if any dimension is unknown.
	RegionSize(name string, box region.Box) (int64, bool)

	// InputRegionSize returns the raw (unpadded) byte size of box read
	// as an input tile, or false if any dimension is unknown.
	InputRegionSize(name string, box region.Box) (int64, bool)

	// DetailedLoadCosts returns, per callee name present in regions, the
	// element count loaded — used to weight the cache-penalty curve in
	// spec.md §4.E.5.
	DetailedLoadCosts(regions map[string]region.Box, inlined map[string]bool) map[string]int64

	// StageDetailedLoadCosts is the single-stage counterpart.
	StageDetailedLoadCosts(name string, stage int, bounds map[string]region.Interval, inlined map[string]bool) map[string]int64
}
