// Package partition implements spec.md §4.E: the greedy fixpoint group
// partitioner. It decides which producers get inlined into their
// consumers, which survive as separate groups computed in tiles, and
// the tile sizes each surviving group uses, by repeatedly merging the
// most beneficial (producer, consumer) pair until no beneficial merge
// remains.
//
// Grounded on fusion.go's FuseChainGreedy/FuseChainDP (try a candidate
// merge, compare against keeping things separate, commit the better
// one) and scheduler.go's OptimizeSchedule (a multi-phase driver over
// a mutable group structure), generalized from op-index chains to
// spec.md's (producer, consumer) candidate-and-benefit search over a
// pipeline graph.
package partition

import (
	"fmt"

	"imgsched/internal/pipeline"
)

// Mode selects which of spec.md §4.E.2's two grouping passes is active.
type Mode int

const (
	ModeInline Mode = iota
	ModeFastMem
)

func (m Mode) String() string {
	if m == ModeInline {
		return "INLINE"
	}
	return "FAST_MEM"
}

// GroupAnalysis is the per-group cost summary spec.md §4.E.5 computes:
// total arithmetic and memory cost across every tile, plus the
// available parallelism. Unknown poisons every arithmetic combination,
// matching cost.Cost and region.Box's Unknown propagation.
type GroupAnalysis struct {
	Arith, Memory float64
	Parallelism   int
	Unknown       bool
}

func (a GroupAnalysis) Total() float64 { return a.Arith + a.Memory }

// Group is one partitioner-managed group: a representative output
// function plus every function name that has been merged into it.
type Group struct {
	// Output is the function name this group is keyed and scheduled
	// under; its pure dims carry the group's tile sizes.
	Output string
	// Members is every function name folded into this group, including
	// Output itself.
	Members map[string]bool
	// Inlined is the subset of Members that no longer materialize
	// storage: their computation is spliced into every read.
	Inlined map[string]bool
	// TileSizes maps each of Output's pure-arg dimension names to a
	// chosen tile size; a dimension absent here (or mapped to 0) is
	// untiled (one tile spans its whole required extent).
	TileSizes map[string]int
	Analysis  GroupAnalysis
}

// MonotonicityViolation signals that internal/partition.analyzeGroup
// produced a post-merge cost greater than the pre-merge cost: spec.md
// §4.E.8's `assert post <= pre` correctness invariant. This is an
// internal-error assertion, not a user-facing validation failure —
// callers are not expected to recover from it.
type MonotonicityViolation struct {
	Pre, Post float64
}

func (e *MonotonicityViolation) Error() string {
	return fmt.Sprintf("partition: monotonicity violated: cost increased from %.6f to %.6f", e.Pre, e.Post)
}

type cacheKey struct {
	Producer string
	Consumer string
	Mode     Mode
}

type cachedEntry struct {
	TileSizes  map[string]int
	Analysis   GroupAnalysis
	InlinedAdd map[string]bool
}

type candidateSpec struct {
	Producer       string
	Mode           Mode
	ConsumerGroups []string
}

type tileResult struct {
	TileSizes  map[string]int
	Analysis   GroupAnalysis
	InlinedAdd map[string]bool
}

type benefitResult struct {
	value float64
	ok    bool
}

// lastStageIndex returns the stage index of the final (most impure) definition
// of fn — the only stage a cross-function edge may originate from, per
// the co-scheduling invariant of spec.md §4.A.
func lastStageIndex(fn *pipeline.Function) int { return fn.NumStages() - 1 }
