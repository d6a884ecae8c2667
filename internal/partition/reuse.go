package partition

import (
	"fmt"

	"imgsched/internal/deps"
)

// EvaluateReuse is spec.md §4.E.9's diagnostic: it sums overlap_regions
// box sizes per non-outermost dimension, as if every tile size were 1.
// It is never consulted by analyzeGroup — Partitioner.ModelReuse stays
// false — this exists purely for instrumentation/reporting.
func (p *Partitioner) EvaluateReuse(name string, stage int) ([]int64, error) {
	fn, ok := p.Env[name]
	if !ok {
		return nil, fmt.Errorf("partition: unknown function %q", name)
	}
	if stage < 0 || stage >= fn.NumStages() {
		return nil, fmt.Errorf("partition: stage %d out of range for %q", stage, name)
	}

	bounds := p.boundsMap(name)
	overlaps := deps.OverlapRegions(p.Env, name, stage, bounds, p.allNames, false, nil, p.Estimates)

	sizes := make([]int64, len(overlaps))
	for i, m := range overlaps {
		var total int64
		for _, box := range m {
			if n, ok := box.Size(); ok {
				total += n
			}
		}
		sizes[i] = total
	}
	return sizes, nil
}
