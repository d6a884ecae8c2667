// Package machine holds the machine-cost-model parameters spec.md §6
// calls arch_params and target: a small struct of cache/parallelism
// constants and a Target interface consulted only for natural vector
// size. Grounded on types.go's Problem.FastMemoryCapacity /
// SlowMemoryBandwidth / NativeGranularity fields, generalized to the
// named arch_params of spec.md §6.
package machine

// ArchParams is the machine-cost-model input spec.md §6 describes:
// { parallelism, last_level_cache_size, balance }.
type ArchParams struct {
	// Parallelism is the minimum number of independent parallel units of
	// work the scheduler tries to expose per group (the "parallelism
	// floor" of spec.md §4.E.7).
	Parallelism int

	// LastLevelCacheBytes is the size, in bytes, of the last-level cache
	// the cache-footprint penalty curve (spec.md §4.E.5) is calibrated
	// against.
	LastLevelCacheBytes int64

	// Balance is the cost ratio between one arithmetic op and one
	// cache-miss memory op, used by the same penalty curve.
	Balance float64
}

// Target is consulted only for NaturalVectorSize, per spec.md §6.
type Target interface {
	// NaturalVectorSize returns the SIMD width, in lanes, the hardware
	// prefers for the given scalar byte width (e.g. 4 for float32, 8 for
	// float64).
	NaturalVectorSize(bytesPerElement int) int
}

// FixedVectorTarget is a Target whose natural vector width is a constant
// number of bytes regardless of element type (e.g. "256-bit AVX2": 32
// bytes / bytesPerElement lanes).
type FixedVectorTarget struct {
	VectorBytes int
}

func (t FixedVectorTarget) NaturalVectorSize(bytesPerElement int) int {
	if bytesPerElement <= 0 {
		return 1
	}
	lanes := t.VectorBytes / bytesPerElement
	if lanes < 1 {
		return 1
	}
	return lanes
}
