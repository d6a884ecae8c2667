package partition

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"imgsched/internal/expr"
	"imgsched/internal/machine"
	"imgsched/internal/region"
)

// tileSizeSet is the fixed candidate size set of spec.md §4.E.6.
var tileSizeSet = []int{1, 4, 8, 16, 32, 64, 128, 256}

const (
	maxTileSize    = 256
	innermostFloor = 64
)

// generateTileConfigs enumerates spec.md §4.E.6's three candidate
// families — skewed, square, reorder-mask — over the pure dims of an
// output, in outer-to-inner order, de-duplicating identical configs.
func generateTileConfigs(dims []string) []map[string]int {
	if len(dims) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var configs []map[string]int
	add := func(cfg map[string]int) {
		k := configKey(dims, cfg)
		if seen[k] {
			return
		}
		seen[k] = true
		configs = append(configs, cfg)
	}

	n := len(dims)

	// Skewed: pivot dim i gets size s, dims before it get the max size,
	// dims after it get 1.
	for pivot := 0; pivot < n; pivot++ {
		for _, s := range tileSizeSet {
			cfg := map[string]int{}
			for i, d := range dims {
				switch {
				case i < pivot:
					cfg[d] = maxTileSize
				case i == pivot:
					cfg[d] = s
				default:
					cfg[d] = 1
				}
			}
			add(cfg)
		}
	}

	// Square: every dim gets the same size.
	for _, s := range tileSizeSet {
		cfg := map[string]int{}
		for _, d := range dims {
			cfg[d] = s
		}
		add(cfg)
	}

	// Reorder-mask: every non-empty subset of dims pinned to 1
	// (innermost floored to 64); dims outside the subset are left
	// untiled (absent from the map).
	innermost := dims[n-1]
	for mask := 1; mask < (1 << uint(n)); mask++ {
		cfg := map[string]int{}
		for i, d := range dims {
			if mask&(1<<uint(i)) == 0 {
				continue
			}
			if d == innermost {
				cfg[d] = innermostFloor
			} else {
				cfg[d] = 1
			}
		}
		add(cfg)
	}

	return configs
}

func configKey(dims []string, cfg map[string]int) string {
	var b strings.Builder
	for _, d := range dims {
		if v, ok := cfg[d]; ok {
			fmt.Fprintf(&b, "%s=%d;", d, v)
		}
	}
	return b.String()
}

// tileBounds narrows fullBounds down to the extent of one tile per
// dimension named in cfg; dimensions absent from cfg (or mapped to a
// non-positive size) keep their full extent, i.e. are untiled.
func tileBounds(fullBounds map[string]region.Interval, cfg map[string]int) map[string]region.Interval {
	out := make(map[string]region.Interval, len(fullBounds))
	for name, iv := range fullBounds {
		ts, ok := cfg[name]
		if !ok || ts <= 0 {
			out[name] = iv
			continue
		}
		tileMax := expr.Simplify(expr.Sub(expr.Add(iv.Min, expr.Const(int64(ts))), expr.Const(1)))
		// Clamp to the dimension's own required extent: a tile size
		// larger than the remaining extent must not inflate the
		// one-tile cost estimate beyond what's actually computed.
		max := expr.Simplify(expr.Min(tileMax, iv.Max))
		out[name] = region.Interval{Min: iv.Min, Max: max}
	}
	return out
}

// cachePenaltyFactor is spec.md §4.E.5's linear cache-footprint-penalty
// curve: factor = trunc(min(1 + footprint*(balance/llc), balance)).
func cachePenaltyFactor(footprintBytes int64, arch machine.ArchParams) float64 {
	if arch.LastLevelCacheBytes <= 0 {
		return 1
	}
	raw := 1 + float64(footprintBytes)*(arch.Balance/float64(arch.LastLevelCacheBytes))
	if raw > arch.Balance {
		raw = arch.Balance
	}
	return math.Trunc(raw)
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

func unionSets(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func mergeLoadCounts(a, b map[string]int64) map[string]int64 {
	out := map[string]int64{}
	for k, v := range a {
		out[k] += v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

func sortedLoadKeys(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
