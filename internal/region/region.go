// Package region implements the box algebra of spec.md §4.B: an N-D
// interval ("Box") over symbolic expr.Expr endpoints, with hull (Merge),
// Intersect, Size, and Simplify. All operations are pure, matching
// spec.md's "All operations are pure" for component B.
package region

import (
	"fmt"
	"sort"

	"imgsched/internal/expr"

	"github.com/samber/lo"
)

// Interval is a symbolic (min, max) pair, either end of which may be
// expr.Unknown.
type Interval struct {
	Min, Max *expr.Expr
}

// Extent returns max - min + 1, simplified, or expr.Unknown if either
// endpoint is non-constant after simplification.
func (iv Interval) Extent() *expr.Expr {
	min := expr.Simplify(iv.Min)
	max := expr.Simplify(iv.Max)
	if min.IsUnknown() || max.IsUnknown() {
		return expr.Unknown
	}
	return expr.Simplify(expr.Add(expr.Sub(max, min), expr.Const(1)))
}

// ConstExtent returns the extent as an int and true if it is known and
// constant.
func (iv Interval) ConstExtent() (int64, bool) {
	e := iv.Extent()
	if !e.IsConst() {
		return 0, false
	}
	return expr.ConstValue(e), true
}

// MergeInterval returns the hull of two intervals: the min of the mins,
// the max of the maxes.
func MergeInterval(a, b Interval) Interval {
	return Interval{
		Min: expr.Simplify(expr.Min(a.Min, b.Min)),
		Max: expr.Simplify(expr.Max(a.Max, b.Max)),
	}
}

// Box is an ordered sequence of Intervals, one per dimension.
type Box []Interval

// Size returns the product of constant extents, or (0, false) if any
// dimension's extent is unknown.
func (b Box) Size() (int64, bool) {
	var total int64 = 1
	for _, iv := range b {
		e, ok := iv.ConstExtent()
		if !ok {
			return 0, false
		}
		total *= e
	}
	return total, true
}

// Merge returns the dimension-wise hull of two boxes of equal
// dimensionality.
func Merge(a, b Box) Box {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if len(a) != len(b) {
		panic(fmt.Sprintf("region.Merge: dimension mismatch %d vs %d", len(a), len(b)))
	}
	out := make(Box, len(a))
	for i := range a {
		out[i] = Interval{
			Min: expr.Simplify(expr.Min(a[i].Min, b[i].Min)),
			Max: expr.Simplify(expr.Max(a[i].Max, b[i].Max)),
		}
	}
	return out
}

// Intersect returns the dimension-wise intersection of two boxes of equal
// dimensionality.
func Intersect(a, b Box) Box {
	if len(a) != len(b) {
		panic(fmt.Sprintf("region.Intersect: dimension mismatch %d vs %d", len(a), len(b)))
	}
	out := make(Box, len(a))
	for i := range a {
		out[i] = Interval{
			Min: expr.Simplify(expr.Max(a[i].Min, b[i].Min)),
			Max: expr.Simplify(expr.Min(a[i].Max, b[i].Max)),
		}
	}
	return out
}

// Simplify simplifies each endpoint expression of every dimension.
func Simplify(b Box) Box {
	out := make(Box, len(b))
	for i, iv := range b {
		out[i] = Interval{Min: expr.Simplify(iv.Min), Max: expr.Simplify(iv.Max)}
	}
	return out
}

// Infinite returns an arity-n box whose every dimension is Unknown..Unknown,
// used for extern function-typed arguments per spec.md §4.C step 2.
func Infinite(arity int) Box {
	b := make(Box, arity)
	for i := range b {
		b[i] = Interval{Min: expr.Unknown, Max: expr.Unknown}
	}
	return b
}

// MergeMap merges box src into the dst map under key, hulling with any
// existing entry. dst is mutated and returned.
func MergeMap(dst map[string]Box, key string, src Box) map[string]Box {
	if dst == nil {
		dst = make(map[string]Box)
	}
	if existing, ok := dst[key]; ok {
		dst[key] = Merge(existing, src)
	} else {
		dst[key] = src
	}
	return dst
}

// BoundsOfExprInScope is the repo's stand-in for the external
// bounds_of_expr_in_scope collaborator spec.md §1 names: given a scalar
// expression and a scope mapping free variable names to their current
// Interval, it computes the Interval of values the expression can take.
// Unbound variables and the Unknown expression evaluate to an unknown
// interval; arithmetic follows standard interval-arithmetic rules.
func BoundsOfExprInScope(e *expr.Expr, scope map[string]Interval) Interval {
	if e.IsUnknown() {
		return Interval{Min: expr.Unknown, Max: expr.Unknown}
	}
	switch e.Kind {
	case expr.KindConst:
		c := expr.Const(e.Const)
		return Interval{Min: c, Max: c}
	case expr.KindVar:
		if iv, ok := scope[e.Var]; ok {
			return iv
		}
		return Interval{Min: expr.Unknown, Max: expr.Unknown}
	}

	l := BoundsOfExprInScope(e.L, scope)
	r := BoundsOfExprInScope(e.R, scope)

	switch e.Kind {
	case expr.KindAdd:
		return Interval{Min: expr.Simplify(expr.Add(l.Min, r.Min)), Max: expr.Simplify(expr.Add(l.Max, r.Max))}
	case expr.KindSub:
		return Interval{Min: expr.Simplify(expr.Sub(l.Min, r.Max)), Max: expr.Simplify(expr.Sub(l.Max, r.Min))}
	case expr.KindMin:
		return Interval{Min: expr.Simplify(expr.Min(l.Min, r.Min)), Max: expr.Simplify(expr.Min(l.Max, r.Max))}
	case expr.KindMax:
		return Interval{Min: expr.Simplify(expr.Max(l.Min, r.Min)), Max: expr.Simplify(expr.Max(l.Max, r.Max))}
	case expr.KindMul:
		return mulBounds(l, r)
	default:
		return Interval{Min: expr.Unknown, Max: expr.Unknown}
	}
}

// mulBounds evaluates the four corner products of two intervals and
// returns their min/max, the standard interval-arithmetic rule for
// multiplication. Any unknown corner poisons the whole result.
func mulBounds(l, r Interval) Interval {
	lm := expr.Simplify(l.Min)
	lM := expr.Simplify(l.Max)
	rm := expr.Simplify(r.Min)
	rM := expr.Simplify(r.Max)
	if lm.IsUnknown() || lM.IsUnknown() || rm.IsUnknown() || rM.IsUnknown() {
		return Interval{Min: expr.Unknown, Max: expr.Unknown}
	}
	if !lm.IsConst() || !lM.IsConst() || !rm.IsConst() || !rM.IsConst() {
		return Interval{Min: expr.Unknown, Max: expr.Unknown}
	}
	corners := []int64{
		expr.ConstValue(lm) * expr.ConstValue(rm),
		expr.ConstValue(lm) * expr.ConstValue(rM),
		expr.ConstValue(lM) * expr.ConstValue(rm),
		expr.ConstValue(lM) * expr.ConstValue(rM),
	}
	min, max := corners[0], corners[0]
	for _, c := range corners[1:] {
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	return Interval{Min: expr.Const(min), Max: expr.Const(max)}
}

// SortedKeys returns the keys of a region map in lexicographic order, for
// the deterministic iteration spec.md §5/§9 requires everywhere.
func SortedKeys(m map[string]Box) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
