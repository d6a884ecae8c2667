// Package validate implements spec.md §4.G: the input validator that
// runs before any scheduling mutation. It hard-rejects inputs that
// already carry partial scheduling state (the CORE always schedules
// from a clean baseline), and degrades to compute_root-everywhere when
// an output is missing the integer bounds estimates the cost model and
// partitioner both require.
//
// Grounded on solver.go's SolveOptimized top-level verify-then-fall-back
// shape (try the real thing, fall back to a safe baseline on failure),
// repurposed here into the hard-reject-or-degrade decision spec.md §7
// describes. The teacher has no input-validation stage of its own — its
// Problem JSON is trusted verbatim — so there is no direct analogue for
// the hard-reject check list itself.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"

	"imgsched/internal/deps"
	"imgsched/internal/pipeline"
)

// Error is the user-visible hard-reject failure: one or more functions
// carry scheduling state the validator requires to start clean.
// Distinct from internal/partition.MonotonicityViolation, which signals
// an internal bug rather than a bad input.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validate: %d input violation(s):\n  %s", len(e.Violations), strings.Join(e.Violations, "\n  "))
}

// Report is Validate's success-path result: whether the pipeline must
// degrade to compute_root-everywhere because some output lacks a
// complete integer bounds estimate.
type Report struct {
	Degraded bool
	// MissingEstimates names each (function, dim) pair found without a
	// constant (min, extent) estimate, for diagnostics.
	MissingEstimates []string
}

// Validate performs spec.md §4.G's two checks in order: hard-reject
// first (returns *Error, aborting before any mutation), then the
// graceful-degradation check over every named output.
func Validate(env pipeline.Env, outputs []string, estimates deps.Estimates) (*Report, error) {
	if violations := hardRejectChecks(env); len(violations) > 0 {
		return nil, &Error{Violations: violations}
	}

	report := &Report{}
	for _, name := range sortedCopy(outputs) {
		fn, ok := env[name]
		if !ok {
			continue
		}
		for _, dim := range fn.PureArgs {
			iv, ok := estimates[name][dim]
			if !ok {
				report.MissingEstimates = append(report.MissingEstimates, fmt.Sprintf("%s.%s", name, dim))
				continue
			}
			if !iv.Min.IsConst() {
				report.MissingEstimates = append(report.MissingEstimates, fmt.Sprintf("%s.%s", name, dim))
				continue
			}
			if _, constOK := iv.ConstExtent(); !constOK {
				report.MissingEstimates = append(report.MissingEstimates, fmt.Sprintf("%s.%s", name, dim))
			}
		}
	}
	if len(report.MissingEstimates) > 0 {
		report.Degraded = true
		glog.Warningf("validate: missing integer bounds estimate on %v, degrading to compute_root for every stage", report.MissingEstimates)
	}
	return report, nil
}

// hardRejectChecks walks every function in env (sorted for deterministic
// ordering of the combined error message) and collects every violation
// of spec.md §4.G's pre-conditions: user-specified splits, user-specified
// bounds, a non-Serial loop type on any dim, a specialization on the
// initial stage, or any dim order that doesn't match the function's
// default PureArgs order.
func hardRejectChecks(env pipeline.Env) []string {
	var violations []string
	for _, name := range env.SortedNames() {
		fn := env[name]
		if len(fn.Bounds) > 0 {
			violations = append(violations, fmt.Sprintf("%s: has user-specified bounds", name))
		}
		if len(fn.Specializations) > 0 {
			violations = append(violations, fmt.Sprintf("%s: has a specialization on the initial stage", name))
		}
		for _, d := range fn.Dims {
			if d.LoopType != pipeline.Serial {
				violations = append(violations, fmt.Sprintf("%s: dim %q has non-Serial loop type %s", name, d.Name, d.LoopType))
			}
			if d.Split != nil {
				violations = append(violations, fmt.Sprintf("%s: dim %q has a user-specified split", name, d.Name))
			}
		}
		if !sameOrder(fn.Dims, fn.PureArgs) {
			violations = append(violations, fmt.Sprintf("%s: dims are reordered from the default variable order", name))
		}
	}
	return violations
}

func sameOrder(dims []pipeline.Dim, pureArgs []string) bool {
	if len(dims) != len(pureArgs) {
		return false
	}
	for i, d := range dims {
		if d.Name != pureArgs[i] {
			return false
		}
	}
	return true
}

// DegradeToComputeRoot implements spec.md §7's graceful-degradation
// path: every function in env is set to compute_root with its default
// (unmutated) Dims, skipping internal/partition and internal/synth
// entirely. Returns the same newline-separated transcript style
// internal/synth.Synthesize returns, so callers can treat the two code
// paths uniformly.
func DegradeToComputeRoot(env pipeline.Env) string {
	var log []string
	for _, name := range env.SortedNames() {
		fn := env[name]
		fn.ComputeLevel = pipeline.Root()
		log = append(log, fmt.Sprintf("%s.compute_root()", name))
	}
	return strings.Join(log, "\n")
}

func sortedCopy(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
