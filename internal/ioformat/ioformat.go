// Package ioformat implements the JSON wire format spec.md §6 names as
// an external interface but leaves concrete: a pipeline file (functions,
// outputs, per-output bounds estimates, value-range estimates, machine
// parameters) in, a schedule transcript plus structured per-function
// schedule summary out.
//
// Grounded on the teacher's io.go (ParseProblemJSON/WriteScheduleJSON):
// the same shape of "decode a JSON document into the package's native
// types, encode the result back out for the CLI's --json mode".
package ioformat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"imgsched/internal/deps"
	"imgsched/internal/expr"
	"imgsched/internal/machine"
	"imgsched/internal/pipeline"
	"imgsched/internal/region"
)

// --- wire types -------------------------------------------------------

type docJSON struct {
	Functions         []funcJSON              `json:"functions"`
	Outputs           []string                `json:"outputs"`
	Estimates         map[string][]estJSON    `json:"estimates"`
	FuncValBounds     map[string]valBoundJSON `json:"func_val_bounds"`
	Arch              archJSON                `json:"arch"`
	TargetVectorBytes int                     `json:"target_vector_bytes"`
}

type funcJSON struct {
	Name     string       `json:"name"`
	PureArgs []string     `json:"pure_args"`
	PureRHS  []callJSON   `json:"pure_rhs"`
	Updates  []updateJSON `json:"updates"`
	Extern   *externJSON  `json:"extern"`
}

type callJSON struct {
	Callee string   `json:"callee"`
	Args   []string `json:"args"`
}

type updateJSON struct {
	Args  []string   `json:"args"`
	RHS   []callJSON `json:"rhs"`
	RVars []rvarJSON `json:"rvars"`
}

type rvarJSON struct {
	Name           string `json:"name"`
	Min            int64  `json:"min"`
	Extent         int64  `json:"extent"`
	Parallelizable bool   `json:"parallelizable"`
}

type externArgJSON struct {
	Kind  string `json:"kind"` // "expr" | "func" | "buffer"
	Name  string `json:"name,omitempty"`
	Expr  string `json:"expr,omitempty"`
	Arity int    `json:"arity,omitempty"`
}

type externJSON struct {
	Args []externArgJSON `json:"args"`
}

type estJSON struct {
	Var    string `json:"var"`
	Min    int64  `json:"min"`
	Extent int64  `json:"extent"`
}

type valBoundJSON struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

type archJSON struct {
	Parallelism         int     `json:"parallelism"`
	LastLevelCacheBytes int64   `json:"last_level_cache_bytes"`
	Balance             float64 `json:"balance"`
}

// Input bundles everything Load extracts from a pipeline file, matching
// spec.md §6's input list.
type Input struct {
	Env           pipeline.Env
	Outputs       []string
	Estimates     deps.Estimates
	FuncValBounds map[string]region.Interval
	Arch          machine.ArchParams
	Target        machine.Target
}

// Load parses a pipeline JSON document into an Input.
func Load(data []byte) (*Input, error) {
	var doc docJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ioformat: decoding pipeline: %w", err)
	}

	env := pipeline.Env{}
	for _, fj := range doc.Functions {
		fn, err := decodeFunc(fj)
		if err != nil {
			return nil, fmt.Errorf("ioformat: function %q: %w", fj.Name, err)
		}
		env[fn.Name] = fn
	}

	estimates := deps.Estimates{}
	for name, entries := range doc.Estimates {
		m := map[string]region.Interval{}
		for _, e := range entries {
			m[e.Var] = region.Interval{
				Min: expr.Const(e.Min),
				Max: expr.Const(e.Min + e.Extent - 1),
			}
		}
		estimates[name] = m
	}

	funcValBounds := map[string]region.Interval{}
	for name, b := range doc.FuncValBounds {
		funcValBounds[name] = region.Interval{Min: expr.Const(b.Min), Max: expr.Const(b.Max)}
	}

	arch := machine.ArchParams{
		Parallelism:         doc.Arch.Parallelism,
		LastLevelCacheBytes: doc.Arch.LastLevelCacheBytes,
		Balance:             doc.Arch.Balance,
	}
	var target machine.Target
	if doc.TargetVectorBytes > 0 {
		target = machine.FixedVectorTarget{VectorBytes: doc.TargetVectorBytes}
	}

	return &Input{
		Env:           env,
		Outputs:       append([]string(nil), doc.Outputs...),
		Estimates:     estimates,
		FuncValBounds: funcValBounds,
		Arch:          arch,
		Target:        target,
	}, nil
}

func decodeFunc(fj funcJSON) (*pipeline.Function, error) {
	pureArgVars := make([]*expr.Expr, len(fj.PureArgs))
	for i, a := range fj.PureArgs {
		pureArgVars[i] = expr.Var(a)
	}
	rhs, err := decodeCalls(fj.PureRHS)
	if err != nil {
		return nil, err
	}
	fn := &pipeline.Function{
		Name:     fj.Name,
		PureArgs: append([]string(nil), fj.PureArgs...),
		Pure:     pipeline.Definition{Args: pureArgVars, RHS: rhs},
	}
	for _, uj := range fj.Updates {
		upd, err := decodeUpdate(uj)
		if err != nil {
			return nil, err
		}
		fn.Updates = append(fn.Updates, upd)
	}
	if fj.Extern != nil {
		ext, err := decodeExtern(*fj.Extern)
		if err != nil {
			return nil, err
		}
		fn.Pure.Extern = ext
	}
	fn.Dims = pipeline.DefaultDims(fn.PureArgs)
	return fn, nil
}

func decodeUpdate(uj updateJSON) (pipeline.Definition, error) {
	args, err := decodeExprs(uj.Args)
	if err != nil {
		return pipeline.Definition{}, err
	}
	rhs, err := decodeCalls(uj.RHS)
	if err != nil {
		return pipeline.Definition{}, err
	}
	def := pipeline.Definition{Args: args, RHS: rhs}
	for _, rv := range uj.RVars {
		def.RVars = append(def.RVars, pipeline.RVar{
			Name:           rv.Name,
			Extent:         region.Interval{Min: expr.Const(rv.Min), Max: expr.Const(rv.Min + rv.Extent - 1)},
			Parallelizable: rv.Parallelizable,
		})
	}
	return def, nil
}

func decodeExtern(ej externJSON) ([]pipeline.ExternArg, error) {
	out := make([]pipeline.ExternArg, 0, len(ej.Args))
	for _, a := range ej.Args {
		switch a.Kind {
		case "expr":
			e, err := parseExpr(a.Expr)
			if err != nil {
				return nil, err
			}
			out = append(out, pipeline.ExternArg{Kind: pipeline.ExternExprArg, Expr: e})
		case "func":
			out = append(out, pipeline.ExternArg{Kind: pipeline.ExternFuncArg, Name: a.Name, Arity: a.Arity})
		case "buffer":
			out = append(out, pipeline.ExternArg{Kind: pipeline.ExternBufferArg, Name: a.Name, Arity: a.Arity})
		default:
			return nil, fmt.Errorf("unknown extern arg kind %q", a.Kind)
		}
	}
	return out, nil
}

func decodeCalls(cs []callJSON) ([]pipeline.Call, error) {
	out := make([]pipeline.Call, 0, len(cs))
	for _, c := range cs {
		args, err := decodeExprs(c.Args)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.Call{Callee: c.Callee, Args: args})
	}
	return out, nil
}

func decodeExprs(ss []string) ([]*expr.Expr, error) {
	out := make([]*expr.Expr, len(ss))
	for i, s := range ss {
		e, err := parseExpr(s)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// --- minimal scalar expression parser ---------------------------------
//
// The wire format's argument expressions are simple sums of a variable
// and an integer offset (e.g. "x-1", "y+2"), never the full generality
// internal/expr can represent symbolically. parseExpr covers exactly
// that subset: a left-to-right chain of +/- terms, each an identifier
// or an integer literal.

var tokenRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|[0-9]+|[+\-]`)

func parseExpr(s string) (*expr.Expr, error) {
	toks := tokenRe.FindAllString(strings.ReplaceAll(s, " ", ""), -1)
	if len(toks) == 0 {
		return nil, fmt.Errorf("ioformat: empty expression %q", s)
	}
	pos := 0
	next := func() (string, bool) {
		if pos >= len(toks) {
			return "", false
		}
		t := toks[pos]
		pos++
		return t, true
	}
	atom := func(tok string) *expr.Expr {
		if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
			return expr.Const(n)
		}
		return expr.Var(tok)
	}

	first, ok := next()
	if !ok {
		return nil, fmt.Errorf("ioformat: malformed expression %q", s)
	}
	negate := false
	if first == "+" || first == "-" {
		negate = first == "-"
		first, ok = next()
		if !ok {
			return nil, fmt.Errorf("ioformat: malformed expression %q", s)
		}
	}
	result := atom(first)
	if negate {
		result = expr.Sub(expr.Const(0), result)
	}
	for pos < len(toks) {
		op, _ := next()
		termTok, ok := next()
		if !ok {
			return nil, fmt.Errorf("ioformat: malformed expression %q", s)
		}
		term := atom(termTok)
		switch op {
		case "+":
			result = expr.Add(result, term)
		case "-":
			result = expr.Sub(result, term)
		default:
			return nil, fmt.Errorf("ioformat: unexpected token %q in expression %q", op, s)
		}
	}
	return expr.Simplify(result), nil
}

// --- output -------------------------------------------------------------

// Solution is the structured, JSON-serializable form of a schedule:
// every function's final mutable schedule state plus the plain-text
// transcript spec.md §6 calls "illustrative, not canonical".
type Solution struct {
	Functions []FunctionSchedule `json:"functions"`
	Log       string             `json:"log"`
}

// FunctionSchedule is one function's final schedule state.
type FunctionSchedule struct {
	Name         string        `json:"name"`
	Inlined      bool          `json:"inlined"`
	ComputeLevel string        `json:"compute_level"`
	StoreLevel   string        `json:"store_level"`
	Dims         []DimSchedule `json:"dims"`
}

// DimSchedule is one pure dim's final loop-nest state.
type DimSchedule struct {
	Name       string         `json:"name"`
	LoopType   string         `json:"loop_type"`
	VectorLane int            `json:"vector_lane,omitempty"`
	Split      *SplitSchedule `json:"split,omitempty"`
}

// SplitSchedule records a split(v, outer, inner, factor) decision.
type SplitSchedule struct {
	Outer  string `json:"outer"`
	Inner  string `json:"inner"`
	Factor int    `json:"factor"`
}

// BuildSolution walks env in sorted name order and captures every
// function's final mutable schedule state alongside the transcript
// internal/synth.Synthesize (or validate.DegradeToComputeRoot) returned.
func BuildSolution(env pipeline.Env, log string) *Solution {
	sol := &Solution{Log: log}
	for _, name := range sortedNames(env) {
		fn := env[name]
		fs := FunctionSchedule{
			Name:         fn.Name,
			Inlined:      fn.Inlined,
			ComputeLevel: loopLevelString(fn.ComputeLevel),
			StoreLevel:   loopLevelString(fn.StoreLevel),
		}
		for _, d := range fn.Dims {
			ds := DimSchedule{Name: d.Name, LoopType: d.LoopType.String(), VectorLane: d.VectorLane}
			if d.Split != nil {
				ds.Split = &SplitSchedule{Outer: d.Split.Outer, Inner: d.Split.Inner, Factor: d.Split.Factor}
			}
			fs.Dims = append(fs.Dims, ds)
		}
		sol.Functions = append(sol.Functions, fs)
	}
	return sol
}

func loopLevelString(l pipeline.LoopLevel) string {
	switch l.Kind {
	case pipeline.LevelInline:
		return "inline"
	case pipeline.LevelRoot:
		return "root"
	case pipeline.LevelAt:
		return fmt.Sprintf("at(%s, %s)", l.At, l.Var)
	default:
		return "?"
	}
}

// Dump serializes sol as indented JSON.
func Dump(sol *Solution) ([]byte, error) {
	out, err := json.MarshalIndent(sol, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ioformat: encoding solution: %w", err)
	}
	return out, nil
}

func sortedNames(env pipeline.Env) []string {
	out := make([]string, 0, len(env))
	for k := range env {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
