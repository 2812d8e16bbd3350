package aql

import "sort"

// stageRunner holds one pipeline stage's mutable state across the life of
// a subscription. feed processes one input (or anti-input, a retraction)
// and returns zero or more outputs plus any Diagnostics raised along the
// way; flush is called once at end-of-input for stages that only emit a
// final value (AGGREGATE) (spec.md §4.8).
type stageRunner interface {
	feed(idx int, v Value, anti bool) ([]Value, []Diagnostic)
	flush(idx int) ([]Value, []Diagnostic)
	// done reports that this stage has saturated and the upstream should
	// stop being asked for more input (LIMIT).
	done() bool
}

// Pipeline is a built, stateful chain of stage runners fed one value at a
// time.
type Pipeline struct {
	runners []stageRunner
}

// Build compiles a parsed Query's stages into a runnable Pipeline. The FROM
// clause itself is not part of the runner chain: it is lowered by the
// caller into a banyan.Query/tagindex.Expr that selects which events reach
// Feed in the first place.
func Build(q *Query) *Pipeline {
	p := &Pipeline{}
	for _, s := range q.Stages {
		p.runners = append(p.runners, newRunner(s))
	}
	return p
}

func newRunner(s Stage) stageRunner {
	switch st := s.(type) {
	case FilterStage:
		return &filterRunner{expr: st.Expr}
	case SelectStage:
		return &selectRunner{expr: st.Expr}
	case LimitStage:
		return &limitRunner{n: st.N}
	case AggregateStage:
		return newAggregateRunner(st)
	default:
		return &filterRunner{expr: BoolExpr{Value: true}}
	}
}

// Feed pushes one (value, anti) pair through every stage in order. A
// non-anti value dropped by a stage simply stops propagating; Diagnostics
// accumulate across all stages touched. Feed stops early and reports
// upstream-should-stop via (_, _, true) once a downstream stage is done()
// (a saturated LIMIT).
func (p *Pipeline) Feed(v Value, anti bool) (outputs []Value, diags []Diagnostic, stop bool) {
	cur := []Value{v}
	for idx, r := range p.runners {
		var next []Value
		for _, in := range cur {
			outs, ds := r.feed(idx, in, anti)
			next = append(next, outs...)
			diags = append(diags, ds...)
		}
		cur = next
		if len(cur) == 0 {
			return nil, diags, p.allDone()
		}
	}
	return cur, diags, p.allDone()
}

// Flush drains any stage that only emits at end-of-input (AGGREGATE).
func (p *Pipeline) Flush() (outputs []Value, diags []Diagnostic) {
	cur := []Value(nil)
	for idx, r := range p.runners {
		flushed, ds := r.flush(idx)
		diags = append(diags, ds...)
		cur = append(cur, flushed...)
	}
	return cur, diags
}

func (p *Pipeline) allDone() bool {
	for _, r := range p.runners {
		if r.done() {
			return true
		}
	}
	return false
}

// filterRunner drops inputs that don't evaluate truthy; stateless, so
// anti-inputs pass straight through the same evaluation (spec.md §4.8).
type filterRunner struct{ expr Expr }

func (r *filterRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	out, diag := Eval(r.expr, v)
	if diag != nil {
		diag.Stage = idx
		return nil, []Diagnostic{*diag}
	}
	if !out.Truthy() {
		return nil, nil
	}
	return []Value{v}, nil
}
func (r *filterRunner) flush(int) ([]Value, []Diagnostic) { return nil, nil }
func (r *filterRunner) done() bool                        { return false }

// selectRunner replaces the current value with expr's evaluation; also
// stateless.
type selectRunner struct{ expr Expr }

func (r *selectRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	out, diag := Eval(r.expr, v)
	if diag != nil {
		diag.Stage = idx
		return nil, []Diagnostic{*diag}
	}
	return []Value{out}, nil
}
func (r *selectRunner) flush(int) ([]Value, []Diagnostic) { return nil, nil }
func (r *selectRunner) done() bool                        { return false }

// limitRunner passes the first n values, then stops the upstream. A
// saturated limit rejects anti-inputs by design (spec.md §4.8).
type limitRunner struct {
	n       int
	emitted int
}

func (r *limitRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	if anti {
		if r.emitted >= r.n {
			return nil, []Diagnostic{warnf(idx, "LIMIT: saturated limit rejects anti-input")}
		}
		if r.emitted > 0 {
			r.emitted--
		}
		return []Value{v}, nil
	}
	if r.emitted >= r.n {
		return nil, nil
	}
	r.emitted++
	return []Value{v}, nil
}
func (r *limitRunner) flush(int) ([]Value, []Diagnostic) { return nil, nil }
func (r *limitRunner) done() bool                        { return r.emitted >= r.n }

func newAggregateRunner(s AggregateStage) stageRunner {
	switch s.Primitive {
	case AggFirst:
		return &firstRunner{expr: s.Expr}
	case AggLast:
		return &lastRunner{expr: s.Expr}
	case AggSum:
		return &sumRunner{expr: s.Expr}
	case AggArray:
		return &arrayRunner{expr: s.Expr}
	case AggMin:
		return &extremumRunner{expr: s.Expr, wantMin: true}
	case AggMax:
		return &extremumRunner{expr: s.Expr, wantMin: false}
	default:
		return &firstRunner{expr: s.Expr}
	}
}

func aggregateInput(expr Expr, v Value) (Value, *Diagnostic) {
	if expr == nil {
		return v, nil
	}
	return Eval(expr, v)
}

// firstRunner remembers the first value observed; a matching anti-input
// clears it so the next arrival becomes the new first (spec.md §4.8 "FIRST
// supports anti-inputs").
type firstRunner struct {
	expr Expr
	has  bool
	val  Value
}

func (r *firstRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	in, diag := aggregateInput(r.expr, v)
	if diag != nil {
		diag.Stage = idx
		return nil, []Diagnostic{*diag}
	}
	if anti {
		if r.has && valuesEqual(r.val, in) {
			r.has = false
			return nil, nil
		}
		return nil, []Diagnostic{warnf(idx, "FIRST: anti-input does not match held value")}
	}
	if !r.has {
		r.has = true
		r.val = in
	}
	return nil, nil
}
func (r *firstRunner) flush(int) ([]Value, []Diagnostic) {
	if !r.has {
		return nil, nil
	}
	return []Value{r.val}, nil
}
func (r *firstRunner) done() bool { return false }

// lastRunner remembers the most recent value. Retracting the most recent
// addition is supported; retracting an older, already-superseded value is
// not (no full history is kept), and is reported as a Diagnostic rather
// than silently accepted.
type lastRunner struct {
	expr Expr
	has  bool
	val  Value
}

func (r *lastRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	in, diag := aggregateInput(r.expr, v)
	if diag != nil {
		diag.Stage = idx
		return nil, []Diagnostic{*diag}
	}
	if anti {
		if r.has && valuesEqual(r.val, in) {
			r.has = false
			return nil, nil
		}
		return nil, []Diagnostic{warnf(idx, "LAST: anti-input does not match the held value")}
	}
	r.has = true
	r.val = in
	return nil, nil
}
func (r *lastRunner) flush(int) ([]Value, []Diagnostic) {
	if !r.has {
		return nil, nil
	}
	return []Value{r.val}, nil
}
func (r *lastRunner) done() bool { return false }

// sumRunner folds numeric inputs; anti-inputs subtract, since addition is
// reversible without history.
type sumRunner struct {
	expr Expr
	sum  Value
}

func (r *sumRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	in, diag := aggregateInput(r.expr, v)
	if diag != nil {
		diag.Stage = idx
		return nil, []Diagnostic{*diag}
	}
	op := "+"
	if anti {
		op = "-"
	}
	if r.sum.Kind == KindNull {
		r.sum = Int(0)
	}
	out, err := numericOp(op, r.sum, in)
	if err != nil {
		return nil, []Diagnostic{errf(idx, "SUM: %s", err.Error())}
	}
	r.sum = out
	return nil, nil
}
func (r *sumRunner) flush(int) ([]Value, []Diagnostic) {
	if r.sum.Kind == KindNull {
		return []Value{Int(0)}, nil
	}
	return []Value{r.sum}, nil
}
func (r *sumRunner) done() bool { return false }

// arrayRunner collects every input into a list; a matching anti-input
// removes the first equal occurrence (spec.md §4.8 "ARRAY").
type arrayRunner struct {
	expr Expr
	vals []Value
}

func (r *arrayRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	in, diag := aggregateInput(r.expr, v)
	if diag != nil {
		diag.Stage = idx
		return nil, []Diagnostic{*diag}
	}
	if anti {
		for i, existing := range r.vals {
			if valuesEqual(existing, in) {
				r.vals = append(r.vals[:i], r.vals[i+1:]...)
				return nil, nil
			}
		}
		return nil, []Diagnostic{warnf(idx, "ARRAY: anti-input not found in held values")}
	}
	r.vals = append(r.vals, in)
	return nil, nil
}
func (r *arrayRunner) flush(int) ([]Value, []Diagnostic) {
	out := make([]Value, len(r.vals))
	copy(out, r.vals)
	return []Value{Array(out)}, nil
}
func (r *arrayRunner) done() bool { return false }

// extremumRunner implements MIN/MAX over a live multiset (a count per
// distinct value) so that retracting any previously-seen value, not just
// the current extremum, is supported correctly.
type extremumRunner struct {
	expr    Expr
	wantMin bool
	counts  []multisetEntry
}

type multisetEntry struct {
	val   Value
	count int
}

func (r *extremumRunner) feed(idx int, v Value, anti bool) ([]Value, []Diagnostic) {
	in, diag := aggregateInput(r.expr, v)
	if diag != nil {
		diag.Stage = idx
		return nil, []Diagnostic{*diag}
	}
	for i := range r.counts {
		if valuesEqual(r.counts[i].val, in) {
			if anti {
				r.counts[i].count--
				if r.counts[i].count <= 0 {
					r.counts = append(r.counts[:i], r.counts[i+1:]...)
				}
			} else {
				r.counts[i].count++
			}
			return nil, nil
		}
	}
	if anti {
		return nil, []Diagnostic{warnf(idx, "%s: anti-input not found in held values", aggLabel(r.wantMin))}
	}
	r.counts = append(r.counts, multisetEntry{val: in, count: 1})
	return nil, nil
}

func aggLabel(wantMin bool) string {
	if wantMin {
		return "MIN"
	}
	return "MAX"
}

func (r *extremumRunner) flush(int) ([]Value, []Diagnostic) {
	if len(r.counts) == 0 {
		return nil, nil
	}
	sorted := make([]multisetEntry, len(r.counts))
	copy(sorted, r.counts)
	sort.Slice(sorted, func(i, j int) bool {
		cmp, err := compare(sorted[i].val, sorted[j].val)
		if err != nil {
			return false
		}
		if r.wantMin {
			return cmp < 0
		}
		return cmp > 0
	})
	return []Value{sorted[0].val}, nil
}
func (r *extremumRunner) done() bool { return false }
