package aql

// evalCtx is the environment an expression is evaluated in: just the
// current value, bound to `_` (spec.md §4.8).
type evalCtx struct {
	current Value
}

// Eval evaluates expr against the current value, returning a Diagnostic
// (never an error) on type mismatch so the pipeline can continue.
func Eval(expr Expr, current Value) (Value, *Diagnostic) {
	ctx := evalCtx{current: current}
	return ctx.eval(expr)
}

func (c evalCtx) eval(expr Expr) (Value, *Diagnostic) {
	switch e := expr.(type) {
	case NumberExpr:
		if e.Value == float64(int64(e.Value)) {
			return Int(int64(e.Value)), nil
		}
		return Float(e.Value), nil
	case StringExpr:
		return String(e.Value), nil
	case BoolExpr:
		return Bool(e.Value), nil
	case CurrentExpr:
		return c.current, nil
	case FieldExpr:
		base, diag := c.eval(e.Base)
		if diag != nil {
			return Value{}, diag
		}
		if base.Kind != KindObject {
			return Value{}, mismatch("field access %q on non-object value", e.Name)
		}
		v, ok := base.O[e.Name]
		if !ok {
			return Null(), nil
		}
		return v, nil
	case IndexExpr:
		base, diag := c.eval(e.Base)
		if diag != nil {
			return Value{}, diag
		}
		idx, diag := c.eval(e.Index)
		if diag != nil {
			return Value{}, diag
		}
		switch base.Kind {
		case KindArray:
			i, ok := idx.asFloat()
			if !ok {
				return Value{}, mismatch("array index must be numeric")
			}
			n := int(i)
			if n < 0 || n >= len(base.A) {
				return Null(), nil
			}
			return base.A[n], nil
		case KindObject:
			if idx.Kind != KindString {
				return Value{}, mismatch("object index must be a string")
			}
			v, ok := base.O[idx.S]
			if !ok {
				return Null(), nil
			}
			return v, nil
		default:
			return Value{}, mismatch("indexing requires an array or object")
		}
	case ArrayExpr:
		out := make([]Value, len(e.Items))
		for i, item := range e.Items {
			v, diag := c.eval(item)
			if diag != nil {
				return Value{}, diag
			}
			out[i] = v
		}
		return Array(out), nil
	case ObjectExpr:
		out := make(map[string]Value, len(e.Fields))
		for k, fe := range e.Fields {
			v, diag := c.eval(fe)
			if diag != nil {
				return Value{}, diag
			}
			out[k] = v
		}
		return Object(out), nil
	case UnaryExpr:
		x, diag := c.eval(e.X)
		if diag != nil {
			return Value{}, diag
		}
		switch e.Op {
		case "!":
			return Bool(!x.Truthy()), nil
		case "-":
			if x.Kind == KindInt {
				return Int(-x.I), nil
			}
			if f, ok := x.asFloat(); ok {
				return Float(-f), nil
			}
			return Value{}, mismatch("unary - requires a numeric operand")
		default:
			return Value{}, mismatch("unknown unary operator %q", e.Op)
		}
	case BinaryExpr:
		return c.evalBinary(e)
	case CallExpr:
		return Value{}, mismatch("unsupported function %q in scalar expression", e.Name)
	default:
		return Value{}, mismatch("unsupported expression node %T", expr)
	}
}

func (c evalCtx) evalBinary(e BinaryExpr) (Value, *Diagnostic) {
	l, diag := c.eval(e.L)
	if diag != nil {
		return Value{}, diag
	}
	switch e.Op {
	case "&&":
		if !l.Truthy() {
			return Bool(false), nil
		}
		r, diag := c.eval(e.R)
		if diag != nil {
			return Value{}, diag
		}
		return Bool(r.Truthy()), nil
	case "||":
		if l.Truthy() {
			return Bool(true), nil
		}
		r, diag := c.eval(e.R)
		if diag != nil {
			return Value{}, diag
		}
		return Bool(r.Truthy()), nil
	}

	r, diag := c.eval(e.R)
	if diag != nil {
		return Value{}, diag
	}

	switch e.Op {
	case "+", "-", "*", "/":
		if e.Op == "+" && l.Kind == KindString && r.Kind == KindString {
			return String(l.S + r.S), nil
		}
		v, err := numericOp(e.Op, l, r)
		if err != nil {
			return Value{}, mismatch("%s", err.Error())
		}
		return v, nil
	case "==":
		return Bool(valuesEqual(l, r)), nil
	case "!=":
		return Bool(!valuesEqual(l, r)), nil
	case "<", "<=", ">", ">=":
		cmp, err := compare(l, r)
		if err != nil {
			return Value{}, mismatch("%s", err.Error())
		}
		switch e.Op {
		case "<":
			return Bool(cmp < 0), nil
		case "<=":
			return Bool(cmp <= 0), nil
		case ">":
			return Bool(cmp > 0), nil
		default:
			return Bool(cmp >= 0), nil
		}
	default:
		return Value{}, mismatch("unknown binary operator %q", e.Op)
	}
}

func mismatch(format string, args ...interface{}) *Diagnostic {
	d := errf(-1, format, args...)
	return &d
}
