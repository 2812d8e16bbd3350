// Package aql implements C8: the AQL pipeline runtime (FROM/FILTER/SELECT/
// AGGREGATE/LIMIT), its expression language, and anti-input/Diagnostic
// semantics, per spec.md §4.8.
package aql

import "github.com/actyx-go/ax/core/tagindex"

// Query is a parsed pipeline: a FROM source plus zero or more stages,
// evaluated left to right (spec.md §4.8).
type Query struct {
	From   tagindex.Expr
	Stages []Stage
}

// Stage is one pipeline stage.
type Stage interface{ isStage() }

// FilterStage drops events where Expr is not truthy.
type FilterStage struct{ Expr Expr }

// SelectStage replaces the current value with Expr's evaluation.
type SelectStage struct{ Expr Expr }

// AggregatePrimitive names one of the built-in fold operators.
type AggregatePrimitive string

const (
	AggFirst AggregatePrimitive = "FIRST"
	AggLast  AggregatePrimitive = "LAST"
	AggMin   AggregatePrimitive = "MIN"
	AggMax   AggregatePrimitive = "MAX"
	AggSum   AggregatePrimitive = "SUM"
	AggArray AggregatePrimitive = "ARRAY"
)

// AggregateStage folds the input into a single output value, emitted when
// the pipeline is flushed at end-of-input (Pipeline.Flush); there is no
// separate sample request.
type AggregateStage struct {
	Primitive AggregatePrimitive
	Expr      Expr // the value folded; nil means the current value (`_`)
}

// LimitStage passes the first N values then stops the upstream.
type LimitStage struct{ N int }

func (FilterStage) isStage()    {}
func (SelectStage) isStage()    {}
func (AggregateStage) isStage() {}
func (LimitStage) isStage()     {}

// Expr is the expression-language AST evaluated against the current value.
type Expr interface{ isExpr() }

type NumberExpr struct{ Value float64 }
type StringExpr struct{ Value string }
type BoolExpr struct{ Value bool }
type CurrentExpr struct{} // `_`
type FieldExpr struct {
	Base Expr
	Name string
}
type IndexExpr struct {
	Base  Expr
	Index Expr
}
type ArrayExpr struct{ Items []Expr }
type ObjectExpr struct{ Fields map[string]Expr }
type UnaryExpr struct {
	Op string
	X  Expr
}
type BinaryExpr struct {
	Op   string
	L, R Expr
}
type CallExpr struct {
	Name string
	Args []Expr
}

func (NumberExpr) isExpr()  {}
func (StringExpr) isExpr()  {}
func (BoolExpr) isExpr()    {}
func (CurrentExpr) isExpr() {}
func (FieldExpr) isExpr()   {}
func (IndexExpr) isExpr()   {}
func (ArrayExpr) isExpr()   {}
func (ObjectExpr) isExpr()  {}
func (UnaryExpr) isExpr()   {}
func (BinaryExpr) isExpr()  {}
func (CallExpr) isExpr()    {}
