package aql

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/actyx-go/ax/core/tagindex"
)

// The concrete grammar below is a struct-tag EBNF definition in
// alecthomas/participle/v2's idiom: each field's tag is a production, and
// Build walks the struct graph to derive a parser. There is no surviving
// grammar source to port from the original implementation for this stage
// (see DESIGN.md, C8 entry); the shape here is driven directly by spec.md
// §4.8's pipeline description.

var aqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `[-+]?\d+(\.\d+)?`},
	{Name: "Op", Pattern: `==|!=|<=|>=|&&|\|\|`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[()\[\]{}:,._!<>+\-*/'|&]`},
})

type grammarQuery struct {
	From   []string        `"FROM" @(String|Ident|Punct)+`
	Stages []*grammarStage `@@*`
}

type grammarStage struct {
	Filter    *grammarExpr `  "FILTER" @@`
	Select    *grammarExpr `| "SELECT" @@`
	Aggregate *grammarAgg  `| "AGGREGATE" @@`
	Limit     *int         `| "LIMIT" @Number`
}

type grammarAgg struct {
	Primitive string       `@("FIRST"|"LAST"|"MIN"|"MAX"|"SUM"|"ARRAY")`
	Arg       *grammarExpr `"(" @@? ")"`
}

// grammarExpr captures one balanced run of expression tokens as text; the
// hand-written recursive-descent expr parser (parseExprTokens in
// exprparser.go) re-parses that text with full operator-precedence handling. Participle's own
// precedence-climbing idiom would otherwise require one struct per
// precedence level purely for this sub-grammar; folding it into a single
// captured run keeps the stage grammar above legible while still reusing
// participle for the outer pipeline structure.
type grammarExpr struct {
	Tokens []string `@(String|Number|Ident|Op|Punct)+`
}

// Unquote is deliberately not applied here: the parser below tells a
// string literal token from a bare identifier token by the presence of
// its surrounding quotes, so both capture groups (FROM's tag expression
// and stage expressions) need the raw lexed text, quotes included.
var pipelineParser = participle.MustBuild[grammarQuery](
	participle.Lexer(aqlLexer),
	participle.Elide("Whitespace"),
)

// Parse compiles an AQL query string into a Query AST.
func Parse(src string) (*Query, error) {
	g, err := pipelineParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("aql: %w", err)
	}
	fromExpr, err := parseFromTokens(g.From)
	if err != nil {
		return nil, err
	}
	q := &Query{From: fromExpr}
	for _, s := range g.Stages {
		stage, err := buildStage(s)
		if err != nil {
			return nil, err
		}
		q.Stages = append(q.Stages, stage)
	}
	return q, nil
}

func buildStage(s *grammarStage) (Stage, error) {
	switch {
	case s.Filter != nil:
		e, err := parseExprTokens(s.Filter.Tokens)
		if err != nil {
			return nil, err
		}
		return FilterStage{Expr: e}, nil
	case s.Select != nil:
		e, err := parseExprTokens(s.Select.Tokens)
		if err != nil {
			return nil, err
		}
		return SelectStage{Expr: e}, nil
	case s.Aggregate != nil:
		var e Expr
		if s.Aggregate.Arg != nil {
			var err error
			e, err = parseExprTokens(s.Aggregate.Arg.Tokens)
			if err != nil {
				return nil, err
			}
		}
		return AggregateStage{Primitive: AggregatePrimitive(s.Aggregate.Primitive), Expr: e}, nil
	case s.Limit != nil:
		return LimitStage{N: *s.Limit}, nil
	default:
		return nil, fmt.Errorf("aql: empty stage")
	}
}

// parseFromTokens lowers the raw FROM token run into a tag expression via
// tagindex's own mini-parser (core/tagindex/parser.go), since tag
// expressions are C5's concern, not C8's.
func parseFromTokens(tokens []string) (tagindex.Expr, error) {
	return tagindex.ParseExpr(strings.Join(tokens, " "))
}
