package aql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/core/tagindex"
)

func TestParseFromTagLiteral(t *testing.T) {
	q, err := Parse(`FROM 'temperature'`)
	require.NoError(t, err)
	require.Empty(t, q.Stages)

	tag, ok := q.From.(tagindex.TagExpr)
	require.True(t, ok)
	assert.Equal(t, tagindex.Tag("temperature"), tag.Tag)
}

func TestParseFromAndOrCombinators(t *testing.T) {
	q, err := Parse(`FROM 'a' & 'b' | isLocal`)
	require.NoError(t, err)

	or, ok := q.From.(tagindex.OrExpr)
	require.True(t, ok)
	and, ok := or.Left.(tagindex.AndExpr)
	require.True(t, ok)
	assert.Equal(t, tagindex.TagExpr{Tag: "a"}, and.Left)
	assert.Equal(t, tagindex.TagExpr{Tag: "b"}, and.Right)
	assert.Equal(t, tagindex.IsLocalExpr{}, or.Right)
}

func TestParsePipelineStages(t *testing.T) {
	q, err := Parse(`FROM 'a' FILTER _.x > 1 SELECT _.x LIMIT 10`)
	require.NoError(t, err)
	require.Len(t, q.Stages, 3)

	_, ok := q.Stages[0].(FilterStage)
	assert.True(t, ok)
	_, ok = q.Stages[1].(SelectStage)
	assert.True(t, ok)
	limit, ok := q.Stages[2].(LimitStage)
	require.True(t, ok)
	assert.Equal(t, 10, limit.N)
}

func TestParseAggregateStage(t *testing.T) {
	q, err := Parse(`FROM allEvents AGGREGATE SUM(_.amount)`)
	require.NoError(t, err)
	require.Len(t, q.Stages, 1)

	agg, ok := q.Stages[0].(AggregateStage)
	require.True(t, ok)
	assert.Equal(t, AggSum, agg.Primitive)
	field, ok := agg.Expr.(FieldExpr)
	require.True(t, ok)
	assert.Equal(t, "amount", field.Name)
}

func TestParseRejectsMalformedQuery(t *testing.T) {
	_, err := Parse(`FILTER _.x`)
	assert.Error(t, err)
}
