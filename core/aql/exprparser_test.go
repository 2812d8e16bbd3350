package aql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExprTokensPrecedence(t *testing.T) {
	// _.a + _.b * _.c  ==>  a + (b * c)
	e, err := parseExprTokens([]string{"_", ".", "a", "+", "_", ".", "b", "*", "_", ".", "c"})
	require.NoError(t, err)

	add, ok := e.(BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", add.Op)
	mul, ok := add.R.(BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "*", mul.Op)
}

func TestParseExprTokensStringVsIdentDisambiguation(t *testing.T) {
	e, err := parseExprTokens([]string{`"x"`, "==", "x", "(", ")"})
	require.NoError(t, err)

	eq, ok := e.(BinaryExpr)
	require.True(t, ok)
	str, ok := eq.L.(StringExpr)
	require.True(t, ok)
	assert.Equal(t, "x", str.Value)
	call, ok := eq.R.(CallExpr)
	require.True(t, ok)
	assert.Equal(t, "x", call.Name)
}

func TestParseExprTokensBareIdentIsError(t *testing.T) {
	_, err := parseExprTokens([]string{"foo"})
	assert.Error(t, err)
}

func TestParseExprTokensArrayAndObjectLiterals(t *testing.T) {
	e, err := parseExprTokens([]string{"[", "1", ",", "2", "]"})
	require.NoError(t, err)
	arr, ok := e.(ArrayExpr)
	require.True(t, ok)
	require.Len(t, arr.Items, 2)

	e, err = parseExprTokens([]string{"{", `"k"`, ":", "1", "}"})
	require.NoError(t, err)
	obj, ok := e.(ObjectExpr)
	require.True(t, ok)
	_, hasK := obj.Fields["k"]
	assert.True(t, hasK)
}

func TestEvalFilterAndSelectAgainstValue(t *testing.T) {
	q, err := Parse(`FROM allEvents FILTER _.x > 1 SELECT _.x`)
	require.NoError(t, err)
	p := Build(q)

	v, err := FromJSON([]byte(`{"x": 5}`))
	require.NoError(t, err)
	outs, diags, _ := p.Feed(v, false)
	assert.Empty(t, diags)
	require.Len(t, outs, 1)
	assert.Equal(t, Int(5), outs[0])

	v, err = FromJSON([]byte(`{"x": 0}`))
	require.NoError(t, err)
	outs, _, _ = p.Feed(v, false)
	assert.Empty(t, outs)
}
