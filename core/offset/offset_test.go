package offset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamA() StreamId {
	var n NodeId
	n[0] = 1
	return StreamId{Node: n, Nr: 1}
}

func streamB() StreamId {
	var n NodeId
	n[0] = 2
	return StreamId{Node: n, Nr: 1}
}

func TestOffsetMapDefaultIsMin(t *testing.T) {
	m := Empty()
	assert.Equal(t, MinOffset, m.Offset(streamA()))
}

func TestOffsetMapUpdateTakesMax(t *testing.T) {
	m := Empty()
	m.Update(streamA(), 5)
	m.Update(streamA(), 2)
	assert.Equal(t, FromOffset(5), m.Offset(streamA()))
}

func TestUnionCommutativeAndMax(t *testing.T) {
	a := Empty()
	a.Update(streamA(), 3)
	b := Empty()
	b.Update(streamA(), 7)
	b.Update(streamB(), 1)

	ab := Union(a, b)
	ba := Union(b, a)

	require.Equal(t, ab.Offset(streamA()), ba.Offset(streamA()))
	require.Equal(t, ab.Offset(streamB()), ba.Offset(streamB()))
	assert.Equal(t, FromOffset(7), ab.Offset(streamA()))
	assert.Equal(t, FromOffset(1), ab.Offset(streamB()))
}

func TestIntersectionIsMin(t *testing.T) {
	a := Empty()
	a.Update(streamA(), 10)
	a.Update(streamB(), 2)
	b := Empty()
	b.Update(streamA(), 4)

	i := Intersection(a, b)
	assert.Equal(t, FromOffset(4), i.Offset(streamA()))
	assert.Equal(t, MinOffset, i.Offset(streamB()))
}

func TestOffsetMapOrMaxTop(t *testing.T) {
	top := Max()
	bot := Min()
	assert.Equal(t, MaxOffsetOrMin, top.Offset(streamA()))
	assert.Equal(t, MinOffset, bot.Offset(streamA()))

	bot.MaxWith(top)
	assert.Nil(t, bot.Map)
}
