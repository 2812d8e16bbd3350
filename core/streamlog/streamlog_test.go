package streamlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/core/tagindex"
)

func testTable(t *testing.T) (*Table, offset.NodeId) {
	t.Helper()
	bs, err := blockstore.Open(t.TempDir(), 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	tree := banyan.New(bs, banyan.Config{MaxLeafCount: 4, MaxKeyBranches: 4, MaxSummaryBranches: 4})
	var node offset.NodeId
	node[0] = 1
	return New(bs, tree, node), node
}

func tagged(tags ...string) tagindex.TagSet {
	ts := make(tagindex.TagSet, len(tags))
	for _, tag := range tags {
		ts[tagindex.Tag(tag)] = struct{}{}
	}
	return ts
}

func TestPublishAllocatesDenseOffsets(t *testing.T) {
	table, node := testTable(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 1}

	metas, err := table.Publish(ctx, stream, "app1", 1000, []TagsPayload{
		{Tags: tagged("a"), Payload: []byte("one")},
		{Tags: tagged("a"), Payload: []byte("two")},
		{Tags: tagged("a"), Payload: []byte("three")},
	})
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, offset.Offset(0), metas[0].Offset)
	assert.Equal(t, offset.Offset(1), metas[1].Offset)
	assert.Equal(t, offset.Offset(2), metas[2].Offset)

	present, ok, err := table.Present(ctx, stream)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, offset.Offset(2), present)
}

func TestPublishLamportsStrictlyIncrease(t *testing.T) {
	table, node := testTable(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 1}

	metas1, err := table.Publish(ctx, stream, "app1", 1000, []TagsPayload{{Tags: tagged("a"), Payload: []byte("x")}})
	require.NoError(t, err)

	metas2, err := table.Publish(ctx, stream, "app1", 2000, []TagsPayload{{Tags: tagged("a"), Payload: []byte("y")}})
	require.NoError(t, err)

	assert.Less(t, metas1[0].Lamport, metas2[0].Lamport)
	assert.Equal(t, offset.Offset(1), metas2[0].Offset)
}

func TestObserveAdvancesClockPastPeerLamport(t *testing.T) {
	table, node := testTable(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 1}

	table.Observe(1000)
	metas, err := table.Publish(ctx, stream, "app1", 1, []TagsPayload{{Tags: tagged("a"), Payload: []byte("x")}})
	require.NoError(t, err)
	assert.Greater(t, metas[0].Lamport, uint64(1000))
}

func TestEmptyBatchIsNoop(t *testing.T) {
	table, node := testTable(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 1}

	metas, err := table.Publish(ctx, stream, "app1", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, metas)

	_, ok, err := table.Present(ctx, stream)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishedEventsAreIterable(t *testing.T) {
	table, node := testTable(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 7}

	_, err := table.Publish(ctx, stream, "app1", 5, []TagsPayload{
		{Tags: tagged("a"), Payload: []byte("p0")},
		{Tags: tagged("a"), Payload: []byte("p1")},
	})
	require.NoError(t, err)

	hdr, ok, err := table.Header(ctx, stream)
	require.NoError(t, err)
	require.True(t, ok)

	var entries []banyan.LeafEntry
	engine := banyan.New(table.bs, banyan.DefaultConfig())
	err = engine.IterFrom(ctx, hdr.Root, 0, banyan.AllQuery(), func(e banyan.LeafEntry) bool {
		entries = append(entries, e)
		return true
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("p0"), entries[0].Payload)
	assert.Equal(t, []byte("p1"), entries[1].Payload)
}

func TestKnownStreamsTracksPublished(t *testing.T) {
	table, node := testTable(t)
	ctx := context.Background()
	s1 := offset.StreamId{Node: node, Nr: 1}
	s2 := offset.StreamId{Node: node, Nr: 2}

	_, err := table.Publish(ctx, s1, "app1", 0, []TagsPayload{{Tags: tagged("a"), Payload: []byte("x")}})
	require.NoError(t, err)
	_, err = table.Publish(ctx, s2, "app1", 0, []TagsPayload{{Tags: tagged("a"), Payload: []byte("y")}})
	require.NoError(t, err)

	known := table.KnownStreams()
	assert.Len(t, known, 2)
}
