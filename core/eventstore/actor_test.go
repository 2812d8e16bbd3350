package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/core/streamlog"
	"github.com/actyx-go/ax/core/tagindex"
	"github.com/actyx-go/ax/pkg/utils"
)

func newTestActor(t *testing.T) (*Actor, offset.NodeId) {
	t.Helper()
	bs, err := blockstore.Open(t.TempDir(), 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	engine := banyan.New(bs, banyan.DefaultConfig())
	var node offset.NodeId
	node[1] = 7
	table := streamlog.New(bs, engine, node)
	actor := New(table, engine, node)
	t.Cleanup(actor.Shutdown)
	return actor, node
}

func tags(ts ...string) tagindex.TagSet {
	out := make(tagindex.TagSet, len(ts))
	for _, t := range ts {
		out[tagindex.Tag(t)] = struct{}{}
	}
	return out
}

func TestPersistAllocatesDenseOffsetsAndOffsetsReportsPresent(t *testing.T) {
	actor, node := newTestActor(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 1}

	metas, err := actor.Persist(ctx, stream, "app1", []PersistItem{
		{Tags: tags("a"), Payload: []byte("x")},
		{Tags: tags("a"), Payload: []byte("y")},
	})
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, offset.Offset(0), metas[0].Offset)
	assert.Equal(t, offset.Offset(1), metas[1].Offset)

	resp, err := actor.Offsets(ctx)
	require.NoError(t, err)
	assert.Equal(t, offset.FromOffset(1), resp.Present.Offset(stream))
}

func TestBoundedForwardReturnsMatchingEventsInOrder(t *testing.T) {
	actor, node := newTestActor(t)
	ctx := context.Background()
	s1 := offset.StreamId{Node: node, Nr: 1}
	s2 := offset.StreamId{Node: node, Nr: 2}

	_, err := actor.Persist(ctx, s1, "app1", []PersistItem{
		{Tags: tags("a"), Payload: []byte("s1-0")},
		{Tags: tags("a"), Payload: []byte("s1-1")},
	})
	require.NoError(t, err)
	_, err = actor.Persist(ctx, s2, "app1", []PersistItem{
		{Tags: tags("a"), Payload: []byte("s2-0")},
	})
	require.NoError(t, err)

	from := offset.Empty()
	upper := offset.Empty()
	upper.Update(s1, 1)
	upper.Update(s2, 0)
	to := offset.OffsetMapOrMax{Map: &upper}
	ch, err := actor.BoundedForward(ctx, banyan.AllQuery(), from, to, OrderAsc)
	require.NoError(t, err)

	var got []Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Key.Lamport, got[i].Key.Lamport)
	}
}

func TestBoundedForwardRejectsOpenUpperBound(t *testing.T) {
	actor, _ := newTestActor(t)
	ctx := context.Background()
	_, err := actor.BoundedForward(ctx, banyan.AllQuery(), offset.Empty(), offset.OffsetMapOrMax{}, OrderAsc)
	require.Error(t, err)
	kind, ok := utils.As(err)
	require.True(t, ok)
	assert.Equal(t, utils.KindInvalidInput, kind)
}

func TestUnboundedForwardTailsNewPublishes(t *testing.T) {
	actor, node := newTestActor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := offset.StreamId{Node: node, Nr: 9}

	_, err := actor.Persist(ctx, stream, "app1", []PersistItem{{Tags: tags("a"), Payload: []byte("first")}})
	require.NoError(t, err)

	ch, err := actor.UnboundedForward(ctx, banyan.AllQuery(), offset.Empty())
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, []byte("first"), first.Payload)

	_, err = actor.Persist(ctx, stream, "app1", []PersistItem{{Tags: tags("a"), Payload: []byte("second")}})
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, []byte("second"), e.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tailed event")
	}
}

func TestShutdownRejectsNewRequests(t *testing.T) {
	actor, node := newTestActor(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 1}

	actor.Shutdown()
	_, err := actor.Persist(ctx, stream, "app1", []PersistItem{{Tags: tags("a"), Payload: []byte("x")}})
	require.Error(t, err)
	kind, ok := utils.As(err)
	require.True(t, ok)
	assert.Equal(t, utils.KindShutdown, kind)
}

// TestPersistReturnsOverloadedWhenMailboxIsFull exercises the single-slot
// configuration directly (spec.md §8 scenario 6): with a mailbox of size 1,
// a blocked in-flight request plus one queued request leaves no room for a
// third, which must fail fast with ERR_OVERLOADED rather than wait.
func TestPersistReturnsOverloadedWhenMailboxIsFull(t *testing.T) {
	bs, err := blockstore.Open(t.TempDir(), 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	engine := banyan.New(bs, banyan.DefaultConfig())
	var node offset.NodeId
	node[1] = 7
	table := streamlog.New(bs, engine, node)
	actor := NewWithMailboxSize(table, engine, node, 1)
	t.Cleanup(actor.Shutdown)

	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 1}

	release := make(chan struct{})
	entered := make(chan struct{})
	blockErr := actor.admit(func() {
		close(entered)
		<-release
	})
	require.NoError(t, blockErr)
	<-entered // the processing goroutine is now stuck on release

	queuedErr := actor.admit(func() {})
	require.NoError(t, queuedErr) // fills the single mailbox slot

	_, err = actor.Persist(ctx, stream, "app1", []PersistItem{{Tags: tags("a"), Payload: []byte("x")}})
	require.Error(t, err)
	kind, ok := utils.As(err)
	require.True(t, ok)
	assert.Equal(t, utils.KindOverloaded, kind)

	close(release)
}

func TestEmptyPersistBatchSucceeds(t *testing.T) {
	actor, node := newTestActor(t)
	ctx := context.Background()
	stream := offset.StreamId{Node: node, Nr: 3}

	metas, err := actor.Persist(ctx, stream, "app1", nil)
	require.NoError(t, err)
	assert.Empty(t, metas)
}
