package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/eventstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/core/streamlog"
	"github.com/actyx-go/ax/core/tagindex"
)

// node is one in-process swarm participant wired to its own block store and
// event store actor, mirroring what cmd/axnode wires the SwarmComponent to.
type node struct {
	nodeId offset.NodeId
	bs     *blockstore.Store
	actor  *eventstore.Actor
	swarm  *Swarm
}

func newReplicationNode(t *testing.T, ctx context.Context, cfg Config, self offset.NodeId) *node {
	t.Helper()
	bs, err := blockstore.Open(t.TempDir(), 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	engine := banyan.New(bs, banyan.DefaultConfig())
	table := streamlog.New(bs, engine, self)
	actor := eventstore.New(table, engine, self)
	t.Cleanup(actor.Shutdown)

	sw, err := New(ctx, cfg, self, bs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sw.Close() })

	return &node{nodeId: self, bs: bs, actor: actor, swarm: sw}
}

// TestRootMapGossipDrivesCatchUpSync exercises C6 end to end: node A
// publishes events, gossips a root map, and node B — which has never seen
// the stream — fetches the missing blocks and adopts A's header, without
// any out-of-band coordination beyond the swarm's own pubsub topics.
func TestRootMapGossipDrivesCatchUpSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseCfg := Config{
		Topic:             "ax-test",
		ListenAddr:        "/ip4/127.0.0.1/tcp/0",
		DiscoveryInterval: 50 * time.Millisecond,
		RootMapInterval:   50 * time.Millisecond,
		Mdns:              false,
	}

	var nodeA offset.NodeId
	nodeA[0] = 1
	a := newReplicationNode(t, ctx, baseCfg, nodeA)

	var nodeB offset.NodeId
	nodeB[0] = 2
	bCfg := baseCfg
	bCfg.InitialPeers = a.swarm.Addrs()
	b := newReplicationNode(t, ctx, bCfg, nodeB)

	stream := offset.StreamId{Node: nodeA, Nr: 1}
	_, err := a.actor.Persist(ctx, stream, "app1", []eventstore.PersistItem{
		{Tags: tagindex.TagSet{tagindex.Tag("t1"): struct{}{}}, Payload: []byte("hello")},
	})
	require.NoError(t, err)

	require.NoError(t, a.swarm.StartReplication(ReplicationHooks{
		LocalHeader:  a.actor.Header,
		AdoptRemote:  a.actor.AdoptRemote,
		KnownStreams: a.actor.KnownStreams,
	}))
	require.NoError(t, b.swarm.StartReplication(ReplicationHooks{
		LocalHeader:  b.actor.Header,
		AdoptRemote:  b.actor.AdoptRemote,
		KnownStreams: b.actor.KnownStreams,
	}))

	require.Eventually(t, func() bool {
		hdr, ok, err := b.actor.Header(ctx, stream)
		return err == nil && ok && hdr.Count == 1
	}, 10*time.Second, 50*time.Millisecond, "node B never adopted node A's stream header via root-map gossip")
}
