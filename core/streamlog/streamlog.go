// Package streamlog implements C3: a durable per-stream header table over
// the block store, and the 5-step publish protocol of spec.md §4.3.
package streamlog

import (
	"context"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/core/tagindex"
	"github.com/actyx-go/ax/pkg/utils"
)

const aliasPrefix = "streams/"

func aliasName(id offset.StreamId) string {
	return aliasPrefix + id.String()
}

// TagsPayload is one to-be-published item: its tag set and opaque payload.
type TagsPayload struct {
	Tags    tagindex.TagSet
	Payload []byte
}

// PersistenceMeta describes where one persisted event landed (spec.md §4.6).
type PersistenceMeta struct {
	Lamport uint64
	Offset  offset.Offset
	Stream  offset.StreamId
	Micros  int64
}

// wireHeader is the CBOR shape of the header block aliased per stream.
type wireHeader struct {
	Root    []byte `cbor:"r"`
	Lamport uint64 `cbor:"l"`
	Count   uint64 `cbor:"n"`
}

func encodeHeader(h banyan.Header) ([]byte, error) {
	return cbor.Marshal(wireHeader{Root: h.Root.Bytes(), Lamport: h.Lamport, Count: h.Count})
}

func decodeHeader(data []byte) (banyan.Header, error) {
	var w wireHeader
	if err := cbor.Unmarshal(data, &w); err != nil {
		return banyan.Header{}, utils.Wrapk(utils.KindInternal, "decode stream header", err)
	}
	c, err := cid.Cast(w.Root)
	if err != nil {
		return banyan.Header{}, utils.Wrapk(utils.KindInternal, "decode stream header root", err)
	}
	return banyan.Header{Root: c, Lamport: w.Lamport, Count: w.Count}, nil
}

// streamState serializes publish/read access per stream; the owning node is
// the only writer, but local readers (queries) run concurrently.
type streamState struct {
	mu sync.Mutex
}

// Table is the per-stream header table: (NodeId, StreamNr) -> Header,
// backed by C1's alias mechanism (teacher's storage.go LRU pattern,
// generalized from an evictable cache into a durable table).
type Table struct {
	bs   *blockstore.Store
	tree *banyan.Engine
	self offset.NodeId

	mu      sync.Mutex
	clock   uint64
	streams map[offset.StreamId]*streamState
	known   map[offset.StreamId]struct{}

	log *logrus.Entry
}

// New creates a Table for the local node, publishing blocks through tree
// and persisting header aliases through bs.
func New(bs *blockstore.Store, tree *banyan.Engine, self offset.NodeId) *Table {
	return &Table{
		bs:      bs,
		tree:    tree,
		self:    self,
		streams: make(map[offset.StreamId]*streamState),
		known:   make(map[offset.StreamId]struct{}),
		log:     logrus.WithField("component", "streamlog"),
	}
}

func (t *Table) stateFor(id offset.StreamId) *streamState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok {
		s = &streamState{}
		t.streams[id] = s
	}
	t.known[id] = struct{}{}
	return s
}

// Observe bumps the local lamport clock above a lamport seen from a peer
// (spec.md §4.3 step 2: "observed_lamport_of_any_peer_seen").
func (t *Table) Observe(peerLamport uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if peerLamport > t.clock {
		t.clock = peerLamport
	}
}

func (t *Table) nextLamports(n int) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint64, n)
	for i := range out {
		t.clock++
		out[i] = t.clock
	}
	return out
}

// Header returns the current header for a stream, and whether one exists.
func (t *Table) Header(ctx context.Context, id offset.StreamId) (banyan.Header, bool, error) {
	c, ok := t.bs.ResolveAlias(aliasName(id))
	if !ok {
		return banyan.Header{}, false, nil
	}
	data, err := t.bs.Get(ctx, c)
	if err != nil {
		return banyan.Header{}, false, err
	}
	h, err := decodeHeader(data)
	if err != nil {
		return banyan.Header{}, false, err
	}
	return h, true, nil
}

// Present returns the current (inclusive) last offset for id, and whether
// the stream has any events at all.
func (t *Table) Present(ctx context.Context, id offset.StreamId) (offset.Offset, bool, error) {
	h, ok, err := t.Header(ctx, id)
	if err != nil || !ok || h.Count == 0 {
		return 0, false, err
	}
	return offset.Offset(h.Count - 1), true, nil
}

// Publish runs the 5-step protocol of spec.md §4.3 for a batch of events on
// a single locally-owned stream. appId is stamped on every event's key;
// micros is the wall-clock time to stamp (callers pass time.Now().UnixMicro()).
func (t *Table) Publish(ctx context.Context, id offset.StreamId, appId string, micros int64, batch []TagsPayload) ([]PersistenceMeta, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	st := t.stateFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	hdr, had, err := t.Header(ctx, id)
	if err != nil {
		return nil, err
	}
	var root *cid.Cid
	present := -1
	if had {
		r := hdr.Root
		root = &r
		present = int(hdr.Count) - 1
	}

	lamports := t.nextLamports(len(batch))
	items := make([]banyan.LeafItem, len(batch))
	metas := make([]PersistenceMeta, len(batch))
	for i, tp := range batch {
		off := offset.Offset(present + 1 + i)
		key := banyan.AxKey{Lamport: lamports[i], Micros: micros, Tags: tp.Tags, AppId: appId, IsLocal: true}
		items[i] = banyan.LeafItem{Key: key, Payload: tp.Payload}
		metas[i] = PersistenceMeta{Lamport: lamports[i], Offset: off, Stream: id, Micros: micros}
	}

	newRoot, written, err := t.tree.Append(ctx, root, items)
	if err != nil {
		return nil, utils.Wrapk(utils.KindInternal, "streamlog: append", err)
	}

	pin := t.bs.TempPin()
	defer pin.Release()
	for _, c := range written {
		pin.Extend(c)
	}

	newCount := uint64(present+1) + uint64(len(batch))
	newHdr := banyan.Header{Root: newRoot, Lamport: lamports[len(lamports)-1], Count: newCount}
	data, err := encodeHeader(newHdr)
	if err != nil {
		return nil, utils.Wrapk(utils.KindInternal, "streamlog: encode header", err)
	}
	headerCid, err := t.bs.Put(ctx, data)
	if err != nil {
		return nil, err
	}
	pin.Extend(headerCid)

	if err := t.bs.Alias(aliasName(id), &headerCid); err != nil {
		return nil, utils.Wrapk(utils.KindIO, "streamlog: alias swap", err)
	}

	t.log.WithFields(logrus.Fields{"stream": id.String(), "offsets": len(batch), "lamport": newHdr.Lamport}).Debug("published")
	return metas, nil
}

// AdoptRemote installs a header CID learned from a peer for a stream we do
// not own (swarm root-map replication, spec.md §4.7). Validation (lamport
// monotonicity, contiguity) is the caller's responsibility before calling.
func (t *Table) AdoptRemote(ctx context.Context, id offset.StreamId, h banyan.Header) error {
	st := t.stateFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := encodeHeader(h)
	if err != nil {
		return utils.Wrapk(utils.KindInternal, "streamlog: encode remote header", err)
	}
	c, err := t.bs.Put(ctx, data)
	if err != nil {
		return err
	}
	return t.bs.Alias(aliasName(id), &c)
}

// KnownStreams returns every stream this table has published to or adopted
// a remote header for, since process start.
func (t *Table) KnownStreams() []offset.StreamId {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]offset.StreamId, 0, len(t.known))
	for id := range t.known {
		out = append(out, id)
	}
	return out
}
