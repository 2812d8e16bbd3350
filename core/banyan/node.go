package banyan

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/tagindex"
	"github.com/actyx-go/ax/pkg/utils"
)

// ChildRef is a branch's reference to one child node: its CID, whether
// that child is a leaf, how many leaf items live in its subtree, and the
// summary of keys in that subtree.
type ChildRef struct {
	CID     cid.Cid `cbor:"c"`
	Leaf    bool    `cbor:"l"`
	Count   uint64  `cbor:"n"`
	Summary wireSummary `cbor:"s"`
}

// wireKey/wireSummary are the DAG-CBOR encodings of AxKey/AxSummary; the
// in-memory types carry a tagindex.Summary with an unexported Bloom filter,
// so we marshal it to bytes explicitly rather than relying on struct tags.
type wireKey struct {
	Lamport uint64            `cbor:"l"`
	Micros  int64             `cbor:"t"`
	Tags    []string          `cbor:"g"`
	AppId   string            `cbor:"a"`
	IsLocal bool              `cbor:"i"`
}

type wireSummary struct {
	MinLamport uint64 `cbor:"l0"`
	MaxLamport uint64 `cbor:"l1"`
	MinMicros  int64  `cbor:"t0"`
	MaxMicros  int64  `cbor:"t1"`
	Bloom      []byte `cbor:"b"`
}

func toWireKey(k AxKey) wireKey {
	return wireKey{Lamport: k.Lamport, Micros: k.Micros, Tags: tagsToStrings(k.Tags), AppId: k.AppId, IsLocal: k.IsLocal}
}

func fromWireKey(w wireKey) AxKey {
	return AxKey{Lamport: w.Lamport, Micros: w.Micros, Tags: tagSetFromStrings(w.Tags), AppId: w.AppId, IsLocal: w.IsLocal}
}

func toWireSummary(s AxSummary) wireSummary {
	b, _ := s.Tags.MarshalBinary()
	return wireSummary{MinLamport: s.MinLamport, MaxLamport: s.MaxLamport, MinMicros: s.MinMicros, MaxMicros: s.MaxMicros, Bloom: b}
}

func fromWireSummary(w wireSummary) AxSummary {
	s := AxSummary{MinLamport: w.MinLamport, MaxLamport: w.MaxLamport, MinMicros: w.MinMicros, MaxMicros: w.MaxMicros}
	_ = s.Tags.UnmarshalBinary(w.Bloom)
	return s
}

type wireLeafItem struct {
	Key     wireKey `cbor:"k"`
	Payload []byte  `cbor:"p"`
}

// diskNode is the single on-disk CBOR shape for both leaves and branches,
// disambiguated by Kind; this keeps the block store's link scanner (which
// only knows how to dig generic CBOR for byte-string CIDs) working, while
// letting the tree engine decode structured nodes directly.
type diskNode struct {
	Kind     uint8          `cbor:"k"`
	Items    []wireLeafItem `cbor:"i,omitempty"`
	Level    int            `cbor:"lv,omitempty"`
	Children []ChildRef     `cbor:"ch,omitempty"`
}

const (
	kindLeaf   uint8 = 0
	kindBranch uint8 = 1
)

func encodeLeaf(items []LeafItem) ([]byte, error) {
	n := diskNode{Kind: kindLeaf, Items: make([]wireLeafItem, len(items))}
	for i, it := range items {
		n.Items[i] = wireLeafItem{Key: toWireKey(it.Key), Payload: it.Payload}
	}
	return cbor.Marshal(n)
}

func encodeBranch(level int, children []ChildRef) ([]byte, error) {
	n := diskNode{Kind: kindBranch, Level: level, Children: children}
	return cbor.Marshal(n)
}

func decodeNode(data []byte) (*diskNode, error) {
	var n diskNode
	if err := cbor.Unmarshal(data, &n); err != nil {
		return nil, utils.Wrapk(utils.KindInternal, "decode tree node", err)
	}
	return &n, nil
}

func (n *diskNode) leafItems() []LeafItem {
	out := make([]LeafItem, len(n.Items))
	for i, it := range n.Items {
		out[i] = LeafItem{Key: fromWireKey(it.Key), Payload: it.Payload}
	}
	return out
}

func loadNode(ctx context.Context, bs *blockstore.Store, c cid.Cid) (*diskNode, error) {
	data, err := bs.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	return decodeNode(data)
}

func tagsToStrings(ts tagindex.TagSet) []string {
	out := make([]string, 0, len(ts))
	for t := range ts {
		out = append(out, string(t))
	}
	return out
}

func tagSetFromStrings(ts []string) tagindex.TagSet {
	out := make(tagindex.TagSet, len(ts))
	for _, t := range ts {
		out[tagindex.Tag(t)] = struct{}{}
	}
	return out
}
