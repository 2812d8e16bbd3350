// Package offset implements the data model described in spec.md §3/§4.4:
// Offset, OffsetOrMin, StreamId and the OffsetMap/OffsetMapOrMax algebra.
package offset

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NodeId is a 32-byte public-key-derived identifier. Equality and ordering
// are by raw bytes.
type NodeId [32]byte

func (n NodeId) String() string { return fmt.Sprintf("%x", n[:]) }

// Less orders NodeId by raw bytes, used as the tie-break in EventKey.
func (n NodeId) Less(o NodeId) bool { return bytes.Compare(n[:], o[:]) < 0 }

// StreamNr is chosen by the owning node.
type StreamNr uint64

// StreamId names a stream uniquely as (NodeId, StreamNr).
type StreamId struct {
	Node NodeId
	Nr   StreamNr
}

func (s StreamId) String() string { return fmt.Sprintf("%s/%d", s.Node, s.Nr) }

// Bytes returns a canonical ordering key for StreamId: node bytes then the
// stream number big-endian. Used to break EventKey ties and for StreamAsc
// interleaving order.
func (s StreamId) Bytes() []byte {
	b := make([]byte, 32+8)
	copy(b, s.Node[:])
	binary.BigEndian.PutUint64(b[32:], uint64(s.Nr))
	return b
}

// Less orders two StreamIds by their canonical byte encoding.
func (s StreamId) Less(o StreamId) bool {
	return bytes.Compare(s.Bytes(), o.Bytes()) < 0
}

// Offset is a non-negative dense per-stream counter.
type Offset uint64

// OffsetOrMin adds a distinguished value below all offsets.
type OffsetOrMin int64

// MinOffset sorts below every real offset.
const MinOffset OffsetOrMin = -1

// MaxOffsetOrMin is a synthetic value larger than any real offset, used by
// OffsetMapOrMax as its top element.
const MaxOffsetOrMin OffsetOrMin = 1<<63 - 1

// FromOffset lifts a real Offset into OffsetOrMin.
func FromOffset(o Offset) OffsetOrMin { return OffsetOrMin(o) }

// AsOffset converts an OffsetOrMin to a real Offset; ok is false for
// MinOffset (there is no offset below 0).
func (o OffsetOrMin) AsOffset() (Offset, bool) {
	if o < 0 {
		return 0, false
	}
	return Offset(o), true
}
