package events

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/actyx-go/ax/core/offset"
)

// parseStreamId parses the "<nodeHex>/<streamNr>" form produced by
// offset.StreamId.String back into a StreamId, for JSON map keys (JSON
// object keys must be strings, so OffsetMap wire shapes key by this form
// rather than a nested node/streamNr pair).
func parseStreamId(s string) (offset.StreamId, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return offset.StreamId{}, fmt.Errorf("malformed stream id %q", s)
	}
	raw, err := hex.DecodeString(parts[0])
	if err != nil || len(raw) != 32 {
		return offset.StreamId{}, fmt.Errorf("malformed node id in stream id %q", s)
	}
	nr, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return offset.StreamId{}, fmt.Errorf("malformed stream number in %q", s)
	}
	var node offset.NodeId
	copy(node[:], raw)
	return offset.StreamId{Node: node, Nr: offset.StreamNr(nr)}, nil
}

// offsetMapWire is the JSON shape of an OffsetMap: stream id string ->
// offset (spec.md §6 "JSON").
type offsetMapWire map[string]uint64

func encodeOffsetMap(m offset.OffsetMap) offsetMapWire {
	out := make(offsetMapWire, m.Len())
	for _, e := range m.StreamIter() {
		out[e.Stream.String()] = uint64(e.Offset)
	}
	return out
}

func decodeOffsetMap(w offsetMapWire) (offset.OffsetMap, error) {
	out := offset.Empty()
	for k, v := range w {
		id, err := parseStreamId(k)
		if err != nil {
			return offset.OffsetMap{}, err
		}
		out.Update(id, offset.Offset(v))
	}
	return out, nil
}

// offsetsResponseWire is the JSON body of GET .../offsets (spec.md §4.9).
type offsetsResponseWire struct {
	Present     offsetMapWire     `json:"present"`
	ToReplicate map[string]uint64 `json:"toReplicate"`
}

func encodeOffsetsResponse(r offset.OffsetsResponse) offsetsResponseWire {
	toReplicate := make(map[string]uint64, len(r.ToReplicate))
	for id, n := range r.ToReplicate {
		toReplicate[id.String()] = n
	}
	return offsetsResponseWire{Present: encodeOffsetMap(r.Present), ToReplicate: toReplicate}
}
