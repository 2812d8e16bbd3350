package offset

// OffsetMap is a total mapping StreamId -> OffsetOrMin, defaulting to
// MinOffset for streams not present. union = pointwise max, intersection =
// pointwise min (spec.md §3, invariant 4 in §8).
type OffsetMap struct {
	entries map[StreamId]Offset
}

// Empty returns a fresh, empty OffsetMap.
func Empty() OffsetMap {
	return OffsetMap{entries: make(map[StreamId]Offset)}
}

// Offset returns the bookmarked offset for stream, or MinOffset if absent.
func (m OffsetMap) Offset(stream StreamId) OffsetOrMin {
	if m.entries == nil {
		return MinOffset
	}
	if o, ok := m.entries[stream]; ok {
		return FromOffset(o)
	}
	return MinOffset
}

// Update takes the maximum of the current bookmark for stream and o,
// mutating the receiver in place.
func (m *OffsetMap) Update(stream StreamId, o Offset) {
	if m.entries == nil {
		m.entries = make(map[StreamId]Offset)
	}
	if cur, ok := m.entries[stream]; !ok || o > cur {
		m.entries[stream] = o
	}
}

// Set overwrites stream's bookmark unconditionally, unlike Update which
// only ever raises it. Used to roll a cursor backward, e.g. when a
// monotonic subscription rewinds past a late-arriving event.
func (m *OffsetMap) Set(stream StreamId, o OffsetOrMin) {
	if m.entries == nil {
		m.entries = make(map[StreamId]Offset)
	}
	off, ok := o.AsOffset()
	if !ok {
		delete(m.entries, stream)
		return
	}
	m.entries[stream] = off
}

// Clone returns an independent deep copy.
func (m OffsetMap) Clone() OffsetMap {
	n := Empty()
	for k, v := range m.entries {
		n.entries[k] = v
	}
	return n
}

// UnionWith mutates the receiver to be the pointwise maximum of itself and
// other. Commutative and associative by construction (max is).
func (m *OffsetMap) UnionWith(other OffsetMap) {
	for s, o := range other.entries {
		m.Update(s, o)
	}
}

// Union returns a ∪ b without mutating either argument.
func Union(a, b OffsetMap) OffsetMap {
	out := a.Clone()
	out.UnionWith(b)
	return out
}

// IntersectionWith mutates the receiver to be the pointwise minimum of
// itself and other; streams present in only one side drop to MinOffset
// (removed from the map, since MinOffset is the default).
func (m *OffsetMap) IntersectionWith(other OffsetMap) {
	for s, o := range m.entries {
		oo, ok := other.entries[s]
		if !ok || oo < o {
			if !ok {
				delete(m.entries, s)
			} else {
				m.entries[s] = oo
			}
		}
	}
}

// Intersection returns a ∩ b without mutating either argument.
func Intersection(a, b OffsetMap) OffsetMap {
	out := a.Clone()
	out.IntersectionWith(b)
	return out
}

// StreamIter returns the (stream, offset) pairs present in the map, in no
// particular order; callers that need determinism should sort by
// StreamId.Bytes().
func (m OffsetMap) StreamIter() []StreamEntry {
	out := make([]StreamEntry, 0, len(m.entries))
	for s, o := range m.entries {
		out = append(out, StreamEntry{Stream: s, Offset: o})
	}
	return out
}

// StreamEntry pairs a stream with its bookmarked offset.
type StreamEntry struct {
	Stream StreamId
	Offset Offset
}

// Len reports how many streams have an entry (i.e. offset != MinOffset).
func (m OffsetMap) Len() int { return len(m.entries) }

// OffsetMapOrMax adds a top element (larger than any OffsetMap) used for
// open upper bounds in subscriptions, mirroring the Rust OffsetMapOrMax.
type OffsetMapOrMax struct {
	// Map is nil iff this represents the top (max) element.
	Map *OffsetMap
}

// Min returns the bottom element: the empty OffsetMap.
func Min() OffsetMapOrMax {
	m := Empty()
	return OffsetMapOrMax{Map: &m}
}

// Max returns the top element.
func Max() OffsetMapOrMax {
	return OffsetMapOrMax{Map: nil}
}

// Offset returns the bookmark for stream, or MaxOffsetOrMin if this is the
// top element.
func (m OffsetMapOrMax) Offset(stream StreamId) OffsetOrMin {
	if m.Map == nil {
		return MaxOffsetOrMin
	}
	return m.Map.Offset(stream)
}

// MaxWith takes the pointwise maximum in place; top absorbs everything.
func (m *OffsetMapOrMax) MaxWith(other OffsetMapOrMax) {
	switch {
	case m.Map != nil && other.Map != nil:
		m.Map.UnionWith(*other.Map)
	case m.Map != nil && other.Map == nil:
		m.Map = nil
	}
}

// MinWith takes the pointwise minimum in place; top is absorbed by anything.
func (m *OffsetMapOrMax) MinWith(other OffsetMapOrMax) {
	switch {
	case m.Map != nil && other.Map != nil:
		m.Map.IntersectionWith(*other.Map)
	case m.Map == nil && other.Map != nil:
		cp := other.Map.Clone()
		m.Map = &cp
	}
}

// OffsetsResponse is (present, toReplicate): present is what we have
// locally, toReplicate counts additional offsets known from peers but not
// yet locally replicated, per stream (spec.md §3).
type OffsetsResponse struct {
	Present     OffsetMap
	ToReplicate map[StreamId]uint64
}
