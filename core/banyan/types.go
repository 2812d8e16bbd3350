// Package banyan implements C2: a balanced, persistent, content-addressed
// tree of (key, payload) pairs with branch summaries for pruning, over an
// IPLD-style block store (spec.md §4.2).
//
// The tree is generic in spirit over key/summary/payload types (spec.md §9
// design note "Polymorphic tree keys"); this module fixes those types to
// Actyx's AxKey/AxSummary/opaque payload since Go lacks the associated-type
// trait the original design assumes, and a single concrete instantiation is
// all C2's callers need.
package banyan

import (
	"github.com/ipfs/go-cid"

	"github.com/actyx-go/ax/core/tagindex"
)

// AxKey is the tree key: (lamport, time, tags) (spec.md §3).
type AxKey struct {
	Lamport uint64
	Micros  int64
	Tags    tagindex.TagSet
	AppId   string
	IsLocal bool
}

// AxSummary is the branch key: ranges plus a compressed tags summary.
type AxSummary struct {
	MinLamport uint64
	MaxLamport uint64
	MinMicros  int64
	MaxMicros  int64
	Tags       tagindex.Summary
}

func summaryOf(keys []AxKey) AxSummary {
	s := AxSummary{MinLamport: keys[0].Lamport, MaxLamport: keys[0].Lamport, MinMicros: keys[0].Micros, MaxMicros: keys[0].Micros}
	tagSets := make([]tagindex.TagSet, len(keys))
	for i, k := range keys {
		if k.Lamport < s.MinLamport {
			s.MinLamport = k.Lamport
		}
		if k.Lamport > s.MaxLamport {
			s.MaxLamport = k.Lamport
		}
		if k.Micros < s.MinMicros {
			s.MinMicros = k.Micros
		}
		if k.Micros > s.MaxMicros {
			s.MaxMicros = k.Micros
		}
		tagSets[i] = k.Tags
	}
	s.Tags = tagindex.BuildSummary(tagSets)
	return s
}

func mergeSummaries(summaries []AxSummary) AxSummary {
	out := AxSummary{MinLamport: summaries[0].MinLamport, MaxLamport: summaries[0].MaxLamport, MinMicros: summaries[0].MinMicros, MaxMicros: summaries[0].MaxMicros}
	tagSummaries := make([]tagindex.Summary, len(summaries))
	for i, s := range summaries {
		if s.MinLamport < out.MinLamport {
			out.MinLamport = s.MinLamport
		}
		if s.MaxLamport > out.MaxLamport {
			out.MaxLamport = s.MaxLamport
		}
		if s.MinMicros < out.MinMicros {
			out.MinMicros = s.MinMicros
		}
		if s.MaxMicros > out.MaxMicros {
			out.MaxMicros = s.MaxMicros
		}
		tagSummaries[i] = s.Tags
	}
	out.Tags = tagindex.Merge(tagSummaries...)
	return out
}

// LeafItem is one stored (key, payload) pair.
type LeafItem struct {
	Key     AxKey
	Payload []byte
}

// LeafEntry is yielded by iteration: the item plus its absolute offset in
// the stream.
type LeafEntry struct {
	Offset  uint64
	Key     AxKey
	Payload []byte
}

// Header is the per-stream root descriptor: (root CID, max lamport, item
// count) (spec.md §3, AxTreeHeader).
type Header struct {
	Root    cid.Cid
	Lamport uint64
	Count   uint64
}

// Config bounds tree fan-out (spec.md §4.2).
type Config struct {
	MaxLeafCount        int
	MaxKeyBranches       int
	MaxSummaryBranches   int
}

// DefaultConfig matches a small, test-friendly fan-out. cmd/axnode uses it
// as is; the node configuration has no tree fan-out keys.
func DefaultConfig() Config {
	return Config{MaxLeafCount: 4, MaxKeyBranches: 4, MaxSummaryBranches: 4}
}

func (c Config) maxBranches(level int) int {
	// Non-goal to distinguish key- vs summary-branch fan-out per level in
	// this implementation; both configured bounds are folded into one
	// effective cap, the smaller of the two.
	if c.MaxKeyBranches < c.MaxSummaryBranches {
		return c.MaxKeyBranches
	}
	return c.MaxSummaryBranches
}

// Query is what IterFrom prunes against: a DNF of tag conjunctions. A nil
// Query (or one built from tagindex.Normalize(AllEvents{})) matches
// everything.
type Query struct {
	DNF []tagindex.TagsQuery
}

// AllQuery matches every event.
func AllQuery() Query {
	return Query{DNF: tagindex.Normalize(tagindex.AllEvents{})}
}

func (q Query) isAll() bool {
	return len(q.DNF) == 0 || tagindex.IsAll(q.DNF)
}

func (q Query) matchesSummary(s AxSummary) bool {
	if q.isAll() {
		return true
	}
	return s.Tags.PossiblyMatchesAny(q.DNF)
}

func (q Query) matchesKey(k AxKey) bool {
	if q.isAll() {
		return true
	}
	ev := tagindex.Event{Tags: k.Tags, AppId: k.AppId, Micros: k.Micros, IsLocal: k.IsLocal}
	return tagindex.MatchesAny(q.DNF, ev)
}
